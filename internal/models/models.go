/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// HarborAuth enumerates how a user gets access to the harbor.
type HarborAuth string

const (
	HarborAuthAlways   HarborAuth = "always"
	HarborAuthNever    HarborAuth = "never"
	HarborAuthCalendar HarborAuth = "calendar"
)

// User represents a DJ / admin account.
type User struct {
	ID       uint   `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;size:150"`
	Email    string `gorm:"uniqueIndex"`
	// Bcrypt hash; empty disables password login.
	Password   string
	FirstName  string
	LastName   string
	HarborAuth HarborAuth `gorm:"type:varchar(16);default:always"`
	IsAdmin    bool       `gorm:"default:false"`
	Timezone   string     `gorm:"size:60"`

	// Grace periods around calendar show times, in minutes.
	EntryGraceMinutes int `gorm:"default:0"`
	ExitGraceMinutes  int `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	s := u.FirstName
	if u.LastName != "" {
		if s != "" {
			s += " "
		}
		s += u.LastName
	}
	if s == "" {
		return u.Username
	}
	return s
}

// AssetStatus tracks an audio asset through its ingest pipeline.
type AssetStatus string

const (
	AssetStatusPending AssetStatus = "pending"
	AssetStatusReady   AssetStatus = "ready"
	AssetStatusQueued  AssetStatus = "queued"
	AssetStatusRunning AssetStatus = "running"
	AssetStatusFailed  AssetStatus = "failed"
)

const unnamedTrack = "Untitled Track"

// AudioAsset is a playable track in the AutoDJ library. IDs are dense and
// monotonic, which the selector's id-range sampling relies on.
type AudioAsset struct {
	ID     uint   `gorm:"primaryKey"`
	Title  string `gorm:"size:255;index"`
	Artist string `gorm:"size:255;index"`
	Album  string `gorm:"size:255"`
	// ArtistNormalized is recomputed on save whenever Artist changes.
	ArtistNormalized string        `gorm:"size:255;index"`
	File             string        `gorm:"size:512"`
	Duration         time.Duration `gorm:"default:0"`
	Status           AssetStatus   `gorm:"type:varchar(16);index;default:pending"`
	UploaderID       *uint
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LiquidsoapURI renders the annotated request URI Liquidsoap ingests.
func (a *AudioAsset) LiquidsoapURI() string {
	return fmt.Sprintf("annotate:audio_asset_id=%q:file://%s", fmt.Sprint(a.ID), a.File)
}

// BeforeSave keeps the normalized artist in sync and backfills the title.
func (a *AudioAsset) BeforeSave(tx *gorm.DB) error {
	if a.Title == "" {
		a.Title = unnamedTrack
	}
	a.ArtistNormalized = NormalizeTitleField(a.Artist)
	return nil
}

func (a *AudioAsset) String() string {
	s := a.Title
	if s == "" {
		s = unnamedTrack
	}
	if a.Artist != "" {
		s = fmt.Sprintf("%s - %s", a.Artist, s)
	}
	if a.Duration != 0 {
		s = fmt.Sprintf("%s [%s]", s, a.Duration)
	}
	return s
}

// Playlist is a named grouping of assets with a selection weight.
type Playlist struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"uniqueIndex;size:255"`
	IsActive bool   `gorm:"default:true"`
	Weight   uint   `gorm:"default:1"`
	Assets   []AudioAsset `gorm:"many2many:playlist_assets"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rotator is a named pool of short assets (station IDs, PSAs, ads).
type Rotator struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"uniqueIndex;size:255"`
	Assets []AudioAsset `gorm:"many2many:rotator_assets"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stopset is an ordered sequence of rotator slots played between music blocks.
type Stopset struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"uniqueIndex;size:255"`
	IsActive bool   `gorm:"default:true"`
	Weight   uint   `gorm:"default:1"`
	Rotators []StopsetRotator `gorm:"foreignKey:StopsetID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StopsetRotator is one ordered slot within a stopset.
type StopsetRotator struct {
	ID        uint `gorm:"primaryKey"`
	StopsetID uint `gorm:"index"`
	RotatorID uint `gorm:"index"`
	Position  int  `gorm:"index"`
	Rotator   Rotator
}

// Selectable reports whether the stopset can actually be played: it needs at
// least one rotator and every rotator needs at least one asset.
func (s *Stopset) Selectable() bool {
	if !s.IsActive || len(s.Rotators) == 0 {
		return false
	}
	for _, sr := range s.Rotators {
		if len(sr.Rotator.Assets) == 0 {
			return false
		}
	}
	return true
}

// TrackLogEntry is an append-only record of what the station streamed.
type TrackLogEntry struct {
	ID           uint      `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"index"`
	DisplayName  string    `gorm:"size:512"`
	ActiveSource string    `gorm:"size:32"`
	AssetID      *uint     `gorm:"index"`
}

// UpstreamEncoding enumerates upstream stream encodings.
type UpstreamEncoding string

const (
	EncodingMP3    UpstreamEncoding = "mp3"
	EncodingAAC    UpstreamEncoding = "aac"
	EncodingOgg    UpstreamEncoding = "ogg"
	EncodingFFmpeg UpstreamEncoding = "ffmpeg"
)

// LocalIcecastName is the reserved upstream slug the orchestrator manages on
// behalf of the bundled Icecast server. It may not be edited while local
// Icecast is enabled.
const LocalIcecastName = "local-icecast"

// UpstreamServer is an outbound relay pushing the mixed stream to an
// Icecast-compatible server.
type UpstreamServer struct {
	ID        uint             `gorm:"primaryKey"`
	Name      string           `gorm:"uniqueIndex;size:64"`
	Protocol  string           `gorm:"type:varchar(8);default:http"`
	Host      string           `gorm:"size:255"`
	Port      int
	Mount     string           `gorm:"size:255"`
	Username  string           `gorm:"size:255"`
	Password  string           `gorm:"size:255"`
	Encoding  UpstreamEncoding `gorm:"type:varchar(8);default:mp3"`
	Bitrate   int
	ExtraArgs string `gorm:"size:512"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgramName is the supervisor program slug for this upstream.
func (u *UpstreamServer) ProgramName() string {
	return fmt.Sprintf("upstream-%s", u.Name)
}

// ShowTime is one scheduled calendar show, synced from the external calendar.
type ShowTime struct {
	ID      uint      `gorm:"primaryKey"`
	UserID  uint      `gorm:"index"`
	Start   time.Time `gorm:"index"`
	End     time.Time `gorm:"index"`
	Title   string    `gorm:"size:512"`
	SyncID  string    `gorm:"size:128;index"`
	Created time.Time `gorm:"autoCreateTime"`
}

// CoreTables lists the models AutoMigrate manages.
func CoreTables() []any {
	return []any{
		&User{},
		&AudioAsset{},
		&Playlist{},
		&Rotator{},
		&Stopset{},
		&StopsetRotator{},
		&TrackLogEntry{},
		&UpstreamServer{},
		&ShowTime{},
		&Broadcast{},
		&ConfigEntry{},
	}
}
