/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// BroadcastStatus tracks a scheduled pre-recorded broadcast.
type BroadcastStatus string

const (
	BroadcastPending BroadcastStatus = "pending"
	BroadcastQueued  BroadcastStatus = "queued"
	BroadcastPlayed  BroadcastStatus = "played"
	BroadcastFailed  BroadcastStatus = "failed"
)

// Broadcast schedules a pre-recorded asset to play at a fixed time. TaskID
// references the deferred job so deletion can revoke it.
type Broadcast struct {
	ID          uint `gorm:"primaryKey"`
	AssetID     uint `gorm:"index"`
	Asset       AudioAsset
	ScheduledAt time.Time       `gorm:"index"`
	Status      BroadcastStatus `gorm:"type:varchar(16);default:pending"`
	TaskID      *string         `gorm:"size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
