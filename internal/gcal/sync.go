/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gcal pulls scheduled shows from an external Google Calendar and
// materializes them as show time rows for harbor authorization.
package gcal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/models"
)

const (
	syncInterval    = 5 * time.Minute
	syncRangePast   = 60 * 24 * time.Hour
	syncRangeFuture = 120 * 24 * time.Hour

	// FailedSyncMessage is what admins see in place of a last-sync time.
	FailedSyncMessage = "Failed, please check your settings and try again."
)

// Event is one calendar event with the emails that may claim it.
type Event struct {
	ID     string
	Title  string
	Start  time.Time
	End    time.Time
	Emails []string
}

// CalendarAPI lists events in a window. The production implementation talks
// to the Google Calendar REST API; tests substitute a stub.
type CalendarAPI interface {
	Events(ctx context.Context, calendarID, credentialsJSON string, from, to time.Time) ([]Event, error)
}

// Syncer refreshes show times from the calendar.
type Syncer struct {
	db     *gorm.DB
	cache  *cache.Cache
	conf   *conf.Store
	api    CalendarAPI
	bus    *events.Bus
	logger zerolog.Logger
}

// NewSyncer builds a syncer.
func NewSyncer(db *gorm.DB, c *cache.Cache, confStore *conf.Store, api CalendarAPI, bus *events.Bus, logger zerolog.Logger) *Syncer {
	return &Syncer{
		db:     db,
		cache:  c,
		conf:   confStore,
		api:    api,
		bus:    bus,
		logger: logger.With().Str("component", "gcal").Logger(),
	}
}

// Sync replaces all show time rows with the calendar's current contents.
// Matching is by attendee (or creator) email against user accounts. The
// outcome lands in the gcal:last-sync cache key either way so admins can
// see sync health.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.conf.Bool("GOOGLE_CALENDAR_ENABLED") {
		s.logger.Info().Msg("synchronization with Google Calendar disabled by config")
		return nil
	}

	s.logger.Info().Msg("synchronizing with Google Calendar")
	if err := s.sync(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Google Calendar sync failed")
		_ = s.cache.SetJSON(ctx, cache.KeyGCalLastSync, FailedSyncMessage, 0)
		return err
	}

	_ = s.cache.SetJSON(ctx, cache.KeyGCalLastSync, time.Now(), 0)
	if s.bus != nil {
		s.bus.Publish(events.EventCalendarSynced, events.Payload{})
	}
	return nil
}

func (s *Syncer) sync(ctx context.Context) error {
	now := time.Now()
	eventList, err := s.api.Events(ctx,
		s.conf.String("GOOGLE_CALENDAR_ID"),
		s.conf.String("GOOGLE_CALENDAR_CREDENTIALS_JSON"),
		now.Add(-syncRangePast), now.Add(syncRangeFuture))
	if err != nil {
		return err
	}

	// Resolve emails once per sync.
	emailToUserID := map[string]uint{}
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "email").Find(&users).Error; err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		emailToUserID[u.Email] = u.ID
	}

	type key struct {
		userID uint
		start  int64
		end    int64
	}
	seen := map[key]bool{}

	var rows []models.ShowTime
	for _, event := range eventList {
		for _, email := range event.Emails {
			userID, ok := emailToUserID[email]
			if !ok {
				continue
			}
			k := key{userID: userID, start: event.Start.Unix(), end: event.End.Unix()}
			if seen[k] {
				continue
			}
			seen[k] = true
			rows = append(rows, models.ShowTime{
				UserID: userID,
				Start:  event.Start,
				End:    event.End,
				Title:  event.Title,
				SyncID: event.ID,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Start.Before(rows[j].Start) })

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ShowTime{}).Error; err != nil {
			return fmt.Errorf("clear show times: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert show times: %w", err)
		}
		return nil
	})
}

// LastSync returns either the last successful sync time or a failure
// message, both as display strings. Empty means never synced.
func (s *Syncer) LastSync(ctx context.Context) string {
	var asTime time.Time
	if found, err := s.cache.GetJSON(ctx, cache.KeyGCalLastSync, &asTime); err == nil && found {
		return asTime.Format(time.RFC1123)
	}
	var asString string
	if found, _ := s.cache.GetJSON(ctx, cache.KeyGCalLastSync, &asString); found {
		return asString
	}
	return ""
}

// Schedule registers the periodic sync.
func (s *Syncer) Schedule(ctx context.Context, runner *jobs.Runner) {
	runner.Periodic(ctx, "gcal-sync", syncInterval, func(ctx context.Context) {
		_ = s.Sync(ctx)
	})
}
