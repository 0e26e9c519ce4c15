/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tracklog records what the station streamed and enforces the
// playout log retention policy.
package tracklog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/models"
)

// Log appends and prunes playout log entries.
type Log struct {
	db     *gorm.DB
	conf   *conf.Store
	bus    *events.Bus
	logger zerolog.Logger
}

// New builds the log.
func New(db *gorm.DB, confStore *conf.Store, bus *events.Bus, logger zerolog.Logger) *Log {
	return &Log{
		db:     db,
		conf:   confStore,
		bus:    bus,
		logger: logger.With().Str("component", "tracklog").Logger(),
	}
}

// Append records one played entry. assetID is nil for live sources and
// webstreams.
func (l *Log) Append(ctx context.Context, displayName, activeSource string, assetID *uint) error {
	entry := models.TrackLogEntry{
		CreatedAt:    time.Now(),
		DisplayName:  displayName,
		ActiveSource: activeSource,
		AssetID:      assetID,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append playout log entry: %w", err)
	}
	if l.bus != nil {
		l.bus.Publish(events.EventTrackLogged, events.Payload{
			"display_name":  displayName,
			"active_source": activeSource,
		})
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.TrackLogEntry, error) {
	var entries []models.TrackLogEntry
	err := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load playout log: %w", err)
	}
	return entries, nil
}

// Purge deletes entries older than PLAYOUT_LOG_PURGE_DAYS. A non-positive
// setting keeps everything forever.
func (l *Log) Purge(ctx context.Context) {
	days := l.conf.Int("PLAYOUT_LOG_PURGE_DAYS")
	if days <= 0 {
		l.logger.Info().Msg("keeping playout log entries due to configuration (PLAYOUT_LOG_PURGE_DAYS <= 0)")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result := l.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.TrackLogEntry{})
	if result.Error != nil {
		l.logger.Error().Err(result.Error).Msg("playout log purge failed")
		return
	}
	l.logger.Info().Msgf("purged %d playout log entries %d days or older.", result.RowsAffected, days)
}

// SchedulePurge registers the daily purge at 3:30am local time.
func (l *Log) SchedulePurge(ctx context.Context, runner *jobs.Runner, loc *time.Location) {
	runner.DailyAt(ctx, "purge-playout-log", 3, 30, loc, l.Purge)
}
