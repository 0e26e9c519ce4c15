/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast schedules pre-recorded assets to play at fixed times by
// pushing them into the harbor's prerecord queue.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/models"
)

// ErrAssetNotReady rejects scheduling an asset that can't play yet.
var ErrAssetNotReady = errors.New("asset is not ready for playout")

// Pusher is the slice of the Liquidsoap client the scheduler needs.
type Pusher interface {
	PrerecordPush(ctx context.Context, uri string) (string, error)
}

// Scheduler queues broadcasts as deferred jobs and tracks their lifecycle.
type Scheduler struct {
	db     *gorm.DB
	runner *jobs.Runner
	pusher Pusher
	bus    *events.Bus
	logger zerolog.Logger
}

// New builds a scheduler.
func New(db *gorm.DB, runner *jobs.Runner, pusher Pusher, bus *events.Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		runner: runner,
		pusher: pusher,
		bus:    bus,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Create schedules an asset for playout at the given time. The broadcast row
// remembers its deferred task id so deletion can revoke the job.
func (s *Scheduler) Create(ctx context.Context, assetID uint, at time.Time) (*models.Broadcast, error) {
	var asset models.AudioAsset
	if err := s.db.WithContext(ctx).First(&asset, assetID).Error; err != nil {
		return nil, fmt.Errorf("load asset %d: %w", assetID, err)
	}
	if asset.Status != models.AssetStatusReady {
		return nil, ErrAssetNotReady
	}

	b := models.Broadcast{
		AssetID:     assetID,
		ScheduledAt: at,
		Status:      models.BroadcastPending,
	}
	if err := s.db.WithContext(ctx).Create(&b).Error; err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}

	if err := s.queue(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// queue defers the playout job and flips the row to queued.
func (s *Scheduler) queue(ctx context.Context, b *models.Broadcast) error {
	id := b.ID
	taskID := s.runner.Defer(fmt.Sprintf("broadcast-%d", id), b.ScheduledAt,
		func(ctx context.Context) error {
			return s.play(ctx, id)
		})

	b.TaskID = &taskID
	b.Status = models.BroadcastQueued
	if err := s.db.WithContext(ctx).Model(b).
		Updates(map[string]any{"task_id": taskID, "status": models.BroadcastQueued}).Error; err != nil {
		return fmt.Errorf("mark broadcast queued: %w", err)
	}

	s.logger.Info().Uint("broadcast_id", id).Time("scheduled_at", b.ScheduledAt).
		Msg("broadcast queued")
	if s.bus != nil {
		s.bus.Publish(events.EventBroadcastQueued, events.Payload{
			"broadcast_id": id,
			"scheduled_at": b.ScheduledAt,
		})
	}
	return nil
}

func (s *Scheduler) play(ctx context.Context, id uint) error {
	var b models.Broadcast
	if err := s.db.WithContext(ctx).Preload("Asset").First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between queue and fire; nothing to do.
			return nil
		}
		return fmt.Errorf("load broadcast %d: %w", id, err)
	}

	if _, err := s.pusher.PrerecordPush(ctx, b.Asset.LiquidsoapURI()); err != nil {
		s.db.WithContext(ctx).Model(&b).Update("status", models.BroadcastFailed)
		return fmt.Errorf("push broadcast %d: %w", id, err)
	}

	if err := s.db.WithContext(ctx).Model(&b).Update("status", models.BroadcastPlayed).Error; err != nil {
		return fmt.Errorf("mark broadcast played: %w", err)
	}
	s.logger.Info().Uint("broadcast_id", id).Msgf("broadcast pushed: %s", &b.Asset)
	if s.bus != nil {
		s.bus.Publish(events.EventBroadcastPlayed, events.Payload{
			"broadcast_id": id,
			"asset_id":     b.AssetID,
		})
	}
	return nil
}

// Delete revokes the deferred job (when still pending) and removes the row.
func (s *Scheduler) Delete(ctx context.Context, id uint) error {
	var b models.Broadcast
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return fmt.Errorf("load broadcast %d: %w", id, err)
	}
	if b.TaskID != nil {
		if s.runner.Cancel(*b.TaskID) {
			s.logger.Info().Uint("broadcast_id", id).Msg("revoked queued broadcast")
		}
	}
	if err := s.db.WithContext(ctx).Delete(&b).Error; err != nil {
		return fmt.Errorf("delete broadcast %d: %w", id, err)
	}
	return nil
}

// List returns broadcasts newest-scheduled first.
func (s *Scheduler) List(ctx context.Context) ([]models.Broadcast, error) {
	var out []models.Broadcast
	err := s.db.WithContext(ctx).Preload("Asset").
		Order("scheduled_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return out, nil
}

// Resume requeues broadcasts that were queued before a restart. Rows whose
// scheduled time already passed are marked failed rather than played late.
func (s *Scheduler) Resume(ctx context.Context) error {
	var pending []models.Broadcast
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.BroadcastStatus{models.BroadcastPending, models.BroadcastQueued}).
		Find(&pending).Error
	if err != nil {
		return fmt.Errorf("load unfinished broadcasts: %w", err)
	}

	for i := range pending {
		b := &pending[i]
		if time.Now().After(b.ScheduledAt) {
			s.logger.Warn().Uint("broadcast_id", b.ID).Time("scheduled_at", b.ScheduledAt).
				Msg("broadcast missed its scheduled time, marking failed")
			s.db.WithContext(ctx).Model(b).Update("status", models.BroadcastFailed)
			continue
		}
		if err := s.queue(ctx, b); err != nil {
			s.logger.Error().Err(err).Uint("broadcast_id", b.ID).Msg("requeue failed")
		}
	}
	return nil
}
