/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package autodj implements automatic track selection for the harbor with
// anti-repeat windows for recently played tracks and artists.
package autodj

import (
	"context"
	"strconv"
	"time"

	"github.com/friendsincode/crazyarms/internal/cache"
)

// antiRepeatTTL bounds how long the no-repeat windows survive without a
// selection. A station silent for a day starts fresh.
const antiRepeatTTL = 24 * time.Hour

// AntiRepeatStore persists the recently-played windows between selections.
type AntiRepeatStore interface {
	// RecentIDs returns recently played asset ids, most recent first.
	RecentIDs(ctx context.Context) ([]uint, error)
	// RecentArtists returns recently played normalized artists, most recent
	// first.
	RecentArtists(ctx context.Context) ([]string, error)
	// Commit records a selection, truncating each window to its cap. A cap
	// of zero leaves that window untouched.
	Commit(ctx context.Context, id uint, artist string, trackCap, artistCap int) error
}

type redisAntiRepeat struct {
	cache *cache.Cache
}

// NewAntiRepeatStore returns the Redis-backed store used in production.
func NewAntiRepeatStore(c *cache.Cache) AntiRepeatStore {
	return &redisAntiRepeat{cache: c}
}

func (r *redisAntiRepeat) RecentIDs(ctx context.Context) ([]uint, error) {
	raw, err := r.cache.GetList(ctx, cache.KeyAutoDJNoRepeatIDs)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	ids := make([]uint, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func (r *redisAntiRepeat) RecentArtists(ctx context.Context) ([]string, error) {
	return r.cache.GetList(ctx, cache.KeyAutoDJNoRepeatArtists)
}

func (r *redisAntiRepeat) Commit(ctx context.Context, id uint, artist string, trackCap, artistCap int) error {
	if trackCap > 0 {
		existing, err := r.cache.GetList(ctx, cache.KeyAutoDJNoRepeatIDs)
		if err != nil {
			return err
		}
		updated := prepend(strconv.FormatUint(uint64(id), 10), existing, trackCap)
		if err := r.cache.ReplaceList(ctx, cache.KeyAutoDJNoRepeatIDs, updated, antiRepeatTTL); err != nil {
			return err
		}
	}

	if artistCap > 0 {
		existing, err := r.cache.GetList(ctx, cache.KeyAutoDJNoRepeatArtists)
		if err != nil {
			return err
		}
		updated := prepend(artist, existing, artistCap)
		if err := r.cache.ReplaceList(ctx, cache.KeyAutoDJNoRepeatArtists, updated, antiRepeatTTL); err != nil {
			return err
		}
	}
	return nil
}

func prepend(value string, list []string, limit int) []string {
	out := append([]string{value}, list...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
