/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package autodj

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/telemetry"
)

// Selection tuning. The id-range sample is a cheap, uniform-over-ids proxy
// for uniform-over-assets; the chunked walk bounds query size when the
// anti-repeat filter eliminates most of the sample.
const (
	chunkSize  = 25
	chunkTries = 10
)

// Sampler draws n distinct ids uniformly from [minID, maxID].
type Sampler func(minID, maxID uint, n int) []uint

// Selector picks the next AutoDJ track.
type Selector struct {
	db     *gorm.DB
	store  AntiRepeatStore
	conf   *conf.Store
	bus    *events.Bus
	logger zerolog.Logger
	sample Sampler
}

// New builds a selector with the default random sampler.
func New(db *gorm.DB, store AntiRepeatStore, confStore *conf.Store, bus *events.Bus, logger zerolog.Logger) *Selector {
	return &Selector{
		db:     db,
		store:  store,
		conf:   confStore,
		bus:    bus,
		logger: logger.With().Str("component", "autodj").Logger(),
		sample: randomSample,
	}
}

// NextTrack returns the next READY asset to play, or nil when no asset
// exists. On success the asset's id and normalized artist are pushed onto
// the no-repeat windows. If every candidate is excluded by the windows, the
// selector retries first allowing artist repeats and then allowing track
// repeats too: repeats are preferable to silence.
func (s *Selector) NextTrack(ctx context.Context) (*models.AudioAsset, error) {
	ctx, span := telemetry.StartSpan(ctx, "autodj", "next_track")
	defer span.End()

	trackCap, artistCap := 0, 0
	if s.conf.Bool("AUTODJ_ANTI_REPEAT_ENABLED") {
		trackCap = s.conf.Int("AUTODJ_ANTI_REPEAT_NUM_TRACKS_NO_REPEAT")
		artistCap = s.conf.Int("AUTODJ_ANTI_REPEAT_NUM_TRACKS_NO_REPEAT_ARTIST")
	}
	if trackCap < 0 {
		trackCap = 0
	}
	if artistCap < 0 {
		artistCap = 0
	}

	skipTracks, skipArtists := trackCap > 0, artistCap > 0

	asset, gaveUp, err := s.attempt(ctx, skipTracks, skipArtists)
	if err != nil {
		return nil, err
	}
	if gaveUp {
		telemetry.AutoDJRequestsTotal.WithLabelValues("no_assets").Inc()
		return nil, nil
	}

	if asset == nil && skipArtists {
		s.logger.Warn().Msg("autodj: no track found, attempting to run with artist repeats")
		telemetry.AutoDJRequestsTotal.WithLabelValues("anti_repeat_artist_fallback").Inc()
		asset, _, err = s.attempt(ctx, skipTracks, false)
		if err != nil {
			return nil, err
		}
	}
	if asset == nil && skipTracks {
		s.logger.Warn().Msg("autodj: no track found, attempting to run with artist and track repeats")
		telemetry.AutoDJRequestsTotal.WithLabelValues("anti_repeat_fallback").Inc()
		asset, _, err = s.attempt(ctx, false, false)
		if err != nil {
			return nil, err
		}
	}
	if asset == nil {
		telemetry.AutoDJRequestsTotal.WithLabelValues("none_found").Inc()
		return nil, nil
	}

	if err := s.store.Commit(ctx, asset.ID, asset.ArtistNormalized, trackCap, artistCap); err != nil {
		// A lost window just means a possible repeat later; the track still
		// plays.
		s.logger.Warn().Err(err).Msg("autodj: failed to update no-repeat windows")
	}

	s.logger.Info().Msgf("autodj: selected %s", asset)
	telemetry.AutoDJRequestsTotal.WithLabelValues("selected").Inc()
	if s.bus != nil {
		s.bus.Publish(events.EventTrackSelected, events.Payload{
			"asset_id": asset.ID,
			"title":    asset.Title,
			"artist":   asset.Artist,
		})
	}
	return asset, nil
}

// attempt runs one selection pass. gaveUp reports that no asset can ever
// match (empty library), so de-escalation is pointless.
func (s *Selector) attempt(ctx context.Context, skipTracks, skipArtists bool) (asset *models.AudioAsset, gaveUp bool, err error) {
	var bounds struct {
		MinID *uint
		MaxID *uint
	}
	err = s.db.WithContext(ctx).Model(&models.AudioAsset{}).
		Select("MIN(id) AS min_id, MAX(id) AS max_id").
		Scan(&bounds).Error
	if err != nil {
		return nil, false, fmt.Errorf("query asset id range: %w", err)
	}
	if bounds.MinID == nil || bounds.MaxID == nil {
		s.logger.Warn().Msg("autodj: no assets exist (no min/max id), giving up early")
		return nil, true, nil
	}

	var readyCount int64
	err = s.db.WithContext(ctx).Model(&models.AudioAsset{}).
		Where("status = ?", models.AssetStatusReady).
		Count(&readyCount).Error
	if err != nil {
		return nil, false, fmt.Errorf("count ready assets: %w", err)
	}
	if readyCount == 0 {
		s.logger.Warn().Msg("autodj: no assets exist, giving up early")
		return nil, true, nil
	}

	var recentIDs []uint
	if skipTracks {
		if recentIDs, err = s.store.RecentIDs(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("autodj: failed to read no-repeat track window")
		}
	}
	var recentArtists []string
	if skipArtists {
		if recentArtists, err = s.store.RecentArtists(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("autodj: failed to read no-repeat artist window")
		}
	}

	minID, maxID := *bounds.MinID, *bounds.MaxID
	n := chunkTries * chunkSize
	if idSpan := int(maxID - minID + 1); idSpan < n {
		n = idSpan
	}
	sample := s.sample(minID, maxID, n)

	for start := 0; start < len(sample); start += chunkSize {
		end := start + chunkSize
		if end > len(sample) {
			end = len(sample)
		}
		chunk := sample[start:end]

		// Re-filtering on READY here tolerates deletions and status changes
		// since the id-range probe.
		query := s.db.WithContext(ctx).
			Where("id IN ?", chunk).
			Where("status = ?", models.AssetStatusReady)
		if skipTracks && len(recentIDs) > 0 {
			query = query.Where("id NOT IN ?", recentIDs)
		}
		if skipArtists && len(recentArtists) > 0 {
			query = query.Where("artist_normalized NOT IN ?", recentArtists)
		}

		var matches []models.AudioAsset
		if err := query.Find(&matches).Error; err != nil {
			return nil, false, fmt.Errorf("query candidate chunk: %w", err)
		}
		if len(matches) == 0 {
			continue
		}

		// Return the first match in the chunk's random order, not the
		// database's.
		byID := make(map[uint]*models.AudioAsset, len(matches))
		for i := range matches {
			byID[matches[i].ID] = &matches[i]
		}
		for _, id := range chunk {
			if match, ok := byID[id]; ok {
				return match, false, nil
			}
		}
	}
	return nil, false, nil
}

func randomSample(minID, maxID uint, n int) []uint {
	idSpan := int64(maxID-minID) + 1
	if int64(n) >= idSpan {
		out := make([]uint, idSpan)
		for i := range out {
			out[i] = minID + uint(i)
		}
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}

	picked := make(map[uint]struct{}, n)
	out := make([]uint, 0, n)
	for len(out) < n {
		id := minID + uint(rand.Int63n(idSpan))
		if _, ok := picked[id]; ok {
			continue
		}
		picked[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
