/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package autodj

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/models"
)

type selectorEnv struct {
	sel  *Selector
	db   *gorm.DB
	conf *conf.Store
	mr   *miniredis.Miniredis
	logs *bytes.Buffer
}

func newSelectorEnv(t *testing.T) *selectorEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.AudioAsset{}, &models.ConfigEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	confStore, err := conf.New(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("conf store: %v", err)
	}

	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	var logs bytes.Buffer
	sel := New(db, NewAntiRepeatStore(c), confStore, nil, zerolog.New(&logs))

	// Deterministic sampler: the lowest n ids of the range in order.
	sel.sample = func(minID, maxID uint, n int) []uint {
		out := make([]uint, n)
		for i := range out {
			out[i] = minID + uint(i)
		}
		return out
	}

	return &selectorEnv{sel: sel, db: db, conf: confStore, mr: mr, logs: &logs}
}

func (env *selectorEnv) setCaps(t *testing.T, trackCap, artistCap int) {
	t.Helper()
	ctx := context.Background()
	if err := env.conf.Set(ctx, "AUTODJ_ANTI_REPEAT_NUM_TRACKS_NO_REPEAT", trackCap); err != nil {
		t.Fatalf("set track cap: %v", err)
	}
	if err := env.conf.Set(ctx, "AUTODJ_ANTI_REPEAT_NUM_TRACKS_NO_REPEAT_ARTIST", artistCap); err != nil {
		t.Fatalf("set artist cap: %v", err)
	}
}

// createAssets builds numArtists * tracksPerArtist READY assets with titles
// T:<n> and artists A:<n>, returned in id order.
func (env *selectorEnv) createAssets(t *testing.T, tracksPerArtist, numArtists int) []models.AudioAsset {
	t.Helper()
	var assets []models.AudioAsset
	for a := 0; a < numArtists; a++ {
		for tr := 0; tr < tracksPerArtist; tr++ {
			asset := models.AudioAsset{
				Title:  fmt.Sprintf("T:%d", a*tracksPerArtist+tr),
				Artist: fmt.Sprintf("A:%d", a),
				Status: models.AssetStatusReady,
			}
			if err := env.db.Create(&asset).Error; err != nil {
				t.Fatalf("create asset: %v", err)
			}
			assets = append(assets, asset)
		}
	}
	return assets
}

func (env *selectorEnv) play(t *testing.T, count int) []string {
	t.Helper()
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		asset, err := env.sel.NextTrack(context.Background())
		if err != nil {
			t.Fatalf("NextTrack: %v", err)
		}
		if asset == nil {
			t.Fatalf("NextTrack returned nil on play %d", i)
		}
		names = append(names, asset.String())
	}
	return names
}

func (env *selectorEnv) recentIDs(t *testing.T) []uint {
	t.Helper()
	raw, err := env.mr.List(cache.KeyAutoDJNoRepeatIDs)
	if err != nil {
		t.Fatalf("read id window: %v", err)
	}
	ids := make([]uint, len(raw))
	for i, s := range raw {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			t.Fatalf("bad id in window: %q", s)
		}
		ids[i] = uint(n)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBasicNoRepeat(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 5, 3)
	tracks := env.createAssets(t, 2, 4)

	played := env.play(t, 10)
	want := []string{
		"A:0 - T:0",
		"A:1 - T:2",
		"A:2 - T:4",
		"A:3 - T:6",
		// A repeat is allowed after 3 artists.
		"A:0 - T:1",
		// A track repeat would be allowed here, but it would repeat the
		// artist too soon.
		"A:1 - T:3",
		"A:2 - T:5",
		"A:3 - T:7",
		// Finally the repeats.
		"A:0 - T:0",
		"A:1 - T:2",
	}
	if !equalStrings(played, want) {
		t.Errorf("played %v\nwant   %v", played, want)
	}

	gotIDs := env.recentIDs(t)
	wantIDs := []uint{tracks[2].ID, tracks[0].ID, tracks[7].ID, tracks[5].ID, tracks[3].ID}
	for i := range wantIDs {
		if i >= len(gotIDs) || gotIDs[i] != wantIDs[i] {
			t.Fatalf("id window = %v, want %v", gotIDs, wantIDs)
		}
	}

	gotArtists, err := env.mr.List(cache.KeyAutoDJNoRepeatArtists)
	if err != nil {
		t.Fatalf("read artist window: %v", err)
	}
	wantArtists := []string{
		models.NormalizeTitleField("A:1"),
		models.NormalizeTitleField("A:0"),
		models.NormalizeTitleField("A:3"),
	}
	if !equalStrings(gotArtists, wantArtists) {
		t.Errorf("artist window = %v, want %v", gotArtists, wantArtists)
	}

	// One more play keeps the windows rolling.
	if got := env.play(t, 1)[0]; got != "A:2 - T:4" {
		t.Errorf("11th play = %q, want A:2 - T:4", got)
	}
	gotIDs = env.recentIDs(t)
	wantIDs = []uint{tracks[4].ID, tracks[2].ID, tracks[0].ID, tracks[7].ID, tracks[5].ID}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("id window after 11th = %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestDisabledWhenCapsZero(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 0, 0)
	env.createAssets(t, 2, 2)

	played := env.play(t, 3)
	want := []string{"A:0 - T:0", "A:0 - T:0", "A:0 - T:0"}
	if !equalStrings(played, want) {
		t.Errorf("played %v, want %v", played, want)
	}

	if env.mr.Exists(cache.KeyAutoDJNoRepeatIDs) {
		t.Error("id window should not exist when the cap is zero")
	}
	if env.mr.Exists(cache.KeyAutoDJNoRepeatArtists) {
		t.Error("artist window should not exist when the cap is zero")
	}
}

func TestNoArtistRepeatsOnly(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 0, 2)
	env.createAssets(t, 2, 3)

	played := env.play(t, 5)
	want := []string{"A:0 - T:0", "A:1 - T:2", "A:2 - T:4", "A:0 - T:0", "A:1 - T:2"}
	if !equalStrings(played, want) {
		t.Errorf("played %v, want %v", played, want)
	}
}

func TestNoTrackRepeatsOnly(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 2, 3)
	env.createAssets(t, 3, 1)

	played := env.play(t, 5)
	want := []string{"A:0 - T:0", "A:0 - T:1", "A:0 - T:2", "A:0 - T:0", "A:0 - T:1"}
	if !equalStrings(played, want) {
		t.Errorf("played %v, want %v", played, want)
	}
}

func TestCornerCasesWhenAntiRepeatNotPossible(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 5, 3)
	ctx := context.Background()

	// No assets exist at all.
	asset, err := env.sel.NextTrack(ctx)
	if err != nil || asset != nil {
		t.Fatalf("NextTrack on empty library = %v, %v", asset, err)
	}
	if !strings.Contains(env.logs.String(), "autodj: no assets exist (no min/max id), giving up early") {
		t.Errorf("missing empty-library log, got: %s", env.logs.String())
	}

	// Only non-READY assets exist.
	env.logs.Reset()
	if err := env.db.Create(&models.AudioAsset{Status: models.AssetStatusPending}).Error; err != nil {
		t.Fatalf("create pending asset: %v", err)
	}
	asset, err = env.sel.NextTrack(ctx)
	if err != nil || asset != nil {
		t.Fatalf("NextTrack with only pending assets = %v, %v", asset, err)
	}
	if !strings.Contains(env.logs.String(), "autodj: no assets exist, giving up early") {
		t.Errorf("missing no-ready log, got: %s", env.logs.String())
	}
	if strings.Contains(env.logs.String(), "attempting to run") {
		t.Error("give-up should not de-escalate")
	}

	env.createAssets(t, 2, 1)

	env.logs.Reset()
	if got := env.play(t, 1)[0]; got != "A:0 - T:0" {
		t.Fatalf("first play = %q", got)
	}
	if strings.Contains(env.logs.String(), "attempting to run") {
		t.Error("first play should not de-escalate")
	}

	// Second play must drop the artist skip.
	env.logs.Reset()
	if got := env.play(t, 1)[0]; got != "A:0 - T:1" {
		t.Fatalf("second play = %q", got)
	}
	if !strings.Contains(env.logs.String(), "autodj: no track found, attempting to run with artist repeats") {
		t.Errorf("missing artist de-escalation log, got: %s", env.logs.String())
	}
	if strings.Contains(env.logs.String(), "artist and track repeats") {
		t.Error("second play should not drop the track skip")
	}

	// Third play must drop both skips.
	env.logs.Reset()
	if got := env.play(t, 1)[0]; got != "A:0 - T:0" {
		t.Fatalf("third play = %q", got)
	}
	if !strings.Contains(env.logs.String(), "attempting to run with artist repeats") ||
		!strings.Contains(env.logs.String(), "attempting to run with artist and track repeats") {
		t.Errorf("missing full de-escalation logs, got: %s", env.logs.String())
	}
	if !strings.Contains(env.logs.String(), "autodj: selected A:0 - T:0") {
		t.Errorf("missing selection log, got: %s", env.logs.String())
	}
}

func TestWindowsExpireAfterADay(t *testing.T) {
	env := newSelectorEnv(t)
	env.setCaps(t, 5, 3)
	env.createAssets(t, 2, 2)

	env.play(t, 1)
	if !env.mr.Exists(cache.KeyAutoDJNoRepeatIDs) {
		t.Fatal("id window should exist after a play")
	}

	env.mr.FastForward(25 * time.Hour)
	if env.mr.Exists(cache.KeyAutoDJNoRepeatIDs) {
		t.Error("id window should expire after 24h of silence")
	}

	// A fresh start repeats the first pick.
	if got := env.play(t, 1)[0]; got != "A:0 - T:0" {
		t.Errorf("play after expiry = %q, want A:0 - T:0", got)
	}
}
