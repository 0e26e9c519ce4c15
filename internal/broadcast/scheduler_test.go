/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/models"
)

type fakePusher struct {
	mu   sync.Mutex
	uris []string
	err  error
}

func (f *fakePusher) PrerecordPush(_ context.Context, uri string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uris = append(f.uris, uri)
	return "OK", nil
}

func (f *fakePusher) pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uris...)
}

func newBroadcastEnv(t *testing.T) (*Scheduler, *gorm.DB, *fakePusher, *jobs.Runner) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.AudioAsset{}, &models.Broadcast{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runner := jobs.NewRunner(zerolog.Nop())
	t.Cleanup(runner.Stop)
	pusher := &fakePusher{}
	return New(db, runner, pusher, nil, zerolog.Nop()), db, pusher, runner
}

func createAsset(t *testing.T, db *gorm.DB, status models.AssetStatus) models.AudioAsset {
	t.Helper()
	a := models.AudioAsset{Title: "Song", Artist: "Band", File: "/assets/song.mp3", Status: status}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}

func waitForStatus(t *testing.T, db *gorm.DB, id uint, want models.BroadcastStatus) models.Broadcast {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var b models.Broadcast
	for time.Now().Before(deadline) {
		if err := db.First(&b, id).Error; err != nil {
			t.Fatalf("load broadcast: %v", err)
		}
		if b.Status == want {
			return b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("broadcast %d status = %s, want %s", id, b.Status, want)
	return b
}

func TestCreateQueuesAndPlays(t *testing.T) {
	s, db, pusher, _ := newBroadcastEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	asset := createAsset(t, db, models.AssetStatusReady)
	b, err := s.Create(ctx, asset.ID, time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != models.BroadcastQueued || b.TaskID == nil {
		t.Fatalf("broadcast after Create = %+v", b)
	}

	waitForStatus(t, db, b.ID, models.BroadcastPlayed)
	uris := pusher.pushed()
	if len(uris) != 1 {
		t.Fatalf("%d pushes, want 1", len(uris))
	}
	want := fmt.Sprintf("annotate:audio_asset_id=%q:file:///assets/song.mp3", fmt.Sprint(asset.ID))
	if uris[0] != want {
		t.Errorf("pushed uri = %q, want %q", uris[0], want)
	}
}

// A broadcast created from an HTTP handler must survive the request context
// being cancelled when the handler returns.
func TestCreateOutlivesCallerContext(t *testing.T) {
	s, db, pusher, _ := newBroadcastEnv(t)
	reqCtx, cancel := context.WithCancel(context.Background())

	asset := createAsset(t, db, models.AssetStatusReady)
	b, err := s.Create(reqCtx, asset.ID, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cancel()

	waitForStatus(t, db, b.ID, models.BroadcastPlayed)
	if got := pusher.pushed(); len(got) != 1 {
		t.Fatalf("%d pushes after caller cancel, want 1", len(got))
	}
}

func TestCreateRejectsUnreadyAsset(t *testing.T) {
	s, db, _, _ := newBroadcastEnv(t)
	ctx := context.Background()

	asset := createAsset(t, db, models.AssetStatusPending)
	if _, err := s.Create(ctx, asset.ID, time.Now().Add(time.Hour)); !errors.Is(err, ErrAssetNotReady) {
		t.Fatalf("Create err = %v, want ErrAssetNotReady", err)
	}
}

func TestDeleteRevokesQueuedBroadcast(t *testing.T) {
	s, db, pusher, _ := newBroadcastEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	asset := createAsset(t, db, models.AssetStatusReady)
	b, err := s.Create(ctx, asset.ID, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if got := pusher.pushed(); len(got) != 0 {
		t.Errorf("revoked broadcast still pushed: %v", got)
	}
	var count int64
	db.Model(&models.Broadcast{}).Count(&count)
	if count != 0 {
		t.Errorf("%d rows remain after delete", count)
	}
}

func TestPushFailureMarksFailed(t *testing.T) {
	s, db, pusher, _ := newBroadcastEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pusher.err = errors.New("telnet down")
	asset := createAsset(t, db, models.AssetStatusReady)
	b, err := s.Create(ctx, asset.ID, time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, db, b.ID, models.BroadcastFailed)
}

func TestResumeRequeuesFutureAndFailsMissed(t *testing.T) {
	s, db, pusher, _ := newBroadcastEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	asset := createAsset(t, db, models.AssetStatusReady)
	missed := models.Broadcast{AssetID: asset.ID, ScheduledAt: time.Now().Add(-time.Hour), Status: models.BroadcastQueued}
	future := models.Broadcast{AssetID: asset.ID, ScheduledAt: time.Now().Add(40 * time.Millisecond), Status: models.BroadcastQueued}
	if err := db.Create(&missed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Create(&future).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitForStatus(t, db, missed.ID, models.BroadcastFailed)
	waitForStatus(t, db, future.ID, models.BroadcastPlayed)
	if got := pusher.pushed(); len(got) != 1 {
		t.Errorf("%d pushes after resume, want 1", len(got))
	}
}
