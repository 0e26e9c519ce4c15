/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tracklog

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/models"
)

func newLogEnv(t *testing.T) (*Log, *gorm.DB, *conf.Store, *bytes.Buffer) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.TrackLogEntry{}, &models.ConfigEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	confStore, err := conf.New(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("conf store: %v", err)
	}

	var logs bytes.Buffer
	return New(db, confStore, nil, zerolog.New(&logs)), db, confStore, &logs
}

func TestAppendAndRecent(t *testing.T) {
	l, _, _, _ := newLogEnv(t)
	ctx := context.Background()

	assetID := uint(7)
	if err := l.Append(ctx, "A - T", "autodj", &assetID); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, "DJ Cool", "live", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent returned %d entries", len(entries))
	}
	if entries[0].DisplayName != "DJ Cool" || entries[0].AssetID != nil {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[1].AssetID == nil || *entries[1].AssetID != 7 {
		t.Errorf("oldest entry asset id = %v", entries[1].AssetID)
	}
}

func TestPurgeHonorsRetention(t *testing.T) {
	l, db, confStore, logs := newLogEnv(t)
	ctx := context.Background()

	old := models.TrackLogEntry{CreatedAt: time.Now().AddDate(0, 0, -30), DisplayName: "old"}
	fresh := models.TrackLogEntry{CreatedAt: time.Now(), DisplayName: "fresh"}
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Default retention is 14 days.
	l.Purge(ctx)

	var count int64
	db.Model(&models.TrackLogEntry{}).Count(&count)
	if count != 1 {
		t.Errorf("%d entries remain, want 1", count)
	}
	if !strings.Contains(logs.String(), "purged 1 playout log entries 14 days or older.") {
		t.Errorf("missing purge log, got: %s", logs.String())
	}

	// Zero disables purging.
	logs.Reset()
	if err := confStore.Set(ctx, "PLAYOUT_LOG_PURGE_DAYS", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	seed := models.TrackLogEntry{CreatedAt: time.Now().AddDate(0, 0, -100), DisplayName: "ancient"}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	l.Purge(ctx)
	db.Model(&models.TrackLogEntry{}).Count(&count)
	if count != 2 {
		t.Errorf("%d entries remain, want 2 (purge disabled)", count)
	}
	if !strings.Contains(logs.String(), "keeping playout log entries due to configuration (PLAYOUT_LOG_PURGE_DAYS <= 0)") {
		t.Errorf("missing keep log, got: %s", logs.String())
	}
}
