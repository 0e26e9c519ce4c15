/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/crazyarms/internal/auth"
	"github.com/friendsincode/crazyarms/internal/broadcast"
	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/services"
	"github.com/friendsincode/crazyarms/internal/tracklog"
)

const testSecret = "api-test-secret"

type fakeSelector struct {
	asset *models.AudioAsset
	calls int
}

func (f *fakeSelector) NextTrack(context.Context) (*models.AudioAsset, error) {
	f.calls++
	return f.asset, nil
}

type fakeIniter struct {
	opts []services.InitOptions
}

func (f *fakeIniter) InitServices(_ context.Context, opts services.InitOptions) {
	f.opts = append(f.opts, opts)
}

func (f *fakeIniter) ServiceNames() []string { return []string{"harbor", "upstream"} }

type apiPusher struct {
	mu   sync.Mutex
	uris []string
}

func (p *apiPusher) PrerecordPush(_ context.Context, uri string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uris = append(p.uris, uri)
	return "OK", nil
}

func (p *apiPusher) pushed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.uris...)
}

type apiEnv struct {
	router   chi.Router
	db       *gorm.DB
	conf     *conf.Store
	selector *fakeSelector
	initer   *fakeIniter
	pusher   *apiPusher
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.CoreTables()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	confStore, err := conf.New(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("conf store: %v", err)
	}

	authorizer := auth.New(db, c, confStore, zerolog.Nop())
	selector := &fakeSelector{}
	initer := &fakeIniter{}
	runner := jobs.NewRunner(zerolog.Nop())
	t.Cleanup(runner.Stop)
	pusher := &apiPusher{}
	broadcasts := broadcast.New(db, runner, pusher, nil, zerolog.Nop())
	trackLog := tracklog.New(db, confStore, nil, zerolog.Nop())

	a := New(db, confStore, testSecret, authorizer, selector, initer, broadcasts, trackLog, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	return &apiEnv{router: router, db: db, conf: confStore, selector: selector, initer: initer, pusher: pusher}
}

func (e *apiEnv) createUser(t *testing.T, username, password string, harborAuth models.HarborAuth, admin bool) models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := models.User{
		Username:   username,
		Email:      username + "@example.com",
		Password:   hash,
		HarborAuth: harborAuth,
		IsAdmin:    admin,
	}
	if err := e.db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *apiEnv) request(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	// net/http cancels the request context once the handler returns; do the
	// same so handlers can't lean on it outliving the request.
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func (e *apiEnv) adminToken(t *testing.T) string {
	t.Helper()
	e.createUser(t, "admin", "hunter2", models.HarborAuthAlways, true)
	rr := e.request(t, http.MethodPost, "/api/session",
		map[string]string{"username": "admin", "password": "hunter2"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session: %d %s", rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)["token"].(string)
}

func TestPing(t *testing.T) {
	env := newAPIEnv(t)
	rr := env.request(t, http.MethodGet, "/ping", nil, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "pong" {
		t.Fatalf("ping = %d %q", rr.Code, rr.Body.String())
	}
}

func TestHarborEndpointsRequireSecretKey(t *testing.T) {
	env := newAPIEnv(t)

	rr := env.request(t, http.MethodGet, "/api/next-track", nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("no header: %d, want 403", rr.Code)
	}
	rr = env.request(t, http.MethodGet, "/api/next-track", nil,
		map[string]string{SecretKeyHeader: "wrong"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("wrong key: %d, want 403", rr.Code)
	}
}

func TestDJAuth(t *testing.T) {
	env := newAPIEnv(t)
	header := map[string]string{SecretKeyHeader: testSecret}

	user := env.createUser(t, "cooldj", "letmein", models.HarborAuthAlways, false)

	rr := env.request(t, http.MethodPost, "/api/dj-auth",
		map[string]string{"username": "cooldj", "password": "letmein"}, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("dj-auth: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["authorized"] != true {
		t.Errorf("authorized = %v", body["authorized"])
	}
	if body["user_id"] != float64(user.ID) {
		t.Errorf("user_id = %v", body["user_id"])
	}
	if kickoff, present := body["kickoff_time"]; !present || kickoff != nil {
		t.Errorf("kickoff_time = %v (present=%v), want null", kickoff, present)
	}

	// Wrong password still returns 200 with authorized = false.
	rr = env.request(t, http.MethodPost, "/api/dj-auth",
		map[string]string{"username": "cooldj", "password": "nope"}, header)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["authorized"] != false {
		t.Errorf("wrong password: %d %s", rr.Code, rr.Body.String())
	}

	// Unknown user.
	rr = env.request(t, http.MethodPost, "/api/dj-auth",
		map[string]string{"username": "ghost", "password": "x"}, header)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["authorized"] != false {
		t.Errorf("unknown user: %d %s", rr.Code, rr.Body.String())
	}
}

func TestDJAuthCalendarKickoff(t *testing.T) {
	env := newAPIEnv(t)
	header := map[string]string{SecretKeyHeader: testSecret}
	ctx := context.Background()

	if err := env.conf.Set(ctx, "GOOGLE_CALENDAR_ENABLED", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	user := env.createUser(t, "caldj", "letmein", models.HarborAuthCalendar, false)
	user.ExitGraceMinutes = 30
	if err := env.db.Save(&user).Error; err != nil {
		t.Fatalf("save user: %v", err)
	}

	end := time.Now().Add(time.Hour).Truncate(time.Second)
	show := models.ShowTime{UserID: user.ID, Start: time.Now().Add(-time.Hour), End: end}
	if err := env.db.Create(&show).Error; err != nil {
		t.Fatalf("seed show: %v", err)
	}

	rr := env.request(t, http.MethodPost, "/api/dj-auth",
		map[string]string{"username": "caldj", "password": "letmein"}, header)
	body := decodeBody(t, rr)
	if body["authorized"] != true {
		t.Fatalf("authorized = %v: %s", body["authorized"], rr.Body.String())
	}
	wantKickoff := float64(end.Add(30 * time.Minute).Unix())
	if body["kickoff_time"] != wantKickoff {
		t.Errorf("kickoff_time = %v, want %v", body["kickoff_time"], wantKickoff)
	}
}

func TestNextTrack(t *testing.T) {
	env := newAPIEnv(t)
	header := map[string]string{SecretKeyHeader: testSecret}

	env.selector.asset = &models.AudioAsset{ID: 42, Title: "T", Artist: "A", File: "/assets/t.mp3"}
	rr := env.request(t, http.MethodGet, "/api/next-track", nil, header)
	body := decodeBody(t, rr)
	if body["has_asset"] != true {
		t.Fatalf("has_asset = %v", body["has_asset"])
	}
	if uri := body["asset_uri"]; uri != `annotate:audio_asset_id="42":file:///assets/t.mp3` {
		t.Errorf("asset_uri = %v", uri)
	}

	// Selector exhausted: has_asset false.
	env.selector.asset = nil
	rr = env.request(t, http.MethodGet, "/api/next-track", nil, header)
	if decodeBody(t, rr)["has_asset"] != false {
		t.Errorf("exhausted: %s", rr.Body.String())
	}

	// Disabled AutoDJ never consults the selector.
	if err := env.conf.Set(context.Background(), "AUTODJ_ENABLED", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	calls := env.selector.calls
	rr = env.request(t, http.MethodGet, "/api/next-track", nil, header)
	if decodeBody(t, rr)["has_asset"] != false || env.selector.calls != calls {
		t.Errorf("disabled: %s (calls %d -> %d)", rr.Body.String(), calls, env.selector.calls)
	}
}

func TestInitServicesRequiresAdmin(t *testing.T) {
	env := newAPIEnv(t)

	rr := env.request(t, http.MethodPost, "/api/init-services", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d, want 401", rr.Code)
	}

	env.createUser(t, "dj", "letmein", models.HarborAuthAlways, false)
	rr = env.request(t, http.MethodPost, "/api/session",
		map[string]string{"username": "dj", "password": "letmein"}, nil)
	djToken := decodeBody(t, rr)["token"].(string)
	rr = env.request(t, http.MethodPost, "/api/init-services", nil,
		map[string]string{"Authorization": "Bearer " + djToken})
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-admin: %d, want 403", rr.Code)
	}

	token := env.adminToken(t)
	rr = env.request(t, http.MethodPost, "/api/init-services",
		map[string]any{"services": []string{"harbor"}, "restart_all": true},
		map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: %d %s", rr.Code, rr.Body.String())
	}
	if len(env.initer.opts) != 1 {
		t.Fatalf("%d init calls, want 1", len(env.initer.opts))
	}
	got := env.initer.opts[0]
	if len(got.Names) != 1 || got.Names[0] != "harbor" || !got.RestartAll {
		t.Errorf("init opts = %+v", got)
	}
}

func TestBroadcastLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	token := env.adminToken(t)
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	asset := models.AudioAsset{Title: "T", Artist: "A", File: "/a.mp3", Status: models.AssetStatusReady}
	if err := env.db.Create(&asset).Error; err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	rr := env.request(t, http.MethodPost, "/api/broadcasts",
		map[string]any{"asset_id": asset.ID, "scheduled_at": time.Now().Add(time.Hour)}, authHeader)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	id := created["ID"].(float64)

	rr = env.request(t, http.MethodGet, "/api/broadcasts", nil, authHeader)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"Status":"queued"`) {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.request(t, http.MethodDelete, fmt.Sprintf("/api/broadcasts/%.0f", id), nil, authHeader)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}
	var count int64
	env.db.Model(&models.Broadcast{}).Count(&count)
	if count != 0 {
		t.Errorf("%d broadcasts remain", count)
	}
}

// A broadcast created over the API must reach the harbor after the request
// context is gone.
func TestBroadcastPlaysAfterRequestEnds(t *testing.T) {
	env := newAPIEnv(t)
	token := env.adminToken(t)
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	asset := models.AudioAsset{Title: "T", Artist: "A", File: "/a.mp3", Status: models.AssetStatusReady}
	if err := env.db.Create(&asset).Error; err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	rr := env.request(t, http.MethodPost, "/api/broadcasts",
		map[string]any{"asset_id": asset.ID, "scheduled_at": time.Now().Add(40 * time.Millisecond)}, authHeader)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	id := uint(decodeBody(t, rr)["ID"].(float64))

	deadline := time.Now().Add(2 * time.Second)
	var b models.Broadcast
	for time.Now().Before(deadline) {
		if err := env.db.First(&b, id).Error; err != nil {
			t.Fatalf("load broadcast: %v", err)
		}
		if b.Status == models.BroadcastPlayed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.Status != models.BroadcastPlayed {
		t.Fatalf("broadcast status = %s, want %s", b.Status, models.BroadcastPlayed)
	}
	if got := env.pusher.pushed(); len(got) != 1 {
		t.Fatalf("%d pushes, want 1", len(got))
	}
}
