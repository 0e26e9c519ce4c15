/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the harbor-facing RPC endpoints the
// Liquidsoap scripts call, and the JWT-guarded admin endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/auth"
	"github.com/friendsincode/crazyarms/internal/broadcast"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/services"
	"github.com/friendsincode/crazyarms/internal/telemetry"
	"github.com/friendsincode/crazyarms/internal/tracklog"
)

// SecretKeyHeader guards the harbor-facing endpoints. The Liquidsoap
// scripts send the shared application secret with every request.
const SecretKeyHeader = "X-Crazyarms-Secret-Key"

// TrackSelector picks the next AutoDJ track.
type TrackSelector interface {
	NextTrack(ctx context.Context) (*models.AudioAsset, error)
}

// ServiceIniter re-initializes managed services.
type ServiceIniter interface {
	InitServices(ctx context.Context, opts services.InitOptions)
	ServiceNames() []string
}

// API wires handlers to the router.
type API struct {
	db         *gorm.DB
	conf       *conf.Store
	secretKey  []byte
	authorizer *auth.Authorizer
	selector   TrackSelector
	initer     ServiceIniter
	broadcasts *broadcast.Scheduler
	trackLog   *tracklog.Log
	logger     zerolog.Logger
}

// New creates the API wrapper.
func New(db *gorm.DB, confStore *conf.Store, secretKey string, authorizer *auth.Authorizer,
	selector TrackSelector, initer ServiceIniter, broadcasts *broadcast.Scheduler,
	trackLog *tracklog.Log, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		conf:       confStore,
		secretKey:  []byte(secretKey),
		authorizer: authorizer,
		selector:   selector,
		initer:     initer,
		broadcasts: broadcasts,
		trackLog:   trackLog,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/ping", a.handlePing)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)

	r.Group(func(hr chi.Router) {
		hr.Use(a.secretKeyMiddleware())
		hr.Post("/api/dj-auth", a.handleDJAuth)
		hr.Get("/api/next-track", a.handleNextTrack)
	})

	r.Post("/api/session", a.handleSession)

	r.Group(func(ar chi.Router) {
		ar.Use(auth.Middleware(a.secretKey))
		ar.Use(auth.RequireAdmin())
		ar.Post("/api/init-services", a.handleInitServices)
		ar.Get("/api/track-log", a.handleTrackLog)
		ar.Get("/api/broadcasts", a.handleBroadcastsList)
		ar.Post("/api/broadcasts", a.handleBroadcastsCreate)
		ar.Delete("/api/broadcasts/{broadcastID}", a.handleBroadcastsDelete)
	})
}

// secretKeyMiddleware rejects harbor RPC calls without the shared secret.
func (a *API) secretKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), a.secretKey) != 1 {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

func (a *API) handleDJAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	response := map[string]any{"authorized": false}

	user, err := a.authorizer.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("dj-auth lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if user == nil {
		a.logger.Info().Msgf("auth requested by %s: denied (user does not exist or incorrect password)", req.Username)
		writeJSON(w, http.StatusOK, response)
		return
	}

	decision := a.authorizer.Authorize(r.Context(), user)
	if decision.Allowed {
		response["authorized"] = true
		response["full_name"] = user.FullName()
		response["user_id"] = user.ID
		if decision.KickoffAt != nil {
			response["kickoff_time"] = decision.KickoffAt.Unix()
		} else {
			response["kickoff_time"] = nil
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) handleNextTrack(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{"has_asset": false}
	if a.conf.Bool("AUTODJ_ENABLED") {
		asset, err := a.selector.NextTrack(r.Context())
		if err != nil {
			a.logger.Error().Err(err).Msg("next-track selection failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if asset != nil {
			response["has_asset"] = true
			response["asset_uri"] = asset.LiquidsoapURI()
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
