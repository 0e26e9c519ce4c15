/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/crazyarms/internal/auth"
	"github.com/friendsincode/crazyarms/internal/services"
)

const sessionTTL = 24 * time.Hour

// handleSession exchanges username/password for a bearer token.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	user, err := a.authorizer.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.secretKey, auth.Claims{
		UserID:   user.ID,
		Username: user.Username,
		Admin:    user.IsAdmin,
	}, sessionTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user_id": user.ID, "admin": user.IsAdmin})
}

func (a *API) handleInitServices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Services    []string `json:"services"`
		RestartAll  bool     `json:"restart_all"`
		Subservices []string `json:"subservices"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	a.initer.InitServices(r.Context(), services.InitOptions{
		Names:       req.Services,
		RestartAll:  req.RestartAll,
		Subservices: req.Subservices,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "services": a.initer.ServiceNames()})
}

func (a *API) handleTrackLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	entries, err := a.trackLog.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("track log lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleBroadcastsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.broadcasts.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list broadcasts failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleBroadcastsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID     uint      `json:"asset_id"`
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AssetID == 0 || req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "asset_id_and_scheduled_at_required")
		return
	}

	b, err := a.broadcasts.Create(r.Context(), req.AssetID, req.ScheduledAt)
	if err != nil {
		a.logger.Error().Err(err).Msg("create broadcast failed")
		writeError(w, http.StatusUnprocessableEntity, "broadcast_rejected")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleBroadcastsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "broadcastID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := a.broadcasts.Delete(r.Context(), uint(id)); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
