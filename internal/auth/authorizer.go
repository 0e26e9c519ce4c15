/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth decides whether a DJ may connect to the harbor.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/telemetry"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// KickoffAt bounds a calendar-based authorization: the harbor kicks the
	// DJ off at this time. Nil means unbounded.
	KickoffAt *time.Time
}

// Authorizer evaluates harbor access for users.
type Authorizer struct {
	db     *gorm.DB
	cache  *cache.Cache
	conf   *conf.Store
	logger zerolog.Logger

	now func() time.Time
}

// New builds an authorizer.
func New(db *gorm.DB, c *cache.Cache, confStore *conf.Store, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		db:     db,
		cache:  c,
		conf:   confStore,
		logger: logger.With().Str("component", "auth").Logger(),
		now:    time.Now,
	}
}

// Authenticate looks up a user by username and verifies the password.
func (a *Authorizer) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up user %s: %w", username, err)
	}
	if user.Password == "" {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	return &user, nil
}

// Authorize evaluates whether the user may enter the harbor right now.
// Bans trump everything; ALWAYS allows; CALENDAR allows only inside a
// scheduled show's grace-padded bounds and degrades to ALWAYS while
// calendar integration is switched off.
func (a *Authorizer) Authorize(ctx context.Context, user *models.User) Decision {
	banKey := cache.KeyHarborBanPrefix + strconv.FormatUint(uint64(user.ID), 10)
	banTTL, err := a.cache.TTL(ctx, banKey)
	if err != nil {
		a.logger.Warn().Err(err).Msg("ban lookup failed, continuing without it")
	}
	if banTTL > 0 {
		a.logger.Info().Msgf("auth requested by %s: denied (harbor_auth = %s, but BANNED with %d seconds left)",
			user.FullName(), user.HarborAuth, int(banTTL.Seconds()))
		return a.decide("banned", Decision{})
	}

	switch user.HarborAuth {
	case models.HarborAuthAlways:
		a.logger.Info().Msgf("auth requested by %s: allowed (harbor_auth = %s)", user.FullName(), user.HarborAuth)
		return a.decide("always", Decision{Allowed: true})

	case models.HarborAuthCalendar:
		if !a.conf.Bool("GOOGLE_CALENDAR_ENABLED") {
			a.logger.Info().Msgf(
				"auth requested by %s: allowed (harbor_auth = %s, however GOOGLE_CALENDAR_ENABLED = false, "+
					"so treating this like harbor_auth = %s)",
				user.FullName(), user.HarborAuth, models.HarborAuthAlways)
			return a.decide("calendar_degraded", Decision{Allowed: true})
		}
		return a.authorizeByCalendar(ctx, user)

	default:
		a.logger.Info().Msgf("auth requested by %s: denied (harbor_auth = %s)", user.FullName(), user.HarborAuth)
		return a.decide("never", Decision{})
	}
}

func (a *Authorizer) authorizeByCalendar(ctx context.Context, user *models.User) Decision {
	var showTimes []models.ShowTime
	err := a.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Order("start").
		Find(&showTimes).Error
	if err != nil {
		a.logger.Error().Err(err).Msgf("auth requested by %s: denied (show time lookup failed)", user.FullName())
		return a.decide("calendar_error", Decision{})
	}
	if len(showTimes) == 0 {
		a.logger.Info().Msgf("auth requested by %s: denied (harbor_auth = %s with no show times)",
			user.FullName(), user.HarborAuth)
		return a.decide("calendar_no_shows", Decision{})
	}

	now := a.now()
	entryGrace := time.Duration(user.EntryGraceMinutes) * time.Minute
	exitGrace := time.Duration(user.ExitGraceMinutes) * time.Minute

	for _, show := range showTimes {
		lower := show.Start.Add(-entryGrace)
		upper := show.End.Add(exitGrace)
		if !now.Before(lower) && !now.After(upper) {
			a.logger.Info().Msgf(
				"auth requested by %s: allowed (harbor_auth = %s and %s in time bounds - %s [%s entry grace] - %s [%s exit grace])",
				user.FullName(), user.HarborAuth, now.Format(time.RFC3339),
				show.Start.Format(time.RFC3339), entryGrace, show.End.Format(time.RFC3339), exitGrace)
			kickoff := upper
			return a.decide("calendar", Decision{Allowed: true, KickoffAt: &kickoff})
		}
	}

	a.logger.Info().Msgf("auth requested by %s: denied (harbor_auth = %s with %s not in time bounds for %d show times)",
		user.FullName(), user.HarborAuth, now.Format(time.RFC3339), len(showTimes))
	return a.decide("calendar_outside_bounds", Decision{})
}

func (a *Authorizer) decide(kind string, d Decision) Decision {
	telemetry.AuthDecisionsTotal.WithLabelValues(kind, strconv.FormatBool(d.Allowed)).Inc()
	return d
}

// Ban blocks a user from the harbor for the given duration.
func (a *Authorizer) Ban(ctx context.Context, userID uint, d time.Duration) error {
	key := cache.KeyHarborBanPrefix + strconv.FormatUint(uint64(userID), 10)
	return a.cache.SetJSON(ctx, key, true, d)
}

// Unban lifts a ban early.
func (a *Authorizer) Unban(ctx context.Context, userID uint) error {
	key := cache.KeyHarborBanPrefix + strconv.FormatUint(uint64(userID), 10)
	return a.cache.Delete(ctx, key)
}

// HashPassword produces a bcrypt hash for storage on a User.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
