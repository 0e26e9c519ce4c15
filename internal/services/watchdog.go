/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/config"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/telemetry"
)

const (
	watchdogInterval = 2 * time.Minute
	pingTimeout      = 5 * time.Second
)

// Watchdog probes the harbor and every upstream relay with HTTP pings and
// rerenders/restarts only the failing program.
type Watchdog struct {
	cfg    *config.Config
	db     *gorm.DB
	orch   *Orchestrator
	bus    *events.Bus
	logger zerolog.Logger

	client   *http.Client
	interval time.Duration

	// Force runs checks even in debug mode.
	Force bool

	// urlFor builds the ping URL for a host/port pair; tests point it at
	// httptest servers.
	urlFor func(host string, port int) string
}

// NewWatchdog builds the watchdog.
func NewWatchdog(cfg *config.Config, db *gorm.DB, orch *Orchestrator, bus *events.Bus, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		db:       db,
		orch:     orch,
		bus:      bus,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		client:   &http.Client{Timeout: pingTimeout},
		interval: watchdogInterval,
		urlFor: func(host string, port int) string {
			return fmt.Sprintf("http://%s:%d/ping", host, port)
		},
	}
}

// Run checks every two minutes until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

type pingTarget struct {
	service string
	program string
	host    string
	port    int
}

// Check runs one probe pass. Before any user exists the station is still
// being set up and the loop is inert; in debug mode it is a no-op unless
// forced.
func (w *Watchdog) Check(ctx context.Context) {
	if w.cfg.Debug && !w.Force {
		return
	}

	var users int64
	if err := w.db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		w.logger.Warn().Err(err).Msg("user count failed, skipping health checks")
		return
	}
	if users == 0 {
		return
	}

	targets := []pingTarget{{
		service: "harbor",
		program: "harbor",
		host:    w.cfg.HarborHost,
		port:    w.cfg.HarborPort,
	}}

	var upstreams []models.UpstreamServer
	if err := w.db.WithContext(ctx).Order("name").Find(&upstreams).Error; err != nil {
		w.logger.Warn().Err(err).Msg("upstream lookup failed, checking harbor only")
	}
	for _, u := range upstreams {
		targets = append(targets, pingTarget{
			service: "upstream",
			program: u.ProgramName(),
			host:    u.Name,
			port:    w.cfg.UpstreamHealthcheckPort,
		})
	}

	// Probe concurrently, then restart failures one at a time so supervisor
	// calls stay serialized.
	pingErrs := make([]error, len(targets))
	var group errgroup.Group
	for i, target := range targets {
		group.Go(func() error {
			pingErrs[i] = w.ping(ctx, target)
			return nil
		})
	}
	_ = group.Wait()

	for i, target := range targets {
		if err := pingErrs[i]; err != nil {
			telemetry.HealthChecksTotal.WithLabelValues(target.program, "failure").Inc()
			w.logger.Warn().Err(err).Msgf("health check failed for %s, restarting %s", target.program, target.program)
			if w.bus != nil {
				w.bus.Publish(events.EventServiceUnhealthy, events.Payload{
					"service": target.service,
					"program": target.program,
				})
			}
			w.orch.InitServices(ctx, InitOptions{
				Names:       []string{target.service},
				Subservices: []string{target.program},
			})
		} else {
			telemetry.HealthChecksTotal.WithLabelValues(target.program, "success").Inc()
			w.logger.Debug().Msgf("health check passed for %s", target.program)
		}
	}
}

func (w *Watchdog) ping(ctx context.Context, target pingTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.urlFor(target.host, target.port), nil)
	if err != nil {
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		return fmt.Errorf("unexpected ping response: status %d body %q", resp.StatusCode, body)
	}
	return nil
}
