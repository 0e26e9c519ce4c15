/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/config"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/models"
	"github.com/friendsincode/crazyarms/internal/telemetry"
)

// SupervisorControl is the slice of the supervisor client the orchestrator
// needs; tests substitute a recorder.
type SupervisorControl interface {
	Update(ctx context.Context, service string) string
	StopAll(ctx context.Context, service string) string
	Start(ctx context.Context, service string, programs ...string) string
	Restart(ctx context.Context, service string, programs ...string) string
}

// InitOptions controls one orchestration pass.
type InitOptions struct {
	// Names selects services; empty means every enabled service.
	Names []string
	// RestartAll stops everything before the update and starts the rendered
	// programs after it.
	RestartAll bool
	// Subservices are supervisor programs to restart after the update.
	Subservices []string
	// RenderOnly skips all supervisor calls.
	RenderOnly bool
}

// initLockTTL bounds how long a crashed pass can wedge a service's lock.
const initLockTTL = time.Minute

// Orchestrator owns the render → reload → selective restart lifecycle of
// the managed services.
type Orchestrator struct {
	cfg    *config.Config
	conf   *conf.Store
	cache  *cache.Cache
	db     *gorm.DB
	super  SupervisorControl
	bus    *events.Bus
	rend   *Renderer
	logger zerolog.Logger

	services []Service

	// calendarSync re-runs the external calendar sync; set by the server
	// wiring once the gcal component exists.
	calendarSync func(context.Context)
}

// NewOrchestrator builds the orchestrator and its enabled service set. The
// set is static per process: toggling ICECAST_ENABLED and friends requires
// a restart.
func NewOrchestrator(
	cfg *config.Config,
	confStore *conf.Store,
	db *gorm.DB,
	c *cache.Cache,
	renderer *Renderer,
	super SupervisorControl,
	bus *events.Bus,
	logger zerolog.Logger,
) *Orchestrator {
	d := deps{cfg: cfg, conf: confStore, db: db, cache: c, renderer: renderer}

	services := []Service{
		&harborService{d},
		&upstreamService{d},
	}
	if cfg.IcecastEnabled {
		services = append(services, &icecastService{d})
	}
	if cfg.ZoomEnabled {
		services = append(services, &zoomService{d})
	}
	if cfg.HarborTelnetWebEnabled {
		services = append(services, &telnetWebService{d})
	}

	return &Orchestrator{
		cfg:      cfg,
		conf:     confStore,
		cache:    c,
		db:       db,
		super:    super,
		bus:      bus,
		rend:     renderer,
		logger:   logger.With().Str("component", "services").Logger(),
		services: services,
	}
}

// SetCalendarSync wires the calendar re-sync hook.
func (o *Orchestrator) SetCalendarSync(fn func(context.Context)) {
	o.calendarSync = fn
}

// ServiceNames lists the enabled services in orchestration order.
func (o *Orchestrator) ServiceNames() []string {
	names := make([]string, len(o.services))
	for i, svc := range o.services {
		names[i] = svc.Name()
	}
	return names
}

func (o *Orchestrator) lookup(name string) Service {
	for _, svc := range o.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}

// InitServices runs one orchestration pass over the selected services. A
// failing service is logged and skipped so it cannot block the others.
func (o *Orchestrator) InitServices(ctx context.Context, opts InitOptions) {
	names := opts.Names
	if len(names) == 0 {
		names = o.ServiceNames()
	}

	for _, name := range names {
		svc := o.lookup(name)
		if svc == nil {
			o.logger.Warn().Msgf("unknown or disabled service: %s", name)
			continue
		}
		o.initService(ctx, svc, opts)
	}
}

func (o *Orchestrator) initService(ctx context.Context, svc Service, opts InitOptions) {
	name := svc.Name()

	lockKey := cache.KeyServiceLockPrefix + name
	locked, err := o.cache.AcquireLock(ctx, lockKey, initLockTTL)
	if err == nil && !locked {
		o.logger.Warn().Msgf("init of %s already in progress, skipping", name)
		return
	}
	defer func() { _ = o.cache.ReleaseLock(ctx, lockKey) }()

	o.logger.Info().Msgf("initializing service: %s", name)
	telemetry.ServiceInitsTotal.WithLabelValues(name).Inc()

	if svc.SupervisorEnabled() {
		o.rend.ClearSupervisorDir(name)
	}

	programs, err := svc.Render(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msgf("failed to render config for %s", name)
		return
	}

	if opts.RenderOnly || !svc.SupervisorEnabled() {
		return
	}

	if opts.RestartAll {
		o.super.StopAll(ctx, name)
	}
	o.super.Update(ctx, name)
	if opts.RestartAll {
		o.super.Start(ctx, name, programs...)
	}
	if len(opts.Subservices) > 0 {
		o.super.Restart(ctx, name, opts.Subservices...)
	}

	if o.bus != nil {
		o.bus.Publish(events.EventServiceInit, events.Payload{
			"service":     name,
			"restart_all": opts.RestartAll,
			"subservices": opts.Subservices,
		})
	}
}

// WatchConfig subscribes the reconciliation rules to the config store.
// Handlers run synchronously after a change commits and are idempotent.
func (o *Orchestrator) WatchConfig() {
	o.conf.SubscribePrefix("GOOGLE_CALENDAR_", func(ctx context.Context, _ string) {
		if o.calendarSync != nil {
			o.calendarSync(ctx)
		}
	})

	o.conf.SubscribePrefix("ICECAST_", func(ctx context.Context, key string) {
		if key == "ICECAST_SOURCE_PASSWORD" {
			o.propagateSourcePassword(ctx)
		}
		if o.cfg.IcecastEnabled {
			o.InitServices(ctx, InitOptions{Names: []string{"icecast"}})
		}
	})

	harborReinit := func(ctx context.Context, _ string) {
		o.InitServices(ctx, InitOptions{
			Names:       []string{"harbor"},
			Subservices: []string{"harbor"},
		})
	}
	o.conf.SubscribePrefix("HARBOR_", harborReinit)
	o.conf.SubscribePrefix("AUTODJ_ENABLED", harborReinit)
}

// propagateSourcePassword pushes a changed Icecast source password into the
// reserved local-icecast upstream row, then rerenders and restarts just that
// relay. The row update happens before any restart is issued.
func (o *Orchestrator) propagateSourcePassword(ctx context.Context) {
	password := o.conf.String("ICECAST_SOURCE_PASSWORD")
	err := o.db.WithContext(ctx).Model(&models.UpstreamServer{}).
		Where("name = ?", models.LocalIcecastName).
		Update("password", password).Error
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to propagate icecast source password")
		return
	}

	localIcecast := models.UpstreamServer{Name: models.LocalIcecastName}
	o.InitServices(ctx, InitOptions{
		Names:       []string{"upstream"},
		Subservices: []string{localIcecast.ProgramName()},
	})
}
