/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires every component together and owns their lifecycles.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/api"
	"github.com/friendsincode/crazyarms/internal/auth"
	"github.com/friendsincode/crazyarms/internal/autodj"
	"github.com/friendsincode/crazyarms/internal/broadcast"
	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/config"
	"github.com/friendsincode/crazyarms/internal/db"
	"github.com/friendsincode/crazyarms/internal/events"
	"github.com/friendsincode/crazyarms/internal/gcal"
	"github.com/friendsincode/crazyarms/internal/jobs"
	"github.com/friendsincode/crazyarms/internal/liquidsoap"
	"github.com/friendsincode/crazyarms/internal/services"
	"github.com/friendsincode/crazyarms/internal/supervisor"
	"github.com/friendsincode/crazyarms/internal/telemetry"
	"github.com/friendsincode/crazyarms/internal/tracklog"
)

// Server bundles the HTTP surface and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	conf       *conf.Store
	bus        *events.Bus
	relay      *events.NATSRelay
	runner     *jobs.Runner
	orch       *services.Orchestrator
	watchdog   *services.Watchdog
	harbor     *liquidsoap.Client
	selector   *autodj.Selector
	authorizer *auth.Authorizer
	broadcasts *broadcast.Scheduler
	trackLog   *tracklog.Log
	syncer     *gcal.Syncer
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(otelhttp.NewMiddleware("crazyarms-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	redisCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		return err
	}
	s.cache = redisCache
	s.DeferClose(func() error { return s.cache.Close() })

	confStore, err := conf.New(database, s.logger)
	if err != nil {
		return fmt.Errorf("load config store: %w", err)
	}
	s.conf = confStore

	relay, err := events.NewNATSRelay(s.cfg.NATSURL, s.bus, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("NATS relay unavailable, events stay in-process")
	} else if relay != nil {
		relay.Relay(
			events.EventTrackSelected,
			events.EventTrackLogged,
			events.EventDJConnect,
			events.EventDJDisconnect,
			events.EventDJBanned,
			events.EventServiceInit,
			events.EventServiceUnhealthy,
			events.EventConfigChanged,
			events.EventBroadcastQueued,
			events.EventBroadcastPlayed,
			events.EventCalendarSynced,
		)
		s.relay = relay
		s.DeferClose(func() error { s.relay.Close(); return nil })
	}

	renderer, err := services.NewRenderer(s.cfg, confStore, s.logger)
	if err != nil {
		return fmt.Errorf("build config renderer: %w", err)
	}
	super := supervisor.New(s.cfg.SupervisorctlBin, s.logger)
	s.orch = services.NewOrchestrator(s.cfg, confStore, database, s.cache, renderer, super, s.bus, s.logger)
	s.orch.WatchConfig()
	s.watchdog = services.NewWatchdog(s.cfg, database, s.orch, s.bus, s.logger)

	s.harbor = liquidsoap.New(s.cfg.HarborHost, s.cfg.HarborTelnetPort, s.logger)
	s.DeferClose(func() error { s.harbor.Close(); return nil })

	s.selector = autodj.New(database, autodj.NewAntiRepeatStore(s.cache), confStore, s.bus, s.logger)
	s.authorizer = auth.New(database, s.cache, confStore, s.logger)
	s.runner = jobs.NewRunner(s.logger)
	s.broadcasts = broadcast.New(database, s.runner, s.harbor, s.bus, s.logger)
	s.trackLog = tracklog.New(database, confStore, s.bus, s.logger)

	s.syncer = gcal.NewSyncer(database, s.cache, confStore, gcal.NewGoogleCalendarAPI(), s.bus, s.logger)
	s.orch.SetCalendarSync(func(ctx context.Context) { _ = s.syncer.Sync(ctx) })

	s.api = api.New(database, confStore, s.cfg.SecretKey, s.authorizer, s.selector,
		s.orch, s.broadcasts, s.trackLog, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.watchdog.Run(ctx)
	}()

	s.syncer.Schedule(ctx, s.runner)

	loc, err := time.LoadLocation(s.cfg.TimeZone)
	if err != nil {
		s.logger.Warn().Err(err).Str("timezone", s.cfg.TimeZone).Msg("unknown timezone, using local time")
		loc = time.Local
	}
	s.trackLog.SchedulePurge(ctx, s.runner, loc)

	if err := s.broadcasts.Resume(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to resume queued broadcasts")
	}

	// Connection pool gauge.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.runner.Stop()
	s.runner.Wait()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// HTTPServer exposes the underlying http.Server for lifecycle control.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Orchestrator exposes service orchestration for CLI commands.
func (s *Server) Orchestrator() *services.Orchestrator {
	return s.orch
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
