/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jobs hosts periodic tasks and cancellable deferred work inside the
// server process.
package jobs

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	deferredRetries = 3
	retryBackoff    = 5 * time.Second
)

// Runner schedules background work. Periodic tasks stop when their context
// is cancelled; deferred tasks live on the runner's own context so they
// survive the (typically request-scoped) caller, and only Cancel or Stop
// revokes them. Wait blocks until every goroutine has exited.
type Runner struct {
	logger  zerolog.Logger
	backoff time.Duration

	baseCtx context.Context
	stop    context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunner builds a runner.
func NewRunner(logger zerolog.Logger) *Runner {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Runner{
		logger:  logger.With().Str("component", "jobs").Logger(),
		backoff: retryBackoff,
		baseCtx: baseCtx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Periodic runs fn every interval until ctx is cancelled. The first run
// happens after one interval, not immediately.
func (r *Runner) Periodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.safeRun(ctx, name, fn)
			}
		}
	}()
}

// DailyAt runs fn every day at hour:minute in loc until ctx is cancelled.
func (r *Runner) DailyAt(ctx context.Context, name string, hour, minute int, loc *time.Location, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			now := time.Now().In(loc)
			next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
			if !next.After(now) {
				next = next.AddDate(0, 0, 1)
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				r.safeRun(ctx, name, fn)
			}
		}
	}()
}

// Defer schedules fn to run once at the given time and returns a task id.
// The task retries up to 3 times on error. The job's lifetime is bound to
// the runner, never to the scheduling caller; Cancel revokes it by id.
func (r *Runner) Defer(name string, at time.Time, fn func(context.Context) error) string {
	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(r.baseCtx)

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
		}()

		timer := time.NewTimer(time.Until(at))
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			r.logger.Info().Str("task_id", id).Msgf("deferred task %s cancelled", name)
			return
		case <-timer.C:
		}

		for attempt := 1; attempt <= deferredRetries; attempt++ {
			err := r.safeRunErr(taskCtx, name, fn)
			if err == nil {
				return
			}
			r.logger.Warn().Err(err).Str("task_id", id).
				Msgf("deferred task %s failed (attempt %d/%d)", name, attempt, deferredRetries)
			if attempt == deferredRetries {
				return
			}
			select {
			case <-taskCtx.Done():
				return
			case <-time.After(r.backoff):
			}
		}
	}()
	return id
}

// Cancel revokes a deferred task. It reports whether the id was known.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Stop revokes every deferred task still waiting to fire.
func (r *Runner) Stop() {
	r.stop()
}

// Wait blocks until all scheduled goroutines have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Any("panic", p).Bytes("stack", debug.Stack()).
				Msgf("task %s panicked", name)
		}
	}()
	fn(ctx)
}

func (r *Runner) safeRunErr(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Any("panic", p).Bytes("stack", debug.Stack()).
				Msgf("task %s panicked", name)
		}
	}()
	return fn(ctx)
}
