/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package supervisor shells out to supervisorctl against each managed
// container's supervisor admin port.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes a command and returns its combined output. Tests swap in a
// fake; production uses exec.CommandContext.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Client drives a remote supervisord instance.
type Client struct {
	bin    string
	runner Runner
	logger zerolog.Logger
}

// New builds a client. bin is the supervisorctl binary path.
func New(bin string, logger zerolog.Logger) *Client {
	if bin == "" {
		bin = "supervisorctl"
	}
	return &Client{
		bin:    bin,
		runner: execRunner,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// NewWithRunner builds a client with a custom runner, for tests.
func NewWithRunner(bin string, runner Runner, logger zerolog.Logger) *Client {
	c := New(bin, logger)
	c.runner = runner
	return c
}

// run invokes supervisorctl for one service's supervisord. Output is logged
// and returned; a failure never aborts the caller, supervisord's state is
// reconciled on the next pass.
func (c *Client) run(ctx context.Context, service string, args ...string) string {
	full := append([]string{"-s", fmt.Sprintf("http://%s:9001", service)}, args...)
	c.logger.Info().Msgf("running: %s %s", c.bin, strings.Join(full, " "))

	out, err := c.runner(ctx, c.bin, full...)
	out = strings.TrimSpace(out)
	if err != nil {
		c.logger.Warn().Err(err).Str("service", service).Str("output", out).
			Msgf("supervisorctl %s failed", args[0])
	} else if out != "" {
		c.logger.Debug().Str("service", service).Msg(out)
	}
	return out
}

// Status reports program states, or all programs when none are named.
func (c *Client) Status(ctx context.Context, service string, programs ...string) string {
	return c.run(ctx, service, append([]string{"status"}, programs...)...)
}

// Update reloads supervisord's config, adding/removing changed program groups.
func (c *Client) Update(ctx context.Context, service string) string {
	return c.run(ctx, service, "update")
}

// StopAll stops every program managed by the service's supervisord.
func (c *Client) StopAll(ctx context.Context, service string) string {
	return c.run(ctx, service, "stop", "all")
}

// Restart restarts the named programs.
func (c *Client) Restart(ctx context.Context, service string, programs ...string) string {
	if len(programs) == 0 {
		return ""
	}
	return c.run(ctx, service, append([]string{"restart"}, programs...)...)
}

// Start starts the named programs.
func (c *Client) Start(ctx context.Context, service string, programs ...string) string {
	if len(programs) == 0 {
		return ""
	}
	return c.run(ctx, service, append([]string{"start"}, programs...)...)
}
