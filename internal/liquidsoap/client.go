/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package liquidsoap implements the line-oriented control protocol spoken by
// the harbor's Liquidsoap telnet server.
package liquidsoap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/crazyarms/internal/telemetry"
)

// endSuffix terminates every server response.
const endSuffix = "\r\nEND\r\n"

const (
	maxTries       = 3
	defaultTimeout = 10 * time.Second
)

// TransportError wraps a socket failure that survived all retries.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("liquidsoap command %q: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to one Liquidsoap control port. At most one command is in
// flight per connection; concurrent callers serialize behind the mutex.
type Client struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	conn    net.Conn
	version string
}

// New builds a client for host:port. It does not connect until the first
// command.
func New(host string, port int, logger zerolog.Logger) *Client {
	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: defaultTimeout,
		logger:  logger.With().Str("component", "liquidsoap").Str("addr", net.JoinHostPort(host, strconv.Itoa(port))).Logger(),
	}
}

// Execute runs a command (with optional argument) and returns the response
// with the END framing stripped, lines joined by \n. On a socket error the
// connection is rebuilt and the command retried up to 3 times.
func (c *Client) Execute(ctx context.Context, command, arg string) (string, error) {
	line := command
	if arg != "" {
		line += " " + arg
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for try := 0; try < maxTries; try++ {
		raw, err := c.roundTrip(ctx, line)
		if err == nil {
			telemetry.LiquidsoapCommandsTotal.WithLabelValues(command, "ok").Inc()
			return strings.Join(splitLines(raw), "\n"), nil
		}
		lastErr = err
		c.dropConn()
	}

	telemetry.LiquidsoapCommandsTotal.WithLabelValues(command, "error").Inc()
	return "", &TransportError{Command: command, Err: lastErr}
}

// ExecuteLines is Execute returning the response split into lines.
func (c *Client) ExecuteLines(ctx context.Context, command, arg string) ([]string, error) {
	out, err := c.Execute(ctx, command, arg)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ExecuteSafe is Execute that swallows transport errors, returning the zero
// value. For status displays where "unknown" beats an error page.
func (c *Client) ExecuteSafe(ctx context.Context, command, arg string) string {
	out, err := c.Execute(ctx, command, arg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("safe command failed")
		return ""
	}
	return out
}

// ExecuteJSON runs a command whose response body is JSON.
func (c *Client) ExecuteJSON(ctx context.Context, command, arg string, dest any) error {
	out, err := c.Execute(ctx, command, arg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(out), dest); err != nil {
		return fmt.Errorf("decode %q response: %w", command, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, line string) ([]byte, error) {
	if c.conn == nil {
		dialer := net.Dialer{Timeout: c.timeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 512)
	tmp := make([]byte, 256)
	for {
		n, err := c.conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if i := bytes.Index(buf, []byte(endSuffix)); i >= 0 {
			return buf[:i], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
}

func splitLines(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return strings.Split(s, "\n")
}

// Version reports the daemon's version, cached after the first success.
// Returns "unknown" when the daemon is unreachable.
func (c *Client) Version(ctx context.Context) string {
	c.mu.Lock()
	cached := c.version
	c.mu.Unlock()
	if cached != "" {
		return cached
	}

	out, err := c.Execute(ctx, "version", "")
	if err != nil {
		return "unknown"
	}
	v := strings.TrimPrefix(out, "Liquidsoap ")

	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
	return v
}

// Status returns the harbor's overall status line.
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.Execute(ctx, "status", "")
}

// SourceStatus returns the status of a named source (e.g. "dj_harbor").
func (c *Client) SourceStatus(ctx context.Context, source string) (string, error) {
	return c.Execute(ctx, source+".status", "")
}

// SkipAutoDJ skips the currently playing AutoDJ track.
func (c *Client) SkipAutoDJ(ctx context.Context) error {
	_, err := c.Execute(ctx, "autodj.skip", "")
	return err
}

// PrerecordPush queues a pre-recorded broadcast file on the harbor.
func (c *Client) PrerecordPush(ctx context.Context, uri string) (string, error) {
	return c.Execute(ctx, "prerecord.push", uri)
}

// KickDJ disconnects the live DJ source.
func (c *Client) KickDJ(ctx context.Context) error {
	_, err := c.Execute(ctx, "dj_harbor.kick", "")
	return err
}
