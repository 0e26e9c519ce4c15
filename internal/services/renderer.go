/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package services renders daemon configuration and drives the process
// supervisors that run the harbor, upstream relays, Icecast, and the Zoom
// broadcast runner.
package services

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/config"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer turns embedded templates plus the config snapshot into daemon
// config files under <root>/<service>/.
type Renderer struct {
	root   string
	cfg    *config.Config
	conf   *conf.Store
	tmpl   *template.Template
	logger zerolog.Logger
}

// NewRenderer parses the embedded templates.
func NewRenderer(cfg *config.Config, confStore *conf.Store, logger zerolog.Logger) (*Renderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse service templates: %w", err)
	}
	return &Renderer{
		root:   cfg.ConfigRoot,
		cfg:    cfg,
		conf:   confStore,
		tmpl:   tmpl,
		logger: logger.With().Str("component", "renderer").Logger(),
	}, nil
}

// baseContext returns the render context every template sees: the dynamic
// config snapshot under Config and process settings under Settings.
func (r *Renderer) baseContext() map[string]any {
	return map[string]any{
		"Config":   r.conf.Snapshot(),
		"Settings": r.cfg,
	}
}

// RenderFile renders the named template to <root>/<service>/<outName>.
// extra entries are merged over the base context. Writes truncate in place;
// the supervisor reload is the consistency boundary.
func (r *Renderer) RenderFile(service, templateName, outName string, extra map[string]any) error {
	context := r.baseContext()
	for k, v := range extra {
		context[k] = v
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, templateName, context); err != nil {
		return fmt.Errorf("render %s: %w", templateName, err)
	}

	path := filepath.Join(r.root, service, outName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	r.logger.Info().Msgf("writing config file %s", path)
	return nil
}

// RenderSupervisorProgram renders a supervisor program fragment to
// <root>/<service>/supervisor/<program>.conf.
func (r *Renderer) RenderSupervisorProgram(service, program, command string, extras map[string]string) error {
	return r.RenderFile(service, "service.conf.tmpl", filepath.Join("supervisor", program+".conf"), map[string]any{
		"Program": program,
		"Command": command,
		"Extras":  extras,
	})
}

// ClearSupervisorDir removes every generated supervisor fragment for the
// service so stale programs disappear on the next supervisor update.
func (r *Renderer) ClearSupervisorDir(service string) {
	dir := filepath.Join(r.root, service, "supervisor")
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn().Err(err).Msgf("failed to clear %s", dir)
	}
}

// quoteLiq escapes a value for embedding in a Liquidsoap string literal.
func quoteLiq(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
