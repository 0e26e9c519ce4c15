/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/crazyarms/internal/cache"
	"github.com/friendsincode/crazyarms/internal/conf"
	"github.com/friendsincode/crazyarms/internal/config"
	"github.com/friendsincode/crazyarms/internal/models"
)

// Service is one managed daemon. Render writes its config files and returns
// the supervisor programs to start after the next update.
type Service interface {
	Name() string
	SupervisorEnabled() bool
	Render(ctx context.Context) ([]string, error)
}

// deps is the shared toolbox handed to every service.
type deps struct {
	cfg      *config.Config
	conf     *conf.Store
	db       *gorm.DB
	cache    *cache.Cache
	renderer *Renderer
}

// --- harbor ---

type harborService struct{ deps }

func (s *harborService) Name() string            { return "harbor" }
func (s *harborService) SupervisorEnabled() bool { return true }

func (s *harborService) Render(ctx context.Context) ([]string, error) {
	err := s.renderer.RenderFile(s.Name(), "harbor.vars.liq.tmpl", "harbor.vars.liq", map[string]any{
		"Vars": map[string]string{
			"secret_key": quoteLiq(s.cfg.SecretKey),
		},
	})
	if err != nil {
		return nil, err
	}

	// Admin-supplied custom Liquidsoap sections, staged in the cache by the
	// web app.
	var customConfig string
	if _, err := s.cache.GetJSON(ctx, cache.KeyHarborConfigContext, &customConfig); err != nil {
		customConfig = ""
	}
	err = s.renderer.RenderFile(s.Name(), "harbor.liq.tmpl", "harbor.liq", map[string]any{
		"CustomConfig": customConfig,
	})
	if err != nil {
		return nil, err
	}

	extras := map[string]string{
		"environment": `HOME="/tmp/pulse"`,
		"user":        "liquidsoap",
	}
	liqCmd := "liquidsoap /config/harbor/harbor.liq"

	var programs []string
	if s.cfg.ZoomEnabled {
		// Liquidsoap must wait for pulse to be up.
		cmd := fmt.Sprintf(`sh -c "wait-for-it -t 0 localhost:4713 && %s"`, liqCmd)
		if err := s.renderer.RenderSupervisorProgram(s.Name(), "harbor", cmd, extras); err != nil {
			return nil, err
		}
		pulseCmd := `pulseaudio -n --load="module-native-protocol-tcp auth-ip-acl=127.0.0.1 auth-anonymous=1" ` +
			`--load=module-native-protocol-unix --load=module-always-sink --exit-idle-time=-1`
		if err := s.renderer.RenderSupervisorProgram(s.Name(), "pulseaudio", pulseCmd, extras); err != nil {
			return nil, err
		}
		programs = []string{"harbor", "pulseaudio"}
	} else {
		if err := s.renderer.RenderSupervisorProgram(s.Name(), "harbor", liqCmd, extras); err != nil {
			return nil, err
		}
		programs = []string{"harbor"}
	}
	return programs, nil
}

// --- upstream ---

type upstreamService struct{ deps }

func (s *upstreamService) Name() string            { return "upstream" }
func (s *upstreamService) SupervisorEnabled() bool { return true }

func (s *upstreamService) Render(ctx context.Context) ([]string, error) {
	if err := s.syncLocalIcecast(ctx); err != nil {
		return nil, err
	}

	var upstreams []models.UpstreamServer
	if err := s.db.WithContext(ctx).Order("name").Find(&upstreams).Error; err != nil {
		return nil, fmt.Errorf("load upstream servers: %w", err)
	}

	var programs []string
	telnetPort := 1234
	for _, upstream := range upstreams {
		confName := fmt.Sprintf("_%s.liq", upstream.Name)
		err := s.renderer.RenderFile(s.Name(), "upstream.liq.tmpl", confName, map[string]any{
			"Upstream":          upstream,
			"TelnetPort":        telnetPort,
			"EncodingDirective": encodingDirective(upstream),
		})
		if err != nil {
			return nil, err
		}

		program := upstream.ProgramName()
		cmd := fmt.Sprintf("liquidsoap /config/upstream/%s", confName)
		err = s.renderer.RenderSupervisorProgram(s.Name(), program, cmd, map[string]string{
			"user": "liquidsoap",
		})
		if err != nil {
			return nil, err
		}
		programs = append(programs, program)
		telnetPort++
	}
	return programs, nil
}

// syncLocalIcecast keeps the reserved local-icecast upstream row matching
// the bundled Icecast server: present with the current source password while
// Icecast is enabled, absent otherwise.
func (s *upstreamService) syncLocalIcecast(ctx context.Context) error {
	if !s.cfg.IcecastEnabled {
		err := s.db.WithContext(ctx).
			Where("name = ?", models.LocalIcecastName).
			Delete(&models.UpstreamServer{}).Error
		if err != nil {
			return fmt.Errorf("delete %s row: %w", models.LocalIcecastName, err)
		}
		return nil
	}

	row := models.UpstreamServer{
		Name:     models.LocalIcecastName,
		Protocol: "http",
		Host:     "icecast",
		Port:     8000,
		Mount:    "/live",
		Username: "source",
		Password: s.conf.String("ICECAST_SOURCE_PASSWORD"),
		Encoding: models.EncodingMP3,
		Bitrate:  128,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"password", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s row: %w", models.LocalIcecastName, err)
	}
	return nil
}

func encodingDirective(u models.UpstreamServer) string {
	bitrate := u.Bitrate
	if bitrate == 0 {
		bitrate = 128
	}
	switch u.Encoding {
	case models.EncodingAAC:
		return fmt.Sprintf("%%fdkaac(bitrate=%d)", bitrate)
	case models.EncodingOgg:
		return "%vorbis"
	case models.EncodingFFmpeg:
		return fmt.Sprintf("%%ffmpeg(%s)", u.ExtraArgs)
	default:
		return fmt.Sprintf("%%mp3(bitrate=%d)", bitrate)
	}
}

// --- icecast ---

// icecastService only renders icecast.xml; the Icecast container reloads it
// itself, there is no supervisord to drive.
type icecastService struct{ deps }

func (s *icecastService) Name() string            { return "icecast" }
func (s *icecastService) SupervisorEnabled() bool { return false }

func (s *icecastService) Render(ctx context.Context) ([]string, error) {
	return nil, s.renderer.RenderFile(s.Name(), "icecast.xml.tmpl", "icecast.xml", nil)
}

// --- zoom ---

type zoomService struct{ deps }

func (s *zoomService) Name() string            { return "zoom" }
func (s *zoomService) SupervisorEnabled() bool { return true }

func (s *zoomService) Render(ctx context.Context) ([]string, error) {
	extras := map[string]string{
		"environment": fmt.Sprintf(`TZ="%s",HOME="/home/user",DISPLAY=":0",PULSE_SERVER="harbor"`, s.cfg.TimeZone),
		"user":        "user",
	}

	programs := []struct {
		name string
		cmd  string
	}{
		{"xvfb-icewm", "xvfb-run --auth-file=/home/user/.Xauthority --server-num=0 " +
			"--server-args='-screen 0 1250x875x16' icewm-session"},
		{"x11vnc", "x11vnc -shared -forever -nopw"},
		{"websockify", "websockify 0.0.0.0:6080 localhost:5900"},
	}

	var started []string
	for _, p := range programs {
		if err := s.renderer.RenderSupervisorProgram(s.Name(), p.name, p.cmd, extras); err != nil {
			return nil, err
		}
		started = append(started, p.name)
	}
	return started, nil
}

// --- harbor telnet web ---

// telnetWebService exposes the harbor's Liquidsoap telnet console through a
// browser terminal for admins.
type telnetWebService struct{ deps }

func (s *telnetWebService) Name() string            { return "harbor-telnet-web" }
func (s *telnetWebService) SupervisorEnabled() bool { return true }

func (s *telnetWebService) Render(ctx context.Context) ([]string, error) {
	cmd := fmt.Sprintf("ttyd --port 8080 --writable telnet %s %d", s.cfg.HarborHost, s.cfg.HarborTelnetPort)
	if err := s.renderer.RenderSupervisorProgram(s.Name(), "telnet-web", cmd, nil); err != nil {
		return nil, err
	}
	return []string{"telnet-web"}, nil
}
