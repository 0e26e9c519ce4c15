/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
// Dynamic, admin-editable settings live in the conf store instead.
type Config struct {
	Environment string
	Debug       bool
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	TimeZone    string

	// SecretKey authenticates the harbor's calls into the API and signs
	// admin bearer tokens.
	SecretKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event fan-out (optional; empty disables it)
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Managed services. These decide which daemons this process renders
	// config for and supervises; toggling them requires a restart.
	IcecastEnabled         bool
	ZoomEnabled            bool
	HarborTelnetWebEnabled bool

	// Harbor daemon coordinates
	HarborHost       string
	HarborPort       int
	HarborTelnetPort int

	// Where rendered daemon configuration lands (mounted volume shared
	// with the service containers).
	ConfigRoot string

	// Path to supervisorctl; overridable for tests and exotic installs.
	SupervisorctlBin string

	// Upstream healthcheck sidecar port
	UpstreamHealthcheckPort int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("CRAZYARMS_ENV", "development"),
		Debug:       getEnvBool("CRAZYARMS_DEBUG", false),
		HTTPBind:    getEnv("CRAZYARMS_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("CRAZYARMS_HTTP_PORT", 8000),
		DBBackend:   DatabaseBackend(getEnv("CRAZYARMS_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("CRAZYARMS_DB_DSN", ""),
		TimeZone:    getEnv("CRAZYARMS_TIMEZONE", "US/Pacific"),

		SecretKey: getEnv("CRAZYARMS_SECRET_KEY", ""),

		RedisAddr:     getEnv("CRAZYARMS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("CRAZYARMS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CRAZYARMS_REDIS_DB", 0),

		NATSURL: getEnv("CRAZYARMS_NATS_URL", ""),

		TracingEnabled:    getEnvBool("CRAZYARMS_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("CRAZYARMS_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("CRAZYARMS_TRACING_SAMPLE_RATE", 1.0),

		IcecastEnabled:         getEnvBool("ICECAST_ENABLED", true),
		ZoomEnabled:            getEnvBool("ZOOM_ENABLED", false),
		HarborTelnetWebEnabled: getEnvBool("HARBOR_TELNET_WEB_ENABLED", false),

		HarborHost:       getEnv("CRAZYARMS_HARBOR_HOST", "harbor"),
		HarborPort:       getEnvInt("CRAZYARMS_HARBOR_PORT", 8001),
		HarborTelnetPort: getEnvInt("CRAZYARMS_HARBOR_TELNET_PORT", 1234),

		ConfigRoot: getEnv("CRAZYARMS_CONFIG_ROOT", "/config"),

		SupervisorctlBin: getEnv("CRAZYARMS_SUPERVISORCTL_BIN", "supervisorctl"),

		UpstreamHealthcheckPort: getEnvInt("CRAZYARMS_UPSTREAM_HEALTHCHECK_PORT", 8080),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CRAZYARMS_DB_DSN must be provided")
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("CRAZYARMS_SECRET_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") && strings.EqualFold(cfg.SecretKey, "hackme") {
		return nil, fmt.Errorf("CRAZYARMS_SECRET_KEY must be set to a non-default value in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
