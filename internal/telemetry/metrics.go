/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crazyarms_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crazyarms_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// AutoDJRequestsTotal counts AutoDJ track requests by outcome. Outcome is
	// one of: selected, anti_repeat_artist_fallback, anti_repeat_fallback,
	// no_assets, none_found.
	AutoDJRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_autodj_requests_total",
		Help: "AutoDJ track selection requests by outcome.",
	}, []string{"outcome"})

	// AuthDecisionsTotal counts harbor authorization decisions.
	AuthDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_harbor_auth_decisions_total",
		Help: "Harbor DJ authorization decisions by kind and result.",
	}, []string{"kind", "allowed"})

	// ServiceInitsTotal counts init runs per service.
	ServiceInitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_service_inits_total",
		Help: "Service init/reconfiguration runs per service.",
	}, []string{"service"})

	// HealthChecksTotal counts upstream health probes by result.
	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_upstream_health_checks_total",
		Help: "Upstream health probe results.",
	}, []string{"service", "result"})

	// LiquidsoapCommandsTotal counts harbor telnet commands by result.
	LiquidsoapCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_liquidsoap_commands_total",
		Help: "Liquidsoap control commands by result.",
	}, []string{"command", "result"})

	// DatabaseQueryDuration observes gorm operation latency per table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crazyarms_database_query_duration_seconds",
		Help:    "Database operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crazyarms_database_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive gauges open connections in the pool.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crazyarms_database_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
