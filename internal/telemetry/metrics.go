/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics, shared by the server and the device agent.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_api_requests_total",
		Help: "HTTP requests processed, labeled by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bobavision_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bobavision_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bobavision_api_websocket_connections",
		Help: "Open websocket connections.",
	})
)

// Database metrics, recorded by the gorm callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bobavision_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bobavision_db_connections_active",
		Help: "Open database connections.",
	})
)

// Selection engine metrics.
var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_decisions_total",
		Help: "Decisions produced, labeled by classification.",
	}, []string{"classification"})

	DecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bobavision_decision_duration_seconds",
		Help:    "End-to-end decision latency including the play record append.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	QuotaExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bobavision_quota_exhausted_total",
		Help: "Decisions answered with fallback content because the day's quota was spent.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bobavision_queue_depth",
		Help: "Queued entries per device.",
	}, []string{"device_id"})

	ScanAssetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_scan_assets_total",
		Help: "Library scan outcomes by result.",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_events_published_total",
		Help: "Events published on the in-process bus by type.",
	}, []string{"type"})
)

// Device agent metrics.
var (
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bobavision_session_state",
		Help: "Current controller state (1 for the active state, 0 otherwise).",
	}, []string{"state"})

	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_triggers_total",
		Help: "Button triggers by result (accepted or dropped).",
	}, []string{"result"})

	PlayerStartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bobavision_player_starts_total",
		Help: "External player launches.",
	})

	PlayerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_player_failures_total",
		Help: "External player failures by reason.",
	}, []string{"reason"})

	DecisionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bobavision_decision_requests_total",
		Help: "Decision requests issued by the device, labeled by outcome.",
	}, []string{"outcome"})

	RecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bobavision_recoveries_total",
		Help: "Times the controller entered the recovering state.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
