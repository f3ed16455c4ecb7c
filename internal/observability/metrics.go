package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookAttempts counts individual HTTP attempts by outcome
	// (success, client_error, server_error, network_error).
	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_webhook_attempts_total",
		Help: "Total webhook HTTP attempts by outcome",
	}, []string{"outcome"})

	// WebhookDeliveries counts finished deliveries by result
	// (delivered, rejected, exhausted, misconfigured, canceled).
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_webhook_deliveries_total",
		Help: "Total webhook deliveries by final result",
	}, []string{"result"})

	// WebhookDeliveryDuration records the wall time of a delivery including retries.
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engage_webhook_delivery_duration_seconds",
		Help:    "Webhook delivery duration in seconds, including backoff waits",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// ImageResolutions counts image resolutions by mode (inlined, url, fallback).
	ImageResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_image_resolutions_total",
		Help: "Total image resolutions by mode",
	}, []string{"mode"})

	// SweepRuns counts sweeper invocations by result (ok, failed).
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_sweep_runs_total",
		Help: "Total scheduled-post sweeps by result",
	}, []string{"result"})

	// SweepRows counts rows seen by the sweeper by outcome (approved, skipped, failed).
	SweepRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_sweep_rows_total",
		Help: "Total rows handled by the scheduled-post sweeper by outcome",
	}, []string{"outcome"})

	// EventsPublished counts post change events by bus and kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_post_events_published_total",
		Help: "Total post change events published",
	}, []string{"bus", "kind"})

	// EventHandlerErrors counts failed event handler invocations by bus.
	EventHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_post_event_handler_errors_total",
		Help: "Total post change event handler failures",
	}, []string{"bus"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engage_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnections is the gauge of live post-stream connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engage_websocket_connections",
		Help: "Number of active post stream WebSocket connections",
	})

	// WebSocketDrops counts stream messages dropped because a client was too slow.
	WebSocketDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engage_websocket_backpressure_drops_total",
		Help: "Total post stream messages dropped due to backpressure",
	})

	// DBQueryDuration observes query latency by outcome (ok, error, slow).
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engage_db_query_duration_seconds",
		Help:    "Database query latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .2, .5, 1, 2},
	}, []string{"outcome"})
)
