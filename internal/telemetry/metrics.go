// Package telemetry provides application-level observability for QueryGate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<QG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authorization decision counters and permission cache hit/miss counters
//   - Session and grant lifecycle counters (creations, evictions, sweeps)
//   - Unsafe statement rejections by reason
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/permissions/:user_id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.  Authorization metrics are labelled by outcome and
// required level, never by user or schema name, for the same reason.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template, NOT the raw URL, to prevent
// unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authorization metrics, recorded by the access gate on every decision.
//
// AuthzDecisionsTotal is a CounterVec with labels {outcome, level}. The outcome is
// "allow" or "deny"; the level is the permission level the statement required.
//
// Example PromQL queries:
//   - Denial rate:  sum(rate(authz_decisions_total{outcome="deny"}[5m]))
//   - Decisions by required level:  sum by (level) (rate(authz_decisions_total[1h]))
//
// PermissionCacheEvents is a CounterVec with label {event} counting "hit", "miss",
// and "evict" on the in-process permission cache.  A low hit ratio under steady
// traffic suggests the TTL or max_entries is tuned too tight.
var (
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions, by outcome and required permission level.",
		},
		[]string{"outcome", "level"},
	)

	PermissionCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_events_total",
			Help: "Permission cache events, by event type (hit, miss, evict).",
		},
		[]string{"event"},
	)
)

// UnsafeStatementsTotal is a CounterVec with label {reason} incremented whenever the
// SQL safety validator rejects a statement.  Reasons are a small fixed set
// ("not_select", "forbidden_keyword", "multiple_statements", "empty").
//
// Example PromQL queries:
//   - Rejection rate by reason:  sum by (reason) (rate(unsafe_statements_total[1h]))
var UnsafeStatementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "unsafe_statements_total",
		Help: "Total number of SQL statements rejected by the safety validator, by reason.",
	},
	[]string{"reason"},
)

// Session and grant lifecycle metrics.
//
// SessionsCreatedTotal counts successful logins. SessionsEvictedTotal counts
// sessions force-closed because the per-user cap was reached. ExpiredSweptTotal
// is a CounterVec with label {kind} ("session" or "grant") incremented by the
// background sweeper.
var (
	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of sessions created.",
		},
	)

	SessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_evicted_total",
			Help: "Total number of sessions evicted due to the per-user session cap.",
		},
	)

	ExpiredSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expired_swept_total",
			Help: "Total number of expired records deactivated by the background sweeper, by kind.",
		},
		[]string{"kind"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <QG_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
