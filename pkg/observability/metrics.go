package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditTrailsWrittenTotal   prometheus.Counter
	AuditRequestsWrittenTotal prometheus.Counter
	AuditWriteFailuresTotal   *prometheus.CounterVec

	// Gateway metrics
	TokenRefreshTotal    *prometheus.CounterVec
	ProxiedRequestsTotal *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lattice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_authz_decisions_total",
				Help: "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		AuditTrailsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_audit_trails_written_total",
				Help: "Audit trail records persisted",
			},
		),
		AuditRequestsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_audit_requests_written_total",
				Help: "Audit request records persisted",
			},
		),
		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_audit_write_failures_total",
				Help: "Audit persistence failures (degraded observability, request unaffected)",
			},
			[]string{"kind"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_gateway_token_refresh_total",
				Help: "Upstream access token refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		ProxiedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_gateway_proxied_requests_total",
				Help: "Requests relayed to the upstream API by outcome",
			},
			[]string{"outcome"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_gateway_active_sessions",
				Help: "Sessions currently held in the session store",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuditTrailsWrittenTotal,
		m.AuditRequestsWrittenTotal,
		m.AuditWriteFailuresTotal,
		m.TokenRefreshTotal,
		m.ProxiedRequestsTotal,
		m.ActiveSessions,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request count and duration for every request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
