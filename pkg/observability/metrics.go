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
	PermissionChecksTotal *prometheus.CounterVec
	AccessDeniedTotal     *prometheus.CounterVec

	// Invitation lifecycle metrics
	InvitationsIssuedTotal   *prometheus.CounterVec
	InvitationsAcceptedTotal prometheus.Counter
	InvitationsExpiredSwept  prometheus.Counter

	// Membership metrics
	RoleChangesTotal *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal   *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	AuditEntriesPurged prometheus.Counter

	// Cache metrics
	RoleCacheHitsTotal   prometheus.Counter
	RoleCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boardroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"permission", "allowed"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_access_denied_total",
				Help: "Total number of denied requests by outcome class",
			},
			[]string{"outcome"},
		),
		InvitationsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_invitations_issued_total",
				Help: "Total number of invitations issued by granted role",
			},
			[]string{"role"},
		),
		InvitationsAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_invitations_accepted_total",
				Help: "Total number of invitations accepted",
			},
		),
		InvitationsExpiredSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_invitations_expired_swept_total",
				Help: "Total number of expired invitations removed by the janitor",
			},
		),
		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_role_changes_total",
				Help: "Total number of membership role changes",
			},
			[]string{"previous_role", "new_role"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardroom_audit_writes_total",
				Help: "Total number of audit entries written by action",
			},
			[]string{"action"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_audit_write_failures_total",
				Help: "Total number of failed audit writes",
			},
		),
		AuditEntriesPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_audit_entries_purged_total",
				Help: "Total number of audit entries removed by the retention sweep",
			},
		),
		RoleCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_role_cache_hits_total",
				Help: "Total number of membership role cache hits",
			},
		),
		RoleCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "boardroom_role_cache_misses_total",
				Help: "Total number of membership role cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.AccessDeniedTotal,
		m.InvitationsIssuedTotal,
		m.InvitationsAcceptedTotal,
		m.InvitationsExpiredSwept,
		m.RoleChangesTotal,
		m.AuditWritesTotal,
		m.AuditWriteFailures,
		m.AuditEntriesPurged,
		m.RoleCacheHitsTotal,
		m.RoleCacheMissesTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
