// Package metrics holds the Prometheus collectors shared by the core components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adminguard_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adminguard_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	PermissionChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adminguard_permission_checks_total",
		Help: "Permission evaluations by result (allowed, denied, error).",
	}, []string{"result"})

	PermissionCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adminguard_permission_cache_total",
		Help: "Permission cache lookups by backend and result (hit, miss, error).",
	}, []string{"backend", "result"})

	SecurityEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adminguard_security_events_total",
		Help: "Security events logged by type and severity.",
	}, []string{"type", "severity"})

	BlockedIPs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adminguard_blocked_ips",
		Help: "Number of currently blocked IP addresses.",
	})

	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adminguard_audit_dropped_total",
		Help: "Audit records dropped because the write queue was full.",
	})

	AuditWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adminguard_audit_write_failures_total",
		Help: "Failed audit store writes by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		PermissionChecks,
		PermissionCache,
		SecurityEvents,
		BlockedIPs,
		AuditDropped,
		AuditWriteFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
