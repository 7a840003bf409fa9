package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the compliance engine.
type Metrics struct {
	SecurityEventsLogged  *prometheus.CounterVec
	SecurityAlertsRaised  *prometheus.CounterVec
	AuditFallbackWrites   prometheus.Counter
	DSRSubmitted          *prometheus.CounterVec
	DSRCompleted          *prometheus.CounterVec
	DSRProcessingDuration prometheus.Histogram
	ConsentRecorded       prometheus.Counter
	ConsentWithdrawn      prometheus.Counter
	PurgedEvents          prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SecurityEventsLogged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_security_events_logged_total",
			Help: "Total number of security events written to the audit log",
		}, []string{"severity"}),
		SecurityAlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_security_alerts_raised_total",
			Help: "Total number of security alerts created for high and critical events",
		}, []string{"severity"}),
		AuditFallbackWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_fallback_writes_total",
			Help: "Total number of security events routed to the degraded fallback sink",
		}),
		DSRSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_dsr_submitted_total",
			Help: "Total number of data subject requests submitted",
		}, []string{"type"}),
		DSRCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_dsr_terminal_total",
			Help: "Total number of data subject requests reaching a terminal status",
		}, []string{"status"}),
		DSRProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_dsr_processing_seconds",
			Help:    "Wall time spent processing a data subject request",
			Buckets: prometheus.DefBuckets,
		}),
		ConsentRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_consent_recorded_total",
			Help: "Total number of consent grants recorded",
		}),
		ConsentWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_consent_withdrawn_total",
			Help: "Total number of consent withdrawals recorded",
		}),
		PurgedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_security_events_purged_total",
			Help: "Total number of expired security events deleted by the purge scheduler",
		}),
	}
}
