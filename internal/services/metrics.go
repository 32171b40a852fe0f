package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	Classifications    *prometheus.CounterVec

	// Evaluator metrics
	SweepDuration      prometheus.Histogram
	RemindersEvaluated prometheus.Counter
	RemindersFired     prometheus.Counter

	// Dispatcher metrics
	DispatchOutcomes *prometheus.CounterVec

	// Compliance metrics
	AuditWriteFailures prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(sessions *SessionService) *Metrics {
	metrics := &Metrics{
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finadvisor_chat_requests_total",
			Help: "Total number of chat requests processed",
		}),

		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finadvisor_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		Classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finadvisor_intent_classifications_total",
			Help: "Total classifications by intent type",
		}, []string{"intent"}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finadvisor_sweep_duration_seconds",
			Help:    "Trigger evaluator sweep duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		}),

		RemindersEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finadvisor_reminders_evaluated_total",
			Help: "Total reminders inspected by evaluator sweeps",
		}),

		RemindersFired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finadvisor_reminders_fired_total",
			Help: "Total reminders transitioned to triggered",
		}),

		DispatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finadvisor_dispatch_outcomes_total",
			Help: "Notification dispatch outcomes",
		}, []string{"outcome"}),

		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finadvisor_audit_write_failures_total",
			Help: "Audit entries that could not be made durable",
		}),
	}

	// Live session count straight from the session store
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "finadvisor_sessions_active",
			Help: "Current number of live chat sessions",
		},
		func() float64 {
			if sessions != nil {
				return float64(sessions.Count())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}
