package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// TasksProcessed counts queue tasks by type and outcome
	// (success, retry, dead_letter, skipped).
	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpaygate_queue_tasks_total",
			Help: "Queue tasks processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// RefundAttempts counts refund attempts by outcome
	// (succeeded, pending, failed).
	RefundAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpaygate_refund_attempts_total",
			Help: "Refund attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TokenRequests counts bearer token acquisitions by source
	// (cache, refresh, auth).
	TokenRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpaygate_token_requests_total",
			Help: "Bearer token acquisitions by source",
		},
		[]string{"source"},
	)

	// WebhookEvents counts callback deliveries by outcome
	// (accepted, bad_signature, missing_signature, unknown_order, error).
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qpaygate_webhook_events_total",
			Help: "Payment callback deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDepth tracks the number of tasks waiting in the outbound queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qpaygate_queue_depth",
			Help: "Tasks currently waiting in the outbound queue",
		},
	)
)

// Register registers all metrics with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TasksProcessed,
			RefundAttempts,
			TokenRequests,
			WebhookEvents,
			QueueDepth,
		)
	})
}
