// Package metrics holds the Prometheus instruments for action handlers and
// the secrets store. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all actcore Prometheus metrics
type Metrics struct {
	// Handler metrics
	HandlerInvocations *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec
	FollowUpsCreated   *prometheus.CounterVec

	// Secrets metrics
	SecretsAccess *prometheus.CounterVec
}

// New registers the metrics against reg. Pass prometheus.NewRegistry() in
// tests and prometheus.DefaultRegisterer in the CLI.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Handler invocations by terminal outcome
		HandlerInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "actcore_handler_invocations_total",
			Help: "Total number of action handler invocations by outcome",
		}, []string{"handler", "outcome"}),

		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actcore_handler_duration_seconds",
			Help:    "Action handler latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"handler"}),

		FollowUpsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "actcore_followups_created_total",
			Help: "Total number of follow-up thoughts created by handler",
		}, []string{"handler"}),

		// action: store, view, decrypt, delete, rotate; result: success, failure, rate_limited
		SecretsAccess: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "actcore_secrets_access_total",
			Help: "Total number of secrets store operations by action and result",
		}, []string{"action", "result"}),
	}
}

// ObserveHandler records one finished handler invocation.
func (m *Metrics) ObserveHandler(handler, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HandlerInvocations.WithLabelValues(handler, outcome).Inc()
	m.HandlerDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// FollowUpCreated counts a persisted follow-up thought.
func (m *Metrics) FollowUpCreated(handler string) {
	if m == nil {
		return
	}
	m.FollowUpsCreated.WithLabelValues(handler).Inc()
}

// SecretAccess counts one secrets store operation.
func (m *Metrics) SecretAccess(action, result string) {
	if m == nil {
		return
	}
	m.SecretsAccess.WithLabelValues(action, result).Inc()
}
