// Package jobmetrics instruments the asynq worker: task outcomes, webhook
// delivery attempts and sweep recoveries.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker collectors.
type Metrics struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
	requeued prometheus.Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return buildMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return buildMetrics(registerer)
}

// Span times one task execution.
type Span struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts a span for task. Safe on a nil receiver.
func (m *Metrics) Track(task string) *Span {
	return &Span{metrics: m, task: task, start: time.Now()}
}

// End records the span outcome and returns err unchanged.
func (s *Span) End(err error) error {
	if s == nil || s.metrics == nil || s.task == "" {
		return err
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.metrics.tasks.WithLabelValues(s.task, result).Inc()
	s.metrics.duration.WithLabelValues(s.task).Observe(time.Since(s.start).Seconds())
	return err
}

// ObserveWebhookAttempt counts one delivery attempt outcome for a trigger.
func (m *Metrics) ObserveWebhookAttempt(trigger, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(trigger, outcome).Inc()
}

// ObserveRequeued counts propagations the sweep put back on the queue.
func (m *Metrics) ObserveRequeued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.requeued.Add(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_jobs_total",
			Help: "Worker task executions by task type and result.",
		}, []string{"task", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_job_duration_seconds",
			Help:    "Worker task duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"task"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_webhook_attempts_total",
			Help: "Webhook delivery attempts grouped by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_webhook_sweep_requeued_total",
			Help: "Stale pending propagations re-enqueued by the sweep.",
		}),
	}
	registerer.MustRegister(m.tasks, m.duration, m.attempts, m.requeued)
	return m
}
