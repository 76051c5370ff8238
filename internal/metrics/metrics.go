// Package metrics exposes pipeline counters to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the worker updates. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	Ticks            *prometheus.CounterVec
	TickDuration     prometheus.Histogram
	TenantsProcessed *prometheus.CounterVec
	SummariesWritten *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	StorageRetries   prometheus.Counter
	PipelineState    prometheus.Gauge
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kassa_ticks_total",
				Help: "Pipeline ticks by result",
			},
			[]string{"result"}, // ok|partial|skipped|failed
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kassa_tick_duration_seconds",
				Help:    "Wall time of one pipeline tick",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		TenantsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kassa_tenants_processed_total",
				Help: "Per-tenant units of work by stage and outcome",
			},
			[]string{"stage", "outcome"}, // outcome: ok|failed
		),
		SummariesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kassa_summaries_written_total",
				Help: "Summary rows written by tier",
			},
			[]string{"tier", "result"}, // result: written|skipped
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kassa_notifications_total",
				Help: "Notification messages by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		StorageRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kassa_storage_retries_total",
				Help: "Units of work retried after a transient storage error",
			},
		),
		PipelineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kassa_pipeline_state",
				Help: "Current pipeline state (0 = idle)",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickDuration, m.TenantsProcessed,
			m.SummariesWritten, m.Notifications, m.StorageRetries, m.PipelineState)
	}
	return m
}

func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(result).Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) TenantDone(stage string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.TenantsProcessed.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) Summaries(tier string, written, skipped int) {
	if m == nil {
		return
	}
	m.SummariesWritten.WithLabelValues(tier, "written").Add(float64(written))
	m.SummariesWritten.WithLabelValues(tier, "skipped").Add(float64(skipped))
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) StorageRetry() {
	if m == nil {
		return
	}
	m.StorageRetries.Inc()
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.PipelineState.Set(float64(state))
}
