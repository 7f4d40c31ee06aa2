// Package metrics holds the Prometheus collectors of the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	tasksGenerated *prometheus.CounterVec
	taskResults    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	retriesSpent   prometheus.Counter
	alarmFlagged   prometheus.Gauge
	passes         *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registerer when nil.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_generated_total",
				Help:      "Task records written by the register pass",
			},
			[]string{"kind"},
		),
		taskResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_results_total",
				Help:      "Task executions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task executions",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		retriesSpent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Retry budget units spent",
			},
		),
		alarmFlagged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "always_running_violations",
				Help:      "Instances flagged by the last always-running check",
			},
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Register and process passes by status",
			},
			[]string{"pass", "status"},
		),
	}
	reg.MustRegister(m.tasksGenerated, m.taskResults, m.taskDuration, m.retriesSpent, m.alarmFlagged, m.passes)
	return m
}

// All methods accept a nil receiver so components can run without metrics.

func (m *Metrics) TaskGenerated(kind string) {
	if m == nil {
		return
	}
	m.tasksGenerated.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordResult(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskResults.WithLabelValues(kind, outcome).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RetrySpent() {
	if m == nil {
		return
	}
	m.retriesSpent.Inc()
}

func (m *Metrics) SetAlarmFlagged(n int) {
	if m == nil {
		return
	}
	m.alarmFlagged.Set(float64(n))
}

func (m *Metrics) RecordPass(pass string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.passes.WithLabelValues(pass, status).Inc()
}
