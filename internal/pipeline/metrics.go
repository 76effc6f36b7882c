package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts stage runs by stage name.
type Metrics struct {
	started   *prometheus.CounterVec
	succeeded *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the stage metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redaction",
				Subsystem: "pipeline",
				Name:      name,
				Help:      help,
			},
			[]string{"stage"},
		)
	}
	m := &Metrics{
		started:   counter("stage_started_total", "Total number of stage runs started"),
		succeeded: counter("stage_succeeded_total", "Total number of stage runs that succeeded"),
		retried:   counter("stage_retried_total", "Total number of stage runs scheduled for retry"),
		failed:    counter("stage_failed_total", "Total number of stage runs that failed with no attempts left"),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "redaction",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of successful stage runs",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
	}
	for _, c := range []prometheus.Collector{m.started, m.succeeded, m.retried, m.failed, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Started(stage string) {
	m.started.WithLabelValues(stage).Inc()
}

func (m *Metrics) Succeeded(stage string, elapsed time.Duration) {
	m.succeeded.WithLabelValues(stage).Inc()
	m.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) Retried(stage string) {
	m.retried.WithLabelValues(stage).Inc()
}

func (m *Metrics) Failed(stage string) {
	m.failed.WithLabelValues(stage).Inc()
}
