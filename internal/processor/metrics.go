package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeRecorded = "recorded"
	outcomeError    = "error"
)

// Metrics counts processor and reconciler activity.
type Metrics struct {
	claimed    *prometheus.CounterVec
	executed   *prometheus.CounterVec
	loopErrors *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the processor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		claimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redaction",
				Subsystem: "processor",
				Name:      "tasks_claimed_total",
				Help:      "Total number of tasks claimed",
			},
			[]string{"processor"},
		),
		executed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redaction",
				Subsystem: "processor",
				Name:      "executions_total",
				Help:      "Total number of executions by whether their outcome was recorded",
			},
			[]string{"processor", "outcome"},
		),
		loopErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redaction",
				Subsystem: "processor",
				Name:      "loop_errors_total",
				Help:      "Total number of failed claim cycles",
			},
			[]string{"processor"},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redaction",
				Subsystem: "processor",
				Name:      "reconciled_total",
				Help:      "Total number of rows repaired by the reconciler",
			},
			[]string{"action"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "redaction",
				Subsystem: "processor",
				Name:      "execution_duration_seconds",
				Help:      "Duration of executions",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"processor"},
		),
	}
	for _, c := range []prometheus.Collector{m.claimed, m.executed, m.loopErrors, m.reconciled, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Claimed(processor string) {
	m.claimed.WithLabelValues(processor).Inc()
}

func (m *Metrics) Executed(processor, outcome string, elapsed time.Duration) {
	m.executed.WithLabelValues(processor, outcome).Inc()
	m.duration.WithLabelValues(processor).Observe(elapsed.Seconds())
}

func (m *Metrics) LoopError(processor string) {
	m.loopErrors.WithLabelValues(processor).Inc()
}

func (m *Metrics) Reconciled(action string, n int) {
	if n > 0 {
		m.reconciled.WithLabelValues(action).Add(float64(n))
	}
}
