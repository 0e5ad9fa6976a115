package periodic

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts task invocations. A nil *Metrics records nothing.
type Metrics struct {
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics registers the task metrics on reg (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtfslive",
			Subsystem: "periodic",
			Name:      "runs_total",
			Help:      "Periodic task invocations by result.",
		}, []string{"task", "result"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gtfslive",
			Subsystem: "periodic",
			Name:      "run_duration_seconds",
			Help:      "Duration of periodic task invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"task"}),
	}
}

func (m *Metrics) observe(task string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Runs.WithLabelValues(task, result).Inc()
	m.RunDuration.WithLabelValues(task).Observe(d.Seconds())
}
