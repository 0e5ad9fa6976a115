package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-agent Prometheus series. A nil *Metrics records nothing.
type Metrics struct {
	Fetches            *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	Backoff            *prometheus.GaugeVec
	NextWait           *prometheus.GaugeVec
	LastSuccess        *prometheus.GaugeVec
	State              *prometheus.GaugeVec
}

// NewMetrics registers the agent metrics on reg (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "fetches_total",
			Help:      "Fetch cycles by agent and result.",
		}, []string{"agent", "result"}),
		SubscriberFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "subscriber_failures_total",
			Help:      "Callbacks that returned an error or panicked.",
		}, []string{"agent"}),
		Backoff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "backoff_seconds",
			Help:      "Current wait before retrying a failed fetch.",
		}, []string{"agent"}),
		NextWait: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "next_wait_seconds",
			Help:      "Wait until the next scheduled fetch.",
		}, []string{"agent"}),
		LastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch cycle.",
		}, []string{"agent"}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gtfslive",
			Subsystem: "fetch",
			Name:      "state",
			Help:      "Agent state (0 idle, 1 fetching, 2 backing off, 3 waiting for schedule).",
		}, []string{"agent"}),
	}
}

func (m *Metrics) fetched(agent, result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(agent, result).Inc()
}

func (m *Metrics) succeeded(agent string, at time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.WithLabelValues(agent).Set(float64(at.UnixNano()) / 1e9)
	m.Backoff.WithLabelValues(agent).Set(0)
}

func (m *Metrics) subscriberFailed(agent string) {
	if m == nil {
		return
	}
	m.SubscriberFailures.WithLabelValues(agent).Inc()
}

func (m *Metrics) backingOff(agent string, d time.Duration) {
	if m == nil {
		return
	}
	m.Backoff.WithLabelValues(agent).Set(d.Seconds())
}

func (m *Metrics) waiting(agent string, d time.Duration) {
	if m == nil {
		return
	}
	m.NextWait.WithLabelValues(agent).Set(d.Seconds())
}

func (m *Metrics) state(agent string, s State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(agent).Set(float64(s))
}
