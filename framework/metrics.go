package framework

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors shared by the controller, tool
// dispatch and model wrappers. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Episodes       *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	ModelCalls     *prometheus.CounterVec
	ModelLatency   *prometheus.HistogramVec
	CurrentEpisode prometheus.Gauge
	Jobs           *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeanalysis",
			Name:      "episodes_total",
			Help:      "Episodes finished, by outcome.",
		}, []string{"outcome"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeanalysis",
			Name:      "tool_invocations_total",
			Help:      "Tool dispatches, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeanalysis",
			Name:      "model_calls_total",
			Help:      "Language model calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ModelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeanalysis",
			Name:      "model_call_seconds",
			Help:      "Language model call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		CurrentEpisode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codeanalysis",
			Name:      "current_episode",
			Help:      "Ordinal of the episode being run.",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeanalysis",
			Name:      "jobs_total",
			Help:      "Submitted or processed jobs, by stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Episodes, m.ToolCalls, m.ModelCalls, m.ModelLatency, m.CurrentEpisode, m.Jobs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveEpisode counts a finished episode.
func (m *Metrics) ObserveEpisode(success bool) {
	if m == nil {
		return
	}
	m.Episodes.WithLabelValues(outcome(success)).Inc()
}

// SetEpisode records the episode currently running.
func (m *Metrics) SetEpisode(index int) {
	if m == nil {
		return
	}
	m.CurrentEpisode.Set(float64(index))
}

// ObserveTool counts a tool dispatch.
func (m *Metrics) ObserveTool(tool string, success bool) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome(success)).Inc()
}

// ObserveModel counts a model call and records its latency.
func (m *Metrics) ObserveModel(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(provider, outcome(err == nil)).Inc()
	m.ModelLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveJob counts a job event, e.g. stage "submit" or "worker".
func (m *Metrics) ObserveJob(stage string, err error) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(stage, outcome(err == nil)).Inc()
}
