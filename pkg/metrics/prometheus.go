package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
	fetches      *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	reward       *prometheus.GaugeVec
	fitness      *prometheus.GaugeVec
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the forge collectors with reg, or with the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_cycles_total",
				Help: "Evaluation cycles by outcome",
			},
			[]string{"status"},
		),
		cycleSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forge_cycle_duration_seconds",
				Help:    "Wall time of one evaluation cycle",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_agent_fetch_total",
				Help: "Agent polls by outcome (ok, stale, failed)",
			},
			[]string{"agent", "outcome"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_alerts_total",
				Help: "Detector alerts fired per series",
			},
			[]string{"series"},
		),
		reward: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forge_agent_reward",
				Help: "Current EMA reward per agent",
			},
			[]string{"agent"},
		),
		fitness: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forge_agent_fitness",
				Help: "Fitness score from the latest cycle",
			},
			[]string{"agent"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_messages_sent_total",
				Help: "Records written to a backend",
			},
			[]string{"backend", "kind"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCycle(status string, seconds float64) {
	r.cycles.WithLabelValues(status).Inc()
	r.cycleSeconds.Observe(seconds)
}

func (r *Recorder) RecordFetch(agent, outcome string) {
	r.fetches.WithLabelValues(agent, outcome).Inc()
}

func (r *Recorder) RecordAlert(series string) {
	r.alerts.WithLabelValues(series).Inc()
}

func (r *Recorder) RecordReward(agent string, reward, fitness float64) {
	r.reward.WithLabelValues(agent).Set(reward)
	r.fitness.WithLabelValues(agent).Set(fitness)
}

// ForgetAgent drops the gauges of a removed agent.
func (r *Recorder) ForgetAgent(agent string) {
	r.reward.DeleteLabelValues(agent)
	r.fitness.DeleteLabelValues(agent)
}

// RecordMessageSent counts one record written to a backend.
func (r *Recorder) RecordMessageSent(backend, kind string) {
	r.messagesSent.WithLabelValues(backend, kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything. It satisfies the same interface as Recorder.
type Nop struct{}

func (Nop) RecordCycle(string, float64)           {}
func (Nop) RecordFetch(string, string)            {}
func (Nop) RecordAlert(string)                    {}
func (Nop) RecordReward(string, float64, float64) {}
func (Nop) RecordMessageSent(string, string)      {}
func (Nop) RecordError(string)                    {}
func (Nop) RecordLatency(string, float64)         {}
