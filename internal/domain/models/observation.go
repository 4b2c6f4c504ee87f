package models

import "time"

// Observation is the outcome of polling one agent: either a value or a failure reason.
// A failed poll is ordinary input to the cycle, not an error.
type Observation struct {
	Agent     string        `json:"agent"`
	Domain    string        `json:"domain"`
	Market    string        `json:"market"`
	Source    string        `json:"source,omitempty"`
	Value     float64       `json:"value"`
	Latency   time.Duration `json:"latency_ns"`
	Freshness time.Duration `json:"freshness_ns"`
	Uptime    float64       `json:"uptime"`
	Stale     bool          `json:"stale,omitempty"`
	Err       string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// Ok reports whether the observation carries a usable value.
func (o Observation) Ok() bool { return o.Err == "" }

// ObservedValue builds a successful observation.
func ObservedValue(spec AgentSpec, source string, value float64, latency time.Duration) Observation {
	return Observation{
		Agent:   spec.Name,
		Domain:  spec.Domain,
		Market:  spec.Market,
		Source:  source,
		Value:   value,
		Latency: latency,
		At:      time.Now().UTC(),
	}
}

// ObservationFailed builds a failed observation carrying the reason.
func ObservationFailed(spec AgentSpec, reason string) Observation {
	if reason == "" {
		reason = "unknown failure"
	}
	return Observation{
		Agent:  spec.Name,
		Domain: spec.Domain,
		Market: spec.Market,
		Err:    reason,
		At:     time.Now().UTC(),
	}
}
