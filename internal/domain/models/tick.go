package models

import (
	"strings"
	"time"
)

// AgentSeriesPrefix marks detector series fed by the forge cycle. External
// tick streams may not use it, so agent readings and ingested ticks never
// share a detector.
const AgentSeriesPrefix = "agent:"

// AgentSeries is the detector series name for an agent's readings.
func AgentSeries(agent string) string { return AgentSeriesPrefix + agent }

func IsAgentSeries(series string) bool { return strings.HasPrefix(series, AgentSeriesPrefix) }

// Tick is one observed value of a named series.
type Tick struct {
	Series string    `json:"series"`
	Index  int64     `json:"index"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// Alert is a single firing of a live detector.
type Alert struct {
	Series string    `json:"series"`
	Index  int64     `json:"index"`
	Alpha  float64   `json:"alpha"`
	Theta  float64   `json:"theta"`
	At     time.Time `json:"at"`
}
