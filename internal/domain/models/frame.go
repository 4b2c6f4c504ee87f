package models

// AgentScore is one agent's row in a frame.
type AgentScore struct {
	Agent   string  `json:"agent"`
	Domain  string  `json:"domain"`
	Market  string  `json:"market"`
	Value   float64 `json:"value"`
	Fitness float64 `json:"fitness"`
	Reward  float64 `json:"reward"`
	Stale   bool    `json:"stale,omitempty"`
}

// DomainSummary aggregates agent rows per domain.
type DomainSummary struct {
	Count      int      `json:"count"`
	AvgFitness float64  `json:"avg_fitness"`
	Markets    []string `json:"markets"`
	Template   string   `json:"template"`
}

// Frame is the serializable result of one evaluation cycle.
type Frame struct {
	TS             int64                    `json:"ts"`
	CycleID        string                   `json:"cycle_id"`
	Signals        []AgentScore             `json:"signals"`
	DomainSummary  map[string]DomainSummary `json:"domain_summary"`
	Graph          map[string]float64       `json:"transfer_entropy_graph"`
	CullCandidates []string                 `json:"cull_candidates"`
	AgentCount     int                      `json:"agent_count"`
	Failures       map[string]int           `json:"failures,omitempty"`
	Error          string                   `json:"error,omitempty"`
}
