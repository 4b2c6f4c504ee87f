package fitness

import (
	"sort"
	"sync"

	"TPMForge/internal/services/entropy"
)

const (
	DefaultLearningRate = 0.08
	DefaultCullBelow    = 0.35
	InitialReward       = 0.5

	// edges above this score count towards an agent's redundancy
	RedundancyThreshold = 0.8
)

// Inputs are the per-agent quality measurements fed to the fitness function.
type Inputs struct {
	SuccessRate       float64
	LatencyMS         float64
	FreshnessS        float64
	Uptime            float64
	PredictivePower   float64
	RedundancyPenalty float64
}

// Score is the fixed weighted combination of the inputs.
func Score(in Inputs) float64 {
	latency := max(0, 1-in.LatencyMS/5000)
	freshness := max(0, 1-in.FreshnessS/120)
	return 0.23*in.SuccessRate +
		0.15*latency +
		0.12*freshness +
		0.10*in.Uptime +
		0.35*in.PredictivePower -
		0.05*in.RedundancyPenalty
}

// PredictivePower is the mean edge weight of the whole graph. Every agent in a
// cycle receives the same value.
func PredictivePower(g *entropy.Graph) float64 {
	return g.Mean()
}

// Redundancy counts edges with name as an endpoint whose score exceeds threshold.
func Redundancy(g *entropy.Graph, name string, threshold float64) int {
	if g == nil {
		return 0
	}
	n := 0
	for _, e := range g.Edges {
		if (e.Src == name || e.Dst == name) && e.Score > threshold {
			n++
		}
	}
	return n
}

// Optimizer keeps a smoothed reward per agent.
type Optimizer struct {
	mu      sync.RWMutex
	lr      float64
	rewards map[string]float64
}

// NewOptimizer creates an optimizer; lr outside (0,1] falls back to the default.
func NewOptimizer(lr float64) *Optimizer {
	if lr <= 0 || lr > 1 {
		lr = DefaultLearningRate
	}
	return &Optimizer{lr: lr, rewards: make(map[string]float64)}
}

// UpdateReward moves the agent's reward towards fitness by lr and returns the new value.
// Unknown agents start at InitialReward.
func (o *Optimizer) UpdateReward(name string, fitness float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.rewards[name]
	if !ok {
		prev = InitialReward
	}
	next := prev + o.lr*(fitness-prev)
	o.rewards[name] = next
	return next
}

// Reward returns the agent's current reward.
func (o *Optimizer) Reward(name string) (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.rewards[name]
	return r, ok
}

// Rewards returns a copy of every tracked reward.
func (o *Optimizer) Rewards() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]float64, len(o.rewards))
	for k, v := range o.rewards {
		out[k] = v
	}
	return out
}

// Forget stops tracking an agent.
func (o *Optimizer) Forget(name string) {
	o.mu.Lock()
	delete(o.rewards, name)
	o.mu.Unlock()
}

// CullCandidates lists, sorted by name, every agent whose reward is below minReward.
// It is a recommendation only.
func (o *Optimizer) CullCandidates(minReward float64) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0)
	for name, r := range o.rewards {
		if r < minReward {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
