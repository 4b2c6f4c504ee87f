package alpha

import (
	"fmt"
	"math"

	"TPMForge/internal/services/features"
	"TPMForge/internal/services/rolling"
)

// State is the detector's gate state.
type State int

const (
	Warming State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "warming"
}

// Config holds the detector tunables.
type Config struct {
	WindowSize    int     `yaml:"window_size" json:"window_size" default:"30" validate:"gte=2"`
	Percentile    float64 `yaml:"percentile" json:"percentile" default:"95" validate:"gte=0,lte=100"`
	SafetyFloor   float64 `yaml:"safety_floor" json:"safety_floor" default:"0.40" validate:"gte=0,lte=1"`
	MinAlphaDelta float64 `yaml:"min_alpha_delta" json:"min_alpha_delta" default:"0.005" validate:"gte=0"`
	CooldownTicks int     `yaml:"cooldown_ticks" json:"cooldown_ticks" default:"8" validate:"gte=0"`
	Warmup        int     `yaml:"history_warmup" json:"history_warmup" default:"50" validate:"gte=0"`
	HistorySize   int     `yaml:"history_size" json:"history_size" default:"1000" validate:"gte=1"`
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		WindowSize:    30,
		Percentile:    95,
		SafetyFloor:   0.40,
		MinAlphaDelta: 0.005,
		CooldownTicks: 8,
		Warmup:        50,
		HistorySize:   1000,
	}
}

// Validate rejects settings a detector cannot run with.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 2:
		return fmt.Errorf("window_size must be >= 2, got %d", c.WindowSize)
	case c.Percentile < 0 || c.Percentile > 100:
		return fmt.Errorf("percentile must be within [0,100], got %v", c.Percentile)
	case c.CooldownTicks < 0:
		return fmt.Errorf("cooldown_ticks must be >= 0, got %d", c.CooldownTicks)
	case c.Warmup < 0:
		return fmt.Errorf("history_warmup must be >= 0, got %d", c.Warmup)
	case c.HistorySize < 1:
		return fmt.Errorf("history_size must be >= 1, got %d", c.HistorySize)
	case c.MinAlphaDelta < 0:
		return fmt.Errorf("min_alpha_delta must be >= 0, got %v", c.MinAlphaDelta)
	}
	return nil
}

// Decision is the outcome of one observed score.
type Decision struct {
	Alpha float64
	Theta float64
	Fired bool
}

// Snapshot is a read-only view of detector state.
type Snapshot struct {
	State             string  `json:"state"`
	Ticks             int64   `json:"ticks"`
	LastAlpha         float64 `json:"last_alpha"`
	CooldownRemaining int     `json:"cooldown_remaining"`
	HistoryLen        int     `json:"history_len"`
	Fires             int64   `json:"fires"`
}

// Detector turns a price or score stream into discrete alerts using a dynamic
// percentile threshold, a static floor, a momentum gate and a cooldown.
// A Detector is owned by a single series and is not safe for concurrent use.
type Detector struct {
	cfg     Config
	scorer  Scorer
	returns *rolling.Window
	history *rolling.SortedWindow

	prevPrice float64
	havePrice bool
	lastAlpha float64
	cooldown  int
	ticks     int64
	fires     int64
}

// NewDetector creates a detector. cfg must already be valid.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:     cfg,
		scorer:  NewScorer(),
		returns: rolling.NewWindow(cfg.WindowSize),
		history: rolling.NewSortedWindow(cfg.HistorySize),
	}
}

// State reports Armed once the history holds more than the warm-up count.
func (d *Detector) State() State {
	if d.history.Len() > d.cfg.Warmup {
		return Armed
	}
	return Warming
}

// ProcessPrice ingests the next price. It returns (0, false) until the return
// window is full, then scores the window and runs the gate.
func (d *Detector) ProcessPrice(price float64) Decision {
	d.ticks++
	if d.havePrice {
		d.returns.Push(features.FractionalReturn(d.prevPrice, price))
	}
	d.prevPrice, d.havePrice = price, true

	if !d.returns.Full() {
		return Decision{}
	}
	return d.Observe(d.scorer.Score(d.returns.Values()))
}

// Observe runs the firing gate for one score. A non-finite score is
// treated as 0.
func (d *Detector) Observe(score float64) Decision {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	d.history.Push(score)
	if d.cooldown > 0 {
		d.cooldown--
	}

	dec := Decision{Alpha: score}
	if d.history.Len() > d.cfg.Warmup {
		dec.Theta = d.history.Percentile(d.cfg.Percentile)
		if score > dec.Theta &&
			score > d.cfg.SafetyFloor &&
			score-d.lastAlpha >= d.cfg.MinAlphaDelta &&
			d.cooldown == 0 {
			dec.Fired = true
			d.cooldown = d.cfg.CooldownTicks
			d.fires++
		}
	}
	d.lastAlpha = score
	return dec
}

// Snapshot returns a copy of the current state.
func (d *Detector) Snapshot() Snapshot {
	return Snapshot{
		State:             d.State().String(),
		Ticks:             d.ticks,
		LastAlpha:         d.lastAlpha,
		CooldownRemaining: d.cooldown,
		HistoryLen:        d.history.Len(),
		Fires:             d.fires,
	}
}
