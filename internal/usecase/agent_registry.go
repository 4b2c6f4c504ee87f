package usecase

import (
	"errors"
	"fmt"
	"sync"

	"TPMForge/internal/domain/models"
)

var (
	ErrAgentExists       = errors.New("agent already exists")
	ErrUnknownSourceKind = errors.New("unknown source kind")
)

// KindChecker reports whether a payload kind can be parsed.
type KindChecker interface {
	Has(kind string) bool
}

// AgentRegistry holds the configured agents plus those added at runtime.
// Names are unique.
type AgentRegistry struct {
	mu    sync.RWMutex
	kinds KindChecker
	specs []models.AgentSpec
	index map[string]int
}

// NewAgentRegistry seeds the registry; it fails on the first invalid spec.
func NewAgentRegistry(kinds KindChecker, initial []models.AgentSpec) (*AgentRegistry, error) {
	r := &AgentRegistry{kinds: kinds, index: make(map[string]int, len(initial))}
	for _, spec := range initial {
		if err := r.Add(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends spec. Duplicate names return ErrAgentExists and sources of an
// unregistered kind return ErrUnknownSourceKind.
func (r *AgentRegistry) Add(spec models.AgentSpec) error {
	for _, src := range spec.Sources {
		if r.kinds != nil && !r.kinds.Has(src.Kind) {
			return fmt.Errorf("agent %q: %w: %s", spec.Name, ErrUnknownSourceKind, src.Kind)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAgentExists, spec.Name)
	}
	spec.Sources = append([]models.SourceSpec(nil), spec.Sources...)
	r.index[spec.Name] = len(r.specs)
	r.specs = append(r.specs, spec)
	return nil
}

// Get returns the named agent.
func (r *AgentRegistry) Get(name string) (models.AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return models.AgentSpec{}, false
	}
	return r.specs[i], true
}

// List returns a copy of every agent in registration order.
func (r *AgentRegistry) List() []models.AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AgentSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
