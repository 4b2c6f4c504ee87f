package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	drepo "TPMForge/internal/domain/repository"
	"TPMForge/internal/services/validation"
	"TPMForge/pkg/logger"
)

// ErrValidationRunning rejects a run while another one is in progress.
var ErrValidationRunning = errors.New("validation already running")

// ValidationResult is what callers of a run get back.
type ValidationResult struct {
	Report     *validation.Report `json:"report"`
	JSONPath   string             `json:"json_path,omitempty"`
	ReportPath string             `json:"report_path,omitempty"`
}

// ValidationRunner runs the synthetic harness at most once at a time and
// remembers the last result.
type ValidationRunner struct {
	defaults validation.Config
	metrics  drepo.Metrics
	log      *logger.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *ValidationResult
}

func NewValidationRunner(defaults validation.Config, metrics drepo.Metrics, log *logger.Logger) *ValidationRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &ValidationRunner{defaults: defaults, metrics: metrics, log: log}
}

// Defaults is the configuration a run starts from.
func (r *ValidationRunner) Defaults() validation.Config { return r.defaults }

// Run executes one validation. With write set, artifacts go to cfg.OutputDir.
func (r *ValidationRunner) Run(ctx context.Context, cfg validation.Config, write bool) (*ValidationResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrValidationRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	rep, ev, err := validation.Run(ctx, cfg)
	r.metrics.RecordLatency("validation_run", time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordError("validation")
		return nil, err
	}

	res := &ValidationResult{Report: rep}
	if write {
		res.JSONPath, res.ReportPath, err = validation.WriteArtifacts(cfg.OutputDir, rep)
		if err != nil {
			r.metrics.RecordError("validation_write")
			return nil, err
		}
	}

	r.log.Info("validation: finished",
		logger.String("run_id", rep.RunID),
		logger.Int("passed", rep.PassCount),
		logger.Int("tests", len(rep.Tests)),
		logger.Float64("f1", ev.F1),
		logger.Float64("cohens_d", ev.CohensD),
		logger.Float64("sharpe", ev.Sharpe),
	)

	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
	return res, nil
}

// Last returns the most recent successful run, or nil.
func (r *ValidationRunner) Last() *ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
