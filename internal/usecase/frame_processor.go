package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TPMForge/internal/domain/models"
	drepo "TPMForge/internal/domain/repository"
)

// Backend names, matching backend.type in the configuration.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
)

// FrameProcessor routes cycle output and alerts to the configured backend.
type FrameProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewFrameProcessor creates a new FrameProcessor instance. pub and store may
// be nil when the backend does not use them.
func NewFrameProcessor(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	backend string,
) (*FrameProcessor, error) {
	switch backend {
	case BackendNone:
	case BackendKafka:
		if pub == nil {
			return nil, fmt.Errorf("backend %q needs a publisher", backend)
		}
	case BackendClickHouse:
		if store == nil {
			return nil, fmt.Errorf("backend %q needs storage", backend)
		}
	case BackendBoth:
		if pub == nil || store == nil {
			return nil, fmt.Errorf("backend %q needs a publisher and storage", backend)
		}
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	return &FrameProcessor{pub: pub, store: store, metrics: metrics, backend: backend}, nil
}

// Backend reports the configured backend.
func (p *FrameProcessor) Backend() string { return p.backend }

func (p *FrameProcessor) publishes() bool {
	return p.backend == BackendKafka || p.backend == BackendBoth
}

func (p *FrameProcessor) stores() bool {
	return p.backend == BackendClickHouse || p.backend == BackendBoth
}

// ProcessFrame persists the cycle's observations and frame and publishes the
// frame. Every sink is attempted; failures are joined.
func (p *FrameProcessor) ProcessFrame(ctx context.Context, f *models.Frame, obs []models.Observation) error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}

	start := time.Now()
	var errs []error

	if p.stores() {
		if err := p.store.StoreObservations(ctx, obs); err != nil {
			errs = append(errs, err)
		}
		if err := p.store.StoreFrame(ctx, f); err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordMessageSent(BackendClickHouse, "frame")
		}
	}
	if p.publishes() {
		if err := p.pub.PublishFrame(ctx, f); err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordMessageSent(BackendKafka, "frame")
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.metrics.RecordError("process_frame")
		return fmt.Errorf("process frame: %w", err)
	}
	p.metrics.RecordLatency("process_frame", time.Since(start).Seconds())
	return nil
}

// ProcessAlert persists and publishes one detector alert.
func (p *FrameProcessor) ProcessAlert(ctx context.Context, a *models.Alert) error {
	if a == nil {
		return fmt.Errorf("alert is nil")
	}

	start := time.Now()
	var errs []error

	if p.stores() {
		if err := p.store.StoreAlert(ctx, a); err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordMessageSent(BackendClickHouse, "alert")
		}
	}
	if p.publishes() {
		if err := p.pub.PublishAlert(ctx, a); err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordMessageSent(BackendKafka, "alert")
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.metrics.RecordError("process_alert")
		return fmt.Errorf("process alert: %w", err)
	}
	p.metrics.RecordLatency("process_alert", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *FrameProcessor) Close() error {
	var errs []error
	if p.pub != nil {
		errs = append(errs, p.pub.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}
