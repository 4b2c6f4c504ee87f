package repository

import (
	"context"
	"time"

	"TPMForge/internal/domain/models"
)

// Fetcher reads agents. Failures come back as a failed Observation, never
// as an error. FetchAll keeps the order of specs.
type Fetcher interface {
	Fetch(ctx context.Context, spec models.AgentSpec) models.Observation
	FetchAll(ctx context.Context, specs []models.AgentSpec) []models.Observation
}

// Publisher pushes cycle output to downstream consumers.
type Publisher interface {
	PublishFrame(ctx context.Context, f *models.Frame) error
	PublishAlert(ctx context.Context, a *models.Alert) error
	Close() error
}

// Storage persists observations, frames and alerts.
type Storage interface {
	Init(ctx context.Context) error // ensure tables
	StoreObservations(ctx context.Context, obs []models.Observation) error
	StoreFrame(ctx context.Context, f *models.Frame) error
	StoreAlert(ctx context.Context, a *models.Alert) error
	Health(ctx context.Context) error
	Close() error
}

// ObservationStore reads history back, for warm starts.
type ObservationStore interface {
	RecentValues(ctx context.Context, agent string, limit int) ([]float64, error)
}

// FrameCache keeps the latest frame and guards the cycle against concurrent
// runners.
type FrameCache interface {
	SaveFrame(ctx context.Context, f *models.Frame) error
	LatestFrame(ctx context.Context) (*models.Frame, error)
	TryLockCycle(ctx context.Context, ttl time.Duration) (bool, error)
	UnlockCycle(ctx context.Context) error
}

// Notifier delivers a human readable alert.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

type Metrics interface {
	RecordCycle(status string, seconds float64)
	RecordFetch(agent, outcome string)
	RecordAlert(series string)
	RecordReward(agent string, reward, fitness float64)
	RecordMessageSent(backend, kind string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
