package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TPMForge/internal/domain/models"
	domrepo "TPMForge/internal/domain/repository"
	pkgch "TPMForge/pkg/clickhouse"
	applogger "TPMForge/pkg/logger"
)

// ClickHouseSink implements Storage on the forge ClickHouse tables.
type ClickHouseSink struct {
	ch *pkgch.Client
	db string
	l  *applogger.Logger
}

var _ domrepo.Storage = (*ClickHouseSink)(nil)

func NewClickHouseSink(ch *pkgch.Client, l *applogger.Logger) *ClickHouseSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseSink{ch: ch, db: ch.Database(), l: l}
}

func (s *ClickHouseSink) table(name string) string { return pkgch.Qualified(s.db, name) }

func (s *ClickHouseSink) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, pkgch.ForgeSchema(s.db))
}

func (s *ClickHouseSink) StoreObservations(ctx context.Context, obs []models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{
			o.At.UTC(),
			o.Agent,
			o.Domain,
			o.Market,
			o.Source,
			o.Value,
			float64(o.Latency) / float64(time.Millisecond),
			o.Freshness.Seconds(),
			boolToUInt8(o.Stale),
			o.Err,
		})
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, agent, domain, market, source, value, latency_ms, freshness_s, stale, error)",
		s.table(pkgch.TableObservations))
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse store_observations error",
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("store observations: %w", err)
	}
	return nil
}

// StoreFrame writes the frame itself plus one agent_fitness row per signal.
func (s *ClickHouseSink) StoreFrame(ctx context.Context, f *models.Frame) error {
	if f == nil {
		return nil
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ts := time.Unix(f.TS, 0).UTC()
	culled := f.CullCandidates
	if culled == nil {
		culled = []string{}
	}

	q := fmt.Sprintf("INSERT INTO %s (ts, cycle_id, signals, culled, error, payload)", s.table(pkgch.TableFrames))
	if err := s.ch.InsertBatch(ctx, q, [][]any{{ts, f.CycleID, uint32(len(f.Signals)), culled, f.Error, string(payload)}}); err != nil {
		s.l.Error("clickhouse store_frame error",
			applogger.String("cycle_id", f.CycleID),
			applogger.Error(err),
		)
		return fmt.Errorf("store frame: %w", err)
	}

	if len(f.Signals) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(f.Signals))
	for _, sig := range f.Signals {
		rows = append(rows, []any{ts, f.CycleID, sig.Agent, sig.Domain, sig.Value, sig.Fitness, sig.Reward, boolToUInt8(sig.Stale)})
	}
	q = fmt.Sprintf("INSERT INTO %s (ts, cycle_id, agent, domain, value, fitness, reward, stale)", s.table(pkgch.TableAgentFitness))
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse store_fitness error",
			applogger.String("cycle_id", f.CycleID),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("store agent fitness: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) StoreAlert(ctx context.Context, a *models.Alert) error {
	if a == nil {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, series, idx, alpha, theta)", s.table(pkgch.TableAlerts))
	if err := s.ch.InsertBatch(ctx, q, [][]any{{a.At.UTC(), a.Series, a.Index, a.Alpha, a.Theta}}); err != nil {
		s.l.Error("clickhouse store_alert error",
			applogger.String("series", a.Series),
			applogger.Error(err),
		)
		return fmt.Errorf("store alert: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *ClickHouseSink) Close() error {
	return nil // pool is owned by pkg/clickhouse
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
