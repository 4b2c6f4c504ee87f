package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	domrepo "TPMForge/internal/domain/repository"
	pkgch "TPMForge/pkg/clickhouse"
)

// CHObservationStore reads observation history back for warm starts.
type CHObservationStore struct {
	db    *sqlx.DB
	table string
}

var _ domrepo.ObservationStore = (*CHObservationStore)(nil)

func NewCHObservationStore(ch *pkgch.Client) *CHObservationStore {
	return &CHObservationStore{
		db:    sqlx.NewDb(ch.DB(), "clickhouse"),
		table: pkgch.Qualified(ch.Database(), pkgch.TableObservations),
	}
}

// RecentValues returns up to limit delivered, non-stale values for agent in
// chronological order.
func (s *CHObservationStore) RecentValues(ctx context.Context, agent string, limit int) ([]float64, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
        SELECT value
        FROM %s
        WHERE agent = ? AND error = '' AND stale = 0
        ORDER BY ts DESC
        LIMIT ?
    `, s.table)

	var vals []float64
	if err := s.db.SelectContext(ctx, &vals, q, agent, limit); err != nil {
		return nil, fmt.Errorf("recent values %s: %w", agent, err)
	}
	// reverse to ASC
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
	return vals, nil
}

