package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgch "TPMForge/pkg/clickhouse"
)

func TestCHObservationStore_RecentValuesChronological(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"value"}).AddRow(3.0).AddRow(2.0).AddRow(1.0)
	mock.ExpectQuery(`SELECT value\s+FROM forge\.observations`).
		WithArgs("btc", 3).
		WillReturnRows(rows)

	store := NewCHObservationStore(pkgch.NewFromDB(db, "forge"))
	vals, err := store.RecentValues(context.Background(), "btc", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHObservationStore_RecentValuesZeroLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	vals, err := NewCHObservationStore(pkgch.NewFromDB(db, "forge")).RecentValues(context.Background(), "btc", 0)
	require.NoError(t, err)
	assert.Empty(t, vals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHObservationStore_RecentValuesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT value").WillReturnError(errors.New("connection reset"))

	_, err = NewCHObservationStore(pkgch.NewFromDB(db, "forge")).RecentValues(context.Background(), "btc", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recent values btc")
}
