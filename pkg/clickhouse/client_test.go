package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	chdriver "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	opts := ClientConfig{
		Host:         "ch",
		Port:         9000,
		Database:     "forge",
		User:         "u",
		Password:     "p",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	}.options()

	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, chdriver.Native, opts.Protocol)
	assert.Equal(t, "forge", opts.Auth.Database)
	assert.Equal(t, "u", opts.Auth.Username)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 30, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])

	http := ClientConfig{Host: "ch", Port: 8123, UseHTTP: true}.options()
	assert.Equal(t, chdriver.HTTP, http.Protocol)
	assert.Empty(t, http.Settings)
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmts := ForgeSchema("forge")
	require.Len(t, stmts, 5)
	for range stmts {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	c := NewFromDB(db, "forge")
	require.NoError(t, c.InitSchema(context.Background(), stmts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema_ReportsFailingStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("no space"))

	err = NewFromDB(db, "forge").InitSchema(context.Background(), ForgeSchema("forge"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 1")
}

func TestInsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO forge.alerts")
	prep.ExpectExec().WithArgs("a", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := NewFromDB(db, "forge")
	err = c.InsertBatch(context.Background(), "INSERT INTO forge.alerts (series, idx)", [][]any{{"a", 1}, {"b", 2}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_RollsBackOnExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT").ExpectExec().WillReturnError(errors.New("bad row"))
	mock.ExpectRollback()

	err = NewFromDB(db, "forge").InsertBatch(context.Background(), "INSERT INTO t", [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append batch row 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewFromDB(db, "forge").InsertBatch(context.Background(), "INSERT", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQualified(t *testing.T) {
	assert.Equal(t, "forge.frames", Qualified("forge", TableFrames))
}
