package clickhouse

import "fmt"

// Table names inside the forge database.
const (
	TableObservations = "observations"
	TableFrames       = "frames"
	TableAgentFitness = "agent_fitness"
	TableAlerts       = "alerts"
)

// ForgeSchema returns the idempotent DDL for every forge table in database.
func ForgeSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts          DateTime64(3, 'UTC'),
    agent       LowCardinality(String),
    domain      LowCardinality(String),
    market      String,
    source      LowCardinality(String),
    value       Float64,
    latency_ms  Float64,
    freshness_s Float64,
    stale       UInt8,
    error       String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (agent, ts)
TTL toDateTime(ts) + INTERVAL 90 DAY`, database, TableObservations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts        DateTime64(3, 'UTC'),
    cycle_id  UUID,
    signals   UInt32,
    culled    Array(String),
    error     String,
    payload   String CODEC(ZSTD(3))
) ENGINE = MergeTree
ORDER BY (ts, cycle_id)`, database, TableFrames),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts       DateTime64(3, 'UTC'),
    cycle_id UUID,
    agent    LowCardinality(String),
    domain   LowCardinality(String),
    value    Float64,
    fitness  Float64,
    reward   Float64,
    stale    UInt8
) ENGINE = ReplacingMergeTree
ORDER BY (agent, ts, cycle_id)`, database, TableAgentFitness),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts     DateTime64(3, 'UTC'),
    series LowCardinality(String),
    idx    Int64,
    alpha  Float64,
    theta  Float64
) ENGINE = MergeTree
ORDER BY (series, ts)`, database, TableAlerts),
	}
}

// Qualified returns "database.table".
func Qualified(database, table string) string {
	return database + "." + table
}
