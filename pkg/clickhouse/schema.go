package clickhouse

import "fmt"

// EventLogSchema returns DDL for the append-only event log table. ts and
// seq are unix nanoseconds; seq carries append order.
func EventLogSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			seq Int64,
			id String,
			type LowCardinality(String),
			key String,
			ts Int64,
			payload String
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(fromUnixTimestamp64Nano(ts))
		ORDER BY (seq, id)`, database, table),
	}
}
