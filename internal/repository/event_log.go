package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
	pkgch "SignalCore/pkg/clickhouse"
	applogger "SignalCore/pkg/logger"
	pkgsqlite "SignalCore/pkg/sqlite"
)

type dialect string

const (
	dialectClickHouse dialect = "clickhouse"
	dialectSQLite     dialect = "sqlite"
)

// SQLEventLog stores envelopes in a single append-only table. seq is a
// strictly increasing nanosecond counter that carries append order across
// restarts; ts is the event time in unix nanoseconds.
type SQLEventLog struct {
	db      *sql.DB
	table   string
	dialect dialect
	schema  []string
	seq     atomic.Int64
	l       *applogger.Logger
}

var _ domrepo.EventLog = (*SQLEventLog)(nil)

// NewClickHouseEventLog keeps the log in database.table on ClickHouse.
// Duplicate ids are tolerated there: every projection fold is idempotent.
func NewClickHouseEventLog(ch *pkgch.Client, table string) *SQLEventLog {
	return &SQLEventLog{
		db:      ch.DB(),
		table:   ch.Database() + "." + table,
		dialect: dialectClickHouse,
		schema:  pkgch.EventLogSchema(ch.Database(), table),
		l:       applogger.NewNop(),
	}
}

// NewSQLiteEventLog keeps the log in a local SQLite file. The id column is
// the primary key so re-appending an envelope is a no-op.
func NewSQLiteEventLog(c *pkgsqlite.Client, table string) *SQLEventLog {
	return &SQLEventLog{
		db:      c.DB(),
		table:   table,
		dialect: dialectSQLite,
		schema:  pkgsqlite.EventLogSchema(table),
		l:       applogger.NewNop(),
	}
}

// SetLogger injects a structured logger.
func (s *SQLEventLog) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// Init creates the table and seeds the sequence past the highest stored seq.
func (s *SQLEventLog) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("event log schema: %w", err)
		}
	}
	var last sql.NullInt64
	q := fmt.Sprintf("SELECT max(seq) FROM %s", s.table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&last); err != nil {
		return fmt.Errorf("event log max seq: %w", err)
	}
	if last.Valid {
		s.seq.Store(last.Int64)
	}
	s.l.Info("Event log ready",
		applogger.String("backend", string(s.dialect)),
		applogger.String("table", s.table),
		applogger.Int64("seq", s.seq.Load()))
	return nil
}

func (s *SQLEventLog) nextSeq() int64 {
	for {
		cur := s.seq.Load()
		next := time.Now().UnixNano()
		if next <= cur {
			next = cur + 1
		}
		if s.seq.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (s *SQLEventLog) insertStmt() string {
	verb := "INSERT INTO"
	if s.dialect == dialectSQLite {
		verb = "INSERT OR IGNORE INTO"
	}
	return fmt.Sprintf("%s %s (seq, id, type, key, ts, payload) VALUES (?, ?, ?, ?, ?, ?)", verb, s.table)
}

// Append writes env inside a transaction; the ClickHouse driver only accepts
// inserts in batch mode.
func (s *SQLEventLog) Append(ctx context.Context, env models.Envelope) error {
	if env.ID == "" || env.Type == "" {
		return fmt.Errorf("%w: envelope without id or type", models.ErrMalformed)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insertStmt())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append prepare: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, s.nextSeq(), env.ID, env.Type, env.Key, env.Timestamp.UnixNano(), string(env.Payload)); err != nil {
		_ = tx.Rollback()
		s.l.Error("event log append failed",
			applogger.String("id", env.ID),
			applogger.String("type", env.Type),
			applogger.Error(err))
		return fmt.Errorf("append exec: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append commit: %w", err)
	}
	return nil
}

// Replay streams every event with ts >= since in append order.
func (s *SQLEventLog) Replay(ctx context.Context, since time.Time, fn func(models.Envelope) error) error {
	q := fmt.Sprintf("SELECT id, type, key, ts, payload FROM %s WHERE ts >= ? ORDER BY seq ASC, id ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, since.UnixNano())
	if err != nil {
		return fmt.Errorf("replay query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			env     models.Envelope
			ts      int64
			payload string
		)
		if err := rows.Scan(&env.ID, &env.Type, &env.Key, &ts, &payload); err != nil {
			return fmt.Errorf("replay scan: %w", err)
		}
		env.Timestamp = time.Unix(0, ts).UTC()
		env.Payload = json.RawMessage(payload)
		if err := fn(env); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay rows: %w", err)
	}
	return nil
}

// Close leaves the connection pool to its owning client.
func (s *SQLEventLog) Close() error { return nil }
