// Package sqlite is the single-node audit store for check executions,
// backed by a local SQLite file through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS check_executions (
    id                TEXT PRIMARY KEY,
    check_id          TEXT    NOT NULL,
    agent_id          TEXT    NOT NULL DEFAULT '',
    direction         TEXT    NOT NULL,
    execution_time_ms INTEGER NOT NULL DEFAULT 0,
    success           INTEGER NOT NULL,
    triggered         INTEGER NOT NULL,
    cache_hit         INTEGER NOT NULL DEFAULT 0,
    error             TEXT    NOT NULL DEFAULT '',
    content_preview   TEXT    NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_executions_created ON check_executions (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_executions_check ON check_executions (check_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_executions_agent ON check_executions (agent_id, created_at DESC);
`

const columns = "id, check_id, agent_id, direction, execution_time_ms, success, triggered, cache_hit, error, content_preview, created_at"

// Store is a SQLite-backed audit store.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path with WAL journaling
// and a busy timeout, and ensures the schema exists. ":memory:" is accepted
// for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY under concurrent flushes, and keeps a
	// ":memory:" database on a single connection.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.conn.Close() }

// InsertExecutions writes recs in one transaction. It implements audit.Store.
func (s *Store) InsertExecutions(ctx context.Context, recs []model.CheckExecution) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO check_executions ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, r := range recs {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := stmt.ExecContext(ctx, id.String(), r.CheckID, r.AgentID, r.Direction, r.ExecutionTimeMs,
			r.Success, r.Triggered, r.CacheHit, r.Error, r.ContentPreview, ts.UnixMicro()); err != nil {
			return 0, fmt.Errorf("sqlite: insert execution: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return int64(len(recs)), nil
}

// RecentExecutions lists persisted executions newest first.
func (s *Store) RecentExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.CheckExecution, error) {
	var (
		where []string
		args  []any
	)
	if f.CheckID != "" {
		where = append(where, "check_id = ?")
		args = append(args, f.CheckID)
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().UnixMicro())
	}
	q := "SELECT " + columns + " FROM check_executions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, storage.ClampLimit(f.Limit))

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.CheckExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate executions: %w", err)
	}
	return out, nil
}

// GetExecution returns one record or storage.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (model.CheckExecution, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+columns+" FROM check_executions WHERE id = ?", id.String())
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckExecution{}, storage.ErrNotFound
	}
	return e, err
}

// PurgeExecutionsBefore deletes records older than cutoff.
func (s *Store) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM check_executions WHERE created_at < ?", cutoff.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge executions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (model.CheckExecution, error) {
	var (
		e     model.CheckExecution
		id    string
		micro int64
	)
	if err := row.Scan(&id, &e.CheckID, &e.AgentID, &e.Direction, &e.ExecutionTimeMs, &e.Success,
		&e.Triggered, &e.CacheHit, &e.Error, &e.ContentPreview, &micro); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("sqlite: scan execution: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return e, fmt.Errorf("sqlite: parse execution id: %w", err)
	}
	e.ID = parsed
	e.Timestamp = time.UnixMicro(micro).UTC()
	return e, nil
}
