package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tripwire/internal/model"
)

// Default and maximum page sizes for RecentExecutions.
const (
	DefaultExecutionLimit = 50
	MaxExecutionLimit     = 1000
)

var executionColumns = []string{
	"id", "check_id", "agent_id", "direction", "execution_time_ms", "success",
	"triggered", "cache_hit", "error", "content_preview", "created_at",
}

// InsertExecutions writes recs with COPY and returns the row count. It
// implements audit.Store.
func (db *DB) InsertExecutions(ctx context.Context, recs []model.CheckExecution) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(recs))
	now := time.Now().UTC()
	for i, r := range recs {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = now
		}
		rows[i] = []any{id, r.CheckID, r.AgentID, r.Direction, r.ExecutionTimeMs, r.Success,
			r.Triggered, r.CacheHit, r.Error, r.ContentPreview, ts}
	}

	var n int64
	err := withRetry(ctx, insertRetries, insertBaseDelay, func() error {
		var err error
		n, err = db.pool.CopyFrom(ctx, pgx.Identifier{"check_executions"}, executionColumns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: copy check executions: %w", err)
	}
	return n, nil
}

// RecentExecutions lists persisted executions newest first.
func (db *DB) RecentExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.CheckExecution, error) {
	var (
		where []string
		args  []any
	)
	if f.CheckID != "" {
		args = append(args, f.CheckID)
		where = append(where, fmt.Sprintf("check_id = $%d", len(args)))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	args = append(args, ClampLimit(f.Limit))

	q := "SELECT " + strings.Join(executionColumns, ", ") + " FROM check_executions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query check executions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CheckExecution, error) {
		var e model.CheckExecution
		err := row.Scan(&e.ID, &e.CheckID, &e.AgentID, &e.Direction, &e.ExecutionTimeMs, &e.Success,
			&e.Triggered, &e.CacheHit, &e.Error, &e.ContentPreview, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan check executions: %w", err)
	}
	return out, nil
}

// GetExecution returns one record or ErrNotFound.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.CheckExecution, error) {
	rows, err := db.pool.Query(ctx,
		"SELECT "+strings.Join(executionColumns, ", ")+" FROM check_executions WHERE id = $1", id)
	if err != nil {
		return model.CheckExecution{}, fmt.Errorf("storage: get check execution: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (model.CheckExecution, error) {
		var e model.CheckExecution
		err := row.Scan(&e.ID, &e.CheckID, &e.AgentID, &e.Direction, &e.ExecutionTimeMs, &e.Success,
			&e.Triggered, &e.CacheHit, &e.Error, &e.ContentPreview, &e.Timestamp)
		return e, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CheckExecution{}, ErrNotFound
	}
	if err != nil {
		return model.CheckExecution{}, fmt.Errorf("storage: get check execution: %w", err)
	}
	return e, nil
}

// PurgeExecutionsBefore deletes records older than cutoff and returns how
// many were removed.
func (db *DB) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM check_executions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: purge check executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultExecutionLimit
	case limit > MaxExecutionLimit:
		return MaxExecutionLimit
	default:
		return limit
	}
}
