package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Batch inserts retry transient failures a few times before the audit
// buffer takes over with its own requeue.
const (
	insertRetries   = 3
	insertBaseDelay = 50 * time.Millisecond
)

// isTransient reports Postgres errors worth retrying: serialization and
// deadlock conflicts, and connection-level failures.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "08006", "08003":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// withRetry runs fn, retrying transient errors with jittered exponential
// backoff starting at baseDelay.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isTransient(err) || attempt == maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter needs no crypto randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
