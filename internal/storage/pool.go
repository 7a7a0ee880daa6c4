// Package storage is the PostgreSQL audit store for check executions.
//
// It owns the connection pool, the forward-only migration runner, and
// COPY-based batch ingestion of execution records.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tripwire/internal/telemetry"
)

// Pool sizing. Writes arrive as batches from a single flush loop and reads
// come from the executions endpoint, so a small pool is enough.
const (
	defaultMaxConns        = 4
	defaultHealthCheck     = 30 * time.Second
	defaultApplicationName = "tripwire-audit"
)

// DB is the Postgres audit store.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and verifies the connection. Pool settings given in
// the DSN (pool_max_conns and friends) win over the defaults.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = defaultApplicationName
	}
	if !dsnHas(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	if !dsnHas(dsn, "pool_health_check_period") {
		cfg.HealthCheckPeriod = defaultHealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	logger.Debug("storage: connected", "max_conns", cfg.MaxConns)
	return &DB{pool: pool, logger: logger}, nil
}

// RegisterMetrics exposes pool usage as observable gauges. Call after
// telemetry.Init so the global meter provider is in place.
func (db *DB) RegisterMetrics() {
	meter := telemetry.Meter("tripwire/storage")
	_, _ = meter.Int64ObservableGauge("tripwire.audit.pool.acquired",
		metric.WithDescription("Audit store connections currently in use"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("tripwire.audit.pool.total",
		metric.WithDescription("Audit store connections open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// dsnHas reports whether dsn sets key, in URL or keyword/value form.
func dsnHas(dsn, key string) bool {
	for _, sep := range []string{"?", "&", " "} {
		if strings.Contains(dsn, sep+key+"=") {
			return true
		}
	}
	return strings.HasPrefix(dsn, key+"=")
}
