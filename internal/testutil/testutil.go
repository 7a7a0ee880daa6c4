// Package testutil provides shared test infrastructure: loggers, audit
// record fixtures, and a Postgres instance for audit-store integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testutil.SkipContainers() {
//	        os.Exit(m.Run())
//	    }
//	    pg := testutil.MustStartPostgres()
//	    testDB, _ = pg.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    pg.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage"
	"github.com/ashita-ai/tripwire/migrations"
)

// Environment switches for integration tests.
const (
	// EnvPostgresDSN points the tests at an existing database instead of a container.
	EnvPostgresDSN = "TRIPWIRE_TEST_POSTGRES_DSN"
	// EnvSkipContainers disables container-backed tests.
	EnvSkipContainers = "TRIPWIRE_SKIP_CONTAINERS"
)

// SkipContainers reports whether container-backed tests should be skipped:
// under -short, or when EnvSkipContainers is set and no external DSN is given.
// Call after flag.Parse.
func SkipContainers() bool {
	if os.Getenv(EnvPostgresDSN) != "" {
		return false
	}
	return testing.Short() || os.Getenv(EnvSkipContainers) != ""
}

// Postgres is a database the audit store can be tested against. Container is
// nil when the DSN came from EnvPostgresDSN.
type Postgres struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres is StartPostgres for TestMain: it exits on failure.
func MustStartPostgres() *Postgres {
	pg, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: %v\n", err)
		os.Exit(1)
	}
	return pg
}

// StartPostgres returns the database named by EnvPostgresDSN, or starts a
// throwaway postgres container.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		return &Postgres{DSN: dsn}, nil
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "tripwire",
				"POSTGRES_PASSWORD": "tripwire",
				"POSTGRES_DB":       "tripwire_audit",
			},
			// Postgres logs readiness twice: once for the init pass, once for real.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("postgres container endpoint: %w", err)
	}
	dsn := fmt.Sprintf("postgres://tripwire:tripwire@%s/tripwire_audit?sslmode=disable", endpoint)
	return &Postgres{Container: container, DSN: dsn}, nil
}

// NewTestDB connects the audit store and applies all migrations.
func (pg *Postgres) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, pg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: connect audit store: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate removes the container, if one was started.
func (pg *Postgres) Terminate() {
	if pg.Container != nil {
		_ = pg.Container.Terminate(context.Background())
	}
}

// TestLogger returns a logger for test output (warnings and above).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// LogBuffer collects JSON log lines written by a CaptureLogger.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogger returns a debug-level JSON logger writing into a buffer, for
// tests that assert on log output from concurrent code.
func CaptureLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// ExecutionFixtures returns three audit records for agent, one second apart
// starting at base: a triggered PII hit, a fail-closed safety error, and a
// cached tone pass on output.
func ExecutionFixtures(agent string, base time.Time) []model.CheckExecution {
	return []model.CheckExecution{
		{
			ID: uuid.New(), CheckID: "pii_detection", AgentID: agent, Direction: "input",
			Success: true, Triggered: true, ContentPreview: "call [PHONE]", ExecutionTimeMs: 1,
			Timestamp: base,
		},
		{
			ID: uuid.New(), CheckID: "content_safety", AgentID: agent, Direction: "input",
			Success: false, Triggered: true, Error: "classifier timeout", ExecutionTimeMs: 15000,
			Timestamp: base.Add(time.Second),
		},
		{
			ID: uuid.New(), CheckID: "professional_tone", AgentID: agent, Direction: "output",
			Success: true, CacheHit: true, ExecutionTimeMs: 12,
			Timestamp: base.Add(2 * time.Second),
		},
	}
}
