package storage_test

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage"
	"github.com/ashita-ai/tripwire/internal/testutil"
	"github.com/ashita-ai/tripwire/migrations"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testutil.SkipContainers() {
		os.Exit(m.Run())
	}
	pg := testutil.MustStartPostgres()
	db, err := pg.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		pg.Terminate()
		panic(err)
	}
	testDB = db
	code := m.Run()
	_ = db.Close()
	pg.Terminate()
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres container not started")
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, storage.DefaultExecutionLimit, storage.ClampLimit(0))
	assert.Equal(t, storage.DefaultExecutionLimit, storage.ClampLimit(-3))
	assert.Equal(t, 7, storage.ClampLimit(7))
	assert.Equal(t, storage.MaxExecutionLimit, storage.ClampLimit(5000))
}

func TestMigrationFiles(t *testing.T) {
	names, err := storage.MigrationFiles(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_check_executions.sql", names[0])
}

func TestInsertAndListExecutions(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	agent := "agent-" + uuid.NewString()[:8]
	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	recs := testutil.ExecutionFixtures(agent, base)
	n, err := testDB.InsertExecutions(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := testDB.RecentExecutions(ctx, model.ExecutionFilter{AgentID: agent})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "professional_tone", got[0].CheckID, "newest first")
	assert.True(t, got[0].CacheHit)

	got, err = testDB.RecentExecutions(ctx, model.ExecutionFilter{AgentID: agent, CheckID: "content_safety"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "classifier timeout", got[0].Error)
	assert.False(t, got[0].Success)

	since := base.Add(1500 * time.Millisecond)
	got, err = testDB.RecentExecutions(ctx, model.ExecutionFilter{AgentID: agent, Since: &since, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	one, err := testDB.GetExecution(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "call [PHONE]", one.ContentPreview)
}

func TestGetExecution_NotFound(t *testing.T) {
	requireDB(t)
	_, err := testDB.GetExecution(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPurgeExecutionsBefore(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	agent := "purge-" + uuid.NewString()[:8]
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err := testDB.InsertExecutions(ctx, []model.CheckExecution{
		{CheckID: "pii_detection", AgentID: agent, Direction: "input", Success: true, Timestamp: old},
		{CheckID: "pii_detection", AgentID: agent, Direction: "input", Success: true},
	})
	require.NoError(t, err)

	removed, err := testDB.PurgeExecutionsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	got, err := testDB.RecentExecutions(ctx, model.ExecutionFilter{AgentID: agent})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	requireDB(t)
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}
