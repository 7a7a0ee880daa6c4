package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage"
	"github.com/ashita-ai/tripwire/internal/testutil"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InsertAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := testutil.ExecutionFixtures("support", base)
	recs[2].AgentID = "sales"
	n, err := s.InsertExecutions(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := s.RecentExecutions(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, recs[2].ID, all[0].ID)
	assert.Equal(t, base.Add(2*time.Second), all[0].Timestamp)
	assert.Equal(t, int64(12), all[0].ExecutionTimeMs)
	assert.True(t, all[0].CacheHit)

	support, err := s.RecentExecutions(ctx, model.ExecutionFilter{AgentID: "support"})
	require.NoError(t, err)
	assert.Len(t, support, 2)

	safety, err := s.RecentExecutions(ctx, model.ExecutionFilter{CheckID: "content_safety"})
	require.NoError(t, err)
	require.Len(t, safety, 1)
	assert.Equal(t, "classifier timeout", safety[0].Error)
	assert.False(t, safety[0].Success)

	since := base.Add(500 * time.Millisecond)
	recent, err := s.RecentExecutions(ctx, model.ExecutionFilter{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "professional_tone", recent[0].CheckID)
}

func TestStore_GetExecution(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := s.InsertExecutions(ctx, []model.CheckExecution{{ID: id, CheckID: "pii_detection", Direction: "input", Success: true}})
	require.NoError(t, err)

	got, err := s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pii_detection", got.CheckID)
	assert.False(t, got.Timestamp.IsZero(), "zero timestamps default to insert time")

	_, err = s.GetExecution(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_AssignsMissingIDs(t *testing.T) {
	s := openTemp(t)
	_, err := s.InsertExecutions(context.Background(), []model.CheckExecution{
		{CheckID: "a", Direction: "input"},
		{CheckID: "b", Direction: "input"},
	})
	require.NoError(t, err)
	all, err := s.RecentExecutions(context.Background(), model.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, uuid.Nil, all[0].ID)
	assert.NotEqual(t, all[0].ID, all[1].ID)
}

func TestStore_Purge(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := s.InsertExecutions(ctx, []model.CheckExecution{
		{CheckID: "a", Direction: "input", Timestamp: now.Add(-72 * time.Hour)},
		{CheckID: "b", Direction: "input", Timestamp: now},
	})
	require.NoError(t, err)

	removed, err := s.PurgeExecutionsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	left, err := s.RecentExecutions(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].CheckID)
}

func TestStore_EmptyBatch(t *testing.T) {
	s := openTemp(t)
	n, err := s.InsertExecutions(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.InsertExecutions(ctx, []model.CheckExecution{{CheckID: "a", Direction: "input"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	all, err := s.RecentExecutions(ctx, model.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
