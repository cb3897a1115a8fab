package runlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
	"dwsync/internal/repository"
)

func newTestStore(t *testing.T) (*Store, *kv.MemoryStore) {
	t.Helper()
	mem := kv.NewMemoryStore()
	return NewStore(mem, repository.NewRunIndexRepo(mem), nil), mem
}

func TestRunLogger_AppendAndRead(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	rl, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)

	rl.Info(ctx, "fetch", "fetching page", map[string]any{"batch": 1})
	rl.Warning(ctx, "delete-scan", "source returned zero keys", nil)

	entries, err := store.Read(ctx, "job-1", "run-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LogInfo, entries[0].Level)
	assert.Equal(t, "fetch", entries[0].Phase)
	assert.Equal(t, "orders", entries[0].Job)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, domain.LogWarning, entries[1].Level)

	// Limit returns the most recent entries.
	tail, err := store.Read(ctx, "job-1", "run-1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, domain.LogWarning, tail[0].Level)
}

func TestRunLogger_MetaRedacted(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	rl, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	rl.Info(ctx, "init", "starting", map[string]any{"serviceKey": "abc", "table": "orders"})

	entries, err := store.Read(ctx, "job-1", "run-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, redactedPlaceholder, entries[0].Meta["serviceKey"])
	assert.Equal(t, "orders", entries[0].Meta["table"])
}

func TestRunLogger_EntryCap(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	rl, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	for i := 0; i < maxEntries+25; i++ {
		rl.Info(ctx, "fetch", fmt.Sprintf("entry %d", i), nil)
	}

	entries, err := store.Read(ctx, "job-1", "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, maxEntries)
}

func TestRunLogger_EndUpdatesIndex(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	rl, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	require.NoError(t, rl.End(ctx, domain.RunStatusSuccess))

	runs, err := store.ListRuns(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSuccess, runs[0].Status)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestStore_LatestRunID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	_, err = store.StartRun(ctx, "job-1", "orders", "run-2")
	require.NoError(t, err)

	latest, err := store.LatestRunID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, run := range []string{"run-1", "run-2"} {
		rl, err := store.StartRun(ctx, "job-1", "orders", run)
		require.NoError(t, err)
		rl.Info(ctx, "fetch", "x", nil)
	}

	deleted, err := store.Clear(ctx, "job-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	entries, err := store.Read(ctx, "job-1", "run-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = store.Read(ctx, "job-1", "run-2", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Clearing without a run id removes everything for the job.
	deleted, err = store.Clear(ctx, "job-1", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, 1)
}

func TestRunLogger_ResumeRun(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	rl, err := store.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	rl.Info(ctx, "fetch", "batch 1", nil)

	resumed, err := store.ResumeRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	resumed.Info(ctx, "fetch", "batch 2", nil)

	entries, err := store.Read(ctx, "job-1", "run-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "batch 2", entries[1].Message)
}
