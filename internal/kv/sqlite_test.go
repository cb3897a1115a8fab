package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwsync/internal/db"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.sqlite")
	writeDB, readDB, err := db.OpenPair(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = writeDB.Close()
		_ = readDB.Close()
	})
	require.NoError(t, db.RunMigrations(writeDB))
	return NewSQLiteStore(writeDB, readDB)
}

func TestSQLiteStore_PutGetDelete(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "job:1", []byte(`{"name":"orders"}`), 0))
	value, ok, err := store.Get(ctx, "job:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"orders"}`, string(value))

	// Idempotent rewrite.
	require.NoError(t, store.Put(ctx, "job:1", []byte(`{"name":"orders2"}`), 0))
	value, _, err = store.Get(ctx, "job:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"orders2"}`, string(value))

	require.NoError(t, store.Delete(ctx, "job:1"))
	_, ok, err = store.Get(ctx, "job:1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete(ctx, "job:1"))
}

func TestSQLiteStore_TTL(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "sync_state:j:r", []byte("x"), 24*time.Hour))

	_, ok, err := store.Get(ctx, "sync_state:j:r")
	require.NoError(t, err)
	assert.True(t, ok)

	// Past the TTL the entry reads as absent and Sweep removes it.
	store.now = func() time.Time { return now.Add(25 * time.Hour) }
	_, ok, err = store.Get(ctx, "sync_state:j:r")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLiteStore_List(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job:b", []byte("1"), 0))
	require.NoError(t, store.Put(ctx, "job:a", []byte("1"), 0))
	require.NoError(t, store.Put(ctx, "logs:x", []byte("1"), 0))

	keys, err := store.List(ctx, "job:")
	require.NoError(t, err)
	assert.Equal(t, []string{"job:a", "job:b"}, keys)
}

func TestMemoryStore_MatchesSQLiteSemantics(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Hour))
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	store.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
