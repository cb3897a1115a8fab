package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
)

func TestStore_SyncRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	_, ok, err := store.LoadSync(ctx, "job", "run")
	require.NoError(t, err)
	assert.False(t, ok)

	last := "2024-01-05"
	st := &domain.RunState{
		LastSyncValue: &last,
		Schema: []domain.Field{
			{Name: "id", Class: domain.ClassInt},
			{Name: "d", Class: domain.ClassDate, Nullable: true},
		},
		RowsProcessed:  5000,
		StartedAt:      time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		SchemaSyncDone: true,
		Cursor:         &domain.Cursor{Inc: "2024-01-07", Tie: "9007199254740993"},
	}
	require.NoError(t, store.SaveSync(ctx, "job", "run", st))

	got, ok, err := store.LoadSync(ctx, "job", "run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st, got)

	// Large-integer cursor values survive the round trip verbatim.
	assert.Equal(t, "9007199254740993", got.Cursor.Tie)

	require.NoError(t, store.Delete(ctx, "job", "run"))
	_, ok, err = store.LoadSync(ctx, "job", "run")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SheetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(kv.NewMemoryStore())
	ctx := context.Background()

	st := &domain.SheetRunState{
		Headers:       []string{"date", "amount"},
		IsNewTable:    true,
		NextRow:       5002,
		RowsProcessed: 5000,
		StartedAt:     time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveSheet(ctx, "job", "run", st))

	got, ok, err := store.LoadSheet(ctx, "job", "run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st, got)
}
