// Package state persists per-run resumption records under
// sync_state:{job}:{run}. Writes are idempotent rewrites; the terminal
// batch deletes the key. A 24-hour TTL garbage-collects orphaned runs.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
)

const stateTTL = 24 * time.Hour

// Store reads and writes run state.
type Store struct {
	kv kv.Store
}

// NewStore creates a state store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

func stateKey(jobID, runID string) string {
	return fmt.Sprintf("sync_state:%s:%s", jobID, runID)
}

// LoadSync returns the warehouse-run state, or ok=false when absent.
func (s *Store) LoadSync(ctx context.Context, jobID, runID string) (*domain.RunState, bool, error) {
	value, ok, err := s.kv.Get(ctx, stateKey(jobID, runID))
	if err != nil || !ok {
		return nil, false, err
	}
	var st domain.RunState
	if err := json.Unmarshal(value, &st); err != nil {
		return nil, false, fmt.Errorf("decode run state: %w", err)
	}
	return &st, true, nil
}

// SaveSync overwrites the warehouse-run state.
func (s *Store) SaveSync(ctx context.Context, jobID, runID string, st *domain.RunState) error {
	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	return s.kv.Put(ctx, stateKey(jobID, runID), value, stateTTL)
}

// LoadSheet returns the sheet-run state, or ok=false when absent.
func (s *Store) LoadSheet(ctx context.Context, jobID, runID string) (*domain.SheetRunState, bool, error) {
	value, ok, err := s.kv.Get(ctx, stateKey(jobID, runID))
	if err != nil || !ok {
		return nil, false, err
	}
	var st domain.SheetRunState
	if err := json.Unmarshal(value, &st); err != nil {
		return nil, false, fmt.Errorf("decode sheet run state: %w", err)
	}
	return &st, true, nil
}

// SaveSheet overwrites the sheet-run state.
func (s *Store) SaveSheet(ctx context.Context, jobID, runID string, st *domain.SheetRunState) error {
	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode sheet run state: %w", err)
	}
	return s.kv.Put(ctx, stateKey(jobID, runID), value, stateTTL)
}

// Delete removes the run state. The engine calls this on the terminal batch.
func (s *Store) Delete(ctx context.Context, jobID, runID string) error {
	return s.kv.Delete(ctx, stateKey(jobID, runID))
}
