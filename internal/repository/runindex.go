package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
)

const (
	runIndexPrefix = "jobRuns:"
	runIndexCap    = 50
	runIndexTTL    = 30 * 24 * time.Hour
)

// RunIndexRepo maintains the per-job run index: jobRuns:{jobId}, ordered
// newest-first, capped at 50 entries, 30-day TTL.
type RunIndexRepo struct {
	store kv.Store
}

// NewRunIndexRepo creates a RunIndexRepo over the given store.
func NewRunIndexRepo(store kv.Store) *RunIndexRepo {
	return &RunIndexRepo{store: store}
}

// List returns the run index for a job, newest first.
func (r *RunIndexRepo) List(ctx context.Context, jobID string) ([]domain.RunInfo, error) {
	value, ok, err := r.store.Get(ctx, runIndexPrefix+jobID)
	if err != nil || !ok {
		return nil, err
	}
	var runs []domain.RunInfo
	if err := json.Unmarshal(value, &runs); err != nil {
		return nil, fmt.Errorf("decode run index %s: %w", jobID, err)
	}
	return runs, nil
}

// Append prepends a run record, truncating to the cap.
func (r *RunIndexRepo) Append(ctx context.Context, info domain.RunInfo) error {
	runs, err := r.List(ctx, info.JobID)
	if err != nil {
		return err
	}
	runs = append([]domain.RunInfo{info}, runs...)
	if len(runs) > runIndexCap {
		runs = runs[:runIndexCap]
	}
	return r.put(ctx, info.JobID, runs)
}

// End marks the run terminal with the given status.
func (r *RunIndexRepo) End(ctx context.Context, jobID, runID, status string) error {
	runs, err := r.List(ctx, jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range runs {
		if runs[i].RunID == runID {
			runs[i].Status = status
			runs[i].EndedAt = &now
			break
		}
	}
	return r.put(ctx, jobID, runs)
}

func (r *RunIndexRepo) put(ctx context.Context, jobID string, runs []domain.RunInfo) error {
	value, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("encode run index %s: %w", jobID, err)
	}
	return r.store.Put(ctx, runIndexPrefix+jobID, value, runIndexTTL)
}
