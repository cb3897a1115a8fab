// Package repository persists job configuration and run indexes in the KV
// namespace using the key layout job:{id} and jobRuns:{jobId}.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
)

const jobKeyPrefix = "job:"

// JobRepo provides CRUD over job configurations. The admin surface is the
// only writer of configuration fields; the engine updates run summaries.
type JobRepo struct {
	store kv.Store
}

// NewJobRepo creates a JobRepo over the given store.
func NewJobRepo(store kv.Store) *JobRepo {
	return &JobRepo{store: store}
}

// List returns every configured job.
func (r *JobRepo) List(ctx context.Context) ([]domain.Job, error) {
	keys, err := r.store.List(ctx, jobKeyPrefix)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(keys))
	for _, k := range keys {
		value, ok, err := r.store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var j domain.Job
		if err := json.Unmarshal(value, &j); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Get returns the job with the given id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	value, ok, err := r.store.Get(ctx, jobKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "job %s not found", id)
	}
	var j domain.Job
	if err := json.Unmarshal(value, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// Put stores the job, assigning an id when absent. Jobs persist without TTL.
func (r *JobRepo) Put(ctx context.Context, j *domain.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	value, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return r.store.Put(ctx, jobKeyPrefix+j.ID, value, 0)
}

// Delete removes the job configuration.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, jobKeyPrefix+id)
}

// SetSuccess records a terminal success on the job.
func (r *JobRepo) SetSuccess(ctx context.Context, id, summary string) error {
	return r.updateStatus(ctx, id, func(j *domain.Job) {
		j.LastStatus = domain.RunStatusSuccess
		j.LastError = ""
		j.LastSummary = summary
	})
}

// SetError records a terminal failure on the job. The previous summary is
// left as-is.
func (r *JobRepo) SetError(ctx context.Context, id, message string) error {
	return r.updateStatus(ctx, id, func(j *domain.Job) {
		j.LastStatus = domain.RunStatusError
		j.LastError = message
	})
}

func (r *JobRepo) updateStatus(ctx context.Context, id string, apply func(*domain.Job)) error {
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	apply(j)
	now := time.Now().UTC()
	j.LastRunAt = &now
	return r.Put(ctx, j)
}
