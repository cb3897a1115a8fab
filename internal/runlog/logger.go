// Package runlog implements the per-run log store: structured, redacted
// entries keyed by (job, run), persisted with a 24-hour TTL, plus the
// per-job run index with a 30-day TTL.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
	"dwsync/internal/repository"
)

const (
	entriesTTL  = 24 * time.Hour
	maxEntries  = 500
	logsPrefix  = "logs:"
	latestLabel = ":latest"
)

// Store owns the run-log namespace.
type Store struct {
	kv     kv.Store
	index  *repository.RunIndexRepo
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a run-log store.
func NewStore(store kv.Store, index *repository.RunIndexRepo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: store, index: index, logger: logger, now: time.Now}
}

// RunLogger appends entries for one (job, run) pair. It buffers the entry
// array in memory and rewrites the KV value on each append, so a reader
// polling mid-run sees every entry written so far.
type RunLogger struct {
	store   *Store
	jobID   string
	jobName string
	runID   string
	entries []domain.LogEntry
	dropped int
}

// StartRun opens a run record: appends to the run index, writes the latest
// pointer, and returns a RunLogger for the run's entries.
func (s *Store) StartRun(ctx context.Context, jobID, jobName, runID string) (*RunLogger, error) {
	start := s.now().UTC()
	if err := s.index.Append(ctx, domain.RunInfo{
		RunID:     runID,
		JobID:     jobID,
		StartedAt: start,
		Status:    domain.RunStatusRunning,
	}); err != nil {
		return nil, fmt.Errorf("run index: %w", err)
	}

	pointer, _ := json.Marshal(map[string]any{"runId": runID, "timestamp": start.Format(time.RFC3339)})
	if err := s.kv.Put(ctx, logsPrefix+jobID+latestLabel, pointer, entriesTTL); err != nil {
		return nil, fmt.Errorf("latest pointer: %w", err)
	}

	return &RunLogger{store: s, jobID: jobID, jobName: jobName, runID: runID}, nil
}

// ResumeRun returns a RunLogger for an already-open run, reloading the
// entries written by earlier batches.
func (s *Store) ResumeRun(ctx context.Context, jobID, jobName, runID string) (*RunLogger, error) {
	entries, err := s.Read(ctx, jobID, runID, 0)
	if err != nil {
		return nil, err
	}
	return &RunLogger{store: s, jobID: jobID, jobName: jobName, runID: runID, entries: entries}, nil
}

// Append writes one entry. Meta is redacted before persistence. Beyond the
// per-run cap, entries go to the process log only.
func (l *RunLogger) Append(ctx context.Context, level, phase, message string, meta map[string]any) {
	if len(l.entries) >= maxEntries {
		l.dropped++
		l.store.logger.Warn("run log cap reached, entry dropped",
			"job", l.jobName, "run", l.runID, "level", level, "message", message)
		return
	}
	entry := domain.LogEntry{
		Timestamp: l.store.now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Phase:     phase,
		Job:       l.jobName,
		RunID:     l.runID,
		Message:   message,
		Meta:      Redact(meta),
	}
	l.entries = append(l.entries, entry)
	if err := l.flush(ctx); err != nil {
		// Log-store failures never fail the run.
		l.store.logger.Warn("run log write failed", "job", l.jobName, "run", l.runID, "error", err)
	}
}

// Info, Warning, Error, Success, Debug are convenience levels over Append.
func (l *RunLogger) Info(ctx context.Context, phase, msg string, meta map[string]any) {
	l.Append(ctx, domain.LogInfo, phase, msg, meta)
}

func (l *RunLogger) Warning(ctx context.Context, phase, msg string, meta map[string]any) {
	l.Append(ctx, domain.LogWarning, phase, msg, meta)
}

func (l *RunLogger) Error(ctx context.Context, phase, msg string, meta map[string]any) {
	l.Append(ctx, domain.LogError, phase, msg, meta)
}

func (l *RunLogger) Success(ctx context.Context, phase, msg string, meta map[string]any) {
	l.Append(ctx, domain.LogSuccess, phase, msg, meta)
}

func (l *RunLogger) Debug(ctx context.Context, phase, msg string, meta map[string]any) {
	l.Append(ctx, domain.LogDebug, phase, msg, meta)
}

// End marks the run terminal in the run index.
func (l *RunLogger) End(ctx context.Context, status string) error {
	return l.store.index.End(ctx, l.jobID, l.runID, status)
}

func (l *RunLogger) flush(ctx context.Context) error {
	value, err := json.Marshal(l.entries)
	if err != nil {
		return err
	}
	return l.store.kv.Put(ctx, logsPrefix+l.jobID+":"+l.runID, value, entriesTTL)
}

// ListRuns returns the run index for a job, newest first.
func (s *Store) ListRuns(ctx context.Context, jobID string) ([]domain.RunInfo, error) {
	return s.index.List(ctx, jobID)
}

// LatestRunID returns the run id the latest pointer names, or "" when none.
func (s *Store) LatestRunID(ctx context.Context, jobID string) (string, error) {
	value, ok, err := s.kv.Get(ctx, logsPrefix+jobID+latestLabel)
	if err != nil || !ok {
		return "", err
	}
	var pointer struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(value, &pointer); err != nil {
		return "", fmt.Errorf("decode latest pointer: %w", err)
	}
	return pointer.RunID, nil
}

// Read returns up to limit entries for (job, run); limit<=0 returns all.
func (s *Store) Read(ctx context.Context, jobID, runID string, limit int) ([]domain.LogEntry, error) {
	value, ok, err := s.kv.Get(ctx, logsPrefix+jobID+":"+runID)
	if err != nil || !ok {
		return nil, err
	}
	var entries []domain.LogEntry
	if err := json.Unmarshal(value, &entries); err != nil {
		return nil, fmt.Errorf("decode log entries: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Clear deletes logs for a run, or for every run of the job when runID is
// empty. Returns how many keys were removed.
func (s *Store) Clear(ctx context.Context, jobID, runID string) (int, error) {
	if runID != "" {
		if err := s.kv.Delete(ctx, logsPrefix+jobID+":"+runID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	keys, err := s.kv.List(ctx, logsPrefix+jobID+":")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
