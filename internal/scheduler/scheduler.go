// Package scheduler dispatches runs on cron schedules and drives each
// run's invocation chain: when a batch reports hasMore, the dispatcher
// (never the engine) arranges the next batch.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dwsync/internal/domain"
	"dwsync/internal/repository"
)

// BatchRunner runs one engine batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, job *domain.Job, runID string, batchNumber int) (*domain.BatchResult, error)
}

// Dispatcher manages cron-based job execution.
type Dispatcher struct {
	cron          *cron.Cron
	jobs          *repository.JobRepo
	engine        BatchRunner
	logger        *slog.Logger
	batchDeadline time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID // cron expression → entry
}

// New creates a dispatcher.
func New(jobs *repository.JobRepo, engine BatchRunner, batchDeadline time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cron:          cron.New(),
		jobs:          jobs,
		engine:        engine,
		logger:        logger.With("component", "scheduler"),
		batchDeadline: batchDeadline,
		entries:       make(map[string]cron.EntryID),
	}
}

// Start loads schedules and starts the cron runner.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.loadSchedules(ctx); err != nil {
		return err
	}
	d.cron.Start()
	d.logger.Info("dispatcher started")
	return nil
}

// Stop gracefully stops the cron runner.
func (d *Dispatcher) Stop() {
	d.cron.Stop()
	d.logger.Info("dispatcher stopped")
}

// Reload clears all cron entries and reloads from the job store.
func (d *Dispatcher) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entryID := range d.entries {
		d.cron.Remove(entryID)
	}
	d.entries = make(map[string]cron.EntryID)

	return d.loadSchedules(ctx)
}

// loadSchedules registers one cron entry per distinct schedule expression.
// A firing enumerates the jobs whose cronSchedule matches the fired
// expression exactly, so jobs added under an existing expression are
// picked up without re-registration.
func (d *Dispatcher) loadSchedules(ctx context.Context) error {
	jobs, err := d.jobs.List(ctx)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		expr := j.CronSchedule
		if expr == "" || !j.Enabled {
			continue
		}
		if _, ok := d.entries[expr]; ok {
			continue
		}
		entryID, err := d.cron.AddFunc(expr, func() {
			d.fire(expr)
		})
		if err != nil {
			d.logger.Warn("invalid cron schedule", "job", j.Name, "schedule", expr, "error", err)
			continue
		}
		d.entries[expr] = entryID
		d.logger.Info("scheduled", "schedule", expr)
	}
	return nil
}

// fire runs every enabled job whose schedule matches the fired expression.
func (d *Dispatcher) fire(expr string) {
	ctx := context.Background()
	jobs, err := d.jobs.List(ctx)
	if err != nil {
		d.logger.Warn("scheduled sweep failed to list jobs", "error", err)
		return
	}
	var matched []domain.Job
	for _, j := range jobs {
		if j.Enabled && j.CronSchedule == expr {
			matched = append(matched, j)
		}
	}
	d.runSweep(ctx, matched)
}

// RunAll drives every enabled job to completion, sequentially.
func (d *Dispatcher) RunAll(ctx context.Context) error {
	jobs, err := d.jobs.List(ctx)
	if err != nil {
		return err
	}
	var enabled []domain.Job
	for _, j := range jobs {
		if j.Enabled {
			enabled = append(enabled, j)
		}
	}
	d.runSweep(ctx, enabled)
	return nil
}

// runSweep executes jobs sequentially in dependency order: sheet→warehouse
// imports land before the warehouse→sink mirrors that may read them.
func (d *Dispatcher) runSweep(ctx context.Context, jobs []domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Variant() == domain.JobTypeSheetsToBQ &&
			jobs[j].Variant() != domain.JobTypeSheetsToBQ
	})
	for i := range jobs {
		job := jobs[i]
		if err := d.driveRun(ctx, &job); err != nil {
			d.logger.Warn("scheduled run failed", "job", job.Name, "error", err)
		}
	}
}

// driveRun executes one run's full invocation chain, one deadline-bounded
// batch at a time.
func (d *Dispatcher) driveRun(ctx context.Context, job *domain.Job) error {
	runID := ""
	batch := 1
	for {
		batchCtx := ctx
		var cancel context.CancelFunc
		if d.batchDeadline > 0 {
			batchCtx, cancel = context.WithTimeout(ctx, d.batchDeadline)
		}
		result, err := d.engine.RunBatch(batchCtx, job, runID, batch)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return err
		}
		if !result.HasMore {
			return nil
		}
		runID = result.RunID
		batch = result.NextBatch
	}
}
