// Package engine drives a synchronization run as a sequence of batches,
// each one invocation-sized: schema reconciliation on batch 1, one bounded
// page of extraction and upsert per batch, cursor-based continuation, and
// delete detection on the terminal batch of a warehouse→sink run.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dwsync/internal/domain"
	"dwsync/internal/repository"
	"dwsync/internal/runlog"
	"dwsync/internal/source"
	"dwsync/internal/state"
)

// Paging and safety constants.
const (
	defaultPageSize     = 5000
	upsertBatchSize     = 2500
	sinkScanPageSize    = 10000
	defaultMaxSourceKey = 2_000_000

	// schemaSettle is the pause after applying drift DDL so the sink's
	// schema cache catches up before the first upsert.
	schemaSettle = time.Second

	// deadlineSlack is how much headroom a sub-batch leaves before the
	// caller's deadline: closer than this, the engine persists and yields.
	deadlineSlack = 5 * time.Second
)

// Phase tags used in run logs.
const (
	phaseInit      = "init"
	phaseReconcile = "reconcile"
	phaseFetch     = "fetch"
	phaseUpsert    = "upsert"
	phasePersist   = "persist"
	phaseDelete    = "delete-scan"
	phaseLoad      = "load"
)

// SourceClient is the warehouse contract the engine consumes.
type SourceClient interface {
	GetMetadata(ctx context.Context, project, dataset, table string) ([]domain.Field, error)
	QueryPaginated(ctx context.Context, project, sql string, forceString map[string]struct{}, fn func(domain.Row) error) error
	LoadNDJSON(ctx context.Context, project, dataset, table string, ndjson io.Reader, mode string, createSchema []domain.Field) (*source.LoadResult, error)
	UpdateSchema(ctx context.Context, project, dataset, table string, newColumns []string) error
}

// SinkClient is the relational-sink contract the engine consumes.
type SinkClient interface {
	Upsert(ctx context.Context, table string, rows []map[string]any, conflictColumns []string) error
	ExecDDL(ctx context.Context, statement string) error
	ExecQuery(ctx context.Context, sql string) ([]map[string]any, error)
	LastValue(ctx context.Context, table, column string) (any, error)
	Describe(ctx context.Context, table string) ([]domain.Field, error)
	Delete(ctx context.Context, table string, keyColumns []string, keyTuples [][]any) (int64, error)
}

// SheetReader reads spreadsheet ranges for sheet→warehouse jobs.
type SheetReader interface {
	ReadRange(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error)
}

// Engine is the sync state machine. One Engine serves all jobs; per-run
// state lives in the state store, never on the struct.
type Engine struct {
	source SourceClient
	sink   SinkClient
	sheets SheetReader
	states *state.Store
	logs   *runlog.Store
	jobs   *repository.JobRepo
	logger *slog.Logger

	pageSize      int
	maxSourceKeys int
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
}

// New creates an Engine.
func New(src SourceClient, snk SinkClient, sheets SheetReader,
	states *state.Store, logs *runlog.Store, jobs *repository.JobRepo, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:        src,
		sink:          snk,
		sheets:        sheets,
		states:        states,
		logs:          logs,
		jobs:          jobs,
		logger:        logger.With("component", "engine"),
		pageSize:      defaultPageSize,
		maxSourceKeys: defaultMaxSourceKey,
		sleep:         sleepCtx,
		now:           time.Now,
	}
}

// RunBatch executes one batch of a run. For batch 1 runID may be empty and
// is generated. When the result reports HasMore, the caller owns arranging
// the next invocation; the engine completes its I/O and persists state
// before returning.
func (e *Engine) RunBatch(ctx context.Context, job *domain.Job, runID string, batchNumber int) (*domain.BatchResult, error) {
	if batchNumber < 1 {
		batchNumber = 1
	}
	if batchNumber == 1 && runID == "" {
		runID = uuid.NewString()
	}

	logger := e.logger.With("job", job.Name, "run", runID, "batch", batchNumber)

	var rl *runlog.RunLogger
	var err error
	if batchNumber == 1 {
		rl, err = e.logs.StartRun(ctx, job.ID, job.Name, runID)
	} else {
		rl, err = e.logs.ResumeRun(ctx, job.ID, job.Name, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	var result *domain.BatchResult
	switch job.Variant() {
	case domain.JobTypeBQToSupabase:
		result, err = e.runWarehouseBatch(ctx, job, runID, batchNumber, rl, logger)
	case domain.JobTypeSheetsToBQ:
		result, err = e.runSheetBatch(ctx, job, runID, batchNumber, rl, logger)
	default:
		err = domain.NewError(domain.KindConfigInvalid, "unknown job type %q", job.Type)
	}

	if err != nil {
		logger.Error("batch failed", "error", err)
		rl.Error(ctx, "error", err.Error(), map[string]any{"kind": string(domain.KindOf(err))})
		if endErr := rl.End(ctx, domain.RunStatusError); endErr != nil {
			logger.Warn("end run record failed", "error", endErr)
		}
		if jobErr := e.jobs.SetError(ctx, job.ID, err.Error()); jobErr != nil {
			logger.Warn("record job error failed", "error", jobErr)
		}
		return nil, err
	}
	return result, nil
}

// formatSummary renders the job's success summary.
func formatSummary(rows, deleted int64, elapsed time.Duration) string {
	dur := fmt.Sprintf("%dm %ds", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
	if deleted > 0 {
		return fmt.Sprintf("%d rows synced, %d deleted in %s", rows, deleted, dur)
	}
	return fmt.Sprintf("%d rows synced in %s", rows, dur)
}

// nearDeadline reports whether the caller's deadline is close enough that
// the engine should persist and yield instead of starting more work.
func nearDeadline(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return time.Until(deadline) < deadlineSlack
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
