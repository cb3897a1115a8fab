package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"dwsync/internal/ddl"
	"dwsync/internal/domain"
	"dwsync/internal/runlog"
	"dwsync/internal/schema"
	"dwsync/internal/source"
)

// runWarehouseBatch executes one batch of a warehouse→sink run.
func (e *Engine) runWarehouseBatch(ctx context.Context, job *domain.Job, runID string, batchNumber int,
	rl *runlog.RunLogger, logger *slog.Logger) (*domain.BatchResult, error) {

	var st *domain.RunState
	if batchNumber == 1 {
		var err error
		st, err = e.reconcile(ctx, job, runID, rl, logger)
		if err != nil {
			return nil, err
		}
	} else {
		loaded, ok, err := e.states.LoadSync(ctx, job.ID, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewError(domain.KindRunExpired, "no state for run %s batch %d", runID, batchNumber)
		}
		if !loaded.SchemaSyncDone {
			return nil, domain.NewError(domain.KindSchemaIncomplete, "run %s state exists but schema sync never completed", runID)
		}
		st = loaded
	}

	sql := buildSelectSQL(job, st, batchNumber, e.pageSize)
	rl.Info(ctx, phaseFetch, "fetching page", map[string]any{"batch": batchNumber})
	logger.Debug("composed page query", "sql", sql)

	forceString := make(map[string]struct{}, len(job.BigQuery.ForceStringFields))
	for _, f := range job.BigQuery.ForceStringFields {
		forceString[f] = struct{}{}
	}

	rows := make([]domain.Row, 0, e.pageSize)
	err := e.source.QueryPaginated(ctx, job.BigQuery.ProjectID, sql, forceString, func(r domain.Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	pageFull := len(rows) == e.pageSize

	// Upsert in sequential sub-batches. The cursor only ever advances past
	// rows whose sub-batch has fully succeeded.
	syncedAt := e.now().UTC().Format(time.RFC3339)
	upserted := 0
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(rows))
		chunk := make([]map[string]any, 0, end-start)
		for _, r := range rows[start:end] {
			m := r.Map()
			m[domain.SyncedAtColumn] = syncedAt
			chunk = append(chunk, m)
		}
		if err := e.sink.Upsert(ctx, job.Supabase.Table, chunk, job.Supabase.UpsertColumns); err != nil {
			return nil, err
		}
		upserted = end

		if end < len(rows) && nearDeadline(ctx) {
			// Finish the current sub-batch, persist, and yield the rest of
			// the page to the next invocation.
			rl.Warning(ctx, phasePersist, "deadline approaching, yielding mid-page", map[string]any{"upserted": upserted})
			return e.persistProgress(ctx, job, runID, batchNumber, st, rows[:upserted], rl)
		}
	}

	if pageFull {
		return e.persistProgress(ctx, job, runID, batchNumber, st, rows, rl)
	}

	// Terminal batch: short page means the source is drained.
	st.RowsProcessed += int64(len(rows))

	var deleted int64
	if job.BigQuery.IncrementalColumn != "" {
		var err error
		deleted, err = e.detectDeletes(ctx, job, st, rl, logger)
		if err != nil {
			return nil, err
		}
	}

	summary := formatSummary(st.RowsProcessed, deleted, e.now().Sub(st.StartedAt))
	rl.Success(ctx, phasePersist, summary, map[string]any{"rows": st.RowsProcessed, "deleted": deleted})
	if err := rl.End(ctx, domain.RunStatusSuccess); err != nil {
		return nil, err
	}
	if err := e.jobs.SetSuccess(ctx, job.ID, summary); err != nil {
		return nil, err
	}
	if err := e.states.Delete(ctx, job.ID, runID); err != nil {
		return nil, err
	}
	logger.Info("run complete", "rows", st.RowsProcessed, "deleted", deleted)

	return &domain.BatchResult{
		RunID:         runID,
		HasMore:       false,
		RowsProcessed: int64(len(rows)),
		RowsDeleted:   deleted,
		Summary:       summary,
	}, nil
}

// persistProgress rewrites run state with the cursor at the last consumed
// row and reports a continuation to the caller.
func (e *Engine) persistProgress(ctx context.Context, job *domain.Job, runID string, batchNumber int,
	st *domain.RunState, consumed []domain.Row, rl *runlog.RunLogger) (*domain.BatchResult, error) {

	incName, tieName := cursorColumns(job)
	last := consumed[len(consumed)-1]
	incValue, _ := last.Value(incName)
	tieValue, _ := last.Value(tieName)
	st.Cursor = &domain.Cursor{
		Inc: source.StringifyValue(incValue),
		Tie: source.StringifyValue(tieValue),
	}
	st.RowsProcessed += int64(len(consumed))

	if err := e.states.SaveSync(ctx, job.ID, runID, st); err != nil {
		return nil, err
	}
	rl.Info(ctx, phasePersist, "batch complete, more rows remain",
		map[string]any{"batch": batchNumber, "rows": len(consumed), "total": st.RowsProcessed})

	return &domain.BatchResult{
		RunID:         runID,
		HasMore:       true,
		NextBatch:     batchNumber + 1,
		RowsProcessed: int64(len(consumed)),
	}, nil
}

// reconcile runs the batch-1 schema phase and seeds run state.
func (e *Engine) reconcile(ctx context.Context, job *domain.Job, runID string,
	rl *runlog.RunLogger, logger *slog.Logger) (*domain.RunState, error) {

	rl.Info(ctx, phaseInit, "run started", map[string]any{"source": job.BigQuery.Table, "sink": job.Supabase.Table})

	meta, err := e.source.GetMetadata(ctx, job.BigQuery.ProjectID, job.BigQuery.Dataset, job.BigQuery.Table)
	if err != nil {
		return nil, err
	}

	cols := make([]ddl.ColumnDef, len(meta))
	for i, f := range meta {
		cols[i] = ddl.ColumnDef{Name: f.Name, Type: schema.SinkType(f.Class)}
	}
	create, err := ddl.CreateTable(job.Supabase.Table, cols)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfigInvalid, err, "create table ddl")
	}
	if err := e.sink.ExecDDL(ctx, create); err != nil {
		return nil, err
	}

	// Keys are checked after the table exists so a first-ever run with a
	// bad key config still leaves the sink table behind for the next run.
	if invalid := schema.ValidateUpsertKeys(job.Supabase.UpsertColumns, meta); len(invalid) > 0 {
		return nil, domain.NewError(domain.KindConfigInvalid,
			"upsert columns not in source schema: %s", strings.Join(invalid, ", "))
	}

	uniqueIdx, err := ddl.CreateUniqueIndex(job.Supabase.Table, job.Supabase.UpsertColumns)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfigInvalid, err, "unique index ddl")
	}
	if err := e.sink.ExecDDL(ctx, uniqueIdx); err != nil {
		return nil, err
	}

	sinkFields, err := e.sink.Describe(ctx, job.Supabase.Table)
	if err != nil {
		return nil, err
	}
	changes := schema.DetectChanges(meta, sinkFields)
	for _, f := range changes.ToAdd {
		stmt, err := ddl.AddColumn(job.Supabase.Table, ddl.ColumnDef{Name: f.Name, Type: schema.SinkType(f.Class)})
		if err != nil {
			return nil, domain.WrapError(domain.KindConfigInvalid, err, "add column ddl")
		}
		if err := e.sink.ExecDDL(ctx, stmt); err != nil {
			return nil, err
		}
	}
	for _, name := range changes.ToDrop {
		stmt, err := ddl.DropColumn(job.Supabase.Table, name)
		if err != nil {
			return nil, domain.WrapError(domain.KindConfigInvalid, err, "drop column ddl")
		}
		if err := e.sink.ExecDDL(ctx, stmt); err != nil {
			return nil, err
		}
	}
	if !changes.Empty() {
		rl.Info(ctx, phaseReconcile, "schema drift applied",
			map[string]any{"added": len(changes.ToAdd), "dropped": len(changes.ToDrop)})
		logger.Info("schema drift applied", "added", len(changes.ToAdd), "dropped", len(changes.ToDrop))
		if err := e.sleep(ctx, schemaSettle); err != nil {
			return nil, err
		}
	}

	st := &domain.RunState{
		Schema:         meta,
		StartedAt:      e.now().UTC(),
		SchemaSyncDone: true,
	}
	if job.BigQuery.IncrementalColumn != "" {
		last, err := e.sink.LastValue(ctx, job.Supabase.Table, job.BigQuery.IncrementalColumn)
		if err != nil {
			return nil, err
		}
		if last != nil {
			s := source.StringifyValue(last)
			st.LastSyncValue = &s
		}
	}
	if err := e.states.SaveSync(ctx, job.ID, runID, st); err != nil {
		return nil, err
	}
	return st, nil
}
