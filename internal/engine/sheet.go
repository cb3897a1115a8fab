package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dwsync/internal/domain"
	"dwsync/internal/runlog"
	"dwsync/internal/sheets"
	"dwsync/internal/source"
)

// runSheetBatch executes one batch of a sheet→warehouse run. Pagination is
// by row offset; there is no delete phase.
func (e *Engine) runSheetBatch(ctx context.Context, job *domain.Job, runID string, batchNumber int,
	rl *runlog.RunLogger, logger *slog.Logger) (*domain.BatchResult, error) {

	spreadsheetID, err := sheets.ParseSpreadsheetURL(job.Sheets.SpreadsheetURL)
	if err != nil {
		return nil, err
	}
	sheetName := job.Sheets.SheetName
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	bq := job.BigQuery

	var st *domain.SheetRunState
	if batchNumber == 1 {
		st, err = e.initSheetRun(ctx, job, runID, spreadsheetID, sheetName, rl)
		if err != nil {
			return nil, err
		}
	} else {
		loaded, ok, err := e.states.LoadSheet(ctx, job.ID, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewError(domain.KindRunExpired, "no state for run %s batch %d", runID, batchNumber)
		}
		st = loaded
	}

	endRow := st.NextRow + int64(e.pageSize) - 1
	rangeA1 := fmt.Sprintf("%s!A%d:%s%d", sheetName, st.NextRow, columnLetter(len(st.Headers)), endRow)
	rl.Info(ctx, phaseFetch, "reading sheet rows", map[string]any{"range": rangeA1, "batch": batchNumber})
	rows, err := e.sheets.ReadRange(ctx, spreadsheetID, rangeA1)
	if err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		if !st.IsNewTable {
			if err := e.addMissingColumns(ctx, bq, st.Headers); err != nil {
				return nil, err
			}
		}

		mode := source.LoadModeTruncate
		if job.Sheets.Append || batchNumber > 1 {
			mode = source.LoadModeAppend
		}
		var createSchema []domain.Field
		if st.IsNewTable && batchNumber == 1 {
			createSchema = inferSchema(st.Headers, rows)
		}

		ndjson := buildNDJSON(st.Headers, rows)
		result, err := e.source.LoadNDJSON(ctx, bq.ProjectID, bq.Dataset, bq.Table, ndjson, mode, createSchema)
		if err != nil {
			return nil, err
		}
		if len(result.Errors) > 0 {
			rl.Warning(ctx, phaseLoad, "load job reported row errors",
				map[string]any{"errors": result.Errors})
		}
		rl.Info(ctx, phaseLoad, "page loaded", map[string]any{"rows": len(rows), "mode": mode})
		logger.Info("page loaded", "rows", len(rows), "mode", mode)
	}

	st.RowsProcessed += int64(len(rows))

	if len(rows) == e.pageSize {
		st.NextRow = endRow + 1
		if err := e.states.SaveSheet(ctx, job.ID, runID, st); err != nil {
			return nil, err
		}
		return &domain.BatchResult{
			RunID:         runID,
			HasMore:       true,
			NextBatch:     batchNumber + 1,
			RowsProcessed: int64(len(rows)),
		}, nil
	}

	summary := fmt.Sprintf("%d rows imported in %s",
		st.RowsProcessed, fmt.Sprintf("%dm %ds", int(e.now().Sub(st.StartedAt).Minutes()), int(e.now().Sub(st.StartedAt).Seconds())%60))
	rl.Success(ctx, phaseLoad, summary, map[string]any{"rows": st.RowsProcessed})
	if err := rl.End(ctx, domain.RunStatusSuccess); err != nil {
		return nil, err
	}
	if err := e.jobs.SetSuccess(ctx, job.ID, summary); err != nil {
		return nil, err
	}
	if err := e.states.Delete(ctx, job.ID, runID); err != nil {
		return nil, err
	}

	return &domain.BatchResult{
		RunID:         runID,
		HasMore:       false,
		RowsProcessed: int64(len(rows)),
		Summary:       summary,
	}, nil
}

// initSheetRun reads and sanitizes the header row and probes the load
// destination.
func (e *Engine) initSheetRun(ctx context.Context, job *domain.Job, runID, spreadsheetID, sheetName string,
	rl *runlog.RunLogger) (*domain.SheetRunState, error) {

	rl.Info(ctx, phaseInit, "sheet import started", map[string]any{"sheet": sheetName})

	headerRows, err := e.sheets.ReadRange(ctx, spreadsheetID, sheetName+"!1:1")
	if err != nil {
		return nil, err
	}
	if len(headerRows) == 0 || len(headerRows[0]) == 0 {
		return nil, domain.NewError(domain.KindConfigInvalid, "sheet %s has no header row", sheetName)
	}
	headers := sanitizeHeaders(headerRows[0])

	isNew := false
	bq := job.BigQuery
	if _, err := e.source.GetMetadata(ctx, bq.ProjectID, bq.Dataset, bq.Table); err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			return nil, err
		}
		isNew = true
	}

	st := &domain.SheetRunState{
		Headers:    headers,
		IsNewTable: isNew,
		NextRow:    2,
		StartedAt:  e.now().UTC(),
	}
	if err := e.states.SaveSheet(ctx, job.ID, runID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// addMissingColumns extends the destination schema with headers it lacks,
// as nullable strings. Columns removed from the sheet stay in the
// warehouse and read NULL from then on.
func (e *Engine) addMissingColumns(ctx context.Context, bq domain.BigQuerySource, headers []string) error {
	fields, err := e.source.GetMetadata(ctx, bq.ProjectID, bq.Dataset, bq.Table)
	if err != nil {
		return err
	}
	var missing []string
	for _, h := range headers {
		if _, ok := domain.FindField(fields, h); !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return e.source.UpdateSchema(ctx, bq.ProjectID, bq.Dataset, bq.Table, missing)
}

// columnLetter converts a 1-based column count to its A1-notation letter.
func columnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	var b strings.Builder
	for n > 0 {
		n--
		b.WriteByte(byte('A' + n%26))
		n /= 26
	}
	// Digits were produced least-significant first.
	s := []byte(b.String())
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return string(s)
}
