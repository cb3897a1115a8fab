// Package testutil provides function-field mocks for the engine's
// collaborator contracts.
package testutil

import (
	"context"
	"io"

	"dwsync/internal/domain"
	"dwsync/internal/source"
)

// MockSource implements engine.SourceClient with overridable functions.
type MockSource struct {
	GetMetadataFn    func(ctx context.Context, project, dataset, table string) ([]domain.Field, error)
	QueryPaginatedFn func(ctx context.Context, project, sql string, forceString map[string]struct{}, fn func(domain.Row) error) error
	LoadNDJSONFn     func(ctx context.Context, project, dataset, table string, ndjson io.Reader, mode string, createSchema []domain.Field) (*source.LoadResult, error)
	UpdateSchemaFn   func(ctx context.Context, project, dataset, table string, newColumns []string) error

	// Queries records every SQL statement passed to QueryPaginatedFn.
	Queries []string
}

func (m *MockSource) GetMetadata(ctx context.Context, project, dataset, table string) ([]domain.Field, error) {
	return m.GetMetadataFn(ctx, project, dataset, table)
}

func (m *MockSource) QueryPaginated(ctx context.Context, project, sql string, forceString map[string]struct{}, fn func(domain.Row) error) error {
	m.Queries = append(m.Queries, sql)
	return m.QueryPaginatedFn(ctx, project, sql, forceString, fn)
}

func (m *MockSource) LoadNDJSON(ctx context.Context, project, dataset, table string, ndjson io.Reader, mode string, createSchema []domain.Field) (*source.LoadResult, error) {
	return m.LoadNDJSONFn(ctx, project, dataset, table, ndjson, mode, createSchema)
}

func (m *MockSource) UpdateSchema(ctx context.Context, project, dataset, table string, newColumns []string) error {
	if m.UpdateSchemaFn == nil {
		return nil
	}
	return m.UpdateSchemaFn(ctx, project, dataset, table, newColumns)
}

// MockSink implements engine.SinkClient with overridable functions.
type MockSink struct {
	UpsertFn    func(ctx context.Context, table string, rows []map[string]any, conflictColumns []string) error
	ExecDDLFn   func(ctx context.Context, statement string) error
	ExecQueryFn func(ctx context.Context, sql string) ([]map[string]any, error)
	LastValueFn func(ctx context.Context, table, column string) (any, error)
	DescribeFn  func(ctx context.Context, table string) ([]domain.Field, error)
	DeleteFn    func(ctx context.Context, table string, keyColumns []string, keyTuples [][]any) (int64, error)

	// Recorded calls.
	DDL     []string
	Upserts [][]map[string]any
	Deletes [][][]any
}

func (m *MockSink) Upsert(ctx context.Context, table string, rows []map[string]any, conflictColumns []string) error {
	m.Upserts = append(m.Upserts, rows)
	if m.UpsertFn == nil {
		return nil
	}
	return m.UpsertFn(ctx, table, rows, conflictColumns)
}

func (m *MockSink) ExecDDL(ctx context.Context, statement string) error {
	m.DDL = append(m.DDL, statement)
	if m.ExecDDLFn == nil {
		return nil
	}
	return m.ExecDDLFn(ctx, statement)
}

func (m *MockSink) ExecQuery(ctx context.Context, sql string) ([]map[string]any, error) {
	if m.ExecQueryFn == nil {
		return nil, nil
	}
	return m.ExecQueryFn(ctx, sql)
}

func (m *MockSink) LastValue(ctx context.Context, table, column string) (any, error) {
	if m.LastValueFn == nil {
		return nil, nil
	}
	return m.LastValueFn(ctx, table, column)
}

func (m *MockSink) Describe(ctx context.Context, table string) ([]domain.Field, error) {
	if m.DescribeFn == nil {
		return nil, nil
	}
	return m.DescribeFn(ctx, table)
}

func (m *MockSink) Delete(ctx context.Context, table string, keyColumns []string, keyTuples [][]any) (int64, error) {
	m.Deletes = append(m.Deletes, keyTuples)
	if m.DeleteFn == nil {
		return int64(len(keyTuples)), nil
	}
	return m.DeleteFn(ctx, table, keyColumns, keyTuples)
}

// MockSheets implements engine.SheetReader.
type MockSheets struct {
	ReadRangeFn func(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error)

	Ranges []string
}

func (m *MockSheets) ReadRange(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error) {
	m.Ranges = append(m.Ranges, rangeA1)
	return m.ReadRangeFn(ctx, spreadsheetID, rangeA1)
}
