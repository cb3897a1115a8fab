// Package source reads metadata and paginated rows from the warehouse and
// performs multipart load jobs for spreadsheet ingest.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
	bigquery "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"dwsync/internal/domain"
	"dwsync/internal/schema"
)

// querySyncWindowMS is the warehouse's synchronous completion window per
// request. Queries still running after the polling budget fail with
// QueryIncomplete.
const (
	querySyncWindowMS = 10000
	maxResultPolls    = 30
	pageMaxResults    = 5000
)

// Client speaks the warehouse API.
type Client struct {
	svc     *bigquery.Service
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter overrides the page-fetch pacing limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New creates a warehouse client. clientOpts are passed through to the API
// client; callers supply option.WithTokenSource for production and
// option.WithEndpoint + option.WithoutAuthentication in tests.
func New(ctx context.Context, logger *slog.Logger, clientOpts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := bigquery.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery service: %w", err)
	}
	return &Client{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		logger:  logger.With("component", "source"),
	}, nil
}

// GetMetadata returns the ordered field list of a warehouse table.
func (c *Client) GetMetadata(ctx context.Context, project, dataset, table string) ([]domain.Field, error) {
	t, err := c.svc.Tables.Get(project, dataset, table).Context(ctx).Do()
	if err != nil {
		return nil, classifyMetadataErr(err, project, dataset, table)
	}
	if t.Schema == nil {
		return nil, domain.NewError(domain.KindSourceUnavailable, "table %s.%s.%s has no schema", project, dataset, table)
	}
	fields := make([]domain.Field, 0, len(t.Schema.Fields))
	for _, f := range t.Schema.Fields {
		fields = append(fields, domain.Field{
			Name:     f.Name,
			Class:    schema.ClassFromBigQuery(f.Type),
			Nullable: f.Mode != "REQUIRED",
		})
	}
	return fields, nil
}

func classifyMetadataErr(err error, project, dataset, table string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return domain.WrapError(domain.KindNotFound, err, "table %s.%s.%s not found", project, dataset, table)
		case http.StatusForbidden:
			return domain.WrapError(domain.KindPermissionDenied, err, "access to %s.%s.%s denied", project, dataset, table)
		}
	}
	return domain.WrapError(domain.KindSourceUnavailable, err, "get metadata for %s.%s.%s", project, dataset, table)
}

// QueryPaginated submits sql and streams every result row to fn, following
// continuation tokens across pages. Column names in forceString keep their
// values as strings regardless of declared type.
func (c *Client) QueryPaginated(ctx context.Context, project, sql string, forceString map[string]struct{}, fn func(domain.Row) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.KindSourceUnavailable, err, "rate limit wait")
	}

	useLegacySQL := false
	req := &bigquery.QueryRequest{
		Query:           sql,
		UseLegacySql:    &useLegacySQL,
		ForceSendFields: []string{"UseLegacySql"},
		MaxResults:      pageMaxResults,
		TimeoutMs:       querySyncWindowMS,
	}
	resp, err := c.svc.Jobs.Query(project, req).Context(ctx).Do()
	if err != nil {
		return classifyQueryErr(err)
	}

	jobID, location := "", ""
	if resp.JobReference != nil {
		jobID = resp.JobReference.JobId
		location = resp.JobReference.Location
	}

	// Wait out an incomplete job before consuming rows.
	rows, s, pageToken := resp.Rows, resp.Schema, resp.PageToken
	if !resp.JobComplete {
		first, err := c.awaitCompletion(ctx, project, jobID, location)
		if err != nil {
			return err
		}
		rows, s, pageToken = first.Rows, first.Schema, first.PageToken
	}

	for {
		if err := c.emitRows(rows, s, forceString, fn); err != nil {
			return err
		}
		if pageToken == "" {
			return nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.WrapError(domain.KindPaginationFailed, err, "rate limit wait")
		}
		next, err := c.getResultsPage(ctx, project, jobID, location, pageToken)
		if err != nil {
			return domain.WrapError(domain.KindPaginationFailed, err, "fetch results page")
		}
		rows, pageToken = next.Rows, next.PageToken
		if next.Schema != nil {
			s = next.Schema
		}
	}
}

func (c *Client) awaitCompletion(ctx context.Context, project, jobID, location string) (*bigquery.GetQueryResultsResponse, error) {
	for poll := 0; poll < maxResultPolls; poll++ {
		resp, err := c.getResultsPage(ctx, project, jobID, location, "")
		if err != nil {
			return nil, classifyQueryErr(err)
		}
		if resp.JobComplete {
			return resp, nil
		}
	}
	return nil, domain.NewError(domain.KindQueryIncomplete, "query job %s did not finish within the synchronous window", jobID)
}

func (c *Client) getResultsPage(ctx context.Context, project, jobID, location, pageToken string) (*bigquery.GetQueryResultsResponse, error) {
	call := c.svc.Jobs.GetQueryResults(project, jobID).Context(ctx).TimeoutMs(querySyncWindowMS)
	if location != "" {
		call = call.Location(location)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (c *Client) emitRows(rows []*bigquery.TableRow, s *bigquery.TableSchema, forceString map[string]struct{}, fn func(domain.Row) error) error {
	if s == nil {
		if len(rows) == 0 {
			return nil
		}
		return domain.NewError(domain.KindPaginationFailed, "results page missing schema")
	}
	cols := make([]string, len(s.Fields))
	classes := make([]domain.FieldClass, len(s.Fields))
	forced := make([]bool, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
		classes[i] = schema.ClassFromBigQuery(f.Type)
		_, forced[i] = forceString[f.Name]
	}

	for _, tr := range rows {
		values := make([]any, len(cols))
		for i, cell := range tr.F {
			if i >= len(cols) {
				break
			}
			values[i] = convertValue(cell.V, classes[i], forced[i])
		}
		if err := fn(domain.Row{Columns: cols, Values: values}); err != nil {
			return err
		}
	}
	return nil
}

func classifyQueryErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusForbidden:
			return domain.WrapError(domain.KindQueryRejected, err, "query rejected")
		}
	}
	return domain.WrapError(domain.KindSourceUnavailable, err, "query")
}
