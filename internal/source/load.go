package source

import (
	"context"
	"fmt"
	"io"
	"time"

	bigquery "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"

	"dwsync/internal/domain"
	"dwsync/internal/schema"
)

// Load modes.
const (
	LoadModeAppend   = "append"
	LoadModeTruncate = "truncate"
)

// loadPollInterval paces job polling; loadPollBudget bounds it.
const (
	loadPollInterval = 500 * time.Millisecond
	loadPollBudget   = 240
)

// LoadResult aggregates the outcome of a completed load job.
type LoadResult struct {
	OutputRows int64
	Errors     []string
}

// LoadNDJSON submits a multipart NDJSON load job and polls it to a
// terminal state. createSchema is supplied only for table creation;
// otherwise it is nil so the warehouse evolves the schema itself (columns
// absent from the payload stay NULL).
func (c *Client) LoadNDJSON(ctx context.Context, project, dataset, table string, ndjson io.Reader, mode string, createSchema []domain.Field) (*LoadResult, error) {
	var disposition string
	switch mode {
	case LoadModeAppend:
		disposition = "WRITE_APPEND"
	case LoadModeTruncate:
		disposition = "WRITE_TRUNCATE"
	default:
		return nil, domain.NewError(domain.KindConfigInvalid, "unknown load mode %q", mode)
	}

	job := &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			Load: &bigquery.JobConfigurationLoad{
				DestinationTable: &bigquery.TableReference{
					ProjectId: project,
					DatasetId: dataset,
					TableId:   table,
				},
				SourceFormat:     "NEWLINE_DELIMITED_JSON",
				WriteDisposition: disposition,
			},
		},
	}
	if len(createSchema) > 0 {
		job.Configuration.Load.Schema = tableSchema(createSchema)
	} else {
		job.Configuration.Load.CreateDisposition = "CREATE_NEVER"
	}

	inserted, err := c.svc.Jobs.Insert(project, job).
		Media(ndjson, googleapi.ContentType("application/octet-stream")).
		Context(ctx).Do()
	if err != nil {
		return nil, domain.WrapError(domain.KindLoadJobFailed, err, "submit load job")
	}

	return c.awaitLoadJob(ctx, project, inserted)
}

func (c *Client) awaitLoadJob(ctx context.Context, project string, job *bigquery.Job) (*LoadResult, error) {
	jobID, location := "", ""
	if job.JobReference != nil {
		jobID = job.JobReference.JobId
		location = job.JobReference.Location
	}

	current := job
	for poll := 0; current.Status == nil || current.Status.State != "DONE"; poll++ {
		if poll >= loadPollBudget {
			return nil, domain.NewError(domain.KindLoadJobFailed, "load job %s did not reach a terminal state", jobID)
		}
		select {
		case <-ctx.Done():
			return nil, domain.WrapError(domain.KindLoadJobFailed, ctx.Err(), "await load job %s", jobID)
		case <-time.After(loadPollInterval):
		}

		call := c.svc.Jobs.Get(project, jobID).Context(ctx)
		if location != "" {
			call = call.Location(location)
		}
		var err error
		current, err = call.Do()
		if err != nil {
			return nil, domain.WrapError(domain.KindLoadJobFailed, err, "poll load job %s", jobID)
		}
	}

	result := &LoadResult{}
	if stats := current.Statistics; stats != nil && stats.Load != nil {
		result.OutputRows = stats.Load.OutputRows
	}
	for _, e := range current.Status.Errors {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", e.Reason, e.Message))
	}
	if e := current.Status.ErrorResult; e != nil {
		return result, domain.NewError(domain.KindLoadJobFailed, "load job %s failed: %s: %s", jobID, e.Reason, e.Message)
	}
	return result, nil
}

// tableSchema maps a field list to the warehouse schema representation.
func tableSchema(fields []domain.Field) *bigquery.TableSchema {
	s := &bigquery.TableSchema{}
	for _, f := range fields {
		s.Fields = append(s.Fields, &bigquery.TableFieldSchema{
			Name: f.Name,
			Type: schema.BigQueryType(f.Class),
			Mode: "NULLABLE",
		})
	}
	return s
}

// UpdateSchema adds nullable string columns to a warehouse table,
// preserving the existing ones.
func (c *Client) UpdateSchema(ctx context.Context, project, dataset, table string, newColumns []string) error {
	if len(newColumns) == 0 {
		return nil
	}
	t, err := c.svc.Tables.Get(project, dataset, table).Context(ctx).Do()
	if err != nil {
		return classifyMetadataErr(err, project, dataset, table)
	}
	s := t.Schema
	if s == nil {
		s = &bigquery.TableSchema{}
	}
	for _, name := range newColumns {
		s.Fields = append(s.Fields, &bigquery.TableFieldSchema{
			Name: name,
			Type: "STRING",
			Mode: "NULLABLE",
		})
	}
	_, err = c.svc.Tables.Patch(project, dataset, table, &bigquery.Table{Schema: s}).Context(ctx).Do()
	if err != nil {
		return domain.WrapError(domain.KindSourceUnavailable, err, "patch schema for %s.%s.%s", project, dataset, table)
	}
	return nil
}
