package domain

import "time"

// Job type constants select the engine variant.
const (
	JobTypeBQToSupabase = "bq-to-supabase"
	JobTypeSheetsToBQ   = "sheets-to-bq"
)

// OnDateTie policies for DATE-typed incremental columns. skip keeps the
// strict > filter; reprocess widens the initial filter to >= so rows that
// landed after a mid-day partial run are re-read (upserts make that safe).
const (
	DateTieSkip      = "skip"
	DateTieReprocess = "reprocess"
)

// BigQuerySource locates the warehouse table and controls extraction.
// For sheets-to-bq jobs it names the load destination instead.
type BigQuerySource struct {
	ProjectID         string   `json:"projectId"`
	Dataset           string   `json:"dataset"`
	Table             string   `json:"table"`
	IncrementalColumn string   `json:"incrementalColumn,omitempty"`
	ForceStringFields []string `json:"forceStringFields,omitempty"`
	OnDateTie         string   `json:"onDateTie,omitempty"`
}

// SupabaseSink locates the sink table and declares the upsert key.
type SupabaseSink struct {
	Table         string   `json:"table"`
	UpsertColumns []string `json:"upsertColumns"`
}

// SheetsSource locates a spreadsheet tab for sheets-to-bq jobs.
type SheetsSource struct {
	SpreadsheetURL string `json:"spreadsheetUrl"`
	SheetName      string `json:"sheetName,omitempty"`
	Append         bool   `json:"append,omitempty"`
}

// Job is one configured synchronization, persisted at job:{id}.
type Job struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Enabled      bool           `json:"enabled"`
	CronSchedule string         `json:"cronSchedule,omitempty"`
	BigQuery     BigQuerySource `json:"bigquery"`
	Supabase     SupabaseSink   `json:"supabase"`
	Sheets       SheetsSource   `json:"sheets"`

	LastStatus  string     `json:"lastStatus,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastSummary string     `json:"lastSummary,omitempty"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
}

// Variant returns the effective job type, defaulting to bq-to-supabase.
func (j *Job) Variant() string {
	if j.Type == "" {
		return JobTypeBQToSupabase
	}
	return j.Type
}

// Validate checks fields common to both variants plus the variant-specific
// locators. Upsert-key existence against the source schema is checked at
// run time, not here.
func (j *Job) Validate() error {
	if j.Name == "" {
		return NewError(KindConfigInvalid, "job name is required")
	}
	switch j.Variant() {
	case JobTypeBQToSupabase:
		if j.BigQuery.ProjectID == "" || j.BigQuery.Dataset == "" || j.BigQuery.Table == "" {
			return NewError(KindConfigInvalid, "bigquery projectId, dataset, and table are required")
		}
		if j.Supabase.Table == "" {
			return NewError(KindConfigInvalid, "supabase table is required")
		}
		if len(j.Supabase.UpsertColumns) == 0 {
			return NewError(KindConfigInvalid, "at least one upsert column is required")
		}
		if t := j.BigQuery.OnDateTie; t != "" && t != DateTieSkip && t != DateTieReprocess {
			return NewError(KindConfigInvalid, "onDateTie must be %q or %q", DateTieSkip, DateTieReprocess)
		}
	case JobTypeSheetsToBQ:
		if j.Sheets.SpreadsheetURL == "" {
			return NewError(KindConfigInvalid, "sheets spreadsheetUrl is required")
		}
		if j.BigQuery.ProjectID == "" || j.BigQuery.Dataset == "" || j.BigQuery.Table == "" {
			return NewError(KindConfigInvalid, "bigquery destination projectId, dataset, and table are required")
		}
	default:
		return NewError(KindConfigInvalid, "unknown job type %q", j.Type)
	}
	return nil
}
