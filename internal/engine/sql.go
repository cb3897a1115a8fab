package engine

import (
	"fmt"
	"regexp"
	"strings"

	"dwsync/internal/domain"
)

// numericLiteralRe admits values that may be rendered unquoted in a SQL
// comparison. Anything else gets quoted.
var numericLiteralRe = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][+-]?\d+)?$`)

// cursorColumns returns the ordering pair for a job: the incremental
// column (or the first upsert column when the job has none) and the
// tie-breaker, which is always the first upsert column.
func cursorColumns(job *domain.Job) (inc, tie string) {
	tie = job.Supabase.UpsertColumns[0]
	inc = job.BigQuery.IncrementalColumn
	if inc == "" {
		inc = tie
	}
	return inc, tie
}

// buildSelectSQL composes the page query for one batch.
//
// The initial filter is a strict > on the incremental column against the
// run-start last-sync value; ties are handled by the compound cursor
// predicate on later batches, never by widening the operator. Jobs with an
// onDateTie=reprocess policy on a DATE column widen the initial filter to
// >= instead, accepting re-reads over same-day skips.
func buildSelectSQL(job *domain.Job, st *domain.RunState, batchNumber, limit int) string {
	incName, tieName := cursorColumns(job)
	incField, _ := domain.FindField(st.Schema, incName)
	tieField, _ := domain.FindField(st.Schema, tieName)

	var b strings.Builder
	b.WriteString("SELECT ")
	names := make([]string, len(st.Schema))
	for i, f := range st.Schema {
		names[i] = quoteBQIdentifier(f.Name)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteBQTable(job.BigQuery.ProjectID, job.BigQuery.Dataset, job.BigQuery.Table))

	var conds []string
	if job.BigQuery.IncrementalColumn != "" && st.LastSyncValue != nil {
		op := ">"
		if job.BigQuery.OnDateTie == domain.DateTieReprocess && incField.Class == domain.ClassDate {
			op = ">="
		}
		conds = append(conds, fmt.Sprintf("%s %s %s",
			quoteBQIdentifier(incName), op, bqLiteral(*st.LastSyncValue, incField.Class)))
	}
	if batchNumber > 1 && st.Cursor != nil {
		incLit := bqLiteral(st.Cursor.Inc, incField.Class)
		tieLit := bqLiteral(st.Cursor.Tie, tieField.Class)
		conds = append(conds, fmt.Sprintf("((%s > %s) OR (%s = %s AND %s > %s))",
			quoteBQIdentifier(incName), incLit,
			quoteBQIdentifier(incName), incLit,
			quoteBQIdentifier(tieName), tieLit))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(quoteBQIdentifier(incName))
	b.WriteString(" ASC")
	if !strings.EqualFold(incName, tieName) {
		b.WriteString(", ")
		b.WriteString(quoteBQIdentifier(tieName))
		b.WriteString(" ASC")
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)
	return b.String()
}

// buildKeyScanSQL composes the unfiltered key projection for the delete
// phase.
func buildKeyScanSQL(job *domain.Job) string {
	names := make([]string, len(job.Supabase.UpsertColumns))
	for i, c := range job.Supabase.UpsertColumns {
		names[i] = quoteBQIdentifier(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(names, ", "),
		quoteBQTable(job.BigQuery.ProjectID, job.BigQuery.Dataset, job.BigQuery.Table))
}

// quoteBQIdentifier wraps an identifier in backticks, the warehouse's
// quoting form.
func quoteBQIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

// quoteBQTable renders the fully-qualified table path.
func quoteBQTable(project, dataset, table string) string {
	return quoteBQIdentifier(project + "." + dataset + "." + table)
}

// bqLiteral renders a carried string value as a warehouse SQL literal.
// Numeric and boolean classes render unquoted when the value passes shape
// validation; everything else is quoted with backslash escaping.
func bqLiteral(value string, class domain.FieldClass) string {
	if class.Numeric() && numericLiteralRe.MatchString(value) {
		return value
	}
	if class == domain.ClassBool && (value == "true" || value == "false") {
		return strings.ToUpper(value)
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}
