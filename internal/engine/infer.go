package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dwsync/internal/domain"
)

// Inference and coercion patterns, tried in order: date, timestamp, float,
// integer, else string.
var (
	dateValueRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timestampValueRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`)
	floatValueRe     = regexp.MustCompile(`^-?\d+\.\d+$`)
	integerValueRe   = regexp.MustCompile(`^-?\d+$`)

	headerCharRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// sanitizeHeaders maps sheet headers onto warehouse-safe column names:
// lower case, [a-z0-9_] only, leading digits guarded with an underscore.
// Blank headers become positional names.
func sanitizeHeaders(cells []any) []string {
	headers := make([]string, len(cells))
	for i, c := range cells {
		name := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", c)))
		name = headerCharRe.ReplaceAllString(name, "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if name[0] >= '0' && name[0] <= '9' {
			name = "_" + name
		}
		headers[i] = name
	}
	return headers
}

// inferSchema scans each column's non-empty values and picks the narrowest
// class every value satisfies. Used only when the load creates the table.
func inferSchema(headers []string, rows [][]any) []domain.Field {
	fields := make([]domain.Field, len(headers))
	for col, name := range headers {
		fields[col] = domain.Field{Name: name, Class: inferColumn(rows, col), Nullable: true}
	}
	return fields
}

func inferColumn(rows [][]any, col int) domain.FieldClass {
	allDate, allTimestamp := true, true
	allNumeric, anyFloat := true, false
	seen := false

	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", row[col]))
		if s == "" {
			continue
		}
		seen = true
		if !dateValueRe.MatchString(s) {
			allDate = false
		}
		if !timestampValueRe.MatchString(s) {
			allTimestamp = false
		}
		switch {
		case floatValueRe.MatchString(s):
			anyFloat = true
		case integerValueRe.MatchString(s):
		default:
			allNumeric = false
		}
	}

	switch {
	case !seen:
		return domain.ClassString
	case allDate:
		return domain.ClassDate
	case allTimestamp:
		return domain.ClassTimestamp
	case allNumeric && anyFloat:
		return domain.ClassFloat
	case allNumeric:
		return domain.ClassInt
	default:
		return domain.ClassString
	}
}

// buildNDJSON renders a sheet page as newline-delimited JSON objects.
// Empty cells become null (omitted keys read as NULL in the warehouse);
// timestamp-looking values are normalized to "YYYY-MM-DD HH:MM:SS".
func buildNDJSON(headers []string, rows [][]any) *bytes.Buffer {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		record := make(map[string]any, len(headers))
		for i, h := range headers {
			if i >= len(row) {
				continue
			}
			s := strings.TrimSpace(fmt.Sprintf("%v", row[i]))
			if s == "" {
				continue
			}
			record[h] = coerceCell(s)
		}
		_ = enc.Encode(record)
	}
	return &buf
}

// timestampLayouts are the shapes normalized by coerceCell.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func coerceCell(s string) string {
	if timestampValueRe.MatchString(s) {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02 15:04:05")
			}
		}
	}
	return s
}
