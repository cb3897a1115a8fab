package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"dwsync/internal/ddl"
	"dwsync/internal/domain"
	"dwsync/internal/runlog"
)

// detectDeletes removes sink rows whose unique-key tuple is no longer
// present in the source. Three circuit breakers guard the phase:
//
//	A: source returned zero keys   → warn and skip (likely misconfiguration)
//	B: sink is empty               → skip (first sync)
//	C: candidates > half the sink  → fail DestructiveAnomaly
func (e *Engine) detectDeletes(ctx context.Context, job *domain.Job, st *domain.RunState,
	rl *runlog.RunLogger, logger *slog.Logger) (int64, error) {

	keyCols := job.Supabase.UpsertColumns
	classes := make([]domain.FieldClass, len(keyCols))
	for i, c := range keyCols {
		f, _ := domain.FindField(st.Schema, c)
		classes[i] = f.Class
	}

	rl.Info(ctx, phaseDelete, "scanning source keys", nil)
	sourceKeys := make(map[string]struct{})
	err := e.source.QueryPaginated(ctx, job.BigQuery.ProjectID, buildKeyScanSQL(job), nil, func(r domain.Row) error {
		if len(sourceKeys) >= e.maxSourceKeys {
			return domain.NewError(domain.KindDeleteScanOverflow,
				"source key scan exceeded %d rows, aborting delete detection", e.maxSourceKeys)
		}
		values := make([]any, len(keyCols))
		for i, c := range keyCols {
			values[i], _ = r.Value(c)
		}
		sourceKeys[canonicalKey(values, classes)] = struct{}{}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Gate A: an empty source at delete time reads as a scope or
	// connectivity regression, not a mass deletion.
	if len(sourceKeys) == 0 {
		rl.Warning(ctx, phaseDelete, "source returned zero keys, skipping delete detection", nil)
		logger.Warn("delete detection skipped: source returned zero keys")
		return 0, nil
	}

	var sinkCount int64
	var candidates [][]any
	for offset := 0; ; offset += sinkScanPageSize {
		rows, err := e.sink.ExecQuery(ctx, buildSinkKeySQL(job.Supabase.Table, keyCols, sinkScanPageSize, offset))
		if err != nil {
			return 0, err
		}
		sinkCount += int64(len(rows))
		for _, row := range rows {
			values := make([]any, len(keyCols))
			for i, c := range keyCols {
				values[i] = row[c]
			}
			if _, ok := sourceKeys[canonicalKey(values, classes)]; !ok {
				candidates = append(candidates, values)
			}
		}
		if len(rows) < sinkScanPageSize {
			break
		}
	}

	// Gate B: nothing to delete from an empty mirror.
	if sinkCount == 0 {
		return 0, nil
	}

	// Gate C: a candidate set larger than half the mirror means the source
	// scope silently shrank; refuse to wipe.
	if int64(len(candidates))*2 > sinkCount {
		return 0, domain.NewError(domain.KindDestructiveAnomaly,
			"delete detection would remove %d of %d sink rows", len(candidates), sinkCount)
	}

	if len(candidates) == 0 {
		return 0, nil
	}
	deleted, err := e.sink.Delete(ctx, job.Supabase.Table, keyCols, candidates)
	if err != nil {
		return deleted, err
	}
	rl.Info(ctx, phaseDelete, fmt.Sprintf("deleted %d rows no longer in source", deleted),
		map[string]any{"candidates": len(candidates), "sinkRows": sinkCount})
	return deleted, nil
}

// buildSinkKeySQL pages the sink's key projection with OFFSET pagination.
func buildSinkKeySQL(table string, keyCols []string, limit, offset int) string {
	quoted := make([]string, len(keyCols))
	for i, c := range keyCols {
		quoted[i] = ddl.QuoteIdentifier(c)
	}
	cols := strings.Join(quoted, ", ")
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		cols, ddl.QuoteIdentifier(table), cols, limit, offset)
}

// canonicalKey serializes a key tuple as a JSON array in declared column
// order. Rendering is class-driven so a source value carried as a string
// ("1" for a force-string integer) and the sink's numeric reading of the
// same cell (1) encode identically, while genuinely textual "1" stays
// distinct from integer 1.
func canonicalKey(values []any, classes []domain.FieldClass) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = canonicalValue(v, classes[i])
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func canonicalValue(v any, class domain.FieldClass) string {
	if v == nil {
		return "null"
	}
	switch class {
	case domain.ClassInt, domain.ClassFloat, domain.ClassNumeric:
		switch val := v.(type) {
		case int64:
			return strconv.FormatInt(val, 10)
		case float64:
			return strconv.FormatFloat(val, 'g', -1, 64)
		case string:
			if numericLiteralRe.MatchString(val) {
				return val
			}
			return jsonString(val)
		default:
			return jsonString(fmt.Sprintf("%v", val))
		}
	case domain.ClassBool:
		switch val := v.(type) {
		case bool:
			return strconv.FormatBool(val)
		case string:
			return val
		default:
			return jsonString(fmt.Sprintf("%v", val))
		}
	default:
		return jsonString(fmt.Sprintf("%v", v))
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
