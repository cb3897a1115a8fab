package schema

import (
	"strings"

	"dwsync/internal/domain"
)

// Changes lists the drift between a source snapshot and the sink.
type Changes struct {
	ToAdd  []domain.Field
	ToDrop []string
}

// Empty reports whether no drift was detected.
func (c Changes) Empty() bool {
	return len(c.ToAdd) == 0 && len(c.ToDrop) == 0
}

// DetectChanges compares schemas by case-insensitive column name. The
// engine-owned synced_at column is never dropped.
func DetectChanges(source, sink []domain.Field) Changes {
	var changes Changes
	for _, f := range source {
		if _, ok := domain.FindField(sink, f.Name); !ok {
			changes.ToAdd = append(changes.ToAdd, f)
		}
	}
	for _, f := range sink {
		if strings.EqualFold(f.Name, domain.SyncedAtColumn) {
			continue
		}
		if _, ok := domain.FindField(source, f.Name); !ok {
			changes.ToDrop = append(changes.ToDrop, f.Name)
		}
	}
	return changes
}

// ValidateUpsertKeys checks that every declared upsert column exists in the
// source schema (case-insensitive) and returns the ones that do not.
func ValidateUpsertKeys(upsertColumns []string, source []domain.Field) []string {
	var invalid []string
	for _, c := range upsertColumns {
		if _, ok := domain.FindField(source, c); !ok {
			invalid = append(invalid, c)
		}
	}
	return invalid
}
