package domain

import "strings"

// FieldClass is the source-typed class of a column, independent of either
// system's concrete type names.
type FieldClass string

const (
	ClassString    FieldClass = "string"
	ClassInt       FieldClass = "int"
	ClassFloat     FieldClass = "float"
	ClassBool      FieldClass = "bool"
	ClassDate      FieldClass = "date"
	ClassDatetime  FieldClass = "datetime"
	ClassTimestamp FieldClass = "timestamp"
	ClassNumeric   FieldClass = "numeric"
	ClassUnknown   FieldClass = "unknown"
)

// Numeric reports whether SQL literals of this class are rendered unquoted.
func (c FieldClass) Numeric() bool {
	return c == ClassInt || c == ClassFloat || c == ClassNumeric
}

// Field is one column of a schema snapshot.
type Field struct {
	Name     string     `json:"name"`
	Class    FieldClass `json:"class"`
	Nullable bool       `json:"nullable"`
}

// FindField locates a field by case-insensitive name.
func FindField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the names of fields in declared order.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// SyncedAtColumn is the engine-owned sink column. It is added to every
// CREATE TABLE, excluded from Describe, and never reported as drift.
const SyncedAtColumn = "synced_at"
