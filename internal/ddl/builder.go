package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE and ADD COLUMN.
type ColumnDef struct {
	Name string
	Type string
}

// CreateTable returns the sink CREATE TABLE IF NOT EXISTS statement with
// the mapped columns plus the engine-owned synced_at column.
func CreateTable(table string, columns []ColumnDef) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	var colDefs []string
	for _, c := range columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
	}
	colDefs = append(colDefs, `"synced_at" TIMESTAMPTZ DEFAULT now()`)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		QuoteIdentifier(table),
		strings.Join(colDefs, ", "),
	), nil
}

// CreateUniqueIndex returns the statement establishing the upsert-key
// constraint <table>_unique_idx, created only when absent.
func CreateUniqueIndex(table string, columns []string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if err := ValidateIdentifier(c); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c, err)
		}
		quoted[i] = QuoteIdentifier(c)
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdentifier(table+"_unique_idx"),
		QuoteIdentifier(table),
		strings.Join(quoted, ", "),
	), nil
}

// AddColumn returns an ALTER TABLE ... ADD COLUMN IF NOT EXISTS statement.
func AddColumn(table string, column ColumnDef) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := ValidateIdentifier(column.Name); err != nil {
		return "", fmt.Errorf("invalid column name %q: %w", column.Name, err)
	}
	if err := ValidateColumnType(column.Type); err != nil {
		return "", fmt.Errorf("invalid column type for %q: %w", column.Name, err)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		QuoteIdentifier(table),
		QuoteIdentifier(column.Name),
		column.Type,
	), nil
}

// DropColumn returns an ALTER TABLE ... DROP COLUMN IF EXISTS statement.
func DropColumn(table, column string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", fmt.Errorf("invalid column name %q: %w", column, err)
	}
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
		QuoteIdentifier(table),
		QuoteIdentifier(column),
	), nil
}
