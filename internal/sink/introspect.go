package sink

import (
	"context"
	"fmt"
	"strings"

	"dwsync/internal/ddl"
	"dwsync/internal/domain"
	"dwsync/internal/schema"
)

// LastValue returns the maximum value of column, or nil when the table is
// empty or absent.
func (c *Client) LastValue(ctx context.Context, table, column string) (any, error) {
	sql := fmt.Sprintf("SELECT max(%s) AS value FROM %s",
		ddl.QuoteIdentifier(column), ddl.QuoteIdentifier(table))
	rows, err := c.ExecQuery(ctx, sql)
	if err != nil {
		// A column that does not exist yet reads the same as an absent
		// table: no last value.
		if strings.Contains(err.Error(), "42703") {
			return nil, nil
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["value"], nil
}

// Describe returns the sink table's columns mapped back to source type
// classes, excluding the engine-owned synced_at column. An absent table
// describes as empty.
func (c *Client) Describe(ctx context.Context, table string) ([]domain.Field, error) {
	sql := fmt.Sprintf(
		"SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = 'public' AND table_name = %s ORDER BY ordinal_position",
		ddl.QuoteLiteral(table))
	rows, err := c.ExecQuery(ctx, sql)
	if err != nil {
		return nil, err
	}
	var fields []domain.Field
	for _, r := range rows {
		name, _ := r["column_name"].(string)
		if strings.EqualFold(name, domain.SyncedAtColumn) {
			continue
		}
		dataType, _ := r["data_type"].(string)
		nullable, _ := r["is_nullable"].(string)
		fields = append(fields, domain.Field{
			Name:     name,
			Class:    schema.ClassFromSink(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return fields, nil
}
