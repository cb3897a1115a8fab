package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dwsync/internal/ddl"
	"dwsync/internal/domain"
)

// deleteChunkSize bounds one DELETE statement to stay well under request
// size limits.
const deleteChunkSize = 200

// Delete removes rows by unique-key tuple, returning the number of rows
// affected. Tuples are processed in chunks of 200. Single-column keys use
// an IN filter; composite keys use a disjunction of conjoined equalities.
func (c *Client) Delete(ctx context.Context, table string, keyColumns []string, keyTuples [][]any) (int64, error) {
	if len(keyTuples) == 0 {
		return 0, nil
	}
	if len(keyColumns) == 0 {
		return 0, domain.NewError(domain.KindSinkDeleteFailed, "delete from %s: no key columns", table)
	}

	var total int64
	for start := 0; start < len(keyTuples); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(keyTuples))
		n, err := c.deleteChunk(ctx, table, keyColumns, keyTuples[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *Client) deleteChunk(ctx context.Context, table string, keyColumns []string, tuples [][]any) (int64, error) {
	where, err := deletePredicate(keyColumns, tuples)
	if err != nil {
		return 0, domain.WrapError(domain.KindSinkDeleteFailed, err, "delete from %s", table)
	}
	sql := fmt.Sprintf(
		"WITH deleted AS (DELETE FROM %s WHERE %s RETURNING 1) SELECT count(*)::int AS count FROM deleted",
		ddl.QuoteIdentifier(table), where)
	rows, err := c.ExecQuery(ctx, sql)
	if err != nil {
		if domain.KindOf(err) == domain.KindSinkUnavailable {
			return 0, err
		}
		return 0, domain.WrapError(domain.KindSinkDeleteFailed, err, "delete from %s", table)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	switch v := rows[0]["count"].(type) {
	case float64:
		return int64(v), nil
	case string:
		var n int64
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n, nil
	default:
		return 0, nil
	}
}

// deletePredicate renders the WHERE clause for one chunk. Values are
// rendered as single-quoted literals with embedded quotes doubled.
func deletePredicate(keyColumns []string, tuples [][]any) (string, error) {
	if len(keyColumns) == 1 {
		values := make([]string, len(tuples))
		for i, t := range tuples {
			if len(t) != 1 {
				return "", fmt.Errorf("tuple arity %d does not match single key column", len(t))
			}
			values[i] = sqlValue(t[0])
		}
		return fmt.Sprintf("%s IN (%s)", ddl.QuoteIdentifier(keyColumns[0]), strings.Join(values, ", ")), nil
	}

	clauses := make([]string, len(tuples))
	for i, t := range tuples {
		if len(t) != len(keyColumns) {
			return "", fmt.Errorf("tuple arity %d does not match %d key columns", len(t), len(keyColumns))
		}
		parts := make([]string, len(keyColumns))
		for j, col := range keyColumns {
			parts[j] = fmt.Sprintf("%s = %s", ddl.QuoteIdentifier(col), sqlValue(t[j]))
		}
		clauses[i] = "(" + strings.Join(parts, " AND ") + ")"
	}
	return strings.Join(clauses, " OR "), nil
}

// sqlValue renders one key value as a SQL literal. NULL keys compare with
// IS NULL semantics nowhere in a unique key, so nil renders as NULL and
// simply matches nothing.
func sqlValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ddl.QuoteLiteral(fmt.Sprintf("%v", val))
	}
}
