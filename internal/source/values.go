package source

import (
	"fmt"
	"strconv"
	"time"

	"dwsync/internal/domain"
)

// maxSafeInteger is the largest integer a float64 consumer can hold without
// loss. Integers beyond it stay strings.
const maxSafeInteger = int64(1)<<53 - 1

// convertValue maps one warehouse cell value onto its carrier type. The
// wire format delivers every scalar as a string; nulls arrive as nil.
func convertValue(raw any, class domain.FieldClass, forceString bool) any {
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		// Nested records and other non-scalar shapes pass through as their
		// string rendering.
		return fmt.Sprintf("%v", raw)
	}

	switch class {
	case domain.ClassInt:
		if forceString {
			return s
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n > maxSafeInteger || n < -maxSafeInteger {
			return s
		}
		return n
	case domain.ClassFloat:
		if forceString {
			return s
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return s
		}
		return f
	case domain.ClassBool:
		return s == "true"
	case domain.ClassTimestamp:
		// The wire carries timestamps as fractional epoch seconds; the sink
		// expects a textual timestamp.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC().Format("2006-01-02 15:04:05.999999+00")
		}
		return s
	default:
		// Dates, datetimes, numerics, and strings all travel as strings;
		// numerics in particular must not collapse to float64.
		return s
	}
}

// StringifyValue renders a carried value back to its source string form for
// cursor persistence and SQL literal composition.
func StringifyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
