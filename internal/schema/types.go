// Package schema compares source and sink schemas, maps type classes
// between the two systems, and validates upsert keys.
package schema

import (
	"strings"

	"dwsync/internal/domain"
)

// ClassFromBigQuery maps a BigQuery field type to its class.
func ClassFromBigQuery(bqType string) domain.FieldClass {
	switch strings.ToUpper(bqType) {
	case "STRING":
		return domain.ClassString
	case "INTEGER", "INT64":
		return domain.ClassInt
	case "FLOAT", "FLOAT64":
		return domain.ClassFloat
	case "BOOLEAN", "BOOL":
		return domain.ClassBool
	case "DATE":
		return domain.ClassDate
	case "DATETIME":
		return domain.ClassDatetime
	case "TIMESTAMP":
		return domain.ClassTimestamp
	case "NUMERIC", "BIGNUMERIC":
		return domain.ClassNumeric
	default:
		return domain.ClassUnknown
	}
}

// SinkType maps a class to the sink column type.
func SinkType(class domain.FieldClass) string {
	switch class {
	case domain.ClassString:
		return "TEXT"
	case domain.ClassInt:
		return "BIGINT"
	case domain.ClassFloat:
		return "DOUBLE PRECISION"
	case domain.ClassBool:
		return "BOOLEAN"
	case domain.ClassDate:
		return "DATE"
	case domain.ClassDatetime:
		return "TIMESTAMP"
	case domain.ClassTimestamp:
		return "TIMESTAMPTZ"
	case domain.ClassNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// BigQueryType maps a class to the warehouse field type, used when a load
// job creates a new table from inferred sheet columns.
func BigQueryType(class domain.FieldClass) string {
	switch class {
	case domain.ClassInt:
		return "INTEGER"
	case domain.ClassFloat:
		return "FLOAT"
	case domain.ClassBool:
		return "BOOLEAN"
	case domain.ClassDate:
		return "DATE"
	case domain.ClassDatetime:
		return "DATETIME"
	case domain.ClassTimestamp:
		return "TIMESTAMP"
	case domain.ClassNumeric:
		return "NUMERIC"
	default:
		return "STRING"
	}
}

// ClassFromSink maps an information-schema data_type back to a class, so
// Describe results compare against source snapshots on equal footing.
func ClassFromSink(dataType string) domain.FieldClass {
	switch strings.ToLower(dataType) {
	case "text", "character varying", "varchar", "character":
		return domain.ClassString
	case "bigint", "integer", "smallint":
		return domain.ClassInt
	case "double precision", "real":
		return domain.ClassFloat
	case "boolean":
		return domain.ClassBool
	case "date":
		return domain.ClassDate
	case "timestamp without time zone", "timestamp":
		return domain.ClassDatetime
	case "timestamp with time zone", "timestamptz":
		return domain.ClassTimestamp
	case "numeric", "decimal":
		return domain.ClassNumeric
	default:
		return domain.ClassUnknown
	}
}
