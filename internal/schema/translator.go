// Package schema converts internal log-schema descriptions into Athena DDL.
//
// A log schema is a mapping from field name to either a primitive type tag
// ("string", "integer", "float", "boolean"), a nested mapping for struct
// fields, or a list for array fields. The translator sanitizes names, maps
// type tags to Hive types and renders deterministic statements: columns and
// struct sub-fields are always emitted in lexicographic order so two runs
// over the same schema produce byte-identical DDL.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alertlake/lakectl/internal/security"
)

// LogSchema maps field names to primitive type tags, nested LogSchema-shaped
// maps, or lists. It mirrors the logs.<type>.schema section of the config.
type LogSchema map[string]interface{}

// ColumnType is one Athena column definition: either a primitive Hive type
// keyword or a struct of sub-field name to primitive type.
type ColumnType struct {
	Primitive string
	Struct    map[string]string
}

// AthenaSchema maps sanitized column names to their Athena types. Derived
// deterministically from a LogSchema.
type AthenaSchema map[string]ColumnType

// createTableTemplate fixes the storage format and partition column. Parquet
// and the dt partition are constants of the ingestion pipeline, not per-table
// choices.
const createTableTemplate = "CREATE EXTERNAL TABLE %s (%s) " +
	"PARTITIONED BY (dt string) " +
	"STORED AS PARQUET " +
	"LOCATION 's3://%s/%s/'"

// typeTagMapping translates log schema primitive tags to Athena types.
var typeTagMapping = map[string]string{
	"string":  "string",
	"integer": "bigint",
	"float":   "decimal(10,3)",
	"boolean": "boolean",
}

var nonWordRegex = regexp.MustCompile(`\W`)

// SanitizeKey rewrites every non-word character to an underscore, matching
// what the ingestion pipeline does to field names before writing Parquet.
func SanitizeKey(key string) string {
	return nonWordRegex.ReplaceAllString(key, "_")
}

// SanitizeTableName maps a log type name like "cloudwatch:events" to the
// table name the ingestion pipeline writes to ("cloudwatch_events").
func SanitizeTableName(name string) string {
	return SanitizeKey(name)
}

// SanitizeKeys returns a copy of the schema with every key sanitized,
// recursing into nested struct fields.
func SanitizeKeys(schema LogSchema) LogSchema {
	out := make(LogSchema, len(schema))
	for key, value := range schema {
		if nested, ok := toNested(value); ok {
			out[SanitizeKey(key)] = map[string]interface{}(SanitizeKeys(nested))
			continue
		}
		out[SanitizeKey(key)] = value
	}
	return out
}

// toNested reports whether a schema value is a nested mapping. Config
// unmarshalling produces map[string]interface{}, but callers constructing
// schemas in code may use LogSchema directly.
func toNested(value interface{}) (LogSchema, bool) {
	switch v := value.(type) {
	case LogSchema:
		return v, true
	case map[string]interface{}:
		return LogSchema(v), true
	default:
		return nil, false
	}
}

// ToAthenaSchema converts a log schema to its Athena column set. Unknown type
// tags and value shapes are hard errors: a schema that cannot be fully
// translated must not silently produce a table missing columns.
func ToAthenaSchema(schema LogSchema) (AthenaSchema, error) {
	out := make(AthenaSchema, len(schema))

	for key, value := range schema {
		columnType, err := toColumnType(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = columnType
	}

	return out, nil
}

func toColumnType(value interface{}) (ColumnType, error) {
	if nested, ok := toNested(value); ok {
		// Free-form nested records carry no declared keys; they land in
		// Athena as a string map rather than an empty struct.
		if len(nested) == 0 {
			return ColumnType{Primitive: "map<string,string>"}, nil
		}
		sub, err := toStructFields(nested)
		if err != nil {
			return ColumnType{}, err
		}
		return ColumnType{Struct: sub}, nil
	}

	switch v := value.(type) {
	case string:
		athenaType, ok := typeTagMapping[v]
		if !ok {
			return ColumnType{}, fmt.Errorf("unknown type tag %q", v)
		}
		return ColumnType{Primitive: athenaType}, nil
	case []interface{}:
		return ColumnType{Primitive: "array<string>"}, nil
	default:
		return ColumnType{}, fmt.Errorf("unsupported schema value of type %T", value)
	}
}

// toStructFields maps a nested schema to struct sub-fields. Only one level of
// nesting is supported; a struct inside a struct is an error.
func toStructFields(nested LogSchema) (map[string]string, error) {
	sub := make(map[string]string, len(nested))
	for key, value := range nested {
		columnType, err := toColumnType(value)
		if err != nil {
			return nil, fmt.Errorf("struct field %q: %w", key, err)
		}
		if columnType.Struct != nil {
			return nil, fmt.Errorf("struct field %q: nested structs are not supported", key)
		}
		sub[key] = columnType.Primitive
	}
	return sub, nil
}

// RecordToSchema derives a log schema from a concrete record, used to build
// the alerts table from a synthetic fully-populated alert.
func RecordToSchema(record map[string]interface{}) LogSchema {
	schema := make(LogSchema, len(record))

	for key, value := range record {
		switch v := value.(type) {
		case bool:
			schema[key] = "boolean"
		case int, int32, int64:
			schema[key] = "integer"
		case float32, float64:
			schema[key] = "float"
		case map[string]interface{}:
			schema[key] = map[string]interface{}(RecordToSchema(v))
		case []interface{}:
			schema[key] = []interface{}{}
		default:
			schema[key] = "string"
		}
	}

	return schema
}

// CreateTableStatement renders the CREATE EXTERNAL TABLE statement for a
// table backed by s3://{bucket}/{table}/. Columns are sorted by name.
func CreateTableStatement(schema AthenaSchema, tableName, bucket string) (string, error) {
	escapedTable, err := security.ValidateAndEscapeIdentifier(tableName, "table name")
	if err != nil {
		return "", err
	}
	if len(schema) == 0 {
		return "", fmt.Errorf("schema for table %s has no columns", tableName)
	}

	columns := make([]string, 0, len(schema))
	for _, name := range sortedKeys(schema) {
		rendered, err := renderColumn(name, schema[name])
		if err != nil {
			return "", err
		}
		columns = append(columns, rendered)
	}

	return fmt.Sprintf(createTableTemplate,
		escapedTable, strings.Join(columns, ", "), bucket, tableName), nil
}

func renderColumn(name string, columnType ColumnType) (string, error) {
	escaped, err := security.ValidateAndEscapeIdentifier(name, "column name")
	if err != nil {
		return "", err
	}

	if columnType.Struct == nil {
		return fmt.Sprintf("%s %s", escaped, columnType.Primitive), nil
	}

	subNames := make([]string, 0, len(columnType.Struct))
	for sub := range columnType.Struct {
		subNames = append(subNames, sub)
	}
	sort.Strings(subNames)

	subFields := make([]string, 0, len(subNames))
	for _, sub := range subNames {
		escapedSub, err := security.ValidateAndEscapeIdentifier(sub, "struct field name")
		if err != nil {
			return "", err
		}
		subFields = append(subFields, fmt.Sprintf("%s:%s", escapedSub, columnType.Struct[sub]))
	}

	return fmt.Sprintf("%s struct<%s>", escaped, strings.Join(subFields, ", ")), nil
}

func sortedKeys(schema AthenaSchema) []string {
	keys := make([]string, 0, len(schema))
	for key := range schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
