package schema

import (
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain name unchanged",
			input:    "hostIdentifier",
			expected: "hostIdentifier",
		},
		{
			name:     "colon replaced",
			input:    "cloudwatch:events",
			expected: "cloudwatch_events",
		},
		{
			name:     "hyphen replaced",
			input:    "detail-type",
			expected: "detail_type",
		},
		{
			name:     "dots and spaces replaced",
			input:    "a.b c",
			expected: "a_b_c",
		},
		{
			name:     "underscores preserved",
			input:    "already_safe_123",
			expected: "already_safe_123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeKey(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSanitizeKeysRecursesIntoStructs(t *testing.T) {
	schema := LogSchema{
		"detail-type": "string",
		"detail": map[string]interface{}{
			"sub-field": "integer",
		},
	}

	sanitized := SanitizeKeys(schema)

	if _, ok := sanitized["detail_type"]; !ok {
		t.Errorf("expected top-level key to be sanitized, got keys %v", sanitized)
	}
	nested, ok := sanitized["detail"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested map for detail, got %T", sanitized["detail"])
	}
	if _, ok := nested["sub_field"]; !ok {
		t.Errorf("expected nested key to be sanitized, got %v", nested)
	}
	// Original must be untouched
	if _, ok := schema["detail_type"]; ok {
		t.Error("SanitizeKeys mutated its input")
	}
}

func TestToAthenaSchema(t *testing.T) {
	tests := []struct {
		name        string
		schema      LogSchema
		wantErr     bool
		errContains string
		check       func(t *testing.T, out AthenaSchema)
	}{
		{
			name: "primitive tags map to Hive types",
			schema: LogSchema{
				"name":    "string",
				"count":   "integer",
				"ratio":   "float",
				"enabled": "boolean",
			},
			check: func(t *testing.T, out AthenaSchema) {
				want := map[string]string{
					"name":    "string",
					"count":   "bigint",
					"ratio":   "decimal(10,3)",
					"enabled": "boolean",
				}
				for column, athenaType := range want {
					if out[column].Primitive != athenaType {
						t.Errorf("column %s: expected %s, got %s", column, athenaType, out[column].Primitive)
					}
				}
			},
		},
		{
			name: "list maps to array of string",
			schema: LogSchema{
				"resources": []interface{}{},
			},
			check: func(t *testing.T, out AthenaSchema) {
				if out["resources"].Primitive != "array<string>" {
					t.Errorf("expected array<string>, got %s", out["resources"].Primitive)
				}
			},
		},
		{
			name: "empty nested map becomes string map",
			schema: LogSchema{
				"columns": map[string]interface{}{},
			},
			check: func(t *testing.T, out AthenaSchema) {
				if out["columns"].Primitive != "map<string,string>" {
					t.Errorf("expected map<string,string>, got %s", out["columns"].Primitive)
				}
			},
		},
		{
			name: "nested map becomes struct",
			schema: LogSchema{
				"detail": map[string]interface{}{
					"action":   "string",
					"severity": "integer",
				},
			},
			check: func(t *testing.T, out AthenaSchema) {
				sub := out["detail"].Struct
				if sub == nil {
					t.Fatal("expected struct column for detail")
				}
				if sub["action"] != "string" || sub["severity"] != "bigint" {
					t.Errorf("unexpected struct fields: %v", sub)
				}
			},
		},
		{
			name: "unknown type tag is an error",
			schema: LogSchema{
				"when": "datetime",
			},
			wantErr:     true,
			errContains: `unknown type tag "datetime"`,
		},
		{
			name: "unsupported value shape is an error",
			schema: LogSchema{
				"count": 42,
			},
			wantErr:     true,
			errContains: "unsupported schema value",
		},
		{
			name: "struct inside struct is an error",
			schema: LogSchema{
				"outer": map[string]interface{}{
					"inner": map[string]interface{}{
						"leaf": "string",
					},
				},
			},
			wantErr:     true,
			errContains: "nested structs are not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ToAthenaSchema(tt.schema)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, out)
		})
	}
}

func TestRecordToSchema(t *testing.T) {
	record := map[string]interface{}{
		"rule_name": "my_rule",
		"staged":    false,
		"attempts":  3,
		"score":     0.5,
		"outputs":   []interface{}{"slack:alerts"},
		"record": map[string]interface{}{
			"key": "value",
		},
	}

	schema := RecordToSchema(record)

	if schema["rule_name"] != "string" {
		t.Errorf("expected string for rule_name, got %v", schema["rule_name"])
	}
	if schema["staged"] != "boolean" {
		t.Errorf("expected boolean for staged, got %v", schema["staged"])
	}
	if schema["attempts"] != "integer" {
		t.Errorf("expected integer for attempts, got %v", schema["attempts"])
	}
	if schema["score"] != "float" {
		t.Errorf("expected float for score, got %v", schema["score"])
	}
	if _, ok := schema["outputs"].([]interface{}); !ok {
		t.Errorf("expected list for outputs, got %T", schema["outputs"])
	}
	nested, ok := schema["record"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested schema for record, got %T", schema["record"])
	}
	if nested["key"] != "string" {
		t.Errorf("expected string for nested key, got %v", nested["key"])
	}
}

func TestCreateTableStatement(t *testing.T) {
	athenaSchema := AthenaSchema{
		"zeta":  {Primitive: "string"},
		"alpha": {Primitive: "bigint"},
		"detail": {Struct: map[string]string{
			"b_field": "string",
			"a_field": "bigint",
		}},
	}

	stmt, err := CreateTableStatement(athenaSchema, "cloudwatch_events", "acme.alertlake.data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "CREATE EXTERNAL TABLE `cloudwatch_events` " +
		"(`alpha` bigint, `detail` struct<`a_field`:bigint, `b_field`:string>, `zeta` string) " +
		"PARTITIONED BY (dt string) " +
		"STORED AS PARQUET " +
		"LOCATION 's3://acme.alertlake.data/cloudwatch_events/'"
	if stmt != expected {
		t.Errorf("expected:\n%s\ngot:\n%s", expected, stmt)
	}
}

func TestCreateTableStatementDeterministic(t *testing.T) {
	athenaSchema := AthenaSchema{
		"c": {Primitive: "string"},
		"a": {Primitive: "string"},
		"b": {Primitive: "string"},
	}

	first, err := CreateTableStatement(athenaSchema, "events", "bucket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CreateTableStatement(athenaSchema, "events", "bucket")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("statement not deterministic:\n%s\n%s", first, again)
		}
	}
}

func TestCreateTableStatementRoundTrip(t *testing.T) {
	logSchema := LogSchema{
		"detail-type": "string",
		"account":     "string",
		"resources":   []interface{}{},
		"detail": map[string]interface{}{
			"action": "string",
		},
	}

	athenaSchema, err := ToAthenaSchema(SanitizeKeys(logSchema))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stmt, err := CreateTableStatement(athenaSchema, "cloudwatch_events", "bucket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Parse the column list back out of the statement and compare it to the
	// sanitized source schema.
	start := strings.Index(stmt, "(")
	end := strings.Index(stmt, ") PARTITIONED BY")
	if start < 0 || end < 0 {
		t.Fatalf("statement missing column list: %s", stmt)
	}
	columnList := stmt[start+1 : end]

	var parsed []string
	for _, column := range strings.Split(columnList, ", `") {
		name := strings.TrimPrefix(column, "`")
		name = name[:strings.Index(name, "`")]
		parsed = append(parsed, name)
	}

	expected := []string{"account", "detail", "detail_type", "resources"}
	if len(parsed) != len(expected) {
		t.Fatalf("expected columns %v, got %v", expected, parsed)
	}
	for i, name := range expected {
		if parsed[i] != name {
			t.Errorf("column %d: expected %s, got %s", i, name, parsed[i])
		}
	}
}

func TestCreateTableStatementErrors(t *testing.T) {
	tests := []struct {
		name        string
		schema      AthenaSchema
		table       string
		errContains string
	}{
		{
			name:        "empty schema",
			schema:      AthenaSchema{},
			table:       "events",
			errContains: "no columns",
		},
		{
			name:        "invalid table name",
			schema:      AthenaSchema{"a": {Primitive: "string"}},
			table:       "bad-table",
			errContains: "invalid characters",
		},
		{
			name:        "invalid column name",
			schema:      AthenaSchema{"bad column": {Primitive: "string"}},
			table:       "events",
			errContains: "invalid characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateTableStatement(tt.schema, tt.table, "bucket")
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
			}
		})
	}
}
