package recordsync

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testFieldMap(t *testing.T) FieldMap {
	t.Helper()
	mapping, err := NewFieldMap("airtable_id", []FieldMapping{
		{External: "Startup name", Column: "startup_name"},
		{External: "PH1_Constitution_Location", Column: "ph1_constitution_location"},
	})
	if err != nil {
		t.Fatalf("new field map: %v", err)
	}
	return mapping
}

func TestNewFieldMapRejectsInvalidMappings(t *testing.T) {
	cases := []struct {
		name      string
		keyColumn string
		fields    []FieldMapping
	}{
		{name: "empty", keyColumn: "airtable_id", fields: nil},
		{name: "blank external", keyColumn: "airtable_id", fields: []FieldMapping{{External: "  ", Column: "a"}}},
		{name: "blank column", keyColumn: "airtable_id", fields: []FieldMapping{{External: "A", Column: ""}}},
		{name: "duplicate external", keyColumn: "airtable_id", fields: []FieldMapping{
			{External: "A", Column: "a"},
			{External: "A", Column: "b"},
		}},
		{name: "duplicate column", keyColumn: "airtable_id", fields: []FieldMapping{
			{External: "A", Column: "a"},
			{External: "B", Column: "a"},
		}},
		{name: "column collides with key", keyColumn: "airtable_id", fields: []FieldMapping{
			{External: "A", Column: "airtable_id"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFieldMap(tc.keyColumn, tc.fields); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestColumnsFollowDeclaredOrder(t *testing.T) {
	mapping := testFieldMap(t)
	want := []string{"airtable_id", "startup_name", "ph1_constitution_location"}
	if got := mapping.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected columns %v, got %v", want, got)
	}
	if got := mapping.FieldColumns(); !reflect.DeepEqual(got, want[1:]) {
		t.Fatalf("expected field columns %v, got %v", want[1:], got)
	}
}

func TestExtractValuesFollowsDeclaredOrderNotEventOrder(t *testing.T) {
	mapping := testFieldMap(t)
	values := mapping.ExtractValues(map[string]any{
		"PH1_Constitution_Location": "Berlin",
		"Startup name":              "Acme",
	})
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0] != "Acme" || values[1] != "Berlin" {
		t.Fatalf("expected declared order [Acme Berlin], got %v", values)
	}
}

func TestExtractValuesMissingFieldYieldsNil(t *testing.T) {
	mapping := testFieldMap(t)
	values := mapping.ExtractValues(map[string]any{"Startup name": "Acme"})
	if values[0] != "Acme" {
		t.Fatalf("expected Acme, got %v", values[0])
	}
	if values[1] != nil {
		t.Fatalf("expected nil for absent field, got %v", values[1])
	}
}

func TestExtractValuesIgnoresUnmappedFields(t *testing.T) {
	mapping := testFieldMap(t)
	values := mapping.ExtractValues(map[string]any{
		"Startup name":      "Acme",
		"Unmapped Nonsense": "ignored",
	})
	if len(values) != mapping.Len() {
		t.Fatalf("expected %d values, got %d", mapping.Len(), len(values))
	}
	for _, value := range values {
		if value == "ignored" {
			t.Fatalf("unmapped field leaked into extracted values: %v", values)
		}
	}
}

func TestLoadFieldMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	content := `{
		"keyColumn": "airtable_id",
		"fields": [
			{"external": "Startup name", "column": "startup_name"},
			{"external": "Phase", "column": "phase"}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}
	mapping, err := LoadFieldMapFile(path)
	if err != nil {
		t.Fatalf("load mapping file: %v", err)
	}
	want := []string{"airtable_id", "startup_name", "phase"}
	if got := mapping.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected columns %v, got %v", want, got)
	}
}

func TestLoadFieldMapFileRejectsSchemaViolations(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "not json", content: `{`},
		{name: "missing fields", content: `{"keyColumn": "airtable_id"}`},
		{name: "empty fields", content: `{"fields": []}`},
		{name: "bad column name", content: `{"fields": [{"external": "A", "column": "Not A Column"}]}`},
		{name: "extra property", content: `{"fields": [{"external": "A", "column": "a", "type": "text"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mapping.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write mapping file: %v", err)
			}
			if _, err := LoadFieldMapFile(path); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDefaultFieldMap(t *testing.T) {
	mapping := DefaultFieldMap()
	if mapping.KeyColumn() != "airtable_id" {
		t.Fatalf("expected airtable_id key column, got %s", mapping.KeyColumn())
	}
	columns := mapping.Columns()
	if columns[0] != "airtable_id" {
		t.Fatalf("expected key column first, got %v", columns)
	}
	found := false
	for _, column := range columns {
		if column == "startup_name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected startup_name in default mapping, got %v", columns)
	}
}
