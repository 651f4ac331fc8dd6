package recordsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldMapping binds one external field name to one storage column.
type FieldMapping struct {
	External string `json:"external"`
	Column   string `json:"column"`
}

// FieldMap is the fixed translation between the external source's field
// names and the storage schema, resolved once at startup and immutable
// for the process lifetime. The declared order of the mappings fixes the
// positional parameter order of every generated statement.
type FieldMap struct {
	keyColumn string
	fields    []FieldMapping
}

const DefaultKeyColumn = "airtable_id"

func NewFieldMap(keyColumn string, fields []FieldMapping) (FieldMap, error) {
	keyColumn = strings.TrimSpace(keyColumn)
	if keyColumn == "" {
		keyColumn = DefaultKeyColumn
	}
	if len(fields) == 0 {
		return FieldMap{}, fmt.Errorf("%w: field map requires at least one mapping", ErrInvalidInput)
	}
	seenExternal := make(map[string]bool, len(fields))
	seenColumn := map[string]bool{keyColumn: true}
	cloned := make([]FieldMapping, 0, len(fields))
	for _, mapping := range fields {
		external := strings.TrimSpace(mapping.External)
		column := strings.TrimSpace(mapping.Column)
		if external == "" || column == "" {
			return FieldMap{}, fmt.Errorf("%w: field mapping requires external name and column", ErrInvalidInput)
		}
		if seenExternal[external] {
			return FieldMap{}, fmt.Errorf("%w: duplicate external field %q", ErrInvalidInput, external)
		}
		if seenColumn[column] {
			return FieldMap{}, fmt.Errorf("%w: duplicate column %q", ErrInvalidInput, column)
		}
		seenExternal[external] = true
		seenColumn[column] = true
		cloned = append(cloned, FieldMapping{External: external, Column: column})
	}
	return FieldMap{keyColumn: keyColumn, fields: cloned}, nil
}

// DefaultFieldMap covers the fields the source base is known to emit.
func DefaultFieldMap() FieldMap {
	mapping, err := NewFieldMap(DefaultKeyColumn, []FieldMapping{
		{External: "Startup name", Column: "startup_name"},
		{External: "Founder email", Column: "founder_email"},
		{External: "Phase", Column: "phase"},
		{External: "PH1_Constitution_Location", Column: "ph1_constitution_location"},
		{External: "Notes", Column: "notes"},
	})
	if err != nil {
		panic("recordsync: default field map is invalid: " + err.Error())
	}
	return mapping
}

func (m FieldMap) KeyColumn() string {
	return m.keyColumn
}

func (m FieldMap) Len() int {
	return len(m.fields)
}

// Columns returns the storage column order used by generated statements:
// the external-key column first, then one column per mapping in declared
// order.
func (m FieldMap) Columns() []string {
	columns := make([]string, 0, len(m.fields)+1)
	columns = append(columns, m.keyColumn)
	for _, mapping := range m.fields {
		columns = append(columns, mapping.Column)
	}
	return columns
}

// FieldColumns returns the mapped columns without the key column.
func (m FieldMap) FieldColumns() []string {
	columns := make([]string, 0, len(m.fields))
	for _, mapping := range m.fields {
		columns = append(columns, mapping.Column)
	}
	return columns
}

// ExtractValues pulls one value per mapping out of an external record's
// fields, in declared order. A field the event does not carry yields nil,
// which the storage layer writes as NULL; absence is never an error since
// the source omits optional fields.
func (m FieldMap) ExtractValues(fields map[string]any) []any {
	values := make([]any, len(m.fields))
	for i, mapping := range m.fields {
		if value, ok := fields[mapping.External]; ok {
			values[i] = value
		}
	}
	return values
}

const fieldMapFileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["fields"],
	"properties": {
		"keyColumn": {
			"type": "string",
			"pattern": "^[a-z_][a-z0-9_]*$"
		},
		"fields": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["external", "column"],
				"properties": {
					"external": {"type": "string", "minLength": 1},
					"column": {"type": "string", "pattern": "^[a-z_][a-z0-9_]*$"}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var fieldMapSchema = mustCompileSchema("fieldmap.json", fieldMapFileSchema)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic("recordsync: invalid embedded schema " + name + ": " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic("recordsync: invalid embedded schema " + name + ": " + err.Error())
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic("recordsync: invalid embedded schema " + name + ": " + err.Error())
	}
	return schema
}

type fieldMapFile struct {
	KeyColumn string         `json:"keyColumn"`
	Fields    []FieldMapping `json:"fields"`
}

// LoadFieldMapFile reads a mapping file of the form
//
//	{"keyColumn": "airtable_id", "fields": [{"external": "...", "column": "..."}]}
//
// validates it against the embedded schema, and returns the resulting
// FieldMap.
func LoadFieldMapFile(path string) (FieldMap, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return FieldMap{}, ErrInvalidInput
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return FieldMap{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return FieldMap{}, fmt.Errorf("%w: mapping file is not valid json: %v", ErrInvalidInput, err)
	}
	if err := fieldMapSchema.Validate(doc); err != nil {
		return FieldMap{}, fmt.Errorf("%w: mapping file rejected by schema: %v", ErrInvalidInput, err)
	}
	var parsed fieldMapFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return FieldMap{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return NewFieldMap(parsed.KeyColumn, parsed.Fields)
}
