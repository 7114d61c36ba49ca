package delta

import (
	"encoding/json"
	"fmt"

	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

type structType struct {
	Type   string        `json:"type"`
	Fields []structField `json:"fields"`
}

type structField struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Nullable bool           `json:"nullable"`
	Metadata map[string]any `json:"metadata"`
}

// EncodeSchema renders a schema as a Delta schemaString.
func EncodeSchema(s tables.Schema) (string, error) {
	st := structType{Type: "struct", Fields: make([]structField, len(s.Columns))}
	for i, c := range s.Columns {
		st.Fields[i] = structField{
			Name:     c.Name,
			Type:     string(c.Type),
			Nullable: true,
			Metadata: map[string]any{},
		}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSchema parses a Delta schemaString.
func DecodeSchema(s string) (tables.Schema, error) {
	var st structType
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return tables.Schema{}, fmt.Errorf("parse schema: %w", err)
	}
	if st.Type != "struct" {
		return tables.Schema{}, fmt.Errorf("schema root type %q is not struct", st.Type)
	}

	cols := make([]tables.Column, len(st.Fields))
	for i, f := range st.Fields {
		t, err := tables.ParseType(f.Type)
		if err != nil {
			return tables.Schema{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		cols[i] = tables.Column{Name: f.Name, Type: t}
	}
	return tables.Schema{Columns: cols}, nil
}
