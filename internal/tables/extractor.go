package tables

import (
	"fmt"
	"strconv"
	"strings"
)

// Extractor converts raw CSV cells into typed rows.
type Extractor struct {
	schema Schema
}

// NewExtractor creates a new row extractor for schema.
func NewExtractor(schema Schema) *Extractor {
	return &Extractor{schema: schema}
}

// Extract converts one CSV record. Short records are padded with nulls.
func (e *Extractor) Extract(cells []string) (Row, error) {
	row := make(Row, len(e.schema.Columns))
	for i, col := range e.schema.Columns {
		if i >= len(cells) || cells[i] == "" {
			continue
		}
		v, err := ParseCell(cells[i], col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// ParseCell converts a non-empty literal to the Go value for t.
func ParseCell(s string, t Type) (any, error) {
	switch t {
	case TypeLong:
		return strconv.ParseInt(s, 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(s, 64)
	case TypeBoolean:
		return strings.EqualFold(s, "true"), nil
	default:
		return s, nil
	}
}

// FormatValue renders a typed value back to its literal form. Nulls render
// as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
