package tables

import (
	"fmt"
	"strings"
)

// Type is a logical column type. Values follow the Delta primitive names.
type Type string

const (
	TypeString  Type = "string"
	TypeLong    Type = "long"
	TypeDouble  Type = "double"
	TypeBoolean Type = "boolean"
)

// ParseType maps a type name to a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(s)); t {
	case TypeString, TypeLong, TypeDouble, TypeBoolean:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported column type %q", s)
	}
}

// Column is one nullable column.
type Column struct {
	Name string
	Type Type
}

// Schema is an ordered list of columns.
type Schema struct {
	Columns []Column
}

// NewSchema builds a schema from name/type pairs.
func NewSchema(cols ...Column) Schema {
	return Schema{Columns: cols}
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Equal reports whether both schemas have the same columns in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Columns) != len(o.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

// Row holds one value per schema column. Values are nil, string, int64,
// float64 or bool.
type Row []any

// Value returns the row's value for the named column.
func (s Schema) Value(r Row, name string) any {
	i := s.Index(name)
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

// Compression selects the parquet page codec.
type Compression string

const (
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
	CompressionNone   Compression = "none"
)

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression Compression // "snappy" | "zstd" | "none"
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Compression: CompressionZstd,
	}
}

// FileSuffix returns the data file suffix, e.g. ".zstd.parquet".
func (c ParquetConfig) FileSuffix() string {
	switch c.Compression {
	case CompressionZstd, CompressionSnappy:
		return "." + string(c.Compression) + ".parquet"
	default:
		return ".parquet"
	}
}
