package tables

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// parquetSchema builds a dynamic parquet schema with one optional leaf per
// column. parquet.Group orders fields by name, so callers must resolve leaf
// indexes through leafIndexes rather than schema position.
func parquetSchema(name string, s Schema) *parquet.Schema {
	group := parquet.Group{}
	for _, c := range s.Columns {
		group[c.Name] = parquet.Optional(leafNode(c.Type))
	}
	return parquet.NewSchema(name, group)
}

func leafNode(t Type) parquet.Node {
	switch t {
	case TypeLong:
		return parquet.Int(64)
	case TypeDouble:
		return parquet.Leaf(parquet.DoubleType)
	case TypeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

// leafIndexes maps top-level column names to parquet leaf column indexes.
func leafIndexes(ps *parquet.Schema) map[string]int {
	cols := ps.Columns()
	idx := make(map[string]int, len(cols))
	for i, path := range cols {
		if len(path) > 0 {
			idx[path[0]] = i
		}
	}
	return idx
}

func (c ParquetConfig) writerOptions() []parquet.WriterOption {
	switch c.Compression {
	case CompressionZstd:
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}
	case CompressionSnappy:
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}
	default:
		return nil
	}
}

// EncodeParquet writes rows as a single parquet file.
func EncodeParquet(name string, schema Schema, rows []Row, cfg ParquetConfig) ([]byte, error) {
	ps := parquetSchema(name, schema)
	leaves := leafIndexes(ps)

	prows := make([]parquet.Row, 0, len(rows))
	for n, row := range rows {
		if len(row) != len(schema.Columns) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", n, len(row), len(schema.Columns))
		}
		prow := make(parquet.Row, len(schema.Columns))
		for i, col := range schema.Columns {
			leaf := leaves[col.Name]
			v, err := parquetValue(row[i], col.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", n, col.Name, err)
			}
			if v.IsNull() {
				prow[leaf] = v.Level(0, 0, leaf)
			} else {
				prow[leaf] = v.Level(0, 1, leaf)
			}
		}
		prows = append(prows, prow)
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, append([]parquet.WriterOption{ps}, cfg.writerOptions()...)...)
	if len(prows) > 0 {
		if _, err := w.WriteRows(prows); err != nil {
			return nil, fmt.Errorf("write rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetValue(v any, t Type) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch t {
	case TypeLong:
		x, ok := v.(int64)
		if !ok {
			return parquet.Value{}, fmt.Errorf("want int64, got %T", v)
		}
		return parquet.Int64Value(x), nil
	case TypeDouble:
		x, ok := v.(float64)
		if !ok {
			return parquet.Value{}, fmt.Errorf("want float64, got %T", v)
		}
		return parquet.DoubleValue(x), nil
	case TypeBoolean:
		x, ok := v.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("want bool, got %T", v)
		}
		return parquet.BooleanValue(x), nil
	default:
		return parquet.ByteArrayValue([]byte(FormatValue(v))), nil
	}
}

// DecodeParquet reads every row of a parquet file, projecting onto schema.
// Columns absent from the file read as null.
func DecodeParquet(data []byte, schema Schema) ([]Row, error) {
	r := parquet.NewReader(bytes.NewReader(data))
	defer r.Close()

	names := r.Schema().Columns()
	target := make([]int, len(names))
	for i, path := range names {
		target[i] = -1
		if len(path) > 0 {
			target[i] = schema.Index(path[0])
		}
	}

	var rows []Row
	buf := make([]parquet.Row, 64)
	for {
		n, err := r.ReadRows(buf)
		for _, prow := range buf[:n] {
			row := make(Row, len(schema.Columns))
			for _, v := range prow {
				col := v.Column()
				if col < 0 || col >= len(target) || target[col] < 0 {
					continue
				}
				k := target[col]
				row[k] = goValue(v, schema.Columns[k].Type)
			}
			rows = append(rows, row)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	return rows, nil
}

func goValue(v parquet.Value, t Type) any {
	if v.IsNull() {
		return nil
	}
	switch t {
	case TypeLong:
		return v.Int64()
	case TypeDouble:
		return v.Double()
	case TypeBoolean:
		return v.Boolean()
	default:
		return string(v.ByteArray())
	}
}
