package delta

import (
	"context"
	"fmt"

	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Snapshot is the table state at one version.
type Snapshot struct {
	table *Table

	Version    int64
	Protocol   Protocol
	Metadata   Metadata
	Schema     tables.Schema
	Files      []AddFile
	CommitInfo *CommitInfo
}

// PartitionColumn returns the partition column, or "" if unpartitioned.
func (s *Snapshot) PartitionColumn() string {
	if len(s.Metadata.PartitionColumns) == 0 {
		return ""
	}
	return s.Metadata.PartitionColumns[0]
}

// NumRecords sums the file stats. Files without stats are not counted.
func (s *Snapshot) NumRecords() int64 {
	var n int64
	for i := range s.Files {
		if c := s.Files[i].NumRecords(); c > 0 {
			n += c
		}
	}
	return n
}

// PartitionValues returns the distinct partition values in file order.
func (s *Snapshot) PartitionValues() []string {
	col := s.PartitionColumn()
	if col == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range s.Files {
		v := f.PartitionValues[col]
		if v == nil || seen[*v] {
			continue
		}
		seen[*v] = true
		out = append(out, *v)
	}
	return out
}

// ReadAll returns every row of the snapshot.
func (s *Snapshot) ReadAll(ctx context.Context) ([]tables.Row, error) {
	return s.read(ctx, s.Files)
}

// ReadPartition returns the rows whose partition column equals value.
func (s *Snapshot) ReadPartition(ctx context.Context, value string) ([]tables.Row, error) {
	col := s.PartitionColumn()
	if col == "" {
		return nil, fmt.Errorf("table %s is not partitioned", s.table.URI())
	}
	var files []AddFile
	for _, f := range s.Files {
		if v := f.PartitionValues[col]; v != nil && *v == value {
			files = append(files, f)
		}
	}
	return s.read(ctx, files)
}

func (s *Snapshot) read(ctx context.Context, files []AddFile) ([]tables.Row, error) {
	col := s.PartitionColumn()
	colIdx := s.Schema.Index(col)

	var rows []tables.Row
	for _, f := range files {
		rel, err := decodePath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("decode path %s: %w", f.Path, err)
		}
		data, err := s.table.store.Get(ctx, s.table.prefix+rel)
		if err != nil {
			return nil, fmt.Errorf("read data file %s: %w", f.Path, err)
		}
		if !tables.VerifyChecksum(data, f.Tags["checksum"]) {
			return nil, fmt.Errorf("data file %s: checksum mismatch", f.Path)
		}

		fileRows, err := tables.DecodeParquet(data, s.Schema)
		if err != nil {
			return nil, fmt.Errorf("decode data file %s: %w", f.Path, err)
		}

		// Writers that omit the partition column from data files rely on
		// the log's partition values.
		if colIdx >= 0 {
			if pv := f.PartitionValues[col]; pv != nil {
				v, err := tables.ParseCell(*pv, s.Schema.Columns[colIdx].Type)
				if err == nil {
					for _, r := range fileRows {
						if r[colIdx] == nil {
							r[colIdx] = v
						}
					}
				}
			}
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}
