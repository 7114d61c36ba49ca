// Package silver rewrites the raw snapshot into the validated table,
// partitioned by state.
package silver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/brewery-medallion/internal/bronze"
	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/preview"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Options configures the validated stage.
type Options struct {
	MissingKeyPolicy MissingKeyPolicy
	DefaultKeyValue  string
	PreviewRows      int
}

// Stage reads the raw snapshot and overwrites the validated table.
type Stage struct {
	raw    *bronze.Lander
	table  *delta.Table
	layout medallion.Layout
	opts   Options
	log    *slog.Logger
}

// NewStage wires the stage to its input snapshot and output table.
func NewStage(raw *bronze.Lander, table *delta.Table, layout medallion.Layout, opts Options) *Stage {
	if opts.MissingKeyPolicy == "" {
		opts.MissingKeyPolicy = PolicyDrop
	}
	if opts.PreviewRows == 0 {
		opts.PreviewRows = 20
	}
	return &Stage{
		raw:    raw,
		table:  table,
		layout: layout,
		opts:   opts,
		log:    slog.With("component", "silver", "context", layout.Context),
	}
}

// Result describes a committed validated table version.
type Result struct {
	Version    int64
	Schema     tables.Schema
	Quality    ValidationResult
	Partitions []string
	Commit     *delta.CommitResult
}

// ValidateAndPartition reads the whole raw snapshot, infers column types,
// applies the missing key policy and overwrites the validated table as a
// new version partitioned by state.
func (s *Stage) ValidateAndPartition(ctx context.Context) (*Result, error) {
	snap, err := s.raw.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(snap.Header); err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageSilver, Artifact: s.raw.URI(), Err: err}
	}

	header, added := withRequiredColumns(snap.Header)
	if len(added) > 0 {
		s.log.Warn("raw snapshot lacks required columns", "columns", added)
	}

	schema := tables.InferSchema(header, snap.Rows, medallion.StateColumn, medallion.BreweryTypeColumn)
	extractor := tables.NewExtractor(schema)
	v := newValidator(schema, s.opts.MissingKeyPolicy, s.opts.DefaultKeyValue)

	rows := make([]tables.Row, 0, len(snap.Rows))
	for i, cells := range snap.Rows {
		row, err := extractor.Extract(cells)
		if err != nil {
			return nil, &medallion.ReadError{
				Stage:    medallion.StageSilver,
				Artifact: s.raw.URI(),
				Err:      fmt.Errorf("row %d: %w", i+1, err),
			}
		}
		kept, err := v.check(i+1, row)
		if err != nil {
			return nil, &medallion.ReadError{Stage: medallion.StageSilver, Artifact: s.raw.URI(), Err: err}
		}
		if kept != nil {
			rows = append(rows, kept)
		}
	}
	quality := v.finish()

	commit, err := s.table.Overwrite(ctx, delta.WriteRequest{
		Name:            s.layout.SilverName(),
		Description:     "validated " + s.layout.Context + " records partitioned by " + medallion.StateColumn,
		Schema:          schema,
		Rows:            rows,
		PartitionColumn: medallion.StateColumn,
	})
	if err != nil {
		return nil, &medallion.WriteError{Stage: medallion.StageSilver, Artifact: s.table.URI(), Err: err}
	}

	for _, w := range quality.Warnings {
		s.log.Warn("quality", "warning", w)
	}
	s.log.Info("committed validated table",
		"version", commit.Version,
		"input_rows", quality.InputRows,
		"rows", quality.RowCount,
		"dropped", quality.Dropped,
		"defaulted", quality.Defaulted,
		"partitions", len(commit.Partitions),
		"files", commit.FilesAdded,
	)
	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("validated table preview\n" + preview.String(schema, rows, s.opts.PreviewRows))
	}

	return &Result{
		Version:    commit.Version,
		Schema:     schema,
		Quality:    quality,
		Partitions: commit.Partitions,
		Commit:     commit,
	}, nil
}
