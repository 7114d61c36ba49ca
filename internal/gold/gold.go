// Package gold aggregates the validated table into per-type, per-state
// counts.
package gold

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/preview"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Stage reads the validated table and overwrites the aggregate table.
type Stage struct {
	silver      *delta.Table
	table       *delta.Table
	layout      medallion.Layout
	previewRows int
	log         *slog.Logger
}

// NewStage wires the stage to the validated table and its output table.
func NewStage(silver, table *delta.Table, layout medallion.Layout) *Stage {
	return &Stage{
		silver:      silver,
		table:       table,
		layout:      layout,
		previewRows: 50,
		log:         slog.With("component", "gold", "context", layout.Context),
	}
}

// Result describes a committed aggregate table version.
type Result struct {
	Version       int64
	SilverVersion int64
	Rows          []tables.Row
	InputRows     int64
	SkippedRows   int64
	Commit        *delta.CommitResult
}

// Aggregate reads the current validated table version.
func (s *Stage) Aggregate(ctx context.Context) (*Result, error) {
	return s.AggregateVersion(ctx, -1)
}

// AggregateVersion reads the given validated table version (negative for
// latest), counts rows per (brewery_type, state), sorts by state and
// overwrites the aggregate table.
func (s *Stage) AggregateVersion(ctx context.Context, silverVersion int64) (*Result, error) {
	snap, err := s.silver.SnapshotAt(ctx, silverVersion)
	if err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageGold, Artifact: s.silver.URI(), Err: err}
	}

	counter, err := NewGroupCounter(snap.Schema)
	if err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageGold, Artifact: s.silver.URI(), Err: err}
	}

	rows, err := snap.ReadAll(ctx)
	if err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageGold, Artifact: s.silver.URI(), Err: err}
	}
	for _, r := range rows {
		counter.Add(r)
	}

	agg := counter.Result()
	if err := CheckInvariants(agg, counter.Rows()-counter.Skipped()); err != nil {
		return nil, &medallion.WriteError{
			Stage:    medallion.StageGold,
			Artifact: s.table.URI(),
			Err:      fmt.Errorf("aggregate invariant violated: %w", err),
		}
	}
	if counter.Skipped() > 0 {
		s.log.Warn("skipped validated rows with null keys", "rows", counter.Skipped())
	}

	commit, err := s.table.Overwrite(ctx, delta.WriteRequest{
		Name:        s.layout.GoldName(),
		Description: "count of " + s.layout.Context + " records per brewery_type and state",
		Schema:      Schema,
		Rows:        agg,
	})
	if err != nil {
		return nil, &medallion.WriteError{Stage: medallion.StageGold, Artifact: s.table.URI(), Err: err}
	}

	s.log.Info("committed aggregate table",
		"version", commit.Version,
		"silver_version", snap.Version,
		"input_rows", counter.Rows(),
		"groups", len(agg),
	)
	if s.log.Enabled(ctx, slog.LevelDebug) {
		s.log.Debug("aggregate table preview\n" + preview.String(Schema, agg, s.previewRows))
	}

	return &Result{
		Version:       commit.Version,
		SilverVersion: snap.Version,
		Rows:          agg,
		InputRows:     counter.Rows(),
		SkippedRows:   counter.Skipped(),
		Commit:        commit,
	}, nil
}
