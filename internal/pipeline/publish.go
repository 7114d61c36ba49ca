package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/catalog"
	"github.com/withObsrvr/brewery-medallion/internal/checkpoint"
	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/lineage"
	"github.com/withObsrvr/brewery-medallion/internal/metrics"
	"github.com/withObsrvr/brewery-medallion/internal/silver"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// stageOutput describes what one successful stage attempt wrote.
type stageOutput struct {
	stage        string
	name         string
	uri          string
	tableID      string
	version      *int64
	rows         int64
	bytes        int64
	files        int
	partitions   int
	checksum     string
	attempts     int
	schema       *tables.Schema
	quality      *silver.ValidationResult
	inputVersion *int64
	inputs       []lineage.ArtifactInfo
}

func commitOutput(stage, name, uri string, c *delta.CommitResult) *stageOutput {
	v := c.Version
	return &stageOutput{
		stage:      stage,
		name:       name,
		uri:        uri,
		tableID:    c.TableID,
		version:    &v,
		rows:       c.RowsWritten,
		bytes:      c.BytesWritten,
		files:      c.FilesAdded,
		partitions: len(c.Partitions),
		checksum:   c.Checksum,
	}
}

func (o *stageOutput) artifact(pipelineContext string) lineage.ArtifactInfo {
	return lineage.ArtifactInfo{
		Context:      pipelineContext,
		Stage:        o.stage,
		Name:         o.name,
		URI:          o.uri,
		TableID:      o.tableID,
		TableVersion: o.version,
		Checksum:     o.checksum,
		RowCount:     o.rows,
		ByteSize:     o.bytes,
		FileCount:    o.files,
	}
}

// publish records a stage output once its data is durable.
//
// The order of operations matters:
//  1. Metrics
//  2. Catalog record (table version, quality)
//  3. Lineage event (references the committed, immutable output)
//  4. Checkpoint
//
// Catalog and lineage failures are logged unless the matching strict
// option is set, in which case the attempt fails.
func (r *Runner) publish(ctx context.Context, rn *run, out *stageOutput) error {
	log := rn.log.With("stage", out.stage)
	labels := metrics.Labels{Context: r.layout.Context, Stage: out.stage}

	// Step 1: metrics
	if r.metrics != nil {
		r.metrics.IncStagesSucceeded(labels, float64(time.Now().Unix()))
		r.metrics.ObserveWrite(labels, float64(out.rows), float64(out.bytes), float64(out.files))
		if out.version != nil {
			r.metrics.SetTableVersion(labels, float64(*out.version))
			r.metrics.SetPartitions(labels, float64(out.partitions))
		}
		if out.quality != nil {
			r.metrics.AddRowsDropped(labels, float64(out.quality.Dropped))
			r.metrics.AddRowsDefaulted(labels, float64(out.quality.Defaulted))
		}
	}

	// Step 2: catalog
	if out.version != nil {
		if err := r.recordCommit(ctx, rn, out); err != nil {
			if r.metrics != nil {
				r.metrics.IncCatalogErrors(labels)
			}
			if r.opts.StrictCatalog {
				return fmt.Errorf("record catalog (strict mode): %w", err)
			}
			log.Warn("failed to record catalog entry", "error", err)
		}
	}

	// Step 3: lineage
	evt := lineage.Event{
		Output: out.artifact(r.layout.Context),
		Inputs: out.inputs,
		Run:    lineage.RunInfo{RunID: rn.id, Attempt: out.attempts},
		Producer: lineage.ProducerInfo{
			Name:    ProducerName,
			Version: r.opts.Pipeline.Version,
			GitSHA:  r.opts.Pipeline.GitSHA,
		},
	}
	if err := r.lineage.Emit(ctx, evt); err != nil {
		if r.metrics != nil {
			r.metrics.IncLineageErrors(labels)
		}
		if r.opts.StrictLineage {
			return fmt.Errorf("emit lineage event (strict mode): %w", err)
		}
		log.Warn("failed to emit lineage event", "error", err)
	}
	if out.version == nil {
		a := out.artifact(r.layout.Context)
		rn.bronze = &a
	}

	// Step 4: checkpoint
	st := rn.cp.Stage(out.stage)
	*st = checkpoint.StageState{
		Status:       checkpoint.StatusSucceeded,
		RunID:        rn.id,
		Attempts:     out.attempts,
		TableVersion: out.version,
		Rows:         out.rows,
		Checksum:     out.checksum,
		FinishedAt:   time.Now().UTC(),
	}
	r.saveCheckpoint(ctx, rn)

	rn.result.Stages = append(rn.result.Stages, StageOutcome{
		Stage:        out.stage,
		Attempts:     out.attempts,
		TableVersion: out.version,
		Rows:         out.rows,
		Checksum:     out.checksum,
	})
	return nil
}

func (r *Runner) recordCommit(ctx context.Context, rn *run, out *stageOutput) error {
	info := catalog.TableInfo{
		Context: r.layout.Context,
		Stage:   out.stage,
		Name:    out.name,
		URI:     out.uri,
		TableID: out.tableID,
	}
	if out.schema != nil {
		info.SchemaHash = catalog.SchemaHash(*out.schema)
	}
	ref, err := r.catalog.EnsureTable(ctx, info)
	if err != nil {
		return err
	}
	if ref == 0 {
		// No catalog configured
		return nil
	}

	if err := r.catalog.RecordCommit(ctx, catalog.CommitRecord{
		TableRef:        ref,
		Version:         *out.version,
		RunID:           rn.id,
		RowCount:        out.rows,
		ByteSize:        out.bytes,
		FileCount:       out.files,
		Partitions:      out.partitions,
		Checksum:        out.checksum,
		InputVersion:    out.inputVersion,
		ProducerVersion: fmt.Sprintf("%s@%s", ProducerName, r.opts.Pipeline.Version),
		ProducerGitSHA:  r.opts.Pipeline.GitSHA,
	}); err != nil {
		return err
	}

	if q := out.quality; q != nil {
		if err := r.catalog.RecordQuality(ctx, catalog.QualityRecord{
			TableRef:     ref,
			Version:      *out.version,
			InputRows:    q.InputRows,
			RowCount:     q.RowCount,
			Dropped:      q.Dropped,
			Defaulted:    q.Defaulted,
			Passed:       q.Passed,
			ErrorMessage: joinMessages(q.Errors),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) loadCheckpoint(ctx context.Context, rn *run) *checkpoint.Checkpoint {
	cp, err := r.checkpoint.Load(ctx, r.layout.Context)
	if err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		rn.log.Warn("failed to load checkpoint, starting fresh", "error", err)
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{Context: r.layout.Context}
	}
	cp.Pipeline = r.opts.Pipeline
	cp.LastRunID = rn.id
	return cp
}

func (r *Runner) saveCheckpoint(ctx context.Context, rn *run) {
	rn.cp.UpdatedAt = time.Now().UTC()
	if err := r.checkpoint.Save(ctx, rn.cp); err != nil {
		rn.log.Warn("failed to save checkpoint", "error", err)
	}
}

func (r *Runner) recordStageFailure(ctx context.Context, rn *run, stage string, attempt int, err error) {
	st := rn.cp.Stage(stage)
	*st = checkpoint.StageState{
		Status:     checkpoint.StatusFailed,
		RunID:      rn.id,
		Attempts:   attempt,
		Error:      err.Error(),
		FinishedAt: time.Now().UTC(),
	}
	r.saveCheckpoint(ctx, rn)
}

func (r *Runner) recordRun(ctx context.Context, rn *run, stages []string, status string, runErr error) {
	rec := catalog.RunRecord{
		RunID:      rn.id,
		Context:    r.layout.Context,
		Status:     status,
		Stages:     stages,
		StartedAt:  rn.result.StartedAt,
		FinishedAt: rn.result.FinishedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	// The run outcome is recorded even when ctx was cancelled.
	if err := r.catalog.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		if r.metrics != nil {
			r.metrics.IncCatalogErrors(metrics.Labels{Context: r.layout.Context})
		}
		rn.log.Warn("failed to record run", "error", err)
	}
}

func joinMessages(msgs []string) string {
	errorMsg := ""
	for i, m := range msgs {
		if i > 0 {
			errorMsg += "; "
		}
		errorMsg += m
	}
	return errorMsg
}
