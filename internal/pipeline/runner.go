// Package pipeline runs the bronze, silver and gold stages in sequence with
// retry, and records every committed output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/bronze"
	"github.com/withObsrvr/brewery-medallion/internal/catalog"
	"github.com/withObsrvr/brewery-medallion/internal/checkpoint"
	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/gold"
	"github.com/withObsrvr/brewery-medallion/internal/lineage"
	"github.com/withObsrvr/brewery-medallion/internal/logging"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/metrics"
	"github.com/withObsrvr/brewery-medallion/internal/silver"
	"github.com/withObsrvr/brewery-medallion/internal/source"
	"github.com/withObsrvr/brewery-medallion/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ProducerName identifies this software in lineage and catalog records.
const ProducerName = "brewery-medallion"

// Stages lists the pipeline steps in execution order.
var Stages = []string{medallion.StageBronze, medallion.StageSilver, medallion.StageGold}

// ErrUnknownStage is returned by RunStage for names outside Stages.
var ErrUnknownStage = errors.New("unknown stage")

// Options controls retry and side-effect behaviour.
type Options struct {
	Pipeline      checkpoint.PipelineInfo
	Retries       int
	RetryDelay    time.Duration
	StrictCatalog bool
	StrictLineage bool
}

// Runner executes the medallion stages for one layout.
type Runner struct {
	layout medallion.Layout
	opts   Options

	fetcher    source.Fetcher
	lander     *bronze.Lander
	silver     *silver.Stage
	gold       *gold.Stage
	silverTbl  *delta.Table
	goldTbl    *delta.Table
	catalog    catalog.Writer
	lineage    lineage.Emitter
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	stores     []storage.Store
	log        *slog.Logger
}

// Deps are the collaborators a Runner drives. Catalog, Lineage, Checkpoint
// and Metrics are optional.
type Deps struct {
	Fetcher     source.Fetcher
	Lander      *bronze.Lander
	SilverTable *delta.Table
	GoldTable   *delta.Table
	SilverOpts  silver.Options
	Catalog     catalog.Writer
	Lineage     lineage.Emitter
	Checkpoint  checkpoint.Manager
	Metrics     *metrics.Metrics
}

// New creates a runner over deps.
func New(layout medallion.Layout, deps Deps, opts Options) *Runner {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Pipeline.Version == "" {
		opts.Pipeline.Version = Version
		opts.Pipeline.GitSHA = GitSHA
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.NoopWriter{}
	}
	if deps.Lineage == nil {
		deps.Lineage = lineage.NewEmitter(lineage.Config{})
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint, _ = checkpoint.NewManager(checkpoint.Config{})
	}

	return &Runner{
		layout:     layout,
		opts:       opts,
		fetcher:    deps.Fetcher,
		lander:     deps.Lander,
		silver:     silver.NewStage(deps.Lander, deps.SilverTable, layout, deps.SilverOpts),
		gold:       gold.NewStage(deps.SilverTable, deps.GoldTable, layout),
		silverTbl:  deps.SilverTable,
		goldTbl:    deps.GoldTable,
		catalog:    deps.Catalog,
		lineage:    deps.Lineage,
		checkpoint: deps.Checkpoint,
		metrics:    deps.Metrics,
		log:        slog.With("component", "pipeline", "context", layout.Context),
	}
}

// SilverTable returns the validated table handle.
func (r *Runner) SilverTable() *delta.Table { return r.silverTbl }

// GoldTable returns the aggregate table handle.
func (r *Runner) GoldTable() *delta.Table { return r.goldTbl }

// Checkpoint returns the stored run state, or nil if none exists.
func (r *Runner) Checkpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, err := r.checkpoint.Load(ctx, r.layout.Context)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil, nil
	}
	return cp, err
}

// Close releases the catalog, the lineage emitter and any stores opened by
// Build.
func (r *Runner) Close() error {
	errs := []error{r.lineage.Close(), r.catalog.Close()}
	for _, s := range r.stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// RunResult summarises one run.
type RunResult struct {
	RunID      string
	Stages     []StageOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageOutcome is the successful result of one stage.
type StageOutcome struct {
	Stage        string
	Attempts     int
	TableVersion *int64
	Rows         int64
	Checksum     string
}

// run carries state between the stages of one run.
type run struct {
	id            string
	log           *slog.Logger
	cp            *checkpoint.Checkpoint
	silverVersion *int64
	silverURI     string
	bronze        *lineage.ArtifactInfo
	result        RunResult
}

// Run executes bronze, silver and gold in order. Each stage is retried up
// to Retries times with a fixed delay; the run stops on the first stage
// that exhausts its attempts and returns that stage's error.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	return r.execute(ctx, Stages)
}

// RunStage executes a single stage with retry. Gold reads the latest
// validated table version.
func (r *Runner) RunStage(ctx context.Context, name string) (*RunResult, error) {
	for _, s := range Stages {
		if s == name {
			return r.execute(ctx, []string{name})
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownStage, name)
}

func (r *Runner) execute(ctx context.Context, stages []string) (*RunResult, error) {
	id := logging.GenerateRunID()
	ctx = logging.WithRunID(ctx, id)
	rn := &run{
		id:     id,
		log:    logging.RunLogger(id, r.layout.Context),
		result: RunResult{RunID: id, StartedAt: time.Now().UTC()},
	}
	rn.cp = r.loadCheckpoint(ctx, rn)

	labels := metrics.Labels{Context: r.layout.Context}
	if r.metrics != nil {
		r.metrics.IncRunsStarted(labels)
	}
	rn.log.Info("run started", "stages", stages, "retries", r.opts.Retries)

	var runErr error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := r.runWithRetry(ctx, rn, stage); err != nil {
			runErr = err
			break
		}
	}
	rn.result.FinishedAt = time.Now().UTC()

	status := checkpoint.StatusSucceeded
	if runErr != nil {
		status = checkpoint.StatusFailed
	}
	r.recordRun(ctx, rn, stages, status, runErr)

	if runErr != nil {
		if r.metrics != nil {
			r.metrics.IncRunsFailed(labels)
		}
		rn.log.Error("run failed", "error", runErr, "duration", rn.result.FinishedAt.Sub(rn.result.StartedAt).String())
		return &rn.result, runErr
	}
	if r.metrics != nil {
		r.metrics.IncRunsSucceeded(labels)
	}
	rn.log.Info("run succeeded", "duration", rn.result.FinishedAt.Sub(rn.result.StartedAt).String())
	return &rn.result, nil
}

// runWithRetry makes up to 1+Retries attempts at stage. Cancellation ends
// the retry wait at once and reaches the attempt itself through ctx (the
// fetch request carries it); a failed attempt under a cancelled ctx is not
// retried. execute also checks ctx before each stage.
func (r *Runner) runWithRetry(ctx context.Context, rn *run, stage string) error {
	labels := metrics.Labels{Context: r.layout.Context, Stage: stage}
	attempts := 1 + r.opts.Retries

	var err error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		log := logging.StageLogger(rn.log, stage, attempt)
		log.Info("stage started")

		start := time.Now()
		var out *stageOutput
		out, err = r.runStage(ctx, rn, stage)
		if r.metrics != nil {
			r.metrics.ObserveStageDuration(labels, time.Since(start).Seconds())
		}

		if err == nil {
			out.attempts = attempt
			if perr := r.publish(ctx, rn, out); perr != nil {
				err = perr
			} else {
				log.Info("stage succeeded", "duration", time.Since(start).String())
				return nil
			}
		}

		if r.metrics != nil {
			r.metrics.IncStagesFailed(labels)
			if isStorageError(err) {
				r.metrics.IncStorageErrors(labels)
			}
		}
		r.recordStageFailure(ctx, rn, stage, attempt, err)

		if attempt == attempts || ctx.Err() != nil {
			break
		}

		log.Warn("stage failed, retrying", "error", err, "delay", r.opts.RetryDelay.String())
		if r.metrics != nil {
			r.metrics.IncRetryAttempts(labels)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: retry wait: %w", stage, ctx.Err())
		case <-time.After(r.opts.RetryDelay):
		}
	}

	rn.log.Error("stage failed", "stage", stage, "attempts", made, "error", err)
	return err
}

// runStage performs one attempt of stage and describes its output.
func (r *Runner) runStage(ctx context.Context, rn *run, stage string) (*stageOutput, error) {
	switch stage {
	case medallion.StageBronze:
		return r.runBronze(ctx, rn)
	case medallion.StageSilver:
		return r.runSilver(ctx, rn)
	case medallion.StageGold:
		return r.runGold(ctx, rn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStage, stage)
	}
}

func (r *Runner) runBronze(ctx context.Context, rn *run) (*stageOutput, error) {
	records, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if sr, ok := r.fetcher.(source.StatsReporter); ok && r.metrics != nil {
		st := sr.LastStats()
		labels := metrics.Labels{Context: r.layout.Context}
		r.metrics.AddFetchBytes(labels, float64(st.Bytes))
		r.metrics.SetFetchRecords(labels, float64(st.Records))
	}

	res, err := r.lander.Land(ctx, records)
	if err != nil {
		return nil, err
	}
	return &stageOutput{
		stage:    medallion.StageBronze,
		name:     "bronze_" + r.layout.Context,
		uri:      res.URI,
		rows:     int64(res.Rows),
		bytes:    res.Bytes,
		files:    1,
		checksum: res.Checksum,
	}, nil
}

func (r *Runner) runSilver(ctx context.Context, rn *run) (*stageOutput, error) {
	res, err := r.silver.ValidateAndPartition(ctx)
	if err != nil {
		return nil, err
	}
	v := res.Version
	rn.silverVersion = &v
	rn.silverURI = r.silverTbl.URI()

	quality := res.Quality
	schema := res.Schema
	out := commitOutput(medallion.StageSilver, r.layout.SilverName(), r.silverTbl.URI(), res.Commit)
	out.schema = &schema
	out.quality = &quality
	if rn.bronze != nil {
		out.inputs = []lineage.ArtifactInfo{*rn.bronze}
	} else {
		out.inputs = []lineage.ArtifactInfo{{
			Context: r.layout.Context,
			Stage:   medallion.StageBronze,
			URI:     r.lander.URI(),
		}}
	}
	return out, nil
}

func (r *Runner) runGold(ctx context.Context, rn *run) (*stageOutput, error) {
	pinned := int64(-1)
	if rn.silverVersion != nil {
		pinned = *rn.silverVersion
	}
	res, err := r.gold.AggregateVersion(ctx, pinned)
	if err != nil {
		return nil, err
	}

	sv := res.SilverVersion
	schema := gold.Schema
	out := commitOutput(medallion.StageGold, r.layout.GoldName(), r.goldTbl.URI(), res.Commit)
	out.schema = &schema
	out.inputVersion = &sv
	out.inputs = []lineage.ArtifactInfo{{
		Context:      r.layout.Context,
		Stage:        medallion.StageSilver,
		Name:         r.layout.SilverName(),
		URI:          r.silverTbl.URI(),
		TableVersion: &sv,
		RowCount:     res.InputRows,
	}}
	return out, nil
}

func isStorageError(err error) bool {
	var we *medallion.WriteError
	var re *medallion.ReadError
	return errors.As(err, &we) || errors.As(err, &re)
}
