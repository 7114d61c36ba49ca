package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/storage"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

var (
	// ErrTableNotFound is returned when the table has no commits.
	ErrTableNotFound = errors.New("table not found")

	// ErrConcurrentCommit is returned to the loser of a commit race.
	ErrConcurrentCommit = errors.New("concurrent commit: version already exists")

	// ErrCorruptLog is returned for missing versions or undecodable commits.
	ErrCorruptLog = errors.New("corrupt transaction log")
)

// Options configures a Table handle.
type Options struct {
	Parquet    tables.ParquetConfig
	EngineInfo string
	Logger     *slog.Logger
}

// Table is a handle on one table rooted at prefix inside a store.
type Table struct {
	store  storage.Store
	prefix string
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	// beforeCommit runs after data files are written and before the log
	// entry is created. Tests use it to interleave writers.
	beforeCommit func(version int64)
}

// Open returns a handle; it does not touch storage. prefix is the table
// directory relative to the store root, e.g. "brewery/".
func Open(store storage.Store, prefix string, opts Options) *Table {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if opts.Parquet.Compression == "" {
		opts.Parquet = tables.DefaultParquetConfig()
	}
	if opts.EngineInfo == "" {
		opts.EngineInfo = "brewery-medallion"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		store:  store,
		prefix: prefix,
		opts:   opts,
		log:    logger.With("component", "delta", "table", prefix),
		now:    time.Now,
	}
}

// URI returns the table root URI.
func (t *Table) URI() string {
	return t.store.URI(t.prefix)
}

// versions lists commit versions in ascending order and checks that they
// form a contiguous run starting at zero.
func (t *Table) versions(ctx context.Context) ([]int64, error) {
	keys, err := t.store.List(ctx, t.prefix+logDir)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}

	var vs []int64
	for _, k := range keys {
		if v, ok := parseLogVersion(k); ok {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("%s: %w", t.URI(), ErrTableNotFound)
	}

	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	for i, v := range vs {
		if v != int64(i) {
			return nil, fmt.Errorf("%s: missing version %d: %w", t.URI(), i, ErrCorruptLog)
		}
	}
	return vs, nil
}

func (t *Table) readCommit(ctx context.Context, version int64) ([]Action, error) {
	data, err := t.store.Get(ctx, logKey(t.prefix, version))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("version %d: %w", version, ErrCorruptLog)
		}
		return nil, fmt.Errorf("read version %d: %w", version, err)
	}
	actions, err := decodeActions(data)
	if err != nil {
		return nil, fmt.Errorf("version %d: %v: %w", version, err, ErrCorruptLog)
	}
	return actions, nil
}

// Version returns the latest committed version.
func (t *Table) Version(ctx context.Context) (int64, error) {
	vs, err := t.versions(ctx)
	if err != nil {
		return -1, err
	}
	return vs[len(vs)-1], nil
}

// Snapshot replays the log up to the latest version.
func (t *Table) Snapshot(ctx context.Context) (*Snapshot, error) {
	return t.SnapshotAt(ctx, -1)
}

// SnapshotAt replays the log up to version. A negative version means latest.
func (t *Table) SnapshotAt(ctx context.Context, version int64) (*Snapshot, error) {
	vs, err := t.versions(ctx)
	if err != nil {
		return nil, err
	}
	latest := vs[len(vs)-1]
	if version < 0 {
		version = latest
	}
	if version > latest {
		return nil, fmt.Errorf("%s: version %d not found (latest %d): %w", t.URI(), version, latest, ErrTableNotFound)
	}

	snap := &Snapshot{table: t, Version: version}
	files := make(map[string]*AddFile)
	var order []string

	for v := int64(0); v <= version; v++ {
		actions, err := t.readCommit(ctx, v)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			switch {
			case a.Protocol != nil:
				if a.Protocol.MinReaderVersion > MinReaderVersion {
					return nil, fmt.Errorf("reader version %d not supported", a.Protocol.MinReaderVersion)
				}
				snap.Protocol = *a.Protocol
			case a.MetaData != nil:
				snap.Metadata = *a.MetaData
			case a.Add != nil:
				if _, ok := files[a.Add.Path]; !ok {
					order = append(order, a.Add.Path)
				}
				files[a.Add.Path] = a.Add
			case a.Remove != nil:
				delete(files, a.Remove.Path)
			case a.CommitInfo != nil:
				snap.CommitInfo = a.CommitInfo
			}
		}
	}

	if snap.Metadata.ID == "" {
		return nil, fmt.Errorf("%s: no metaData action: %w", t.URI(), ErrCorruptLog)
	}
	schema, err := DecodeSchema(snap.Metadata.SchemaString)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", t.URI(), err, ErrCorruptLog)
	}
	snap.Schema = schema

	for _, p := range order {
		if f, ok := files[p]; ok {
			snap.Files = append(snap.Files, *f)
		}
	}
	return snap, nil
}

// Commit is one entry of the table history.
type Commit struct {
	Version int64
	Info    *CommitInfo
}

// History returns commit info for every version, newest first.
func (t *Table) History(ctx context.Context) ([]Commit, error) {
	vs, err := t.versions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Commit, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		actions, err := t.readCommit(ctx, vs[i])
		if err != nil {
			return nil, err
		}
		c := Commit{Version: vs[i]}
		for _, a := range actions {
			if a.CommitInfo != nil {
				c.Info = a.CommitInfo
				break
			}
		}
		out = append(out, c)
	}
	return out, nil
}
