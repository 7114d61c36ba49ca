// Package catalog records table versions, quality results and run outcomes
// in an external metadata catalog.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Config holds catalog configuration.
type Config struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	// Strict makes catalog failures fail the stage instead of being logged.
	Strict bool `yaml:"strict"`
}

// Writer persists pipeline metadata.
type Writer interface {
	// EnsureTable registers a table and returns its catalog row ID.
	EnsureTable(ctx context.Context, info TableInfo) (int64, error)
	RecordCommit(ctx context.Context, rec CommitRecord) error
	RecordQuality(ctx context.Context, rec QualityRecord) error
	RecordRun(ctx context.Context, rec RunRecord) error
	// LastCommit returns the newest recorded commit, or nil if none exists.
	LastCommit(ctx context.Context, tableRef int64) (*CommitRecord, error)
	Close() error
}

// TableInfo identifies one layer table.
type TableInfo struct {
	Context    string
	Stage      string
	Name       string
	URI        string
	TableID    string
	SchemaHash string
}

// CommitRecord describes one committed table version.
type CommitRecord struct {
	TableRef        int64
	Version         int64
	RunID           string
	RowCount        int64
	ByteSize        int64
	FileCount       int
	Partitions      int
	Checksum        string
	InputVersion    *int64
	ProducerVersion string
	ProducerGitSHA  string
	CreatedAt       time.Time
}

// QualityRecord is the validation outcome for a table version.
type QualityRecord struct {
	TableRef     int64
	Version      int64
	InputRows    int64
	RowCount     int64
	Dropped      int64
	Defaulted    int64
	Passed       bool
	ErrorMessage string
}

// RunRecord is the outcome of one pipeline run.
type RunRecord struct {
	RunID      string
	Context    string
	Status     string
	Stages     []string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SchemaHash fingerprints a table schema by column names and types.
func SchemaHash(s tables.Schema) string {
	var b strings.Builder
	for _, c := range s.Columns {
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(string(c.Type))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// NewWriter returns a Postgres writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		slog.Debug("catalog disabled, using no-op writer", "component", "catalog")
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter discards all records.
type NoopWriter struct{}

func (NoopWriter) EnsureTable(context.Context, TableInfo) (int64, error) { return 0, nil }
func (NoopWriter) RecordCommit(context.Context, CommitRecord) error      { return nil }
func (NoopWriter) RecordQuality(context.Context, QualityRecord) error    { return nil }
func (NoopWriter) RecordRun(context.Context, RunRecord) error            { return nil }
func (NoopWriter) LastCommit(context.Context, int64) (*CommitRecord, error) {
	return nil, nil
}
func (NoopWriter) Close() error { return nil }
