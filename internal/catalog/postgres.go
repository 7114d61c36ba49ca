package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool       *pgxpool.Pool
	cfg        Config
	log        *slog.Logger
	mu         sync.RWMutex
	tableCache map[string]int64 // context/stage -> row id
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Single sequential writer; keep the pool small.
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool:       pool,
		cfg:        cfg,
		log:        slog.With("component", "catalog"),
		tableCache: make(map[string]int64),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// initSchema creates the _meta_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// EnsureTable registers or refreshes a table entry.
func (w *PostgresWriter) EnsureTable(ctx context.Context, info TableInfo) (int64, error) {
	cacheKey := info.Context + "/" + info.Stage
	w.mu.RLock()
	id, ok := w.tableCache[cacheKey]
	w.mu.RUnlock()
	if ok && info.TableID == "" && info.SchemaHash == "" {
		return id, nil
	}

	query := `
		INSERT INTO _meta_tables (context, stage, name, uri, table_id, schema_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (context, stage)
		DO UPDATE SET
			name = EXCLUDED.name,
			uri = EXCLUDED.uri,
			table_id = COALESCE(NULLIF(EXCLUDED.table_id, ''), _meta_tables.table_id),
			schema_hash = COALESCE(NULLIF(EXCLUDED.schema_hash, ''), _meta_tables.schema_hash),
			updated_at = NOW()
		RETURNING id
	`

	err := w.pool.QueryRow(ctx, query,
		info.Context,
		info.Stage,
		info.Name,
		info.URI,
		info.TableID,
		info.SchemaHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure table: %w", err)
	}

	w.mu.Lock()
	w.tableCache[cacheKey] = id
	w.mu.Unlock()

	return id, nil
}

// RecordCommit writes one committed table version. Re-recording a version
// updates it in place.
func (w *PostgresWriter) RecordCommit(ctx context.Context, rec CommitRecord) error {
	if rec.TableRef == 0 {
		return fmt.Errorf("TableRef is required (call EnsureTable first)")
	}

	query := `
		INSERT INTO _meta_commits (
			table_ref, version, run_id, row_count, byte_size, file_count,
			partitions, checksum, input_version, producer_version, producer_git_sha
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (table_ref, version)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			row_count = EXCLUDED.row_count,
			byte_size = EXCLUDED.byte_size,
			file_count = EXCLUDED.file_count,
			partitions = EXCLUDED.partitions,
			checksum = EXCLUDED.checksum,
			input_version = EXCLUDED.input_version,
			created_at = NOW()
	`

	var gitSHA *string
	if rec.ProducerGitSHA != "" {
		gitSHA = &rec.ProducerGitSHA
	}

	_, err := w.pool.Exec(ctx, query,
		rec.TableRef,
		rec.Version,
		rec.RunID,
		rec.RowCount,
		rec.ByteSize,
		rec.FileCount,
		rec.Partitions,
		rec.Checksum,
		rec.InputVersion,
		rec.ProducerVersion,
		gitSHA,
	)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}

	w.log.Debug("recorded commit", "table_ref", rec.TableRef, "version", rec.Version, "rows", rec.RowCount)
	return nil
}

// RecordQuality records a validation result.
func (w *PostgresWriter) RecordQuality(ctx context.Context, rec QualityRecord) error {
	query := `
		INSERT INTO _meta_quality (
			table_ref, version, input_rows, row_count, dropped, defaulted, passed, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (table_ref, version)
		DO UPDATE SET
			input_rows = EXCLUDED.input_rows,
			row_count = EXCLUDED.row_count,
			dropped = EXCLUDED.dropped,
			defaulted = EXCLUDED.defaulted,
			passed = EXCLUDED.passed,
			error_message = EXCLUDED.error_message,
			created_at = NOW()
	`

	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := w.pool.Exec(ctx, query,
		rec.TableRef,
		rec.Version,
		rec.InputRows,
		rec.RowCount,
		rec.Dropped,
		rec.Defaulted,
		rec.Passed,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("insert quality: %w", err)
	}
	return nil
}

// RecordRun upserts a run outcome.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_runs (run_id, context, status, stages, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			stages = EXCLUDED.stages,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`

	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	var finished *time.Time
	if !rec.FinishedAt.IsZero() {
		finished = &rec.FinishedAt
	}

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Context,
		rec.Status,
		strings.Join(rec.Stages, ","),
		errMsg,
		rec.StartedAt,
		finished,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// LastCommit returns the highest recorded version of a table.
func (w *PostgresWriter) LastCommit(ctx context.Context, tableRef int64) (*CommitRecord, error) {
	query := `
		SELECT version, run_id, row_count, byte_size, file_count, partitions,
		       checksum, input_version, producer_version,
		       COALESCE(producer_git_sha, ''), created_at
		FROM _meta_commits
		WHERE table_ref = $1
		ORDER BY version DESC
		LIMIT 1
	`

	rec := CommitRecord{TableRef: tableRef}
	err := w.pool.QueryRow(ctx, query, tableRef).Scan(
		&rec.Version, &rec.RunID, &rec.RowCount, &rec.ByteSize, &rec.FileCount,
		&rec.Partitions, &rec.Checksum, &rec.InputVersion, &rec.ProducerVersion,
		&rec.ProducerGitSHA, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last commit: %w", err)
	}
	return &rec, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
