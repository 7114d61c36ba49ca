package delta

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/withObsrvr/brewery-medallion/internal/storage"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// WriteRequest is a full-overwrite write of a table.
type WriteRequest struct {
	Name            string
	Description     string
	Schema          tables.Schema
	Rows            []tables.Row
	PartitionColumn string // "" for an unpartitioned table
}

// CommitResult describes a successful overwrite.
type CommitResult struct {
	Version      int64
	TableID      string
	RowsWritten  int64
	FilesAdded   int
	FilesRemoved int
	BytesWritten int64
	Partitions   []string
	Files        []AddFile
	// Checksum is the sha256 of the commit file.
	Checksum string
}

// Overwrite replaces the table contents with req.Rows as a new version.
// Data files go to storage first; the commit is the put-if-absent of the
// next log entry. A losing writer gets ErrConcurrentCommit and its data
// files are deleted.
func (t *Table) Overwrite(ctx context.Context, req WriteRequest) (*CommitResult, error) {
	if req.PartitionColumn != "" && req.Schema.Index(req.PartitionColumn) < 0 {
		return nil, fmt.Errorf("partition column %q not in schema", req.PartitionColumn)
	}
	for i, r := range req.Rows {
		if len(r) != len(req.Schema.Columns) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", i, len(r), len(req.Schema.Columns))
		}
	}

	current, err := t.Snapshot(ctx)
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	readVersion := int64(-1)
	if current != nil {
		readVersion = current.Version
	}
	version := readVersion + 1

	schemaString, err := EncodeSchema(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	nowMs := t.now().UnixMilli()
	meta, metaChanged := t.nextMetadata(current, req, schemaString, nowMs)

	adds, written, err := t.writeDataFiles(ctx, req, nowMs)
	if err != nil {
		t.cleanup(ctx, written)
		return nil, err
	}

	var actions []Action
	info := &CommitInfo{
		Timestamp: nowMs,
		Operation: "WRITE",
		OperationParameters: map[string]string{
			"mode":        "Overwrite",
			"partitionBy": partitionByParam(req.PartitionColumn),
		},
		IsBlindAppend: false,
		EngineInfo:    t.opts.EngineInfo,
		TxnID:         uuid.New().String(),
	}
	if readVersion >= 0 {
		rv := readVersion
		info.ReadVersion = &rv
	}
	actions = append(actions, Action{CommitInfo: info})
	if version == 0 {
		actions = append(actions, Action{Protocol: &Protocol{
			MinReaderVersion: MinReaderVersion,
			MinWriterVersion: MinWriterVersion,
		}})
	}
	if metaChanged {
		actions = append(actions, Action{MetaData: meta})
	}

	result := &CommitResult{
		Version: version,
		TableID: meta.ID,
	}
	if current != nil {
		for _, f := range current.Files {
			actions = append(actions, Action{Remove: &RemoveFile{
				Path:                 f.Path,
				DeletionTimestamp:    nowMs,
				DataChange:           true,
				ExtendedFileMetadata: true,
				PartitionValues:      f.PartitionValues,
				Size:                 f.Size,
			}})
		}
		result.FilesRemoved = len(current.Files)
	}

	seen := make(map[string]bool)
	for i := range adds {
		a := adds[i]
		actions = append(actions, Action{Add: &a})
		result.FilesAdded++
		result.BytesWritten += a.Size
		result.RowsWritten += a.NumRecords()
		if pv := a.PartitionValues[req.PartitionColumn]; pv != nil && !seen[*pv] {
			seen[*pv] = true
			result.Partitions = append(result.Partitions, *pv)
		}
	}
	result.Files = adds
	info.OperationMetrics = map[string]string{
		"numFiles":        strconv.Itoa(result.FilesAdded),
		"numOutputRows":   strconv.FormatInt(result.RowsWritten, 10),
		"numOutputBytes":  strconv.FormatInt(result.BytesWritten, 10),
		"numRemovedFiles": strconv.Itoa(result.FilesRemoved),
	}

	payload, err := encodeActions(actions)
	if err != nil {
		t.cleanup(ctx, written)
		return nil, err
	}

	if t.beforeCommit != nil {
		t.beforeCommit(version)
	}

	if err := t.store.PutIfAbsent(ctx, logKey(t.prefix, version), payload); err != nil {
		t.cleanup(ctx, written)
		if errors.Is(err, storage.ErrExists) {
			return nil, fmt.Errorf("%s version %d: %w", t.URI(), version, ErrConcurrentCommit)
		}
		return nil, fmt.Errorf("write log version %d: %w", version, err)
	}
	result.Checksum = tables.ComputeChecksum(payload)

	t.log.Debug("committed table version",
		"version", version,
		"files_added", result.FilesAdded,
		"files_removed", result.FilesRemoved,
		"rows", result.RowsWritten,
	)
	return result, nil
}

// nextMetadata keeps the table identity across overwrites and reports
// whether a metaData action must be written.
func (t *Table) nextMetadata(current *Snapshot, req WriteRequest, schemaString string, nowMs int64) (*Metadata, bool) {
	partCols := []string{}
	if req.PartitionColumn != "" {
		partCols = []string{req.PartitionColumn}
	}

	meta := &Metadata{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Description:      req.Description,
		Format:           Format{Provider: "parquet", Options: map[string]string{}},
		SchemaString:     schemaString,
		PartitionColumns: partCols,
		Configuration:    map[string]string{},
		CreatedTime:      nowMs,
	}
	if current == nil {
		return meta, true
	}

	prev := current.Metadata
	meta.ID = prev.ID
	meta.CreatedTime = prev.CreatedTime
	if prev.Configuration != nil {
		meta.Configuration = prev.Configuration
	}

	changed := prev.SchemaString != schemaString ||
		prev.Name != req.Name ||
		prev.Description != req.Description ||
		!equalStrings(prev.PartitionColumns, partCols)
	return meta, changed
}

func (t *Table) writeDataFiles(ctx context.Context, req WriteRequest, nowMs int64) ([]AddFile, []string, error) {
	if len(req.Rows) == 0 {
		return nil, nil, nil
	}

	type group struct {
		dir    string
		values map[string]*string
		rows   []tables.Row
	}

	var groups []group
	if req.PartitionColumn == "" {
		groups = []group{{values: map[string]*string{}, rows: req.Rows}}
	} else {
		b := tables.NewPartitionBuilder(req.Schema, req.PartitionColumn)
		for _, r := range req.Rows {
			b.Add(r)
		}
		for _, p := range b.Flush() {
			var v *string
			if !p.Null && p.Value != "" {
				s := p.Value
				v = &s
			}
			groups = append(groups, group{
				dir:    partitionDir(req.PartitionColumn, v) + "/",
				values: map[string]*string{req.PartitionColumn: v},
				rows:   p.Rows,
			})
		}
	}

	var adds []AddFile
	var written []string
	for i, g := range groups {
		data, err := tables.EncodeParquet(req.Name, req.Schema, g.rows, t.opts.Parquet)
		if err != nil {
			return nil, written, fmt.Errorf("encode partition %s: %w", g.dir, err)
		}

		rel := g.dir + fmt.Sprintf("part-%05d-%s.c000%s", i, uuid.New().String(), t.opts.Parquet.FileSuffix())
		key := t.prefix + rel
		if err := t.store.Put(ctx, key, data); err != nil {
			return nil, written, fmt.Errorf("write data file %s: %w", rel, err)
		}
		written = append(written, key)

		adds = append(adds, AddFile{
			Path:             encodePath(rel),
			PartitionValues:  g.values,
			Size:             int64(len(data)),
			ModificationTime: nowMs,
			DataChange:       true,
			Stats:            fmt.Sprintf(`{"numRecords":%d}`, len(g.rows)),
			Tags:             map[string]string{"checksum": tables.ComputeChecksum(data)},
		})
	}
	return adds, written, nil
}

// cleanup removes data files of a commit that did not happen.
func (t *Table) cleanup(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := t.store.Delete(context.WithoutCancel(ctx), k); err != nil {
			t.log.Warn("failed to remove orphaned data file", "key", k, "error", err)
		}
	}
}

func partitionByParam(col string) string {
	if col == "" {
		return "[]"
	}
	return `["` + col + `"]`
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
