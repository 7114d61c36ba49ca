// Package bronze lands the fetched collection verbatim as a CSV snapshot.
package bronze

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/storage"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Lander writes and reads the raw snapshot under the bronze root.
type Lander struct {
	store  storage.Store
	layout medallion.Layout
	log    *slog.Logger
}

// NewLander creates a lander over the bronze store.
func NewLander(store storage.Store, layout medallion.Layout) *Lander {
	return &Lander{
		store:  store,
		layout: layout,
		log:    slog.With("component", "bronze", "context", layout.Context),
	}
}

// LandResult describes a landed snapshot.
type LandResult struct {
	URI      string
	Header   []string
	Rows     int
	Bytes    int64
	Checksum string
}

// URI returns the snapshot location.
func (l *Lander) URI() string {
	return l.store.URI(l.layout.BronzeKey())
}

// Land replaces the snapshot with records. The header is the union of all
// record keys in first-appearance order; absent fields and nulls are empty
// cells. An empty key lands as "Unnamed: N", N being its column index. An
// empty collection produces an empty file.
func (l *Lander) Land(ctx context.Context, records []medallion.Record) (*LandResult, error) {
	keys := medallion.UnionKeys(records)
	header := columnNames(keys)
	data, err := encodeCSV(keys, header, records)
	if err != nil {
		return nil, &medallion.WriteError{Stage: medallion.StageBronze, Artifact: l.URI(), Err: err}
	}

	if err := l.store.Put(ctx, l.layout.BronzeKey(), data); err != nil {
		return nil, &medallion.WriteError{Stage: medallion.StageBronze, Artifact: l.URI(), Err: err}
	}

	res := &LandResult{
		URI:      l.URI(),
		Header:   header,
		Rows:     len(records),
		Bytes:    int64(len(data)),
		Checksum: tables.ComputeChecksum(data),
	}
	l.log.Info("landed raw snapshot",
		"uri", res.URI,
		"rows", res.Rows,
		"columns", len(header),
		"bytes", res.Bytes,
	)
	return res, nil
}

// columnNames maps record keys to header names. Empty keys get a
// placeholder that does not collide with any other key.
func columnNames(keys []string) []string {
	taken := make(map[string]bool, len(keys))
	for _, k := range keys {
		taken[k] = true
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		if k != "" {
			names[i] = k
			continue
		}
		name := fmt.Sprintf("Unnamed: %d", i)
		for n := 1; taken[name]; n++ {
			name = fmt.Sprintf("Unnamed: %d.%d", i, n)
		}
		taken[name] = true
		names[i] = name
	}
	return names
}

func encodeCSV(keys, header []string, records []medallion.Record) ([]byte, error) {
	var buf bytes.Buffer
	if len(header) == 0 {
		return buf.Bytes(), nil
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	line := make([]string, len(header))
	for _, r := range records {
		for i, k := range keys {
			v, _ := r.Get(k)
			line[i] = medallion.Text(v)
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Snapshot is the parsed raw snapshot.
type Snapshot struct {
	Header []string
	Rows   [][]string
}

// ReadSnapshot reads the whole snapshot. A missing file, a file with no
// header line (as landed from an empty collection) or bad CSV is a
// ReadError.
func (l *Lander) ReadSnapshot(ctx context.Context) (*Snapshot, error) {
	data, err := l.store.Get(ctx, l.layout.BronzeKey())
	if err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageSilver, Artifact: l.URI(), Err: err}
	}

	snap, err := decodeCSV(data)
	if err != nil {
		return nil, &medallion.ReadError{Stage: medallion.StageSilver, Artifact: l.URI(), Err: err}
	}
	return snap, nil
}

// ErrEmptySnapshot is returned for a snapshot with no header line.
var ErrEmptySnapshot = errors.New("raw snapshot has no header")

func decodeCSV(data []byte) (*Snapshot, error) {
	r := csv.NewReader(bytes.NewReader(data))

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrEmptySnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	snap := &Snapshot{Header: header}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse row %d: %w", len(snap.Rows)+1, err)
		}
		snap.Rows = append(snap.Rows, rec)
	}
	return snap, nil
}
