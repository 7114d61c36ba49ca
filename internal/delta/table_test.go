package delta

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/withObsrvr/brewery-medallion/internal/storage"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

var testSchema = tables.NewSchema(
	tables.Column{Name: "id", Type: tables.TypeString},
	tables.Column{Name: "brewery_type", Type: tables.TypeString},
	tables.Column{Name: "state", Type: tables.TypeString},
	tables.Column{Name: "phone", Type: tables.TypeLong},
)

func testRows() []tables.Row {
	return []tables.Row{
		{"1", "micro", "California", int64(5550100)},
		{"2", "brewpub", "Texas", nil},
		{"3", "micro", "California", int64(5550102)},
		{"4", "large", "New York", nil},
	}
}

func newTestTable(t *testing.T) (*Table, storage.Store) {
	t.Helper()
	s, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return Open(s, "brewery", Options{}), s
}

func TestSnapshotMissingTable(t *testing.T) {
	tbl, _ := newTestTable(t)
	_, err := tbl.Snapshot(context.Background())
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("got %v, want ErrTableNotFound", err)
	}
}

func TestOverwriteAndRead(t *testing.T) {
	ctx := context.Background()
	tbl, s := newTestTable(t)

	res, err := tbl.Overwrite(ctx, WriteRequest{
		Name:            "silver_brewery",
		Schema:          testSchema,
		Rows:            testRows(),
		PartitionColumn: "state",
	})
	if err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	if res.Version != 0 {
		t.Errorf("version = %d, want 0", res.Version)
	}
	if res.RowsWritten != 4 || res.FilesAdded != 3 {
		t.Errorf("rows=%d files=%d, want 4 and 3", res.RowsWritten, res.FilesAdded)
	}
	if strings.Join(res.Partitions, ",") != "California,Texas,New York" {
		t.Errorf("partitions = %v", res.Partitions)
	}

	keys, _ := s.List(ctx, "brewery/state=New York/")
	if len(keys) != 1 || !strings.HasSuffix(keys[0], ".zstd.parquet") {
		t.Errorf("New York partition files = %v", keys)
	}

	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Schema.Equal(testSchema) {
		t.Errorf("schema = %+v", snap.Schema)
	}
	if snap.PartitionColumn() != "state" {
		t.Errorf("partition column = %q", snap.PartitionColumn())
	}
	if snap.NumRecords() != 4 {
		t.Errorf("NumRecords = %d", snap.NumRecords())
	}

	rows, err := snap.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}

	ca, err := snap.ReadPartition(ctx, "California")
	if err != nil {
		t.Fatalf("ReadPartition: %v", err)
	}
	if len(ca) != 2 {
		t.Fatalf("California rows = %d, want 2", len(ca))
	}
	for _, r := range ca {
		if r[2] != "California" {
			t.Errorf("row %v in California partition", r)
		}
	}

	ny, err := snap.ReadPartition(ctx, "New York")
	if err != nil || len(ny) != 1 || ny[0][0] != "4" {
		t.Errorf("New York = %v, %v", ny, err)
	}
}

func TestOverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	req := WriteRequest{Name: "silver_brewery", Schema: testSchema, Rows: testRows(), PartitionColumn: "state"}
	first, err := tbl.Overwrite(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tbl.Overwrite(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if second.Version != 1 {
		t.Errorf("second version = %d, want 1", second.Version)
	}
	if second.TableID != first.TableID {
		t.Errorf("table id changed across overwrites")
	}
	if second.FilesRemoved != 3 {
		t.Errorf("files removed = %d, want 3", second.FilesRemoved)
	}

	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := snap.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Errorf("rows after second overwrite = %d, want 4", len(rows))
	}

	old, err := tbl.SnapshotAt(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	oldRows, err := old.ReadAll(ctx)
	if err != nil {
		t.Fatalf("old data files should remain readable: %v", err)
	}
	if len(oldRows) != 4 {
		t.Errorf("rows at version 0 = %d", len(oldRows))
	}

	hist, err := tbl.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Version != 1 || hist[0].Info.Operation != "WRITE" {
		t.Errorf("history = %+v", hist)
	}
}

func TestOverwriteEmpty(t *testing.T) {
	ctx := context.Background()
	tbl, s := newTestTable(t)

	if _, err := tbl.Overwrite(ctx, WriteRequest{Name: "t", Schema: testSchema, Rows: testRows(), PartitionColumn: "state"}); err != nil {
		t.Fatal(err)
	}
	res, err := tbl.Overwrite(ctx, WriteRequest{Name: "t", Schema: testSchema, PartitionColumn: "state"})
	if err != nil {
		t.Fatalf("empty overwrite: %v", err)
	}
	if res.FilesAdded != 0 || res.Version != 1 {
		t.Errorf("result = %+v", res)
	}

	snap, err := tbl.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := snap.ReadAll(ctx)
	if err != nil || len(rows) != 0 {
		t.Errorf("rows = %v, err = %v", rows, err)
	}

	keys, _ := s.List(ctx, "brewery/_delta_log/")
	if len(keys) != 2 {
		t.Errorf("log entries = %v", keys)
	}
}

func TestConcurrentCommitLoser(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := Open(s, "brewery", Options{})
	b := Open(s, "brewery", Options{})

	winnerRows := []tables.Row{{"9", "micro", "Oregon", nil}}
	a.beforeCommit = func(version int64) {
		if _, err := b.Overwrite(ctx, WriteRequest{Name: "t", Schema: testSchema, Rows: winnerRows, PartitionColumn: "state"}); err != nil {
			t.Errorf("winner Overwrite: %v", err)
		}
	}

	_, err = a.Overwrite(ctx, WriteRequest{Name: "t", Schema: testSchema, Rows: testRows(), PartitionColumn: "state"})
	if !errors.Is(err, ErrConcurrentCommit) {
		t.Fatalf("loser got %v, want ErrConcurrentCommit", err)
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 0 {
		t.Errorf("version = %d, want 0", snap.Version)
	}
	rows, err := snap.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][2] != "Oregon" {
		t.Errorf("readers see %v, want winner's rows only", rows)
	}

	for _, dir := range []string{"brewery/state=California/", "brewery/state=Texas/"} {
		keys, _ := s.List(ctx, dir)
		if len(keys) != 0 {
			t.Errorf("loser data files not cleaned up in %s: %v", dir, keys)
		}
	}
}

func TestSnapshotDetectsGap(t *testing.T) {
	ctx := context.Background()
	tbl, s := newTestTable(t)

	req := WriteRequest{Name: "t", Schema: testSchema, Rows: testRows(), PartitionColumn: "state"}
	for i := 0; i < 3; i++ {
		if _, err := tbl.Overwrite(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete(ctx, logKey("brewery/", 1)); err != nil {
		t.Fatal(err)
	}

	_, err := tbl.Snapshot(ctx)
	if !errors.Is(err, ErrCorruptLog) {
		t.Fatalf("got %v, want ErrCorruptLog", err)
	}
}

func TestPartitionPathEscaping(t *testing.T) {
	if got := partitionDir("state", ptr("a/b=c")); got != "state=a%2Fb%3Dc" {
		t.Errorf("partitionDir = %q", got)
	}
	if got := partitionDir("state", nil); got != "state="+DefaultPartition {
		t.Errorf("null partitionDir = %q", got)
	}
	enc := encodePath("state=New York/part-00000.parquet")
	if enc != "state=New%20York/part-00000.parquet" {
		t.Errorf("encodePath = %q", enc)
	}
	dec, err := decodePath(enc)
	if err != nil || dec != "state=New York/part-00000.parquet" {
		t.Errorf("decodePath = %q, %v", dec, err)
	}
}

func TestParseLogVersion(t *testing.T) {
	if v, ok := parseLogVersion("x/_delta_log/00000000000000000012.json"); !ok || v != 12 {
		t.Errorf("got %d, %v", v, ok)
	}
	for _, k := range []string{
		"x/_delta_log/00000000000000000010.checkpoint.parquet",
		"x/_delta_log/00000000000000000010.crc",
		"x/_delta_log/_last_checkpoint",
	} {
		if _, ok := parseLogVersion(k); ok {
			t.Errorf("%s should not parse as a commit", k)
		}
	}
}

func ptr(s string) *string { return &s }
