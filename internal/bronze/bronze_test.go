package bronze

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/storage"
)

func newTestLander(t *testing.T) (*Lander, storage.Store) {
	t.Helper()
	s, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	layout := medallion.Layout{BronzeRoot: "b", SilverRoot: "s", GoldRoot: "g", Context: "brewery"}
	return NewLander(s, layout), s
}

func TestLandRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLander(t)

	records := []medallion.Record{
		medallion.RecordOf("id", "1", "name", "Alpha, Inc.", "state", "California"),
		medallion.RecordOf("id", "2", "state", "Texas", "brewery_type", "micro", "phone", nil),
		medallion.RecordOf("name", "Gamma \"G\"", "id", "3"),
	}

	res, err := l.Land(ctx, records)
	if err != nil {
		t.Fatalf("Land: %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("rows = %d", res.Rows)
	}

	snap, err := l.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	wantHeader := []string{"id", "name", "state", "brewery_type", "phone"}
	if !reflect.DeepEqual(snap.Header, wantHeader) {
		t.Errorf("header = %v, want %v", snap.Header, wantHeader)
	}
	if len(snap.Rows) != len(records) {
		t.Fatalf("rows = %d, want %d", len(snap.Rows), len(records))
	}
	if snap.Rows[0][1] != "Alpha, Inc." {
		t.Errorf("quoted cell = %q", snap.Rows[0][1])
	}
	if snap.Rows[2][1] != `Gamma "G"` || snap.Rows[2][2] != "" {
		t.Errorf("third row = %q", snap.Rows[2])
	}
}

func TestLandOverwrites(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLander(t)

	first := []medallion.Record{
		medallion.RecordOf("id", "1"),
		medallion.RecordOf("id", "2"),
	}
	if _, err := l.Land(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Land(ctx, first[:1]); err != nil {
		t.Fatal(err)
	}

	snap, err := l.ReadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Rows) != 1 {
		t.Errorf("rows after overwrite = %d, want 1", len(snap.Rows))
	}
}

func TestLandEmpty(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLander(t)

	res, err := l.Land(ctx, nil)
	if err != nil {
		t.Fatalf("Land empty: %v", err)
	}
	if res.Rows != 0 || res.Bytes != 0 {
		t.Errorf("result = %+v", res)
	}
	if ok, _ := s.Exists(ctx, "brewery/bronze_brewery.csv"); !ok {
		t.Error("empty snapshot file should exist")
	}

	_, err = l.ReadSnapshot(ctx)
	var re *medallion.ReadError
	if !errors.As(err, &re) || !errors.Is(err, ErrEmptySnapshot) {
		t.Errorf("got %v, want ReadError wrapping ErrEmptySnapshot", err)
	}
}

func TestReadSnapshotMissing(t *testing.T) {
	l, _ := newTestLander(t)
	_, err := l.ReadSnapshot(context.Background())
	var re *medallion.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want *ReadError", err)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ReadError should wrap ErrNotFound: %v", err)
	}
}

func TestReadSnapshotMalformed(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLander(t)
	s.Put(ctx, "brewery/bronze_brewery.csv", []byte("id,name\n1,\"unterminated\n"))

	_, err := l.ReadSnapshot(ctx)
	var re *medallion.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want *ReadError", err)
	}
}

func TestReadSnapshotHeaderOnly(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLander(t)
	s.Put(ctx, "brewery/bronze_brewery.csv", []byte("id,state,brewery_type\n"))

	snap, err := l.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(snap.Header) != 3 || len(snap.Rows) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLandNamesEmptyKey(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLander(t)

	records := []medallion.Record{
		medallion.RecordOf("id", "1", "", "x", "state", "Ohio"),
		medallion.RecordOf("id", "2", "Unnamed: 1", "taken", "state", "Iowa"),
	}
	res, err := l.Land(ctx, records)
	if err != nil {
		t.Fatalf("Land: %v", err)
	}
	wantHeader := []string{"id", "Unnamed: 1.1", "state", "Unnamed: 1"}
	if !reflect.DeepEqual(res.Header, wantHeader) {
		t.Errorf("header = %v, want %v", res.Header, wantHeader)
	}

	snap, err := l.ReadSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(snap.Header, wantHeader) {
		t.Errorf("read header = %v", snap.Header)
	}
	if snap.Rows[0][1] != "x" || snap.Rows[1][3] != "taken" {
		t.Errorf("rows = %q", snap.Rows)
	}
}
