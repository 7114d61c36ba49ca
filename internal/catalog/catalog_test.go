package catalog

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

func TestSchemaHash(t *testing.T) {
	a := tables.NewSchema(
		tables.Column{Name: "state", Type: tables.TypeString},
		tables.Column{Name: "count", Type: tables.TypeLong},
	)
	b := tables.NewSchema(
		tables.Column{Name: "state", Type: tables.TypeString},
		tables.Column{Name: "count", Type: tables.TypeDouble},
	)

	ha := SchemaHash(a)
	if !strings.HasPrefix(ha, "sha256:") {
		t.Fatalf("hash = %q", ha)
	}
	if ha != SchemaHash(a) {
		t.Error("hash not deterministic")
	}
	if ha == SchemaHash(b) {
		t.Error("type change did not change hash")
	}
}

func TestNewWriterWithoutDSN(t *testing.T) {
	w, err := NewWriter(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, ok := w.(NoopWriter); !ok {
		t.Fatalf("got %T, want NoopWriter", w)
	}
	id, err := w.EnsureTable(context.Background(), TableInfo{Context: "breweries", Stage: "silver"})
	if err != nil || id != 0 {
		t.Errorf("EnsureTable = %d, %v", id, err)
	}
	last, err := w.LastCommit(context.Background(), id)
	if err != nil || last != nil {
		t.Errorf("LastCommit = %v, %v", last, err)
	}
}

func TestNewWriterBadDSN(t *testing.T) {
	_, err := NewWriter(context.Background(), Config{PostgresDSN: "postgres://%zz"})
	if err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

// TestPostgresWriter runs against a live database when
// MEDALLION_TEST_POSTGRES_DSN is set.
func TestPostgresWriter(t *testing.T) {
	dsn := os.Getenv("MEDALLION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDALLION_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	w, err := NewPostgresWriter(ctx, Config{PostgresDSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	pipelineContext := "test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	ref, err := w.EnsureTable(ctx, TableInfo{
		Context: pipelineContext,
		Stage:   "gold",
		Name:    "gold_" + pipelineContext,
		URI:     "file:///tmp/gold/" + pipelineContext + "/",
	})
	if err != nil {
		t.Fatal(err)
	}
	again, err := w.EnsureTable(ctx, TableInfo{Context: pipelineContext, Stage: "gold", Name: "x", URI: "y", TableID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if again != ref {
		t.Errorf("EnsureTable returned %d then %d", ref, again)
	}

	input := int64(3)
	for v := int64(0); v < 2; v++ {
		if err := w.RecordCommit(ctx, CommitRecord{
			TableRef:        ref,
			Version:         v,
			RunID:           "run",
			RowCount:        10 + v,
			FileCount:       1,
			InputVersion:    &input,
			ProducerVersion: "test",
		}); err != nil {
			t.Fatal(err)
		}
	}

	last, err := w.LastCommit(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Version != 1 || last.RowCount != 11 {
		t.Fatalf("LastCommit = %+v", last)
	}
	if last.InputVersion == nil || *last.InputVersion != 3 {
		t.Errorf("input version = %v", last.InputVersion)
	}

	if err := w.RecordQuality(ctx, QualityRecord{TableRef: ref, Version: 1, InputRows: 12, RowCount: 11, Dropped: 1, Passed: true}); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordRun(ctx, RunRecord{
		RunID:      uuid.NewString(),
		Context:    pipelineContext,
		Status:     "succeeded",
		Stages:     []string{"bronze", "silver", "gold"},
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
}
