package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const breweriesJSON = `[
	{"id":"1","name":"Golden Road","state":"California","brewery_type":"micro"},
	{"id":"2","name":"Tiny Barrel","state":"California","brewery_type":"nano"},
	{"id":"3","name":"Lone Star","state":"Texas","brewery_type":"micro"}
]`

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	payload := filepath.Join(dir, "breweries.json")
	if err := os.WriteFile(payload, []byte(breweriesJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := `
source:
  mode: file
  path: ` + payload + `
layers:
  bronze_root: ` + filepath.Join(dir, "bronze") + `
  silver_root: ` + filepath.Join(dir, "silver") + `
  gold_root: ` + filepath.Join(dir, "gold") + `
  context: brewery
schedule:
  retries: 0
checkpoint:
  enabled: true
  dir: ` + filepath.Join(dir, "state") + `
logging:
  level: error
`
	path := filepath.Join(dir, "medallion.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunShowStatus(t *testing.T) {
	cfg := setupConfig(t)

	out, err := execute(t, "run", "-c", cfg)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "gold") || !strings.Contains(out, "version=0") {
		t.Errorf("run output:\n%s", out)
	}

	out, err = execute(t, "show", "gold", "-c", cfg)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"gold_brewery version 0", "brewery_type", "California", "Texas", "nano"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "California") > strings.Index(out, "Texas") {
		t.Errorf("California rows not before Texas rows:\n%s", out)
	}

	out, err = execute(t, "show", "silver", "--partition", "Texas", "-c", cfg)
	if err != nil {
		t.Fatalf("show partition: %v", err)
	}
	if !strings.Contains(out, "Lone Star") || strings.Contains(out, "Golden Road") {
		t.Errorf("partition output:\n%s", out)
	}

	out, err = execute(t, "status", "--history", "-c", cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"context: brewery", "succeeded", "silver history", "WRITE"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStageArgs(t *testing.T) {
	cfg := setupConfig(t)

	if _, err := execute(t, "stage", "platinum", "-c", cfg); err == nil {
		t.Error("stage accepted an unknown name")
	}
	if _, err := execute(t, "stage", "-c", cfg); err == nil {
		t.Error("stage accepted no argument")
	}

	out, err := execute(t, "stage", "bronze", "-c", cfg)
	if err != nil {
		t.Fatalf("stage bronze: %v\n%s", err, out)
	}
	if !strings.Contains(out, "bronze") || !strings.Contains(out, "rows=3") {
		t.Errorf("stage output:\n%s", out)
	}
}

func TestStatusBeforeAnyRun(t *testing.T) {
	out, err := execute(t, "status", "-c", setupConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("silver:\n  missing_key_policy: ignore\n"), 0644)

	_, err := execute(t, "run", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "missing key policy") {
		t.Errorf("error = %v", err)
	}
}
