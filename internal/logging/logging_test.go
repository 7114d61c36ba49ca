package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if ValidLevel("bogus") {
		t.Error("ValidLevel accepted bogus")
	}
	if !ValidLevel("Warn") {
		t.Error("ValidLevel rejected Warn")
	}
}

func TestJSONHandlerCarriesRunFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewHandler(Config{Format: "json", Level: "info"}, &buf))

	run := base.With("run_id", "r-1", "context", "breweries")
	StageLogger(run, "silver", 2).Info("committed")
	base.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["run_id"] != "r-1" || rec["context"] != "breweries" || rec["stage"] != "silver" {
		t.Errorf("record = %v", rec)
	}
	if rec["attempt"] != float64(2) {
		t.Errorf("attempt = %v", rec["attempt"])
	}
}

func TestTextHandlerDefault(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(Config{Level: "debug"}, &buf)).Debug("hello", "component", "test")
	if !strings.Contains(buf.String(), "component=test") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" {
		t.Fatal("empty context has a run id")
	}
	id := GenerateRunID()
	if len(id) != 36 {
		t.Errorf("run id %q is not a uuid", id)
	}
	if got := RunID(WithRunID(ctx, id)); got != id {
		t.Errorf("RunID = %q, want %q", got, id)
	}
}
