package lineage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/withObsrvr/brewery-medallion/internal/util"
)

// FileBackup saves events to local files for backup/audit.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./lineage-backup"
	}

	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Save writes an event to a local JSON file named
// {context}_{stage}_{unix_nanos}_{event_id}.json so a directory listing
// sorts in emission order.
func (f *FileBackup) Save(evt *Event) (string, error) {
	filename := fmt.Sprintf("%s_%s_%019d_%s.json",
		evt.Output.Context,
		evt.Output.Stage,
		evt.Timestamp.UnixNano(),
		evt.EventID,
	)
	path := filepath.Join(f.dir, filename)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Load reads back the events of one chain, oldest first.
func (f *FileBackup) Load(pipelineContext, stage string) ([]Event, error) {
	prefix := pipelineContext + "_" + stage + "_"
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

// FileOnlyEmitter writes events to files only (no HTTP).
// Used when no lineage endpoint is configured.
type FileOnlyEmitter struct {
	chainTracker *ChainTracker
	backup       *FileBackup
	log          *slog.Logger
}

// NewFileOnlyEmitter creates an emitter that only writes to local files.
func NewFileOnlyEmitter(backupDir string) (*FileOnlyEmitter, error) {
	chainTracker, err := NewChainTracker(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(backupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &FileOnlyEmitter{
		chainTracker: chainTracker,
		backup:       backup,
		log:          slog.With("component", "lineage"),
	}, nil
}

// Emit links and writes an event to local file only.
func (e *FileOnlyEmitter) Emit(evt *Event) error {
	chainKey := evt.ChainKey()

	prepare(evt)
	e.chainTracker.Link(evt)

	path, err := e.backup.Save(evt)
	if err != nil {
		return err
	}
	e.log.Debug("lineage event written", "chain", chainKey, "sequence", evt.Chain.Sequence, "path", path)

	if err := e.chainTracker.Advance(evt); err != nil {
		e.log.Warn("failed to update chain head", "chain", chainKey, "error", err)
	}
	return nil
}

// Close releases resources.
func (e *FileOnlyEmitter) Close() error {
	return nil
}
