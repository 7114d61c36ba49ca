package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/util"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Stage statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Checkpoint records pipeline progress for one context.
type Checkpoint struct {
	Context   string                 `json:"context"`
	Pipeline  PipelineInfo           `json:"pipeline"`
	LastRunID string                 `json:"last_run_id"`
	Stages    map[string]*StageState `json:"stages"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// PipelineInfo identifies the pipeline that wrote the checkpoint.
type PipelineInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Version     string   `json:"version"`
	GitSHA      string   `json:"git_sha,omitempty"`
}

// StageState is the outcome of the last execution of one stage.
type StageState struct {
	Status       string    `json:"status"`
	RunID        string    `json:"run_id"`
	Attempts     int       `json:"attempts"`
	TableVersion *int64    `json:"table_version,omitempty"`
	Rows         int64     `json:"rows"`
	Checksum     string    `json:"checksum,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Stage returns the state for name, creating it if needed.
func (cp *Checkpoint) Stage(name string) *StageState {
	if cp.Stages == nil {
		cp.Stages = make(map[string]*StageState)
	}
	st, ok := cp.Stages[name]
	if !ok {
		st = &StageState{}
		cp.Stages[name] = st
	}
	return st
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the checkpoint for a pipeline context.
	Load(ctx context.Context, pipelineContext string) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	// Ensure checkpoint directory exists
	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists checkpoints to local files.
type fileManager struct {
	dir string
}

// checkpointPath returns the path to the checkpoint file for a given context.
func (m *fileManager) checkpointPath(pipelineContext string) string {
	return filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", pipelineContext))
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context, pipelineContext string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(pipelineContext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.Context == "" {
		return errors.New("checkpoint has no context")
	}
	path := m.checkpointPath(cp.Context)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := util.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// noopManager is a no-op checkpoint manager for when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context, pipelineContext string) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
