// Package lineage emits hash-chained audit events for every layer write.
package lineage

import (
	"time"
)

const (
	EventVersion   = "1.0"
	EventTypeWrite = "layer_write"
)

// Event records one committed layer artifact and what it was built from.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Output   ArtifactInfo   `json:"output"`
	Inputs   []ArtifactInfo `json:"inputs"`
	Run      RunInfo        `json:"run"`
	Producer ProducerInfo   `json:"producer"`
	Chain    ChainInfo      `json:"chain"`
}

// ArtifactInfo identifies a layer artifact: the raw snapshot or a table
// version.
type ArtifactInfo struct {
	Context      string `json:"context"`
	Stage        string `json:"stage"`
	Name         string `json:"name,omitempty"`
	URI          string `json:"uri"`
	TableID      string `json:"table_id,omitempty"`
	TableVersion *int64 `json:"table_version,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	RowCount     int64  `json:"row_count"`
	ByteSize     int64  `json:"byte_size"`
	FileCount    int    `json:"file_count,omitempty"`
}

// RunInfo ties the event to a pipeline run.
type RunInfo struct {
	RunID   string `json:"run_id"`
	Attempt int    `json:"attempt"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links the event into its chain. Sequence starts at 1.
type ChainInfo struct {
	Sequence      int64  `json:"sequence"`
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event extends: one chain per context
// and stage.
func (e *Event) ChainKey() string {
	return e.Output.Context + "/" + e.Output.Stage
}
