package medallion

import "fmt"

// Stage names as they appear in logs, metrics and the schedule.
const (
	StageBronze = "bronze"
	StageSilver = "silver"
	StageGold   = "gold"
)

// FetchError reports a network or parse failure while ingesting the source.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ReadError reports a missing or malformed upstream artifact.
type ReadError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: read %s: %v", e.Stage, e.Artifact, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports an I/O or commit failure on a stage's output artifact.
type WriteError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: write %s: %v", e.Stage, e.Artifact, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
