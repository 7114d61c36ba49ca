package lineage

import (
	"context"
	"log/slog"
	"time"
)

// Config configures lineage emission.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	BackupDir string        `yaml:"backup_dir"`
	Timeout   time.Duration `yaml:"timeout"`
	// Strict makes emission failures fail the stage instead of being logged.
	Strict bool `yaml:"strict"`
}

// Emitter is the interface for lineage event emission.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration.
func NewEmitter(cfg Config) Emitter {
	log := slog.With("component", "lineage")

	if !cfg.Enabled {
		log.Debug("lineage disabled, using no-op emitter")
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			log.Warn("failed to create HTTP emitter, falling back to file-only", "error", err)
			return createFileOnlyEmitter(cfg)
		}
		log.Info("using HTTP lineage emitter", "endpoint", cfg.Endpoint)
		return &httpEmitterWrapper{emitter: emitter}
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg Config) Emitter {
	log := slog.With("component", "lineage")
	emitter, err := NewFileOnlyEmitter(cfg.BackupDir)
	if err != nil {
		log.Warn("failed to create file emitter, using no-op", "error", err)
		return &noopEmitter{}
	}
	log.Info("using file-only lineage emitter", "dir", cfg.BackupDir)
	return &fileOnlyEmitterWrapper{emitter: emitter}
}

// prepare stamps identity fields before hashing.
func prepare(evt *Event) {
	evt.Version = EventVersion
	if evt.EventType == "" {
		evt.EventType = EventTypeWrite
	}
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
}

type httpEmitterWrapper struct {
	emitter *HTTPEmitter
}

func (w *httpEmitterWrapper) Emit(ctx context.Context, evt Event) error {
	return w.emitter.Emit(ctx, &evt)
}

func (w *httpEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type fileOnlyEmitterWrapper struct {
	emitter *FileOnlyEmitter
}

func (w *fileOnlyEmitterWrapper) Emit(_ context.Context, evt Event) error {
	return w.emitter.Emit(&evt)
}

func (w *fileOnlyEmitterWrapper) Close() error {
	return w.emitter.Close()
}

// noopEmitter discards all events.
type noopEmitter struct{}

func (n *noopEmitter) Emit(_ context.Context, _ Event) error {
	return nil
}

func (n *noopEmitter) Close() error {
	return nil
}
