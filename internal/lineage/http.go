package lineage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPEmitter sends events to an HTTP endpoint, keeping a local backup.
type HTTPEmitter struct {
	endpoint     string
	client       *http.Client
	chainTracker *ChainTracker
	backup       *FileBackup
	retries      int
	delay        time.Duration
	log          *slog.Logger
}

// NewHTTPEmitter creates a new HTTP emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chainTracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPEmitter{
		endpoint:     cfg.Endpoint,
		client:       &http.Client{Timeout: timeout},
		chainTracker: chainTracker,
		backup:       backup,
		retries:      3,
		delay:        time.Second,
		log:          slog.With("component", "lineage", "endpoint", cfg.Endpoint),
	}, nil
}

// Emit sends an event to the configured endpoint.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	chainKey := evt.ChainKey()

	prepare(evt)
	e.chainTracker.Link(evt)

	e.log.Debug("emitting lineage event",
		"chain", chainKey,
		"sequence", evt.Chain.Sequence,
		"prev_hash", evt.Chain.PrevEventHash,
		"event_hash", evt.Chain.EventHash,
	)

	// The local backup is written even if the endpoint never accepts it.
	if _, err := e.backup.Save(evt); err != nil {
		e.log.Warn("lineage backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("lineage emit failed: %w", err)
	}

	if err := e.chainTracker.Advance(evt); err != nil {
		e.log.Warn("failed to update chain head", "chain", chainKey, "error", err)
	}

	return nil
}

// postWithRetry sends the event with exponential backoff.
func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			e.log.Warn("lineage post failed, retrying",
				"attempt", attempt, "max", e.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
