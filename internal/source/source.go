// Package source fetches the current snapshot of the remote collection.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
)

// DefaultURL is the Open Brewery DB collection endpoint.
const DefaultURL = "https://api.openbrewerydb.org/breweries"

// Fetcher retrieves the full record collection in one call.
type Fetcher interface {
	Fetch(ctx context.Context) ([]medallion.Record, error)
}

// Config selects and configures a fetcher.
type Config struct {
	Mode      string        `yaml:"mode"` // "http" | "file"
	URL       string        `yaml:"url"`
	Path      string        `yaml:"path"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

var ErrInvalidSourceMode = errors.New("invalid source mode")

// NewFetcher constructs a fetcher based on the configured mode.
func NewFetcher(cfg Config) (Fetcher, error) {
	switch cfg.Mode {
	case "", "http":
		url := cfg.URL
		if url == "" {
			url = DefaultURL
		}
		return NewHTTPFetcher(url, cfg.Timeout, cfg.UserAgent), nil
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("file source requires a path")
		}
		return NewFileFetcher(cfg.Path), nil
	default:
		return nil, ErrInvalidSourceMode
	}
}

// Stats describes the last successful fetch.
type Stats struct {
	Bytes   int64
	Records int
}

// StatsReporter is implemented by fetchers that track response sizes.
type StatsReporter interface {
	LastStats() Stats
}
