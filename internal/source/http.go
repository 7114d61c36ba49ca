package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
)

// HTTPFetcher issues one GET to the collection endpoint. No pagination.
type HTTPFetcher struct {
	url       string
	userAgent string
	client    *http.Client
	log       *slog.Logger

	mu   sync.Mutex
	last Stats
}

// NewHTTPFetcher creates a fetcher for url. A zero timeout means 30s.
func NewHTTPFetcher(url string, timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = "brewery-medallion"
	}
	return &HTTPFetcher{
		url:       url,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		log:       slog.With("component", "source", "url", url),
	}
}

// Fetch downloads and parses the whole collection.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]medallion.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &medallion.FetchError{URL: f.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &medallion.FetchError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &medallion.FetchError{
			URL: f.url,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet),
		}
	}

	body, err := decodeContent(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, &medallion.FetchError{URL: f.url, Err: err}
	}
	defer body.Close()

	counter := &countingReader{r: body}
	records, err := DecodeRecords(counter)
	if err != nil {
		return nil, &medallion.FetchError{URL: f.url, Err: err}
	}

	f.mu.Lock()
	f.last = Stats{Bytes: counter.n, Records: len(records)}
	f.mu.Unlock()

	f.log.Debug("fetched collection",
		"records", len(records),
		"bytes", counter.n,
		"content_encoding", resp.Header.Get("Content-Encoding"),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return records, nil
}

// LastStats returns the size of the last successful fetch.
func (f *HTTPFetcher) LastStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var _ Fetcher = (*HTTPFetcher)(nil)
