package source

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
)

// FileFetcher reads a saved response from disk. Files ending in .gz or
// .zst are decompressed.
type FileFetcher struct {
	path string

	mu   sync.Mutex
	last Stats
}

// NewFileFetcher creates a fetcher for a local JSON file.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

func (f *FileFetcher) Fetch(ctx context.Context) ([]medallion.Record, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, &medallion.FetchError{URL: "file://" + f.path, Err: err}
	}
	defer file.Close()

	encoding := ""
	switch {
	case strings.HasSuffix(f.path, ".gz"):
		encoding = "gzip"
	case strings.HasSuffix(f.path, ".zst"):
		encoding = "zstd"
	}

	body, err := decodeContent(encoding, file)
	if err != nil {
		return nil, &medallion.FetchError{URL: "file://" + f.path, Err: err}
	}
	defer body.Close()

	counter := &countingReader{r: body}
	records, err := DecodeRecords(counter)
	if err != nil {
		return nil, &medallion.FetchError{URL: "file://" + f.path, Err: err}
	}

	f.mu.Lock()
	f.last = Stats{Bytes: counter.n, Records: len(records)}
	f.mu.Unlock()
	return records, nil
}

// LastStats returns the size of the last successful read.
func (f *FileFetcher) LastStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var _ Fetcher = (*FileFetcher)(nil)
