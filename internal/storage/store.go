package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/withObsrvr/brewery-medallion/internal/util"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrExists is returned by PutIfAbsent when the key is already taken.
	ErrExists = errors.New("object already exists")
)

// Store abstracts a flat object namespace rooted at one layer root.
// Keys are slash-separated and relative to the root.
type Store interface {
	// Put writes data under key, replacing any previous object atomically.
	// Readers see either the old or the new content, never a partial write.
	Put(ctx context.Context, key string, data []byte) error

	// PutIfAbsent writes data under key only if no object exists there.
	// Returns ErrExists when another writer got there first.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// Get reads the object at key. Returns ErrNotFound if missing.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Open creates a store for a layer root. Plain paths use the local
// filesystem; s3://, gs://, file:// and mem:// URLs go through gocloud.dev.
func Open(ctx context.Context, root string) (Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	if !strings.Contains(root, "://") {
		return NewLocalStore(root)
	}

	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("parse storage root %q: %w", root, err)
	}

	switch u.Scheme {
	case "s3":
		q := u.Query()
		return NewS3Store(ctx, u.Host, u.Path, q.Get("endpoint"), q.Get("region"))
	case "gs":
		return NewGCSStore(ctx, u.Host, u.Path)
	case "file":
		// fileblob refuses to open a missing directory.
		if err := util.EnsureDir(u.Path); err != nil {
			return nil, fmt.Errorf("create base directory %s: %w", u.Path, err)
		}
		return NewBlobStore(ctx, root)
	case "mem":
		return NewBlobStore(ctx, root)
	default:
		return nil, fmt.Errorf("unknown storage scheme: %s", u.Scheme)
	}
}

// isTempKey reports whether key is an in-flight temp object.
func isTempKey(key string) bool {
	return strings.Contains(key, ".tmp.")
}
