package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/withObsrvr/brewery-medallion/internal/util"
)

// LocalStore keeps objects as files under a base directory.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", baseDir, err)
	}
	if err := util.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", abs, err)
	}
	return &LocalStore{baseDir: abs}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// writeTemp writes data next to path and returns the temp file name.
func (s *LocalStore) writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp." + uuid.New().String()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	return tempPath, nil
}

// Put writes atomically using temp file + rename.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path := s.path(key)
	tempPath, err := s.writeTemp(path, data)
	if err != nil {
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// PutIfAbsent hard-links a fully written temp file into place. link(2)
// fails if the target exists, so exactly one concurrent writer wins.
func (s *LocalStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	path := s.path(key)
	tempPath, err := s.writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	if err := os.Link(tempPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return fmt.Errorf("link %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// Get reads a file from the local filesystem.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List walks the directory that contains prefix and returns matching keys.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	walkRoot := s.baseDir
	if dir := prefix[:strings.LastIndex(prefix, "/")+1]; dir != "" {
		walkRoot = s.path(dir)
	}

	var keys []string
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == walkRoot {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !isTempKey(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes a file. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	return "file://" + filepath.ToSlash(s.path(key))
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// Verify LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
