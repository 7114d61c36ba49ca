package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gocloud.dev/blob/memblob"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	mem := NewBlobStoreFromBucket(memblob.OpenBucket(nil), "mem://test")
	t.Cleanup(func() { mem.Close() })

	file, err := Open(context.Background(), "file://"+filepath.ToSlash(t.TempDir()))
	if err != nil {
		t.Fatalf("Open file://: %v", err)
	}
	t.Cleanup(func() { file.Close() })

	return map[string]Store{"local": local, "mem": mem, "file": file}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "brewery/bronze_brewery.csv", []byte("a,b\n")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "brewery/bronze_brewery.csv", []byte("c\n")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}

			got, err := s.Get(ctx, "brewery/bronze_brewery.csv")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "c\n" {
				t.Errorf("Get = %q, want %q", got, "c\n")
			}

			ok, err := s.Exists(ctx, "brewery/bronze_brewery.csv")
			if err != nil || !ok {
				t.Errorf("Exists = %v, %v; want true, nil", ok, err)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nope/missing.json")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get missing: got %v, want ErrNotFound", err)
			}
			ok, err := s.Exists(ctx, "nope/missing.json")
			if err != nil || ok {
				t.Errorf("Exists missing = %v, %v", ok, err)
			}
			if err := s.Delete(ctx, "nope/missing.json"); err != nil {
				t.Errorf("Delete missing: %v", err)
			}
		})
	}
}

func TestStorePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "t/_delta_log/00000000000000000000.json"
			if err := s.PutIfAbsent(ctx, key, []byte("first")); err != nil {
				t.Fatalf("first PutIfAbsent: %v", err)
			}
			err := s.PutIfAbsent(ctx, key, []byte("second"))
			if !errors.Is(err, ErrExists) {
				t.Fatalf("second PutIfAbsent: got %v, want ErrExists", err)
			}
			got, _ := s.Get(ctx, key)
			if string(got) != "first" {
				t.Errorf("content = %q, want first writer's", got)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{
				"brewery/_delta_log/00000000000000000001.json",
				"brewery/_delta_log/00000000000000000000.json",
				"brewery/state=Texas/part-00000.parquet",
				"other/x.json",
			} {
				if err := s.Put(ctx, k, []byte("x")); err != nil {
					t.Fatalf("Put %s: %v", k, err)
				}
			}

			keys, err := s.List(ctx, "brewery/_delta_log/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{
				"brewery/_delta_log/00000000000000000000.json",
				"brewery/_delta_log/00000000000000000001.json",
			}
			if strings.Join(keys, ",") != strings.Join(want, ",") {
				t.Errorf("List = %v, want %v", keys, want)
			}

			keys, err = s.List(ctx, "missing/")
			if err != nil {
				t.Fatalf("List missing prefix: %v", err)
			}
			if len(keys) != 0 {
				t.Errorf("List missing prefix = %v, want empty", keys)
			}
		})
	}
}

func TestStoreConcurrentPutIfAbsent(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mem := NewBlobStoreFromBucket(memblob.OpenBucket(nil), "mem://race")
	defer mem.Close()

	ctx := context.Background()
	for name, s := range map[string]Store{"local": local, "mem": mem} {
		t.Run(name, func(t *testing.T) {
			const writers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					body := []byte(fmt.Sprintf("commit-%d", i))
					err := s.PutIfAbsent(ctx, "log/00000000000000000003.json", body)
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					} else if !errors.Is(err, ErrExists) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if wins != 1 {
				t.Errorf("winners = %d, want 1", wins)
			}
		})
	}
}

func TestLocalStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s.Put(ctx, "a/b.csv", []byte("1"))
	s.PutIfAbsent(ctx, "a/c.json", []byte("2"))
	s.PutIfAbsent(ctx, "a/c.json", []byte("3"))

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open local: %v", err)
	}
	if _, ok := s.(*LocalStore); !ok {
		t.Errorf("Open plain path returned %T", s)
	}

	s, err = Open(ctx, "mem://")
	if err != nil {
		t.Fatalf("Open mem: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*BlobStore); !ok {
		t.Errorf("Open mem:// returned %T", s)
	}

	if _, err := Open(ctx, "ftp://host/path"); err == nil {
		t.Error("expected error for unknown scheme")
	}
	if _, err := Open(ctx, ""); err == nil {
		t.Error("expected error for empty root")
	}
}
