package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

// FileStore persists entries as one JSON file per key under dir/<namespace>/,
// so results survive across CLI invocations. Writes go through a temp file
// plus rename so a crash mid-write never leaves a corrupt entry visible to
// readers (spec.md §4.7 / §9).
type FileStore struct {
	dir         string
	sizeCap     int64
	mu          sync.Mutex
	statsMu     sync.Mutex
	stats       Stats
}

// NewFileStore creates a FileStore rooted at dir, evicting the
// least-recently-accessed entries once the on-disk size exceeds sizeCapBytes
// (0 disables the cap).
func NewFileStore(dir string, sizeCapBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, sizeCap: sizeCapBytes}, nil
}

func (f *FileStore) path(ns Namespace, key string) string {
	return filepath.Join(f.dir, string(ns), key+".json")
}

func (f *FileStore) Get(_ context.Context, ns Namespace, key string) ([]byte, bool) {
	p := f.path(ns, key)

	f.mu.Lock()
	data, err := os.ReadFile(p)
	f.mu.Unlock()
	if err != nil {
		f.bumpMiss()
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		f.bumpMiss()
		return nil, false
	}
	if e.expired(time.Now()) {
		f.Delete(context.Background(), ns, key)
		f.bumpMiss()
		return nil, false
	}

	e.AccessedAt = time.Now()
	e.HitCount++
	f.writeEntry(p, &e) // best-effort touch for LRU bookkeeping

	f.statsMu.Lock()
	f.stats.Hits++
	f.statsMu.Unlock()
	return e.Value, true
}

func (f *FileStore) Set(_ context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	p := f.path(ns, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	now := time.Now()
	e := &Entry{Key: key, Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl), AccessedAt: now}
	if err := f.writeEntry(p, e); err != nil {
		return err
	}

	f.statsMu.Lock()
	f.stats.Sets++
	f.statsMu.Unlock()

	if f.sizeCap > 0 {
		f.enforceCap()
	}
	return nil
}

// writeEntry writes e atomically: serialize to a temp file in the same
// directory, then rename over the target. On Windows, rename-over-existing
// can fail with ERROR_ACCESS_DENIED, so a remove-then-rename fallback runs
// if the first rename errors.
func (f *FileStore) writeEntry(p string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, p); err != nil {
		if runtime.GOOS == "windows" {
			os.Remove(p)
			if err2 := os.Rename(tmpName, p); err2 == nil {
				return nil
			}
		}
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, ns Namespace, key string) {
	f.mu.Lock()
	os.Remove(f.path(ns, key))
	f.mu.Unlock()
}

func (f *FileStore) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

func (f *FileStore) Close() error { return nil }

// Sweep walks every namespace directory and removes expired entries.
func (f *FileStore) Sweep(_ context.Context) int {
	removed := 0
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	filepath.WalkDir(f.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil
		}
		if e.expired(now) {
			os.Remove(p)
			removed++
		}
		return nil
	})

	f.statsMu.Lock()
	f.stats.Evictions += int64(removed)
	f.statsMu.Unlock()
	return removed
}

// enforceCap evicts least-recently-accessed entries (by AccessedAt) until
// total on-disk size is under the cap.
func (f *FileStore) enforceCap() {
	type record struct {
		path       string
		size       int64
		accessedAt time.Time
	}
	var records []record
	var total int64

	f.mu.Lock()
	filepath.WalkDir(f.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		var e Entry
		accessed := info.ModTime()
		if json.Unmarshal(data, &e) == nil && !e.AccessedAt.IsZero() {
			accessed = e.AccessedAt
		}
		records = append(records, record{path: p, size: info.Size(), accessedAt: accessed})
		total += info.Size()
		return nil
	})

	if total <= f.sizeCap {
		f.mu.Unlock()
		return
	}

	sort.Slice(records, func(i, j int) bool { return records[i].accessedAt.Before(records[j].accessedAt) })

	evicted := 0
	for _, r := range records {
		if total <= f.sizeCap {
			break
		}
		os.Remove(r.path)
		total -= r.size
		evicted++
	}
	f.mu.Unlock()

	f.statsMu.Lock()
	f.stats.Evictions += int64(evicted)
	f.statsMu.Unlock()
}

func (f *FileStore) bumpMiss() {
	f.statsMu.Lock()
	f.stats.Misses++
	f.statsMu.Unlock()
}
