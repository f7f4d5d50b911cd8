package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const fileExt = ".json"

type fileStamp struct {
	modTime time.Time
	size    int64
}

// FileStore keeps one JSON file per key in a directory. Agents sharing the
// directory observe each other's writes by polling modification times.
type FileStore struct {
	fs     afero.Fs
	dir    string
	origin string
	logger *slog.Logger

	mu       sync.Mutex
	stamps   map[string]fileStamp
	watchers watchers

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewFileStore creates a store rooted at dir on fs
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}

	s := &FileStore{
		fs:       fs,
		dir:      dir,
		origin:   uuid.NewString(),
		logger:   slog.Default().With("component", "file-store", "dir", dir),
		stamps:   make(map[string]fileStamp),
		stopChan: make(chan struct{}),
	}
	// Baseline so files already on disk are not reported as changes
	s.scan()
	return s, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// Set writes atomically using a temp file and rename
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	path := s.path(key)
	tempFile := path + ".tmp"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := afero.WriteFile(s.fs, tempFile, value, 0o644); err != nil {
		return errors.Wrapf(err, "write temp file for %s", key)
	}
	if err := s.fs.Rename(tempFile, path); err != nil {
		_ = s.fs.Remove(tempFile)
		return errors.Wrapf(err, "rename temp file for %s", key)
	}

	if info, err := s.fs.Stat(path); err == nil {
		s.stamps[key] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if err := s.fs.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "remove %s", key)
		}
		delete(s.stamps, key)
	}
	return nil
}

func (s *FileStore) Watch(fn func(Change)) func() {
	return s.watchers.add(fn)
}

// StartWatching polls the directory every interval until ctx is done or
// the store is closed
func (s *FileStore) StartWatching(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							s.logger.Error("Panic in storage poll", "panic", r)
						}
					}()
					for _, c := range s.scan() {
						s.watchers.notify(c)
					}
				}()
			}
		}
	}()
}

// scan compares the directory with the last known stamps and returns the
// keys changed by someone else since the previous scan
func (s *FileStore) scan() []Change {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		s.logger.Warn("Failed to list data dir", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		seen[key] = true

		stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
		if prev, ok := s.stamps[key]; ok && prev == stamp {
			continue
		}
		s.stamps[key] = stamp
		changes = append(changes, Change{Key: key, Origin: "file"})
	}

	for key := range s.stamps {
		if !seen[key] {
			delete(s.stamps, key)
			changes = append(changes, Change{Key: key, Origin: "file", Deleted: true})
		}
	}
	return changes
}

// Close stops polling and drops watchers
func (s *FileStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.watchers.clear()
	return nil
}
