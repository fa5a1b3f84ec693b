package store

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Dir is the directory holding one file per key.
	Dir string

	// PollInterval is how often watched keys are checked for writes made
	// by other processes. Default: 150 milliseconds.
	PollInterval time.Duration
}

// FileStore is a Store backed by a directory, one file per key. Writes
// are atomic (write-to-temp then rename), so contexts in separate
// processes can share a directory without seeing torn values. Foreign
// writes are observed by polling; values are expected to stay small, so
// the poller compares content rather than timestamps, which keeps it
// correct on filesystems with coarse mtime granularity.
type FileStore struct {
	config FileStoreConfig
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]map[int]func([]byte)
	last     map[string][]byte
	nextID   int
	closed   bool

	pollOnce sync.Once
	done     chan struct{}
}

// NewFileStore creates a file-backed store rooted at config.Dir,
// creating the directory if needed.
func NewFileStore(config FileStoreConfig, logger *slog.Logger) (*FileStore, error) {
	if config.PollInterval == 0 {
		config.PollInterval = 150 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, err
	}

	return &FileStore{
		config:   config,
		logger:   logger.With("component", "file_store"),
		watchers: make(map[string]map[int]func([]byte)),
		last:     make(map[string][]byte),
		done:     make(chan struct{}),
	}, nil
}

// Set atomically replaces the value under key and notifies local
// watchers. Watchers in other processes pick the write up on their next
// poll.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	path := s.pathFor(key)
	tmp, err := os.CreateTemp(s.config.Dir, ".tmp-*")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		s.mu.Unlock()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		s.mu.Unlock()
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		s.mu.Unlock()
		return err
	}

	// Record the written content so the poller only fires for foreign
	// writes; local watchers are notified synchronously here.
	s.last[key] = cloneBytes(value)
	var callbacks []func([]byte)
	for _, fn := range s.watchers[key] {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cloneBytes(value))
	}
	return nil
}

// Get reads the current value for key, or (nil, nil) if the key has
// never been written.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	path := s.pathFor(key)
	s.mu.Unlock()

	value, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Watch registers fn for writes to key and starts the poller if it is
// not already running. Callbacks for foreign writes run on the poller
// goroutine.
func (s *FileStore) Watch(key string, fn func(value []byte)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	// Seed the comparison baseline so pre-existing content does not fire
	// a spurious notification for the new watcher.
	if _, tracked := s.last[key]; !tracked {
		if value, err := os.ReadFile(s.pathFor(key)); err == nil {
			s.last[key] = value
		} else {
			s.last[key] = nil
		}
	}

	id := s.nextID
	s.nextID++
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]func([]byte))
	}
	s.watchers[key][id] = fn

	s.pollOnce.Do(func() {
		go s.pollLoop()
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.watchers[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.watchers, key)
			}
		}
	}
}

// Close stops the poller and drops all watcher registrations. Files
// already written remain on disk for other processes.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.watchers = nil
	s.last = nil
	return nil
}

// pollLoop scans watched keys for foreign writes until Close.
func (s *FileStore) pollLoop() {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkWatched()
		}
	}
}

// checkWatched compares every watched key's file content against the
// last content seen and notifies watchers on change.
func (s *FileStore) checkWatched() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(s.watchers))
	for key := range s.watchers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		value, err := os.ReadFile(s.pathFor(key))
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Debug("poll read failed", "key", key, "error", err)
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if bytes.Equal(s.last[key], value) {
			s.mu.Unlock()
			continue
		}
		s.last[key] = value
		var callbacks []func([]byte)
		for _, fn := range s.watchers[key] {
			callbacks = append(callbacks, fn)
		}
		s.mu.Unlock()

		for _, fn := range callbacks {
			fn(cloneBytes(value))
		}
	}
}

// pathFor maps a key to its file, escaping path separators so keys
// cannot traverse outside the store directory.
func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.config.Dir, url.PathEscape(key))
}
