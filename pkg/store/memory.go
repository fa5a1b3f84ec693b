package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. All contexts sharing the same
// MemoryStore instance (tabs simulated inside one process, tests) see
// each other's writes immediately. Watchers are notified for every
// write, including writes made by the watching context.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers map[string]map[int]func([]byte)
	nextID   int
	closed   bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[int]func([]byte)),
	}
}

// Set writes value under key and notifies all watchers of key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.values[key] = cloneBytes(value)

	// Snapshot callbacks under the lock, invoke outside it so a watcher
	// can write back into the store without deadlocking.
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

// Get returns a copy of the current value for key, or (nil, nil) if the
// key has never been written.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return cloneBytes(value), nil
}

// Watch registers fn for writes to key.
func (s *MemoryStore) Watch(key string, fn func(value []byte)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]func([]byte))
	}
	s.watchers[key][id] = fn

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

// Close drops all values and watcher registrations.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.values = nil
	s.watchers = nil
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
