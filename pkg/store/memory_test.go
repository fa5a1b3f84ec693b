package store

import (
	"context"
	"testing"
)

// TestMemoryStoreSetGet tests the basic write/read round trip.
func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	// Unwritten key reads as absent, not as an error
	value, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != nil {
		t.Errorf("Expected nil for unwritten key, got %q", value)
	}

	if err := s.Set(ctx, "k", []byte(`{"reason":"session"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err = s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"reason":"session"}` {
		t.Errorf("Get returned %q", value)
	}
}

// TestMemoryStoreGetReturnsCopy tests that callers cannot mutate stored values.
func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, _ := s.Get(ctx, "k")
	value[0] = 'x'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("Stored value mutated through Get result: %q", again)
	}
}

// TestMemoryStoreWatch tests that watchers observe writes, including
// writes made by the same process.
func TestMemoryStoreWatch(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	var got []byte
	calls := 0
	cancel := s.Watch("k", func(value []byte) {
		got = value
		calls++
	})
	defer cancel()

	if err := s.Set(context.Background(), "k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if calls != 1 {
		t.Fatalf("Expected 1 notification, got %d", calls)
	}
	if string(got) != "v1" {
		t.Errorf("Watcher received %q", got)
	}

	// Writes to other keys do not notify
	if err := s.Set(context.Background(), "other", []byte("v2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Watcher fired for unrelated key, calls=%d", calls)
	}
}

// TestMemoryStoreWatchCancel tests that canceled watchers are not
// invoked and that cancel is idempotent.
func TestMemoryStoreWatchCancel(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	calls := 0
	cancel := s.Watch("k", func([]byte) { calls++ })

	cancel()
	cancel() // second call must be safe

	if err := s.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Canceled watcher was invoked %d times", calls)
	}
}

// TestMemoryStoreClose tests post-Close behavior.
func TestMemoryStoreClose(t *testing.T) {
	s := NewMemoryStore()

	calls := 0
	s.Watch("k", func([]byte) { calls++ })

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if err := s.Set(context.Background(), "k", []byte("v")); err != ErrClosed {
		t.Errorf("Set after Close: expected ErrClosed, got %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); err != ErrClosed {
		t.Errorf("Get after Close: expected ErrClosed, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Watcher invoked after Close %d times", calls)
	}
}
