package store

import (
	"context"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, PollInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestFileStoreSetGet tests the write/read round trip against disk.
func TestFileStoreSetGet(t *testing.T) {
	s := newTestFileStore(t, t.TempDir())
	ctx := context.Background()

	value, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != nil {
		t.Errorf("Expected nil for unwritten key, got %q", value)
	}

	if err := s.Set(ctx, "authsync.message", []byte(`{"reason":"signOut"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, err = s.Get(ctx, "authsync.message")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `{"reason":"signOut"}` {
		t.Errorf("Get returned %q", value)
	}
}

// TestFileStoreLocalNotify tests that a local Set notifies watchers on
// the same instance synchronously.
func TestFileStoreLocalNotify(t *testing.T) {
	s := newTestFileStore(t, t.TempDir())

	got := make(chan []byte, 1)
	cancel := s.Watch("k", func(value []byte) { got <- value })
	defer cancel()

	if err := s.Set(context.Background(), "k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case value := <-got:
		if string(value) != "v1" {
			t.Errorf("Watcher received %q", value)
		}
	default:
		t.Fatal("Local write did not notify synchronously")
	}
}

// TestFileStoreForeignWrite tests that a write through one instance is
// observed by a watcher on another instance sharing the directory.
func TestFileStoreForeignWrite(t *testing.T) {
	dir := t.TempDir()
	writer := newTestFileStore(t, dir)
	reader := newTestFileStore(t, dir)

	got := make(chan []byte, 1)
	cancel := reader.Watch("k", func(value []byte) { got <- value })
	defer cancel()

	if err := writer.Set(context.Background(), "k", []byte("from-writer")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case value := <-got:
		if string(value) != "from-writer" {
			t.Errorf("Watcher received %q", value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Foreign write not observed within deadline")
	}
}

// TestFileStoreNoInitialNotification tests that content already on disk
// when Watch is registered does not fire a notification.
func TestFileStoreNoInitialNotification(t *testing.T) {
	dir := t.TempDir()
	writer := newTestFileStore(t, dir)
	if err := writer.Set(context.Background(), "k", []byte("old")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reader := newTestFileStore(t, dir)
	calls := make(chan struct{}, 4)
	cancel := reader.Watch("k", func([]byte) { calls <- struct{}{} })
	defer cancel()

	// Give the poller several cycles to misfire
	time.Sleep(100 * time.Millisecond)

	select {
	case <-calls:
		t.Error("Watcher fired for pre-existing content")
	default:
	}
}

// TestFileStoreClose tests post-Close behavior.
func TestFileStoreClose(t *testing.T) {
	s := newTestFileStore(t, t.TempDir())

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if err := s.Set(context.Background(), "k", []byte("v")); err != ErrClosed {
		t.Errorf("Set after Close: expected ErrClosed, got %v", err)
	}
}
