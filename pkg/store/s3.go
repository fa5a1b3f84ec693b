//go:build s3store
// +build s3store

// This file provides an S3-backed Store for contexts spread across
// hosts. It is excluded from regular builds because it requires the AWS
// SDK.
//
// To use this in your project, build with -tags s3store and add the SDK:
//   go get github.com/aws/aws-sdk-go-v2
//   go get github.com/aws/aws-sdk-go-v2/config
//   go get github.com/aws/aws-sdk-go-v2/service/s3

package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is a Store backed by an S3 bucket, one object per key.
// Foreign writes are observed by polling object ETags.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	s3Client := s3.NewFromConfig(cfg)
//	st := store.NewS3Store(s3Client, "my-bucket", "authsync/", nil)
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger

	// PollInterval is how often watched keys are checked. Default: 2s.
	pollInterval time.Duration

	mu       sync.Mutex
	watchers map[string]map[int]func([]byte)
	lastETag map[string]string
	nextID   int
	closed   bool

	pollOnce sync.Once
	done     chan struct{}
}

// NewS3Store creates an S3-backed store.
//
// Parameters:
//   - client: AWS S3 client from aws-sdk-go-v2
//   - bucket: S3 bucket name
//   - prefix: key prefix for store objects (e.g., "authsync/")
func NewS3Store(client *s3.Client, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		client:       client,
		bucket:       bucket,
		prefix:       prefix,
		logger:       logger.With("component", "s3_store"),
		pollInterval: 2 * time.Second,
		watchers:     make(map[string]map[int]func([]byte)),
		lastETag:     make(map[string]string),
		done:         make(chan struct{}),
	}
}

// WithPollInterval sets how often watched keys are polled for changes.
func (s *S3Store) WithPollInterval(d time.Duration) *S3Store {
	s.pollInterval = d
	return s
}

// Set uploads value under key and notifies local watchers.
func (s *S3Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if out.ETag != nil {
		s.lastETag[key] = *out.ETag
	}
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

// Get downloads the current value for key, or (nil, nil) if the key has
// never been written.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Watch registers fn for writes to key. Callbacks for foreign writes
// run on the poller goroutine.
func (s *S3Store) Watch(key string, fn func(value []byte)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	// Seed the ETag baseline so existing objects do not fire a spurious
	// notification for the new watcher.
	if _, tracked := s.lastETag[key]; !tracked {
		head, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.prefix + key),
		})
		if err == nil && head.ETag != nil {
			s.lastETag[key] = *head.ETag
		} else {
			s.lastETag[key] = ""
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

// Close stops the poller and drops watcher registrations. Objects
// already written remain in the bucket for other hosts.
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.watchers = nil
	s.lastETag = nil
	return nil
}

// pollLoop scans watched keys for foreign writes until Close.
func (s *S3Store) pollLoop() {
	ticker := time.NewTicker(s.pollInterval)
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

// checkWatched compares every watched key's ETag against the last one
// seen and downloads plus notifies on change.
func (s *S3Store) checkWatched() {
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

	ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
	defer cancel()

	for _, key := range keys {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.prefix + key),
		})
		if err != nil || head.ETag == nil {
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		changed := s.lastETag[key] != *head.ETag
		s.mu.Unlock()
		if !changed {
			continue
		}

		value, err := s.Get(ctx, key)
		if err != nil {
			s.logger.Debug("poll download failed", "key", key, "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.lastETag[key] = *head.ETag
		var callbacks []func([]byte)
		for _, fn := range s.watchers[key] {
			callbacks = append(callbacks, fn)
		}
		s.mu.Unlock()

		for _, fn := range callbacks {
			fn(value)
		}
	}
}
