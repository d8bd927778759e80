// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/sessiongate/storage"
)

// Store is a thread-safe in-memory storage.Store. Expired entries are hidden
// on read and reclaimed by an optional background sweep.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu       sync.RWMutex
	data     map[string]entry
	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepInterval starts a background goroutine that removes expired
// entries every interval. Close stops it.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			go s.sweepLoop(interval)
		}
	}
}

// NewStore creates a new empty in-memory Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data:   make(map[string]entry),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	return ok && !e.expired(s.now()), nil
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Sweep removes every expired entry.
func (s *Store) Sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
		}
	}
}

// Close stops the background sweep, if any.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
