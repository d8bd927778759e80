// Package bbolt provides storage backed by an embedded BBolt database: a
// storage.Store with per-key expiry, and an access key repository.
package bbolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessiongate/storage"
)

var kvBucket = []byte("kv")

// expiryLen is the size of the big-endian unix-nano expiry prefixed to every
// stored value. Zero means the value never expires.
const expiryLen = 8

// Open opens (creating if needed) the BBolt database at path.
func Open(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return db, nil
}

// Store implements storage.Store backed by a BBolt database. BBolt has no
// native expiry, so entries carry their deadline: reads treat an expired
// entry as absent and an optional sweeper deletes them.
type Store struct {
	db       *bbolt.DB
	owned    bool
	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepInterval removes expired entries every interval until Close.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.done = make(chan struct{})
			go s.sweepLoop(interval)
		}
	}
}

// NewStore returns a Store using db. The caller keeps ownership of db.
func NewStore(db *bbolt.DB, opts ...Option) (*Store, error) {
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating kv bucket: %w", err)
	}
	s := &Store{db: db, now: time.Now, stopCh: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewStoreFromFile opens the database at path and returns a Store that closes
// it on Close.
func NewStoreFromFile(path string, opts ...Option) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *Store) expired(raw []byte, now time.Time) bool {
	if len(raw) < expiryLen {
		return true
	}
	deadline := int64(binary.BigEndian.Uint64(raw[:expiryLen]))
	return deadline != 0 && now.UnixNano() >= deadline
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(kvBucket).Get([]byte(key))
		if raw == nil || s.expired(raw, s.now()) {
			return storage.ErrNotFound
		}
		// raw is only valid inside the transaction.
		out = append([]byte(nil), raw[expiryLen:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(s.now().Add(ttl).UnixNano()))
	}
	copy(buf[expiryLen:], value)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), buf)
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(kvBucket).Get([]byte(key))
		ok = raw != nil && !s.expired(raw, s.now())
		return nil
	})
	return ok, err
}

// Sweep deletes every expired entry and returns how many were removed.
func (s *Store) Sweep() (int, error) {
	now := s.now()
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(kvBucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if s.expired(v, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(); err != nil && errors.Is(err, bbolt.ErrDatabaseNotOpen) {
				return
			}
		}
	}
}

// Close stops the sweeper and, if the Store opened the database, closes it.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.done != nil {
		<-s.done
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}
