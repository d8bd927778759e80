// Package redis provides a storage.Store backed by Redis. Expiry is delegated
// to Redis key TTLs so sessions survive process restarts and are shared
// between replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/sessiongate/storage"
)

// Store implements storage.Store on top of a Redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing client. Every key is namespaced under prefix. The
// caller keeps ownership of client; Close is a no-op.
func New(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// NewFromAddr dials addr, verifies the connection with PING and returns a
// Store that closes the client on Close.
func NewFromAddr(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", storage.ErrUnavailable, addr, err)
	}
	return &Store{client: client, prefix: prefix, owned: true}, nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return n == 1, nil
}

// Close releases the client if this Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
