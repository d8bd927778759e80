// Package session stores login sessions as two records in a storage.Store:
//
//	session:<token>       the session data, expiring after the session TTL
//	session_meta:<token>  issue and expiry times, expiring after twice the TTL
//
// The metadata record outlives the primary one, which lets CheckSessionStatus
// tell a session that timed out apart from one that never existed or was
// logged out. Expiry is left entirely to the store's native TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/sessiongate/internal/util"
	"github.com/jmcleod/sessiongate/storage"
)

const (
	primaryPrefix  = "session:"
	metadataPrefix = "session_meta:"

	// TokenBytes is the entropy of a session token.
	TokenBytes = 32

	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = 24 * time.Hour
)

// ErrNotFound is returned by GetSession when the primary record is absent.
var ErrNotFound = errors.New("session not found")

// Status classifies a token.
type Status int

const (
	Invalid Status = iota
	Valid
	Expired
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// Record is the payload stored under the primary key.
type Record struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata is stored under the metadata key.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Token     string    `json:"token"`
}

// Store manages the dual-record session representation.
type Store struct {
	kv     storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now for the timestamps written into records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(kv storage.Store, opts ...Option) *Store {
	s := &Store{kv: kv, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// NewToken returns a fresh random token as 64 lowercase hex characters.
func NewToken() (string, error) {
	return util.RandomHex(TokenBytes)
}

func primaryKey(token string) string  { return primaryPrefix + token }
func metadataKey(token string) string { return metadataPrefix + token }

// StoreSession writes the primary record with ttl and then the metadata
// record with 2*ttl. The writes are independent; if the second fails the
// primary record is left in place and still reads as valid.
func (s *Store) StoreSession(ctx context.Context, token string, payload any, ttl time.Duration) error {
	if token == "" {
		return errors.New("session token is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid session ttl %s", ttl)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	now := s.now().UTC()
	meta, err := json.Marshal(Metadata{
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Token:     token,
	})
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}

	if err := s.kv.Set(ctx, primaryKey(token), data, ttl); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	if err := s.kv.Set(ctx, metadataKey(token), meta, 2*ttl); err != nil {
		s.logger.Warn("session metadata write failed after primary write", "error", err)
		return fmt.Errorf("storing session metadata: %w", err)
	}
	return nil
}

// CheckSessionStatus classifies token. The primary record is consulted first
// and is authoritative: if present the session is Valid whatever the state
// of the metadata. Otherwise a surviving metadata record means Expired, and
// no records at all means Invalid. A metadata record that expires between
// the two reads therefore yields Invalid.
func (s *Store) CheckSessionStatus(ctx context.Context, token string) (Status, error) {
	ok, err := s.kv.Exists(ctx, primaryKey(token))
	if err != nil {
		return Invalid, fmt.Errorf("checking session: %w", err)
	}
	if ok {
		return Valid, nil
	}

	ok, err = s.kv.Exists(ctx, metadataKey(token))
	if err != nil {
		return Invalid, fmt.Errorf("checking session metadata: %w", err)
	}
	if ok {
		return Expired, nil
	}
	return Invalid, nil
}

// GetSession decodes the primary record of token into into. The metadata
// record is not consulted.
func (s *Store) GetSession(ctx context.Context, token string, into any) error {
	data, err := s.kv.Get(ctx, primaryKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("reading session: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decoding session: %w", err)
	}
	return nil
}

// GetMetadata returns the metadata record of token.
func (s *Store) GetMetadata(ctx context.Context, token string) (Metadata, error) {
	var meta Metadata
	data, err := s.kv.Get(ctx, metadataKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return meta, ErrNotFound
		}
		return meta, fmt.Errorf("reading session metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decoding session metadata: %w", err)
	}
	return meta, nil
}

// DeleteSession removes both records. The metadata delete is attempted even
// when the primary delete fails; failures are joined.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	var errs []error
	if err := s.kv.Delete(ctx, primaryKey(token)); err != nil {
		errs = append(errs, fmt.Errorf("deleting session: %w", err))
	}
	if err := s.kv.Delete(ctx, metadataKey(token)); err != nil {
		errs = append(errs, fmt.Errorf("deleting session metadata: %w", err))
	}
	return errors.Join(errs...)
}
