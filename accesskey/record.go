// Package accesskey admits API clients by an opaque bearer key.
//
// Keys are 32 random bytes rendered as 64 lowercase hex characters. They are
// created out of band by an administrator, shown once, and later disabled by
// clearing the active flag rather than by deletion.
package accesskey

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Repository when no record matches.
var ErrNotFound = errors.New("access key not found")

// ErrDuplicate is returned by Create when the id or key already exists.
var ErrDuplicate = errors.New("access key already exists")

// Record is a persisted access key.
type Record struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	ClientName  string     `json:"clientName"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	if r.Permissions != nil {
		out.Permissions = append([]string(nil), r.Permissions...)
	}
	return out
}

// Repository persists access key records. Implementations must be safe for
// concurrent use.
type Repository interface {
	FindByKey(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context) ([]Record, error)
}
