package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmcleod/sessiongate/identity"
)

// UserStore implements identity.Store.
type UserStore struct {
	db *sql.DB
}

var _ identity.Store = (*UserStore)(nil)

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	const q = `
SELECT email, password_hash, created_at
FROM users
WHERE email = $1;
`
	var u identity.User
	if err := s.db.QueryRowContext(ctx, q, email).Scan(&u.Email, &u.HashedPassword, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user. A concurrent signup for the same email loses
// the race with identity.ErrAlreadyExists rather than a constraint error.
func (s *UserStore) CreateUser(ctx context.Context, email, hashedPassword string) error {
	const q = `
INSERT INTO users (email, password_hash)
VALUES ($1, $2)
ON CONFLICT (email) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, q, email, hashedPassword)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if n == 0 {
		return identity.ErrAlreadyExists
	}
	return nil
}
