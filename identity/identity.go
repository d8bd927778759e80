// Package identity defines the user store consulted by the authentication
// coordinator.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already exists")
)

// User is a registered identity. Email is stored in canonical form.
type User struct {
	Email          string
	HashedPassword string
	CreatedAt      time.Time
}

// Store looks up and creates users by email.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, email, hashedPassword string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User), now: time.Now}
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, email, hashedPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return ErrAlreadyExists
	}
	m.users[email] = User{Email: email, HashedPassword: hashedPassword, CreatedAt: m.now().UTC()}
	return nil
}
