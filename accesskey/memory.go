package accesskey

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository, used by tests and by the
// server when no persistent backend is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]*Record
	byKey map[string]string
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[string]*Record),
		byKey: make(map[string]string),
	}
}

func (m *MemoryRepository) FindByKey(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec := m.byID[id].Clone()
	return &rec, nil
}

func (m *MemoryRepository) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return fmt.Errorf("id %s: %w", rec.ID, ErrDuplicate)
	}
	if _, ok := m.byKey[rec.Key]; ok {
		return ErrDuplicate
	}
	c := rec.Clone()
	m.byID[rec.ID] = &c
	m.byKey[rec.Key] = rec.ID
	return nil
}

func (m *MemoryRepository) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsedAt = &at
	return nil
}

func (m *MemoryRepository) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Active = active
	return nil
}

// List returns all records ordered by creation time.
func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
