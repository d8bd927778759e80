package accesskey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &Record{ID: "1", Key: "k1", ClientName: "a", Active: true, CreatedAt: base, Permissions: []string{"p"}}
	second := &Record{ID: "2", Key: "k2", ClientName: "b", Active: true, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))

	assert.ErrorIs(t, repo.Create(ctx, &Record{ID: "1", Key: "other"}), ErrDuplicate)
	assert.ErrorIs(t, repo.Create(ctx, &Record{ID: "3", Key: "k1"}), ErrDuplicate)

	got, err := repo.FindByKey(ctx, "k1")
	require.NoError(t, err)
	got.Permissions[0] = "mutated"
	again, _ := repo.FindByKey(ctx, "k1")
	assert.Equal(t, []string{"p"}, again.Permissions, "repository must return copies")

	_, err = repo.FindByKey(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].ID)
	assert.Equal(t, "2", list[1].ID)

	assert.ErrorIs(t, repo.TouchLastUsed(ctx, "nope", base), ErrNotFound)
	assert.ErrorIs(t, repo.SetActive(ctx, "nope", false), ErrNotFound)
}
