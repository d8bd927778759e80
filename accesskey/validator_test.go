package accesskey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessiongate/internal/logging"
	"github.com/jmcleod/sessiongate/internal/util"
)

func newTestValidator(t *testing.T, repo Repository) *Validator {
	t.Helper()
	return NewValidator(repo, WithLogger(logging.Discard()))
}

func TestCreateKeyThenValidate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	v := newTestValidator(t, repo)

	rec, err := v.CreateKey(ctx, "mobile-app", "read", "write", "read")
	require.NoError(t, err)
	assert.True(t, util.IsHex(rec.Key, KeyBytes), "key %q is not 64 hex chars", rec.Key)
	assert.Equal(t, strings.ToLower(rec.Key), rec.Key)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Active)
	assert.Equal(t, []string{"read", "write"}, rec.Permissions)

	assert.True(t, v.Validate(ctx, rec.Key))

	require.NoError(t, v.Deactivate(ctx, rec.ID))
	assert.False(t, v.Validate(ctx, rec.Key))

	require.NoError(t, v.Activate(ctx, rec.ID))
	assert.True(t, v.Validate(ctx, rec.Key))
	v.Wait()
}

func TestCreateKeyRequiresClientName(t *testing.T) {
	v := newTestValidator(t, NewMemoryRepository())
	_, err := v.CreateKey(context.Background(), "   ")
	assert.Error(t, err)
}

func TestCreateKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, NewMemoryRepository())
	a, err := v.CreateKey(ctx, "a")
	require.NoError(t, err)
	b, err := v.CreateKey(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidateRejects(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, NewMemoryRepository())

	assert.False(t, v.Validate(ctx, ""))
	assert.False(t, v.Validate(ctx, strings.Repeat("a", 64)))
}

func TestValidateRecordsLastUsed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewValidator(repo, WithLogger(logging.Discard()), WithClock(func() time.Time { return fixed }))

	rec, err := v.CreateKey(ctx, "svc")
	require.NoError(t, err)
	got, _ := repo.FindByKey(ctx, rec.Key)
	assert.Nil(t, got.LastUsedAt)

	require.True(t, v.Validate(ctx, rec.Key))
	v.Wait()

	got, err = repo.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, fixed.Equal(*got.LastUsedAt))
}

// flakyRepo wraps a MemoryRepository and injects failures.
type flakyRepo struct {
	*MemoryRepository
	findErr  error
	touchErr error
}

func (f *flakyRepo) FindByKey(ctx context.Context, key string) (*Record, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MemoryRepository.FindByKey(ctx, key)
}

func (f *flakyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	return f.MemoryRepository.TouchLastUsed(ctx, id, at)
}

func TestValidateFailsClosedOnLookupError(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	v := newTestValidator(t, repo)
	rec, err := v.CreateKey(ctx, "svc")
	require.NoError(t, err)

	repo.findErr = errors.New("connection reset")
	assert.False(t, v.Validate(ctx, rec.Key))
	_, ok := v.ClientNameFor(ctx, rec.Key)
	assert.False(t, ok)
}

func TestTouchFailureDoesNotRejectKey(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository(), touchErr: errors.New("disk full")}
	v := newTestValidator(t, repo)
	rec, err := v.CreateKey(ctx, "svc")
	require.NoError(t, err)

	assert.True(t, v.Validate(ctx, rec.Key))
	v.Wait()
}

func TestTouchSurvivesRequestCancellation(t *testing.T) {
	repo := NewMemoryRepository()
	v := newTestValidator(t, repo)
	rec, err := v.CreateKey(context.Background(), "svc")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, ok := v.Admit(ctx, rec.Key)
	require.True(t, ok)
	cancel()
	v.Wait()

	got, err := repo.FindByKey(context.Background(), rec.Key)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestClientNameFor(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, NewMemoryRepository())
	rec, err := v.CreateKey(ctx, "partner-portal")
	require.NoError(t, err)

	name, ok := v.ClientNameFor(ctx, rec.Key)
	assert.True(t, ok)
	assert.Equal(t, "partner-portal", name)

	require.NoError(t, v.Deactivate(ctx, rec.ID))
	name, ok = v.ClientNameFor(ctx, rec.Key)
	assert.True(t, ok, "attribution lookup ignores the active flag")
	assert.Equal(t, "partner-portal", name)

	_, ok = v.ClientNameFor(ctx, "unknown")
	assert.False(t, ok)
	_, ok = v.ClientNameFor(ctx, "")
	assert.False(t, ok)
}

func TestListMasksSecrets(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, NewMemoryRepository())
	rec, err := v.CreateKey(ctx, "svc")
	require.NoError(t, err)

	recs, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, MaskKey(rec.Key), recs[0].Key)
	assert.NotEqual(t, rec.Key, recs[0].Key)
}

func TestSetActiveUnknownID(t *testing.T) {
	v := newTestValidator(t, NewMemoryRepository())
	err := v.Deactivate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
