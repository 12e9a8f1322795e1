package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-photoshare/internal/model"
	"go-photoshare/internal/repository"
)

func newStoreWithUser(t *testing.T) *repository.MemoryUserRepository {
	t.Helper()

	store := repository.NewMemoryUserRepository()
	require.NoError(t, store.Create(context.Background(), model.User{
		ID:        "u1",
		Username:  "alice",
		Email:     "alice@example.com",
		Role:      model.RoleUser,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))
	return store
}

func TestTracker_RotateValidateRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStoreWithUser(t)
	tracker := NewTracker(store)

	first, err := tracker.Rotate(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	stored, err := store.GetFingerprint(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, first, *stored, "only the digest is persisted")
	assert.Equal(t, Digest(first), *stored)

	ok, err := tracker.Validate(ctx, "u1", first)
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := tracker.Rotate(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	ok, err = tracker.Validate(ctx, "u1", first)
	require.NoError(t, err)
	assert.False(t, ok, "rotation invalidates the previous fingerprint")

	require.NoError(t, tracker.RevokeAll(ctx, "u1"))
	require.NoError(t, tracker.RevokeAll(ctx, "u1"))

	ok, err = tracker.Validate(ctx, "u1", second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_RotateFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStoreWithUser(t)
	tracker := NewTracker(store)

	current, err := tracker.Rotate(ctx, "u1")
	require.NoError(t, err)

	next, err := tracker.RotateFrom(ctx, "u1", current)
	require.NoError(t, err)

	_, err = tracker.RotateFrom(ctx, "u1", current)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	ok, err := tracker.Validate(ctx, "u1", next)
	require.NoError(t, err)
	assert.True(t, ok, "a failed swap leaves the current session alone")

	require.NoError(t, tracker.RevokeAll(ctx, "u1"))
	_, err = tracker.RotateFrom(ctx, "u1", next)
	require.ErrorIs(t, err, model.ErrSessionRevoked)
}

func TestTracker_ConcurrentRotateFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStoreWithUser(t)
	tracker := NewTracker(store)

	current, err := tracker.Rotate(ctx, "u1")
	require.NoError(t, err)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.RotateFrom(ctx, "u1", current)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, model.ErrSessionRevoked):
				revoked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, revoked)
}

func TestTracker_UnknownUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tracker := NewTracker(repository.NewMemoryUserRepository())

	_, err := tracker.Rotate(ctx, "ghost")
	require.ErrorIs(t, err, model.ErrUserNotFound)

	_, err = tracker.Validate(ctx, "ghost", "fp")
	require.ErrorIs(t, err, model.ErrUserNotFound)
}
