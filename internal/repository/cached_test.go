package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowcoach/rowcoach-go/internal/cache"
	"github.com/rowcoach/rowcoach-go/internal/docstore/docstoretest"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

func newCachedRepo(t *testing.T) (*CachedUserRepository, *DocumentUserRepository, *docstoretest.Server, *miniredis.Miniredis) {
	t.Helper()
	inner, srv := newDocumentRepo(t)
	mr := miniredis.RunT(t)
	c := cache.New(context.Background(), "redis://"+mr.Addr())
	require.True(t, c.Enabled())
	t.Cleanup(func() { _ = c.Close() })
	return NewCachedUserRepository(inner, c, time.Minute), inner, srv, mr
}

func TestCachedRepositoryPassesThroughWhenDisabled(t *testing.T) {
	ctx := context.Background()
	inner, srv := newDocumentRepo(t)
	repo := NewCachedUserRepository(inner, cache.New(ctx, ""), time.Minute)

	u := newUser("cached@example.com")
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	got, err = repo.GetByEmail(ctx, "cached@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.Update(ctx, u.ID, func(user *model.User) error {
		user.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Renamed", users[0].Name)

	gets, _ := srv.Requests()
	assert.Equal(t, 5, gets, "every read reaches the store when caching is off")
}

func TestCachedListServedFromRedis(t *testing.T) {
	ctx := context.Background()
	repo, _, srv, _ := newCachedRepo(t)

	require.NoError(t, repo.Create(ctx, newUser("bow@example.com")))

	first, err := repo.List(ctx)
	require.NoError(t, err)
	getsAfterFill, _ := srv.Requests()

	second, err := repo.List(ctx)
	require.NoError(t, err)
	gets, _ := srv.Requests()

	assert.Equal(t, getsAfterFill, gets, "second List should not reach the store")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "bow@example.com", second[0].Email)
}

func TestCachedListHoldsNoPasswordMaterial(t *testing.T) {
	ctx := context.Background()
	repo, _, _, mr := newCachedRepo(t)

	u := newUser("seven@example.com")
	u.LegacyPassword = "plaintext-secret"
	require.NoError(t, repo.Create(ctx, u))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].PasswordHash)
	assert.Empty(t, users[0].LegacyPassword)

	for _, key := range mr.Keys() {
		raw, err := mr.Get(key)
		require.NoError(t, err)
		assert.NotContains(t, raw, "$2a$10$hash")
		assert.NotContains(t, raw, "plaintext-secret")
	}
}

func TestCachedListInvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	repo, _, _, _ := newCachedRepo(t)

	u := newUser("two@example.com")
	require.NoError(t, repo.Create(ctx, u))
	_, err := repo.List(ctx)
	require.NoError(t, err)

	_, err = repo.Update(ctx, u.ID, func(user *model.User) error {
		user.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Renamed", users[0].Name)

	require.NoError(t, repo.Create(ctx, newUser("three@example.com")))
	users, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestCachedListIgnoresFillFromBeforeWrite(t *testing.T) {
	ctx := context.Background()
	repo, inner, _, _ := newCachedRepo(t)

	u := newUser("four@example.com")
	require.NoError(t, repo.Create(ctx, u))

	// A List that read the store before the write fills the cache after it.
	gen, ok := repo.generation(ctx)
	require.True(t, ok)
	stale, err := inner.List(ctx)
	require.NoError(t, err)

	_, err = repo.Update(ctx, u.ID, func(user *model.User) error {
		user.Name = "After"
		return nil
	})
	require.NoError(t, err)
	repo.fill(ctx, gen, withoutSecrets(stale))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "After", users[0].Name)
}

func TestCachedLookupsSeeOtherWriters(t *testing.T) {
	ctx := context.Background()
	repo, inner, _, _ := newCachedRepo(t)

	u := newUser("five@example.com")
	require.NoError(t, repo.Create(ctx, u))
	_, err := repo.List(ctx)
	require.NoError(t, err)

	// Another instance changes the password without touching this cache.
	_, err = inner.Update(ctx, u.ID, func(user *model.User) error {
		user.PasswordHash = "$2a$10$changed"
		return nil
	})
	require.NoError(t, err)

	byEmail, err := repo.GetByEmail(ctx, "five@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$changed", byEmail.PasswordHash)

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$changed", byID.PasswordHash)
}

func TestCachedConcurrentWritesAllInvalidate(t *testing.T) {
	ctx := context.Background()
	repo, _, _, _ := newCachedRepo(t)

	_, err := repo.List(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			assert.NoError(t, repo.Create(ctx, newUser(email)))
		}(email)
	}
	wg.Wait()

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}
