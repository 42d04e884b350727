package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowcoach/rowcoach-go/internal/cache"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

const (
	usersCacheKey      = "rowcoach:users"
	usersGenerationKey = usersCacheKey + ":generation"
)

// UserRepository is the persistence contract shared by every backend.
type UserRepository interface {
	List(ctx context.Context) ([]model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error)
}

// CachedUserRepository caches the user list without password material.
// Lookups by id or email always reach the backend, since callers verify
// passwords against what they return.
//
// Cached lists are keyed by a generation counter that every write bumps, so
// a list read before a write can never be served after it.
type CachedUserRepository struct {
	next  UserRepository
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedUserRepository wraps next with c. A disabled cache passes every call through.
func NewCachedUserRepository(next UserRepository, c *cache.Cache, ttl time.Duration) *CachedUserRepository {
	return &CachedUserRepository{next: next, cache: c, ttl: ttl}
}

// List returns every user with PasswordHash and LegacyPassword cleared.
func (r *CachedUserRepository) List(ctx context.Context) ([]model.User, error) {
	gen, genOK := r.generation(ctx)
	if genOK {
		if users, ok := r.cached(ctx, gen); ok {
			return users, nil
		}
	}

	users, err := r.next.List(ctx)
	if err != nil {
		return nil, err
	}
	users = withoutSecrets(users)

	if genOK {
		r.fill(ctx, gen, users)
	}
	return users, nil
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.next.GetByID(ctx, id)
}

func (r *CachedUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.next.GetByEmail(ctx, email)
}

func (r *CachedUserRepository) Create(ctx context.Context, user *model.User) error {
	defer r.invalidate(ctx)
	return r.next.Create(ctx, user)
}

func (r *CachedUserRepository) Update(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error) {
	defer r.invalidate(ctx)
	return r.next.Update(ctx, id, fn)
}

// generation reads the current list generation. An absent counter is
// generation 0. ok is false when Redis cannot be read.
func (r *CachedUserRepository) generation(ctx context.Context) (int64, bool) {
	var gen int64
	err := r.cache.Get(ctx, usersGenerationKey, &gen)
	switch {
	case err == nil, errors.Is(err, cache.ErrMiss):
		return gen, true
	default:
		slog.Warn("reading users cache generation failed", "error", err)
		return 0, false
	}
}

func (r *CachedUserRepository) cached(ctx context.Context, gen int64) ([]model.User, bool) {
	var users []model.User
	err := r.cache.Get(ctx, listKey(gen), &users)
	if err == nil {
		return users, true
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("reading cached users failed", "error", err)
	}
	return nil, false
}

func (r *CachedUserRepository) fill(ctx context.Context, gen int64, users []model.User) {
	if err := r.cache.Set(ctx, listKey(gen), users, r.ttl); err != nil {
		slog.Warn("caching users failed", "error", err)
	}
}

func (r *CachedUserRepository) invalidate(ctx context.Context) {
	if _, err := r.cache.Incr(ctx, usersGenerationKey); err != nil {
		slog.Warn("invalidating cached users failed", "error", err)
	}
}

func listKey(gen int64) string {
	return fmt.Sprintf("%s:%d", usersCacheKey, gen)
}

func withoutSecrets(users []model.User) []model.User {
	out := make([]model.User, len(users))
	for i, u := range users {
		u.PasswordHash = ""
		u.LegacyPassword = ""
		out[i] = u
	}
	return out
}
