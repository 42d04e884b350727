package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rowcoach/rowcoach-go/internal/crypto"
	"github.com/rowcoach/rowcoach-go/internal/model"
	"github.com/rowcoach/rowcoach-go/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already taken")
	ErrUserNotFound       = errors.New("user not found")

	errLegacyPasswordChanged = errors.New("legacy password changed during upgrade")
)

// UserStore is the persistence the user service needs.
type UserStore interface {
	List(ctx context.Context) ([]model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error)
}

// UserService creates, updates and authenticates users. No method ever
// returns a password hash.
type UserService struct {
	store UserStore
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore) *UserService {
	return &UserService{store: store}
}

// ListUsers returns every user. Read failures are logged and produce an
// empty list.
func (s *UserService) ListUsers(ctx context.Context) []model.UserResponse {
	users, err := s.store.List(ctx)
	if err != nil {
		slog.Error("listing users failed", "error", err)
		return []model.UserResponse{}
	}

	resp := make([]model.UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, u.Response())
	}
	return resp
}

// CreateUser validates the request, hashes the password and stores a new user.
func (s *UserService) CreateUser(ctx context.Context, req model.CreateUserRequest) (model.UserResponse, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	if err := validateEmail(email); err != nil {
		return model.UserResponse{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return model.UserResponse{}, err
	}
	if err := validateName(name); err != nil {
		return model.UserResponse{}, err
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return model.UserResponse{}, err
	}

	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
	}

	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.UserResponse{}, ErrEmailTaken
		}
		return model.UserResponse{}, fmt.Errorf("creating user: %w", err)
	}

	slog.Info("user created", "user_id", user.ID)
	return user.Response(), nil
}

// UpdateUser applies the non-nil fields of req to the user with the given id.
// A new password is hashed before it is stored.
func (s *UserService) UpdateUser(ctx context.Context, id string, req model.UpdateUserRequest) (model.UserResponse, error) {
	var email, name, hash string

	if req.Email != nil {
		email = normalizeEmail(*req.Email)
		if err := validateEmail(email); err != nil {
			return model.UserResponse{}, err
		}
	}
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if err := validateName(name); err != nil {
			return model.UserResponse{}, err
		}
	}
	if req.Password != nil {
		if err := validatePassword(*req.Password); err != nil {
			return model.UserResponse{}, err
		}
		var err error
		if hash, err = crypto.HashPassword(*req.Password); err != nil {
			return model.UserResponse{}, err
		}
	}

	user, err := s.store.Update(ctx, id, func(u *model.User) error {
		if req.Email != nil {
			u.Email = email
		}
		if req.Name != nil {
			u.Name = name
		}
		if req.Password != nil {
			u.PasswordHash = hash
			u.LegacyPassword = ""
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			return model.UserResponse{}, ErrUserNotFound
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.UserResponse{}, ErrEmailTaken
		}
		return model.UserResponse{}, fmt.Errorf("updating user: %w", err)
	}

	return user.Response(), nil
}

// Authenticate returns the user whose email and password match.
// An unknown email and a wrong password both yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (model.UserResponse, error) {
	user, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrInvalidCredentials
		}
		return model.UserResponse{}, err
	}

	if user.PasswordHash == "" && user.LegacyPassword != "" {
		return s.authenticateLegacy(ctx, user, password)
	}

	match, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		slog.Warn("stored password hash is unusable", "user_id", user.ID, "error", err)
		return model.UserResponse{}, ErrInvalidCredentials
	}
	if !match {
		return model.UserResponse{}, ErrInvalidCredentials
	}

	return user.Response(), nil
}

// authenticateLegacy checks a plaintext password left by early clients and,
// on success, replaces it with a hash.
func (s *UserService) authenticateLegacy(ctx context.Context, user *model.User, password string) (model.UserResponse, error) {
	if !legacyPasswordMatches(user, password) {
		return model.UserResponse{}, ErrInvalidCredentials
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		slog.Warn("hashing legacy password failed", "user_id", user.ID, "error", err)
		return user.Response(), nil
	}

	// The callback reruns on a lost write race, so it must not clobber a
	// password set in the meantime.
	upgraded, err := s.store.Update(ctx, user.ID, func(u *model.User) error {
		if !legacyPasswordMatches(u, password) {
			return errLegacyPasswordChanged
		}
		u.PasswordHash = hash
		u.LegacyPassword = ""
		return nil
	})
	if errors.Is(err, errLegacyPasswordChanged) {
		slog.Info("legacy password replaced before upgrade, skipping", "user_id", user.ID)
		return user.Response(), nil
	}
	if err != nil {
		slog.Warn("upgrading legacy password failed", "user_id", user.ID, "error", err)
		return user.Response(), nil
	}

	slog.Info("legacy password upgraded", "user_id", user.ID)
	return upgraded.Response(), nil
}

func legacyPasswordMatches(u *model.User, password string) bool {
	return u.PasswordHash == "" && u.LegacyPassword != "" &&
		subtle.ConstantTimeCompare([]byte(u.LegacyPassword), []byte(password)) == 1
}

// GetUserByID returns the user with the given id.
func (s *UserService) GetUserByID(ctx context.Context, id string) (model.UserResponse, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserNotFound
		}
		return model.UserResponse{}, err
	}
	return user.Response(), nil
}
