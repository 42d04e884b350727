package service

import (
	"context"
	"time"

	"github.com/rowcoach/rowcoach-go/internal/crypto"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

// AuthService issues tokens on top of UserService.
type AuthService struct {
	users     *UserService
	jwtSecret string
	jwtExpiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(users *UserService, secret string, expiry time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: secret,
		jwtExpiry: expiry,
	}
}

// Register creates a new user account and returns an auth token.
func (s *AuthService) Register(ctx context.Context, req model.CreateUserRequest) (model.AuthResponse, error) {
	user, err := s.users.CreateUser(ctx, req)
	if err != nil {
		return model.AuthResponse{}, err
	}
	return s.issue(user)
}

// Login authenticates a user and returns an auth token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return model.AuthResponse{}, ErrInvalidCredentials
	}

	user, err := s.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return model.AuthResponse{}, err
	}
	return s.issue(user)
}

// GetUser retrieves a user by ID and returns safe user data.
func (s *AuthService) GetUser(ctx context.Context, userID string) (model.UserResponse, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s *AuthService) issue(user model.UserResponse) (model.AuthResponse, error) {
	token, err := crypto.GenerateToken(user.ID, s.jwtSecret, s.jwtExpiry)
	if err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{
		Token: token,
		User:  user,
	}, nil
}
