package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rowcoach/rowcoach-go/internal/middleware"
)

// RouterConfig wires handlers and middleware into a router.
type RouterConfig struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Health    *HealthHandler
	Metrics   http.Handler
	Observer  middleware.RequestObserver
	JWTSecret string

	// AuthRate and AuthBurst limit register and login per client IP.
	AuthRate  float64
	AuthBurst int
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	if cfg.Observer != nil {
		r.Use(middleware.Metrics(cfg.Observer))
	}

	r.Get("/health", cfg.Health.HandleLive)
	r.Get("/health/ready", cfg.Health.HandleReady)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.AuthRate, cfg.AuthBurst))
		r.Post("/api/v1/auth/register", cfg.Auth.HandleRegister)
		r.Post("/api/v1/auth/login", cfg.Auth.HandleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Get("/api/v1/auth/me", cfg.Auth.HandleMe)

		r.Get("/api/v1/users", cfg.Users.HandleList)
		r.Get("/api/v1/users/me", cfg.Auth.HandleMe)
		r.Patch("/api/v1/users/me", cfg.Users.HandleUpdateMe)
		r.Get("/api/v1/users/{id}", cfg.Users.HandleGet)
	})

	return r
}
