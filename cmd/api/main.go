package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rowcoach/rowcoach-go/internal/cache"
	"github.com/rowcoach/rowcoach-go/internal/config"
	"github.com/rowcoach/rowcoach-go/internal/docstore"
	"github.com/rowcoach/rowcoach-go/internal/handler"
	"github.com/rowcoach/rowcoach-go/internal/metrics"
	"github.com/rowcoach/rowcoach-go/internal/repository"
	"github.com/rowcoach/rowcoach-go/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx := context.Background()
	store, ready, closeStore, err := openStore(ctx, cfg, m)
	if err != nil {
		slog.Error("opening user store failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	c := cache.New(ctx, cfg.RedisURL)
	defer c.Close()
	if c.Enabled() {
		store = repository.NewCachedUserRepository(store, c, cfg.CacheTTL)
	}

	userService := service.NewUserService(store)
	authService := service.NewAuthService(userService, cfg.JWTSecret, cfg.JWTExpiry)

	r := handler.NewRouter(handler.RouterConfig{
		Auth:      handler.NewAuthHandler(authService),
		Users:     handler.NewUserHandler(userService),
		Health:    handler.NewHealthHandler(ready),
		Metrics:   m.Handler(),
		Observer:  m,
		JWTSecret: cfg.JWTSecret,
		AuthRate:  5,
		AuthBurst: 10,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// openStore builds the configured user repository together with its
// readiness check and cleanup.
func openStore(ctx context.Context, cfg config.Config, m *metrics.Metrics) (repository.UserRepository, func(context.Context) error, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		db, err := repository.NewDB(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			slog.Warn("ensuring users schema failed", "error", err)
		}
		return repository.NewMySQLUserRepository(db), db.PingContext, func() { db.Close() }, nil

	default:
		client, err := docstore.New(cfg.DocstoreBaseURL, cfg.DocstoreBinID, cfg.DocstoreMasterKey,
			docstore.WithHTTPClient(&http.Client{Timeout: cfg.DocstoreTimeout}),
			docstore.WithObserver(m),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewDocumentUserRepository(client), client.Ping, func() {}, nil
	}
}
