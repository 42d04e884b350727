package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	BackendDocstore = "docstore"
	BackendMySQL    = "mysql"

	defaultJWTSecret   = "dev-secret-change-in-production"
	defaultDocstoreURL = "https://api.jsonbin.io/v3/b"
)

type Config struct {
	Port     string
	Env      string
	LogLevel slog.Level

	StoreBackend      string
	DocstoreBaseURL   string
	DocstoreBinID     string
	DocstoreMasterKey string
	DocstoreTimeout   time.Duration
	DatabaseDSN       string

	RedisURL string
	CacheTTL time.Duration

	JWTSecret string
	JWTExpiry time.Duration
}

// Load reads the configuration from the environment. Malformed durations and
// log levels fall back to their defaults with a warning.
func Load() Config {
	return Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getLevel("LOG_LEVEL", slog.LevelInfo),

		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendDocstore)),
		DocstoreBaseURL:   getEnv("DOCSTORE_BASE_URL", defaultDocstoreURL),
		DocstoreBinID:     getEnv("DOCSTORE_BIN_ID", ""),
		DocstoreMasterKey: getEnv("DOCSTORE_MASTER_KEY", ""),
		DocstoreTimeout:   getDuration("DOCSTORE_TIMEOUT", 10*time.Second),
		DatabaseDSN:       getEnv("DATABASE_DSN", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getDuration("CACHE_TTL", 30*time.Second),

		JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiry: getDuration("JWT_EXPIRY", 24*time.Hour),
	}
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendDocstore:
		if c.DocstoreBinID == "" {
			errs = append(errs, errors.New("DOCSTORE_BIN_ID must be set"))
		}
		if c.DocstoreMasterKey == "" {
			errs = append(errs, errors.New("DOCSTORE_MASTER_KEY must be set"))
		}
		if c.DocstoreTimeout <= 0 {
			errs = append(errs, errors.New("DOCSTORE_TIMEOUT must be positive"))
		}
	case BackendMySQL:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set for the mysql backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.Env == "production" && c.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production environment"))
	}
	if c.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", v)
		return fallback
	}
	return level
}
