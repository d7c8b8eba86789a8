// Package config loads and validates the backend configuration from the
// environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendLocal = "local"
	BackendMinio = "minio"

	// DefaultMaxUploadBytes is the 50 MiB upload limit.
	DefaultMaxUploadBytes int64 = 50 * 1024 * 1024
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// S3Config holds the object store settings used by the minio backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type Config struct {
	Addr           string
	DatabaseURL    string
	StorageBackend string
	StorageDir     string
	MaxUploadBytes int64
	S3             S3Config
	CORSOrigins    []string
	RateLimit      int // requests per minute per IP on write endpoints, 0 disables
	LogLevel       string
	LogFormat      string
	Env            string
	Build          BuildInfo
}

// Load reads .env (if present) and the process environment, applies
// defaults and validates the result. All problems are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	v := NewValidator()

	cfg := &Config{
		Addr:           getenvDefault("CD_ADDR", ":8080"),
		DatabaseURL:    v.ValidateRequired("DATABASE_URL"),
		StorageBackend: getenvDefault("CD_STORAGE_BACKEND", BackendLocal),
		StorageDir:     getenvDefault("CD_STORAGE_DIR", "./data/contracts"),
		S3: S3Config{
			Endpoint:  os.Getenv("CD_S3_ENDPOINT"),
			AccessKey: os.Getenv("CD_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("CD_S3_SECRET_KEY"),
			Bucket:    os.Getenv("CD_BUCKET"),
		},
		CORSOrigins: splitList(getenvDefault("CD_CORS_ORIGINS", "*")),
		LogLevel:    os.Getenv("CD_LOG_LEVEL"),
		LogFormat:   os.Getenv("CD_LOG_FORMAT"),
		Env:         os.Getenv("CD_ENV"),
		Build: BuildInfo{
			Version: getenvDefault("CD_VERSION", "dev"),
			Commit:  getenvDefault("CD_COMMIT", "unknown"),
		},
	}

	if cfg.DatabaseURL != "" &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	v.ValidatePort("CD_ADDR", cfg.Addr)
	v.ValidateEnum("CD_STORAGE_BACKEND", cfg.StorageBackend, []string{BackendLocal, BackendMinio})
	v.ValidateEnum("CD_LOG_FORMAT", cfg.LogFormat, []string{"", "json", "text"})
	v.ValidateEnum("CD_LOG_LEVEL", cfg.LogLevel, []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum("CD_ENV", cfg.Env, []string{"", "development", "production", "staging"})

	var err error
	cfg.MaxUploadBytes, err = getEnvAsInt64("CD_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	if err != nil {
		v.AddError("CD_MAX_UPLOAD_BYTES", err.Error())
	} else if cfg.MaxUploadBytes <= 0 {
		v.AddError("CD_MAX_UPLOAD_BYTES", "must be a positive integer")
	}

	limit, err := getEnvAsInt64("CD_RATE_LIMIT", 120)
	if err != nil {
		v.AddError("CD_RATE_LIMIT", err.Error())
	} else if limit < 0 {
		v.AddError("CD_RATE_LIMIT", "must not be negative")
	}
	cfg.RateLimit = int(limit)

	switch cfg.StorageBackend {
	case BackendLocal:
		if strings.TrimSpace(cfg.StorageDir) == "" {
			v.AddError("CD_STORAGE_DIR", "must not be blank")
		}
	case BackendMinio:
		v.ValidateRequired("CD_S3_ENDPOINT")
		v.ValidateRequired("CD_S3_ACCESS_KEY")
		v.ValidateRequired("CD_S3_SECRET_KEY")
		v.ValidateRequired("CD_BUCKET")
		if strings.Contains(cfg.S3.Endpoint, "://") {
			v.ValidateURL("CD_S3_ENDPOINT", cfg.S3.Endpoint)
		}
	}

	if v.HasErrors() {
		return nil, errors.New(v.ErrorString())
	}
	return cfg, nil
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvAsInt64(key string, defaultValue int64) (int64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got '%s'", valueStr)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
