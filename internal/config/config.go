// Package config provides configuration loading and validation from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sipico/license-key-server/internal/storage"
)

// DefaultEnvFile is loaded by Load when present. Variables already set in
// the environment take precedence over the file.
const DefaultEnvFile = ".env"

// Config holds all key server configuration.
type Config struct {
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat         string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ListenAddr        string `envconfig:"LISTEN_ADDR" default:":8080" validate:"required"`
	MetricsListenAddr string `envconfig:"METRICS_LISTEN_ADDR" default:"localhost:9090"` // empty disables the metrics listener

	StoreBackend string `envconfig:"STORE_BACKEND" default:"sqlite" validate:"oneof=sqlite memory redis postgres"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/data/keys.db"`
	RedisURL     string `envconfig:"REDIS_URL"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN"`
	SeedFile     string `envconfig:"SEED_FILE"` // legacy keys.json imported at startup when set

	AdminKey       string `envconfig:"ADMIN_KEY"`
	AdminKeyBcrypt string `envconfig:"ADMIN_KEY_BCRYPT"`

	ExpiryMode       string `envconfig:"EXPIRY_MODE" default:"creation" validate:"oneof=creation activation"`
	MaxGenerateCount int    `envconfig:"MAX_GENERATE_COUNT" default:"100" validate:"min=1,max=10000"`

	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ValidateRateRPS    float64       `envconfig:"VALIDATE_RATE_RPS" default:"5" validate:"gt=0"`
	ValidateRateBurst  int           `envconfig:"VALIDATE_RATE_BURST" default:"10" validate:"min=1"`
	MaxBodyBytes       int64         `envconfig:"MAX_BODY_BYTES" default:"4194304" validate:"min=1024"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
}

// Load reads DefaultEnvFile if it exists and parses configuration from
// environment variables. All options except the admin key have defaults.
func Load() (*Config, error) {
	return LoadFile(DefaultEnvFile)
}

// LoadFile is Load with an explicit env file. A missing file is not an error.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.ExpiryMode = strings.ToLower(strings.TrimSpace(cfg.ExpiryMode))
	return &cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %q fails %q", envName(fe.Field()), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}

	if c.AdminKey == "" && c.AdminKeyBcrypt == "" {
		return fmt.Errorf("ADMIN_KEY or ADMIN_KEY_BCRYPT environment variable is required")
	}

	switch c.StoreBackend {
	case storage.BackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite backend")
		}
	case storage.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	case storage.BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	}
	return nil
}

// envNames maps struct field names to their environment variables for error messages.
var envNames = map[string]string{
	"LogLevel":          "LOG_LEVEL",
	"LogFormat":         "LOG_FORMAT",
	"ListenAddr":        "LISTEN_ADDR",
	"StoreBackend":      "STORE_BACKEND",
	"ExpiryMode":        "EXPIRY_MODE",
	"MaxGenerateCount":  "MAX_GENERATE_COUNT",
	"ValidateRateRPS":   "VALIDATE_RATE_RPS",
	"ValidateRateBurst": "VALIDATE_RATE_BURST",
	"MaxBodyBytes":      "MAX_BODY_BYTES",
	"ShutdownTimeout":   "SHUTDOWN_TIMEOUT",
}

func envName(field string) string {
	if name, ok := envNames[field]; ok {
		return name
	}
	return field
}

// StorageOptions returns the options for storage.Open.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:     c.StoreBackend,
		SQLitePath:  c.DatabasePath,
		RedisURL:    c.RedisURL,
		PostgresDSN: c.PostgresDSN,
	}
}

// DefaultExpiryMode returns the parsed EXPIRY_MODE.
func (c *Config) DefaultExpiryMode() storage.ExpiryMode {
	mode, err := storage.ParseExpiryMode(c.ExpiryMode)
	if err != nil {
		return storage.ExpiryFromCreation
	}
	return mode
}

// SlogLevel returns the slog level named by LOG_LEVEL.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
