// Package config reads the environment (optionally seeded from a .env file)
// for both the client daemon and the reference server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minAuthSecretLength = 32

type Config struct {
	Log        LogConfig
	Client     ClientConfig
	LocalStore LocalStoreConfig
	Server     ServerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// ClientConfig drives the offline client daemon.
type ClientConfig struct {
	Port          string
	RemoteBaseURL string
	APIToken      string
	RemoteTimeout time.Duration
	ProbeSchedule string
	SyncTimeout   time.Duration
	// UIOrigin is the browser origin allowed to call the local API.
	UIOrigin string
}

// LocalStoreConfig selects the client's persistent mirror backend.
type LocalStoreConfig struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// ServerConfig drives the reference inventory server.
type ServerConfig struct {
	Port             string
	Repository       string
	DatabaseURL      string
	MongoURI         string
	MongoDB          string
	AuthSecret       string
	AllowedOrigin    string
	ExpiryWindowDays int
}

// Load reads envFile when given (a missing file is not an error), then the
// process environment, and validates the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		Client: ClientConfig{
			Port:          getenv("CLIENT_PORT", "8081"),
			RemoteBaseURL: getenv("REMOTE_BASE_URL", "http://127.0.0.1:8080/api"),
			APIToken:      strings.TrimSpace(os.Getenv("REMOTE_API_TOKEN")),
			RemoteTimeout: getDuration("REMOTE_TIMEOUT", 15*time.Second),
			ProbeSchedule: getenv("PROBE_SCHEDULE", "@every 10s"),
			SyncTimeout:   getDuration("SYNC_TIMEOUT", 2*time.Minute),
			UIOrigin:      getenv("CLIENT_UI_ORIGIN", "http://127.0.0.1:3000"),
		},
		LocalStore: LocalStoreConfig{
			Driver:        strings.ToLower(getenv("LOCAL_STORE_DRIVER", "sqlite")),
			Path:          getenv("LOCAL_STORE_PATH", "onesmart-local.db"),
			RedisAddr:     os.Getenv("LOCAL_REDIS_ADDR"),
			RedisPassword: os.Getenv("LOCAL_REDIS_PASSWORD"),
			RedisDB:       getInt("LOCAL_REDIS_DB", 0),
			RedisPrefix:   getenv("LOCAL_REDIS_PREFIX", "onesmart:local:"),
		},
		Server: ServerConfig{
			Port:             getenv("PORT", "8080"),
			Repository:       strings.ToLower(getenv("SERVER_REPOSITORY", "memory")),
			DatabaseURL:      os.Getenv("DATABASE_URL"),
			MongoURI:         os.Getenv("MONGODB_URI"),
			MongoDB:          getenv("MONGODB_DB_NAME", "onesmart"),
			AuthSecret:       strings.TrimSpace(os.Getenv("AUTH_SECRET")),
			AllowedOrigin:    getenv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
			ExpiryWindowDays: getInt("EXPIRY_WINDOW_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings of both binaries.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.LocalStore.Driver {
	case "sqlite":
		if c.LocalStore.Path == "" {
			return errors.New("LOCAL_STORE_PATH must be provided for the sqlite driver")
		}
	case "redis":
		if c.LocalStore.RedisAddr == "" {
			return errors.New("LOCAL_REDIS_ADDR must be provided for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown LOCAL_STORE_DRIVER %q", c.LocalStore.Driver)
	}

	if c.Client.RemoteBaseURL == "" {
		return errors.New("REMOTE_BASE_URL must not be empty")
	}
	if c.Client.ProbeSchedule == "" {
		return errors.New("PROBE_SCHEDULE must not be empty")
	}

	switch c.Server.Repository {
	case "memory":
	case "postgres":
		if c.Server.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be provided for the postgres repository")
		}
	case "mongo":
		if c.Server.MongoURI == "" {
			return errors.New("MONGODB_URI must be provided for the mongo repository")
		}
	default:
		return fmt.Errorf("unknown SERVER_REPOSITORY %q", c.Server.Repository)
	}

	if c.Server.AuthSecret != "" && len(c.Server.AuthSecret) < minAuthSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters", minAuthSecretLength)
	}
	if c.Server.ExpiryWindowDays < 1 {
		return errors.New("EXPIRY_WINDOW_DAYS must be positive")
	}
	return nil
}

func (c ClientConfig) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c ServerConfig) ExpiryWindow() time.Duration {
	return time.Duration(c.ExpiryWindowDays) * 24 * time.Hour
}

func getenv(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
