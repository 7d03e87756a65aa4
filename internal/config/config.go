// Package config handles loading of application settings from the
// environment and of the fetch profiles file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultSearchURL   = "https://archive.org/services/search/v1/scrape"
	DefaultUserAgent   = "echoNetScraper/1.0"
	DefaultDriver      = "postgres"
	DefaultMongoDB     = "echonet"
	DefaultCommitBatch = 500
)

// ErrNoDatabaseURL is returned by RequireDatabase when DATABASE_URL is unset.
var ErrNoDatabaseURL = errors.New("DATABASE_URL environment variable not set")

// Config holds all configuration for the application,
// typically loaded from environment variables.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	MongoDatabase  string
	SearchURL      string
	UserAgent      string
	CommitBatch    int
	LogFile        string
	LogLevel       string
	MetricsAddr    string
}

// LoadConfig loads application settings from environment variables
// (which may be populated by the .env file in main.go).
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseDriver: strings.ToLower(envString("DATABASE_DRIVER", DefaultDriver)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoDatabase:  envString("MONGO_DATABASE", DefaultMongoDB),
		SearchURL:      envString("SEARCH_URL", DefaultSearchURL),
		UserAgent:      envString("SEARCH_USER_AGENT", DefaultUserAgent),
		LogFile:        os.Getenv("LOG_FILE"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	batch, err := envInt("COMMIT_BATCH", DefaultCommitBatch)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, fmt.Errorf("COMMIT_BATCH must be positive, got %d", batch)
	}
	cfg.CommitBatch = batch

	switch cfg.DatabaseDriver {
	case "postgres", "sqlserver", "sqlite", "mongodb":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	return cfg, nil
}

// RequireDatabase checks the settings needed by commands that open a store.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrNoDatabaseURL
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
