package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// Store connection target: a postgres:// URL or a SQLite path
	DatabaseURL  string
	PagesCSVPath string

	// Server settings
	ServerHost string
	ServerPort int
	BaseURL    string
	APIKey     string

	// Polling settings
	WorkerCount  int
	PollInterval time.Duration
	FetchTimeout time.Duration
	StoreTimeout time.Duration
	MaxBodyBytes int64
	HostRate     float64
	UserAgent    string

	// Optional Redis address for cross-process page claims
	RedisAddr string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DatabaseURL:  DefaultDatabaseURL,
		PagesCSVPath: DefaultPagesCSVPath,
		ServerHost:   DefaultServerHost,
		ServerPort:   DefaultServerPort,
		BaseURL:      DefaultBaseURL,
		WorkerCount:  DefaultWorkerCount,
		PollInterval: DefaultPollInterval,
		FetchTimeout: DefaultFetchTimeout,
		StoreTimeout: DefaultStoreTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
		HostRate:     DefaultHostRate,
		UserAgent:    DefaultUserAgent,
		LogLevel:     GetEnvLogLevel("PAGEFEED_LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
