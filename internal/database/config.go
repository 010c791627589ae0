package database

import (
	"strings"
	"time"
)

const (
	defaultMaxIdleConns    = 8
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = time.Hour
)

// Dialect identifies the SQL engine behind a connection target.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Config holds database configuration settings
type Config struct {
	// Required settings
	URL string

	// Optional settings (will use defaults if not set)
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
	// SkipMigrations opens the store without touching its schema
	SkipMigrations bool
}

// NewConfig creates a new database configuration with default values
func NewConfig(url string) *Config {
	return &Config{
		URL:             url,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     -64000, // 64MB
		BusyTimeoutMS:   5000,
	}
}

// Dialect reports which engine the connection target points at.
func (c *Config) Dialect() Dialect {
	lower := strings.ToLower(c.URL)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// sqlitePath strips the optional sqlite:// scheme from the target.
func (c *Config) sqlitePath() string {
	return strings.TrimPrefix(c.URL, "sqlite://")
}
