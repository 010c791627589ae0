package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"pagefeed/watcher/internal/database/migrations"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// NewDB opens the store named by cfg.URL, applies pending migrations
// unless the connection is read-only, and verifies it with a ping.
func NewDB(cfg *Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	dialect := cfg.Dialect()

	var (
		db  *sqlx.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = openPostgres(cfg)
	default:
		db, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.ReadOnly && !cfg.SkipMigrations {
		log.Info().Str("dialect", string(dialect)).Msg("Running database migrations...")
		migrationFiles, err := migrations.LoadMigrations(string(dialect))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}

		if err := migrations.RunMigrations(db, migrationFiles); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed successfully")
	} else {
		log.Info().Msg("Skipping migrations for this connection")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	log.Info().
		Str("dialect", string(dialect)).
		Str("mode", modeStr(cfg.ReadOnly)).
		Msg("Database connection successful")
	return &DB{DB: db, Dialect: dialect}, nil
}

func openSQLite(cfg *Config) (*sqlx.DB, error) {
	path := cfg.sqlitePath()

	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	// WAL mode allows concurrent reads while a worker writes
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		path, sep, cfg.BusyTimeoutMS)

	if cfg.ReadOnly {
		dsn += "&mode=ro"
		log.Info().Str("path", path).Msg("Opening SQLite database in Read-Only mode")
	} else {
		log.Info().Str("path", path).Msg("Opening SQLite database in Read-Write mode")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var pragmas []string
	if cfg.ReadOnly {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
			"PRAGMA query_only = ON;",
		}
	} else {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
		}
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}
	return db, nil
}

func openPostgres(cfg *Config) (*sqlx.DB, error) {
	log.Info().Str("mode", modeStr(cfg.ReadOnly)).Msg("Opening PostgreSQL database")

	dsn := cfg.URL
	if cfg.ReadOnly {
		// Unknown URL parameters become runtime params on every pooled connection
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "default_transaction_read_only=on"
	}

	// "pgx" is registered by pgx/v5/stdlib and maps to sqlx's $n bind type
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

// Rollback reverts the n most recently applied migrations.
func (db *DB) Rollback(n int) error {
	migrationFiles, err := migrations.LoadMigrations(string(db.Dialect))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if err := migrations.RollbackMigrations(db.DB, migrationFiles, n); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion() (int, error) {
	return migrations.CurrentVersion(db.DB)
}
