package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pagefeed/watcher/internal/claim"
	"pagefeed/watcher/internal/config"
	"pagefeed/watcher/internal/database"
	"pagefeed/watcher/internal/fetch"
	importpages "pagefeed/watcher/internal/import"
	"pagefeed/watcher/internal/process"
	"pagefeed/watcher/internal/server"
	"pagefeed/watcher/internal/server/storage"
	"pagefeed/watcher/internal/store"
)

const usage = `Usage: pagefeed [command] [options]
Commands: import, start, check, server, migrate, enable, disable

For command-specific options, use: pagefeed [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	// Environment files must be loaded before flag defaults are read.
	envFile := config.GetEnvString("PAGEFEED_ENV_FILE", config.DefaultEnvFile)
	if err := config.LoadEnvFile(envFile); err != nil {
		log.Warn().Err(err).Str("path", envFile).Msg("Could not load env file")
	}

	cfg := config.DefaultConfig()
	var logLevelStr string

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.PagesCSVPath, "csv", config.GetEnvString("PAGEFEED_CSV_PATH", config.DefaultPagesCSVPath),
		"Path or http(s) URL of the pages CSV file (env: PAGEFEED_CSV_PATH)")
	commonFlags(importCmd, cfg, &logLevelStr)

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	commonFlags(startCmd, cfg, &logLevelStr)
	pollerFlags(startCmd, cfg)
	startCmd.DurationVar(&cfg.PollInterval, "interval", config.GetEnvDuration("PAGEFEED_POLL_INTERVAL", config.DefaultPollInterval),
		"Time between poll cycles, 0 for one-shot mode (env: PAGEFEED_POLL_INTERVAL)")

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	commonFlags(checkCmd, cfg, &logLevelStr)
	pollerFlags(checkCmd, cfg)
	var checkSlug string
	checkCmd.StringVar(&checkSlug, "slug", "",
		"Check only this page, regardless of its schedule")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	commonFlags(serverCmd, cfg, &logLevelStr)
	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("PAGEFEED_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: PAGEFEED_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("PAGEFEED_PORT", config.DefaultServerPort),
		"Port to listen on (env: PAGEFEED_PORT)")
	serverCmd.StringVar(&cfg.BaseURL, "base-url", config.GetEnvString("PAGEFEED_BASE_URL", config.DefaultBaseURL),
		"Public base URL used for feed links in the OPML list (env: PAGEFEED_BASE_URL)")
	serverCmd.StringVar(&cfg.APIKey, "api-key", config.GetEnvString("PAGEFEED_API_KEY", ""),
		"Require this X-API-Key on /v1 routes (env: PAGEFEED_API_KEY)")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	commonFlags(migrateCmd, cfg, &logLevelStr)
	var down int
	migrateCmd.IntVar(&down, "down", 0,
		"Roll back this many migrations instead of applying pending ones")

	toggleCmd := flag.NewFlagSet("enable", flag.ExitOnError)
	commonFlags(toggleCmd, cfg, &logLevelStr)
	var toggleSlug string
	toggleCmd.StringVar(&toggleSlug, "slug", "", "Page to enable or disable (required)")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	parse := func(fs *flag.FlagSet) {
		fs.Parse(os.Args[2:])
		// Handle log level parsing separately since it needs conversion
		if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
			cfg.LogLevel = level
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}

	var err error
	switch os.Args[1] {
	case "import":
		parse(importCmd)
		err = runImport(cfg)
	case "start":
		parse(startCmd)
		err = runStart(cfg)
	case "check":
		parse(checkCmd)
		err = runCheck(cfg, checkSlug)
	case "server":
		parse(serverCmd)
		err = runServer(cfg)
	case "migrate":
		parse(migrateCmd)
		err = runMigrate(cfg, down)
	case "enable", "disable":
		parse(toggleCmd)
		err = runSetEnabled(cfg, toggleSlug, os.Args[1] == "enable")
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func commonFlags(fs *flag.FlagSet, cfg *config.Config, logLevel *string) {
	fs.StringVar(&cfg.DatabaseURL, "db", config.GetEnvString("PAGEFEED_DATABASE_URL", config.DefaultDatabaseURL),
		"Store connection target: postgres:// URL or SQLite path (env: PAGEFEED_DATABASE_URL)")
	fs.StringVar(logLevel, "log-level", config.GetEnvString("PAGEFEED_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: PAGEFEED_LOG_LEVEL)")
}

func pollerFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("PAGEFEED_WORKERS", config.DefaultWorkerCount),
		"Number of concurrent page checks, 0 for CPU count (env: PAGEFEED_WORKERS)")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", config.GetEnvDuration("PAGEFEED_FETCH_TIMEOUT", config.DefaultFetchTimeout),
		"Per-request fetch timeout (env: PAGEFEED_FETCH_TIMEOUT)")
	fs.DurationVar(&cfg.StoreTimeout, "store-timeout", config.GetEnvDuration("PAGEFEED_STORE_TIMEOUT", config.DefaultStoreTimeout),
		"Per-operation store timeout (env: PAGEFEED_STORE_TIMEOUT)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body", config.GetEnvInt64("PAGEFEED_MAX_BODY", config.DefaultMaxBodyBytes),
		"Response body ceiling in bytes (env: PAGEFEED_MAX_BODY)")
	fs.Float64Var(&cfg.HostRate, "host-rate", config.GetEnvFloat("PAGEFEED_HOST_RATE", config.DefaultHostRate),
		"Requests per second per origin host, 0 to disable pacing (env: PAGEFEED_HOST_RATE)")
	fs.StringVar(&cfg.UserAgent, "user-agent", config.GetEnvString("PAGEFEED_USER_AGENT", config.DefaultUserAgent),
		"User-Agent header sent with every fetch (env: PAGEFEED_USER_AGENT)")
	fs.StringVar(&cfg.RedisAddr, "redis", config.GetEnvString("PAGEFEED_REDIS_ADDR", ""),
		"Redis address for page claims shared between pollers (env: PAGEFEED_REDIS_ADDR)")
}

func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DatabaseURL)
	dbCfg.ReadOnly = readOnly
	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DatabaseURL).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// runImport inserts pages from a CSV file. Existing slugs are kept.
func runImport(cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := importpages.NewImporter(store.New(db)).ImportPages(ctx, cfg.PagesCSVPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d pages\n", summary.Imported, summary.Total)
	if len(summary.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// newPoller wires the store, fetcher and claim backend.
func newPoller(ctx context.Context, cfg *config.Config, db *database.DB) (*process.Poller, func(), error) {
	fetcher := fetch.New(fetch.Config{
		Timeout:   cfg.FetchTimeout,
		MaxBytes:  cfg.MaxBodyBytes,
		UserAgent: cfg.UserAgent,
		HostRate:  cfg.HostRate,
	})

	var (
		claimer claim.Claimer = claim.NewMemory()
		cleanup               = func() {}
	)
	if cfg.RedisAddr != "" {
		ttl := 2*(cfg.FetchTimeout+cfg.StoreTimeout) + time.Minute
		r, err := claim.Dial(ctx, cfg.RedisAddr, ttl)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("redis", cfg.RedisAddr).Dur("claim_ttl", ttl).Msg("Using Redis page claims")
		claimer = r
		cleanup = func() { r.Close() }
	}

	poller, err := process.NewPoller(store.New(db), fetcher, process.Options{
		WorkerCount:  cfg.WorkerCount,
		StoreTimeout: cfg.StoreTimeout,
		Claimer:      claimer,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize poller: %w", err)
	}
	return poller, cleanup, nil
}

// runStart polls pages once immediately and then on every interval until a
// shutdown signal arrives.
func runStart(cfg *config.Config) error {
	if cfg.PollInterval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Dur("interval", cfg.PollInterval).Msg("Running in periodic mode")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	poller, cleanup, err := newPoller(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info().
		Int("worker_count", poller.WorkerCount).
		Msg("Poller started")

	if err := poller.Run(ctx, cfg.PollInterval); err != nil {
		return err
	}

	stats := poller.Stats()
	log.Info().
		Int64("checked", stats.Checked).
		Int64("changed", stats.Changed).
		Int64("failed", stats.Failed).
		Int64("store_errors", stats.StoreErrors).
		Msg("Poller stopped")
	return nil
}

// runCheck runs one cycle, or one forced check when slug is set.
func runCheck(cfg *config.Config, slug string) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	poller, cleanup, err := newPoller(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	if slug == "" {
		stats, err := poller.RunCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("checked=%d unchanged=%d changed=%d failed=%d store_errors=%d skipped=%d\n",
			stats.Checked, stats.Unchanged, stats.Changed, stats.Failed, stats.StoreErrors, stats.Skipped)
		return nil
	}

	r, err := poller.ForceCheck(ctx, slug)
	if err != nil {
		return err
	}
	switch {
	case r.Skipped:
		fmt.Printf("%s: claimed by another poller\n", slug)
	case r.StoreErr != nil:
		return fmt.Errorf("record check for %s: %w", slug, r.StoreErr)
	case r.Err != nil:
		fmt.Printf("%s: %s (%v)\n", slug, r.Verdict, r.Err)
	default:
		fmt.Printf("%s: %s\n", slug, r.Verdict)
	}
	return nil
}

// runServer starts the read-only feed server.
func runServer(cfg *config.Config) error {
	db, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	return server.RunServer(storage.NewRepository(db), server.Options{
		ListenAddr: cfg.ListenAddr(),
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
	}, log.Logger)
}

// runMigrate applies pending migrations, or rolls back the last n.
func runMigrate(cfg *config.Config, down int) error {
	dbCfg := database.NewConfig(cfg.DatabaseURL)
	dbCfg.SkipMigrations = down > 0
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if down > 0 {
		if err := db.Rollback(down); err != nil {
			return err
		}
	}

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d\n", version)
	return nil
}

// runSetEnabled retires or re-activates one page. Its check state is kept.
func runSetEnabled(cfg *config.Config, slug string, enabled bool) error {
	if slug == "" {
		return fmt.Errorf("-slug is required")
	}
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.New(db).SetEnabled(context.Background(), slug, enabled); err != nil {
		return err
	}
	log.Info().Str("slug", slug).Bool("enabled", enabled).Msg("Page updated")
	return nil
}
