package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultDatabaseURL  = "./pagefeed.db"
	DefaultPagesCSVPath = "./pages.csv"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces
	DefaultBaseURL    = "http://localhost:8080"

	DefaultWorkerCount  = 4
	DefaultPollInterval = 5 * time.Minute
	DefaultFetchTimeout = 30 * time.Second
	DefaultStoreTimeout = 15 * time.Second
	DefaultMaxBodyBytes = 10 * 1024 * 1024
	DefaultHostRate     = 1.0 // Requests per second per origin host
	DefaultUserAgent    = "Mozilla/5.0 (compatible; pagefeed/1.0)"

	DefaultLogLevel = "info"
	DefaultEnvFile  = ".env"
)
