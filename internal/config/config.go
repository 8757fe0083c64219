package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the
// go-card-sync server. It aggregates all sub-configurations and is
// populated by merging values from environment variables, command-line
// flags, and an optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds application-level settings such as the password hash key
	// and session retention policy.
	App App `envPrefix:"APP_"`

	// Storage holds configuration for the server database and the
	// per-user collection data root.
	Storage Storage `envPrefix:"STORAGE_"`

	// Server holds network address, URL prefix, and timeout settings for
	// the HTTP server.
	Server Server `envPrefix:"SERVER_"`

	// Workers holds configuration for the per-collection execution
	// contexts.
	Workers Workers `envPrefix:"WORKERS_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds application-level configuration values.
type App struct {
	// PasswordHashKey is the secret key used when hashing user passwords
	// with HMAC-SHA256. Must be kept confidential and stable: changing it
	// invalidates every stored credential.
	// Env: APP_PASSWORD_HASH_KEY
	PasswordHashKey string `env:"PASSWORD_HASH_KEY"`

	// SessionTTL controls how long an idle session stays loadable before
	// the store evicts it. Zero disables eviction.
	// Env: APP_SESSION_TTL
	SessionTTL time.Duration `env:"SESSION_TTL"`
}

// Storage groups the configuration for all persistence backends.
type Storage struct {
	// DB holds the server database connection settings (users, sessions).
	DB DB `envPrefix:"DB_"`

	// Files holds the filesystem settings for per-user collection data.
	Files Files `envPrefix:"FILES_"`
}

// DB holds connection settings for the server database.
type DB struct {
	// DSN is the Data Source Name used to open the server database.
	// A "postgres://" prefix selects the pgx driver; anything else is
	// treated as a sqlite file path.
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`
}

// Files holds filesystem settings for collection data.
type Files struct {
	// DataRoot is the directory under which each user's collection root
	// (collection database plus media directory) is created.
	// Env: STORAGE_FILES_DATA_ROOT
	DataRoot string `env:"DATA_ROOT"`
}

// Server holds network and routing settings for the inbound transport layer.
type Server struct {
	// HTTPAddress is the TCP address on which the HTTP server listens,
	// in "host:port" format (e.g. "0.0.0.0:27701").
	// Env: SERVER_ADDRESS
	HTTPAddress string `env:"ADDRESS"`

	// RequestTimeout is the maximum duration allowed for a single inbound
	// request before the server cancels it (e.g. "30s", "1m").
	// Env: SERVER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// BaseURL is the URL prefix for collection-sync operations.
	// Env: SERVER_BASE_URL
	BaseURL string `env:"BASE_URL"`

	// BaseMediaURL is the URL prefix for media-sync operations.
	// Env: SERVER_BASE_MEDIA_URL
	BaseMediaURL string `env:"BASE_MEDIA_URL"`
}

// Workers holds configuration for the per-collection execution contexts.
type Workers struct {
	// CollectionIdleTimeout is how long an executor keeps a collection
	// open with no work before closing it. The collection is reopened
	// transparently on the next job.
	// Env: WORKERS_COLLECTION_IDLE_TIMEOUT
	CollectionIdleTimeout time.Duration `env:"COLLECTION_IDLE_TIMEOUT"`
}

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (last source wins for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		build()
}
