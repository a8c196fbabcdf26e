// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the sync
// client. It aggregates all sub-configurations and is populated by merging
// defaults, environment variables, command-line flags, and an optional JSON
// file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds application-level settings such as the client name and the
	// transport integrity key.
	App App `envPrefix:"APP_"`

	// Adapter holds the sync server address and request timeout.
	Adapter Adapter `envPrefix:"ADAPTER_"`

	// Storage holds the local entity store and preferences file locations.
	Storage Storage `envPrefix:"STORAGE_"`

	// Workers holds the intervals of the background scheduling loops.
	Workers Workers `envPrefix:"WORKERS_"`

	// Account holds the credentials the engine starts with.
	Account Account `envPrefix:"ACCOUNT_"`

	// Log holds client log file settings.
	Log Log `envPrefix:"LOG_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds application-level configuration values.
type App struct {
	// Name identifies this client instance; used as the engine name and
	// as the role of the logger.
	// Env: APP_NAME
	Name string `env:"NAME"`

	// HashKey is the HMAC key used for commit integrity checking
	// (the Hash field of a commit request).
	// Env: APP_HASH_KEY
	HashKey string `env:"HASH_KEY"`

	// UserAgent is sent with every request to the sync server.
	// Env: APP_USER_AGENT
	UserAgent string `env:"USER_AGENT"`

	// EnabledTypes is a comma separated list of model type names
	// (e.g. "bookmarks,passwords").
	// Env: APP_ENABLED_TYPES
	EnabledTypes string `env:"ENABLED_TYPES"`
}

// Adapter holds configuration of the outbound sync transport.
type Adapter struct {
	// HTTPAddress is the base URL or host:port of the sync server.
	// Env: ADAPTER_ADDRESS
	HTTPAddress string `env:"ADDRESS"`

	// RequestTimeout is the maximum duration of a single request to the
	// sync server (e.g. "30s", "1m").
	// Env: ADAPTER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// Storage groups the configuration of local persistence.
type Storage struct {
	// DB holds the local entity store settings.
	DB DB `envPrefix:"DB_"`

	// PrefsPath is the JSON file holding the persisted bootstrap token
	// and last sync token.
	// Env: STORAGE_PREFS_PATH
	PrefsPath string `env:"PREFS_PATH"`
}

// DB holds connection settings for the local entity store.
type DB struct {
	// DSN is the SQLite database file path (e.g. "/var/lib/sync/sync.db").
	// Env: STORAGE_DB_DATABASE_URI
	DSN string `env:"DATABASE_URI"`
}

// Workers holds the intervals that drive background work.
type Workers struct {
	// PollInterval is how often a normal-mode poll cycle runs.
	// Env: WORKERS_POLL_INTERVAL
	PollInterval time.Duration `env:"POLL_INTERVAL"`

	// SaveInterval is how often the embedder flushes the entity store.
	// Env: WORKERS_SAVE_INTERVAL
	SaveInterval time.Duration `env:"SAVE_INTERVAL"`

	// NudgeDelay is the default coalescing delay of local nudges.
	// Env: WORKERS_NUDGE_DELAY
	NudgeDelay time.Duration `env:"NUDGE_DELAY"`

	// RetryBaseDelay is the first backoff delay after a transport failure.
	// Env: WORKERS_RETRY_BASE_DELAY
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY"`

	// RetryMaxDelay caps the backoff delay.
	// Env: WORKERS_RETRY_MAX_DELAY
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY"`
}

// Account holds the credentials the engine is initialised with.
type Account struct {
	// Email is the account name.
	// Env: ACCOUNT_EMAIL
	Email string `env:"EMAIL"`

	// SyncToken is the bearer token for the sync server.
	// Env: ACCOUNT_SYNC_TOKEN
	SyncToken string `env:"SYNC_TOKEN"`

	// Passphrase is an optional explicit passphrase supplied at startup.
	// Env: ACCOUNT_PASSPHRASE
	Passphrase string `env:"PASSPHRASE"`
}

// Log holds client log file settings.
type Log struct {
	// Path is the log file; empty places "logs" next to the executable.
	// Env: LOG_PATH
	Path string `env:"PATH"`

	// MaxSizeMB is the size at which the log file is rotated.
	// Env: LOG_MAX_SIZE_MB
	MaxSizeMB int `env:"MAX_SIZE_MB"`
}

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (later sources override non-zero fields of earlier ones):
//  1. Built-in defaults
//  2. Environment variables
//  3. Command-line flags (args)
//  4. JSON file (path resolved from sources 2 and 3)
func GetStructuredConfig(args []string) (*StructuredConfig, error) {
	return newConfigBuilder().
		withDefaults().
		withEnv().
		withFlags(args).
		withJSON().
		build()
}
