package config

import "errors"

// Validation errors returned when required configuration groups are
// incomplete or invalid.
var (
	// ErrInvalidAdapterConfigs indicates invalid client adapter settings
	// (for example, missing HTTP address or request timeout).
	ErrInvalidAdapterConfigs = errors.New("invalid adapter configuration")
	// ErrInvalidStorageConfigs indicates invalid client storage settings
	// (for example, empty DSN or unsupported in-memory DSN).
	ErrInvalidStorageConfigs = errors.New("invalid storage configuration")
	// ErrInvalidAppConfigs indicates invalid application-level settings
	// required by the client (for example, missing hash key or no enabled types).
	ErrInvalidAppConfigs = errors.New("invalid app configuration")
	// ErrInvalidWorkerConfigs indicates invalid background worker settings
	// (for example, zero poll interval or a retry cap below the base delay).
	ErrInvalidWorkerConfigs = errors.New("invalid worker configuration")
	// ErrInvalidAccountConfigs indicates missing account credentials.
	ErrInvalidAccountConfigs = errors.New("invalid account configuration")
	// ErrInvalidLogConfigs indicates invalid log settings.
	ErrInvalidLogConfigs = errors.New("invalid log configuration")
)
