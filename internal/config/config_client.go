package config

import (
	"fmt"
	"os"
	"time"

	"github.com/MKhiriev/go-sync-engine/models"
)

// ClientApp holds client-side application settings derived from the shared
// structured config.
type ClientApp struct {
	// Name identifies the client instance.
	Name string
	// HashKey is the HMAC key used by the client for commit integrity checks.
	HashKey string
	// UserAgent is sent with every request.
	UserAgent string
	// EnabledTypes is the parsed set of types to sync.
	EnabledTypes models.ModelTypeSet
}

// ClientAdapter holds network settings used by the client transport layer.
type ClientAdapter struct {
	// HTTPAddress is the sync server endpoint.
	HTTPAddress string
	// RequestTimeout is the default timeout for outbound client requests.
	RequestTimeout time.Duration
}

// ClientDB contains local database connection settings for the client.
type ClientDB struct {
	// DSN is the SQLite file path of the entity store.
	DSN string
}

// ClientStorage groups client storage backend settings.
type ClientStorage struct {
	// DB holds local database settings.
	DB ClientDB
	// PrefsPath is the preferences file for the bootstrap and sync tokens.
	PrefsPath string
}

// ClientWorkers contains client background worker settings.
type ClientWorkers struct {
	PollInterval   time.Duration
	SaveInterval   time.Duration
	NudgeDelay     time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ClientAccount holds the startup credentials.
type ClientAccount struct {
	Credentials models.Credentials
	Passphrase  string
}

// ClientLog holds log file settings.
type ClientLog struct {
	Path      string
	MaxSizeMB int
}

// ClientConfig is the top-level client configuration assembled from
// [StructuredConfig].
type ClientConfig struct {
	// App contains application-level client settings.
	App ClientApp
	// Adapter contains the client transport address and timeout.
	Adapter ClientAdapter
	// Storage contains client storage settings.
	Storage ClientStorage
	// Workers contains background job settings.
	Workers ClientWorkers
	// Account contains the startup credentials.
	Account ClientAccount
	// Log contains log file settings.
	Log ClientLog
}

// GetClientConfig builds and validates a client-specific config view from the
// merged structured configuration, reading flags from os.Args.
func GetClientConfig() (*ClientConfig, error) {
	return getClientConfig(os.Args[1:])
}

func getClientConfig(args []string) (*ClientConfig, error) {
	cfg, err := GetStructuredConfig(args)
	if err != nil {
		return nil, fmt.Errorf("error get structured config: %w", err)
	}

	return NewClientConfig(cfg)
}

// NewClientConfig maps the fields of cfg relevant to the client runtime and
// validates the resulting [ClientConfig].
func NewClientConfig(cfg *StructuredConfig) (*ClientConfig, error) {
	enabled, err := models.ParseModelTypeSet(cfg.App.EnabledTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAppConfigs, err)
	}

	clientCfg := &ClientConfig{
		App: ClientApp{
			Name:         cfg.App.Name,
			HashKey:      cfg.App.HashKey,
			UserAgent:    cfg.App.UserAgent,
			EnabledTypes: enabled,
		},
		Adapter: ClientAdapter{
			HTTPAddress:    cfg.Adapter.HTTPAddress,
			RequestTimeout: cfg.Adapter.RequestTimeout,
		},
		Storage: ClientStorage{
			DB: ClientDB{
				DSN: cfg.Storage.DB.DSN,
			},
			PrefsPath: cfg.Storage.PrefsPath,
		},
		Workers: ClientWorkers{
			PollInterval:   cfg.Workers.PollInterval,
			SaveInterval:   cfg.Workers.SaveInterval,
			NudgeDelay:     cfg.Workers.NudgeDelay,
			RetryBaseDelay: cfg.Workers.RetryBaseDelay,
			RetryMaxDelay:  cfg.Workers.RetryMaxDelay,
		},
		Account: ClientAccount{
			Credentials: models.Credentials{
				Email:     cfg.Account.Email,
				SyncToken: cfg.Account.SyncToken,
			},
			Passphrase: cfg.Account.Passphrase,
		},
		Log: ClientLog{
			Path:      cfg.Log.Path,
			MaxSizeMB: cfg.Log.MaxSizeMB,
		},
	}

	return clientCfg, clientCfg.validate()
}
