package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type StructuredJSONConfig struct {
	App struct {
		Name         string `json:"name"`
		HashKey      string `json:"hash_key"`
		UserAgent    string `json:"user_agent"`
		EnabledTypes string `json:"enabled_types"`
	} `json:"app,omitempty"`

	Adapter struct {
		HTTPAddress    string   `json:"http_address"`
		RequestTimeout Duration `json:"request_timeout"`
	} `json:"adapter,omitempty"`

	Storage struct {
		DB struct {
			DSN string `json:"dsn"`
		} `json:"db,omitempty"`
		PrefsPath string `json:"prefs_path"`
	} `json:"storage,omitempty"`

	Workers struct {
		PollInterval   Duration `json:"poll_interval"`
		SaveInterval   Duration `json:"save_interval"`
		NudgeDelay     Duration `json:"nudge_delay"`
		RetryBaseDelay Duration `json:"retry_base_delay"`
		RetryMaxDelay  Duration `json:"retry_max_delay"`
	} `json:"workers,omitempty"`

	Account struct {
		Email     string `json:"email"`
		SyncToken string `json:"sync_token"`
	} `json:"account,omitempty"`

	Log struct {
		Path      string `json:"path"`
		MaxSizeMB int    `json:"max_size_mb"`
	} `json:"log,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			Name:         jsonCfg.App.Name,
			HashKey:      jsonCfg.App.HashKey,
			UserAgent:    jsonCfg.App.UserAgent,
			EnabledTypes: jsonCfg.App.EnabledTypes,
		},
		Adapter: Adapter{
			HTTPAddress:    jsonCfg.Adapter.HTTPAddress,
			RequestTimeout: time.Duration(jsonCfg.Adapter.RequestTimeout),
		},
		Storage: Storage{
			DB: DB{
				DSN: jsonCfg.Storage.DB.DSN,
			},
			PrefsPath: jsonCfg.Storage.PrefsPath,
		},
		Workers: Workers{
			PollInterval:   time.Duration(jsonCfg.Workers.PollInterval),
			SaveInterval:   time.Duration(jsonCfg.Workers.SaveInterval),
			NudgeDelay:     time.Duration(jsonCfg.Workers.NudgeDelay),
			RetryBaseDelay: time.Duration(jsonCfg.Workers.RetryBaseDelay),
			RetryMaxDelay:  time.Duration(jsonCfg.Workers.RetryMaxDelay),
		},
		Account: Account{
			Email:     jsonCfg.Account.Email,
			SyncToken: jsonCfg.Account.SyncToken,
		},
		Log: Log{
			Path:      jsonCfg.Log.Path,
			MaxSizeMB: jsonCfg.Log.MaxSizeMB,
		},
		JSONFilePath: "",
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
