package config

import "time"

// Default values applied before any other source.
const (
	DefaultAppName        = "syncclient"
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = 30 * time.Minute
	DefaultSaveInterval   = 10 * time.Second
	DefaultNudgeDelay     = 200 * time.Millisecond
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
	DefaultLogMaxSizeMB   = 10
	DefaultPrefsPath      = "sync_prefs.json"
)

func defaultConfig() *StructuredConfig {
	return &StructuredConfig{
		App: App{
			Name:         DefaultAppName,
			UserAgent:    DefaultAppName,
			EnabledTypes: "bookmarks,preferences,passwords",
		},
		Adapter: Adapter{RequestTimeout: DefaultRequestTimeout},
		Storage: Storage{PrefsPath: DefaultPrefsPath},
		Workers: Workers{
			PollInterval:   DefaultPollInterval,
			SaveInterval:   DefaultSaveInterval,
			NudgeDelay:     DefaultNudgeDelay,
			RetryBaseDelay: DefaultRetryBaseDelay,
			RetryMaxDelay:  DefaultRetryMaxDelay,
		},
		Log: Log{MaxSizeMB: DefaultLogMaxSizeMB},
	}
}
