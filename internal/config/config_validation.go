// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import "strings"

// validate checks that the final merged [StructuredConfig] satisfies the
// invariants shared by every consumer. Client-specific rules live on
// [ClientConfig].
func (cfg *StructuredConfig) validate() error {
	if cfg.Log.MaxSizeMB < 0 {
		return ErrInvalidLogConfigs
	}
	return nil
}

func (cfg *ClientConfig) validate() error {
	if cfg.Storage.DB.DSN == "" || strings.Contains(cfg.Storage.DB.DSN, "memory") || cfg.Storage.PrefsPath == "" {
		return ErrInvalidStorageConfigs
	}

	if cfg.Adapter.HTTPAddress == "" || cfg.Adapter.RequestTimeout <= 0 {
		return ErrInvalidAdapterConfigs
	}

	w := cfg.Workers
	if w.PollInterval <= 0 || w.SaveInterval <= 0 || w.NudgeDelay < 0 ||
		w.RetryBaseDelay <= 0 || w.RetryMaxDelay < w.RetryBaseDelay {
		return ErrInvalidWorkerConfigs
	}

	if cfg.App.HashKey == "" || cfg.App.EnabledTypes.Empty() {
		return ErrInvalidAppConfigs
	}

	if cfg.Account.Credentials.Email == "" {
		return ErrInvalidAccountConfigs
	}

	return nil
}
