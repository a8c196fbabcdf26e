// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
)

// Prefs are the values the embedder keeps between runs.
type Prefs struct {
	// BootstrapToken restores the encryption keys without a passphrase.
	BootstrapToken string `json:"bootstrap_token,omitempty"`
	// SyncToken is the last token issued by the sync server.
	SyncToken string `json:"sync_token,omitempty"`
}

// PrefsFile is a small JSON file holding [Prefs]. Writes replace the file
// atomically.
type PrefsFile struct {
	path   string
	logger *logger.Logger

	mu    sync.Mutex
	prefs Prefs
}

// OpenPrefsFile reads path. A missing file yields empty prefs.
func OpenPrefsFile(path string, log *logger.Logger) (*PrefsFile, error) {
	if path == "" {
		return nil, ErrInvalidPrefsPath
	}
	p := &PrefsFile{path: path, logger: log}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PrefsFile) load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read prefs file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err = json.Unmarshal(data, &p.prefs); err != nil {
		return fmt.Errorf("decode prefs file: %w", err)
	}
	return nil
}

// Get returns the current values.
func (p *PrefsFile) Get() Prefs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs
}

// SetBootstrapToken stores token and writes the file.
func (p *PrefsFile) SetBootstrapToken(token string) error {
	return p.update(func(pr *Prefs) { pr.BootstrapToken = token })
}

// SetSyncToken stores token and writes the file.
func (p *PrefsFile) SetSyncToken(token string) error {
	return p.update(func(pr *Prefs) { pr.SyncToken = token })
}

func (p *PrefsFile) update(fn func(pr *Prefs)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.prefs
	fn(&next)
	if next == p.prefs {
		return nil
	}
	if err := p.persist(next); err != nil {
		p.logger.Err(err).Str("func", "PrefsFile.update").Str("path", p.path).Msg("failed to write prefs")
		return err
	}
	p.prefs = next
	return nil
}

func (p *PrefsFile) persist(prefs Prefs) error {
	dir := filepath.Dir(p.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create prefs dir: %w", err)
		}
	}

	payload, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp prefs file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write prefs file: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod prefs file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close prefs file: %w", err)
	}
	if err = os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace prefs file: %w", err)
	}
	return nil
}
