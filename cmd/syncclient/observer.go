package main

import (
	"context"
	"sync/atomic"

	"github.com/MKhiriev/go-sync-engine/internal/engine"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/models"
)

// tokenStore persists the tokens the engine hands out.
type tokenStore interface {
	SetBootstrapToken(token string) error
	SetSyncToken(token string) error
}

// passphraseSetter is the part of the engine the observer calls back into.
type passphraseSetter interface {
	SetPassphrase(ctx context.Context, passphrase string, explicit bool) error
}

// clientObserver persists tokens and answers the first passphrase request
// with the configured passphrase.
type clientObserver struct {
	engine.BaseObserver

	manager    passphraseSetter
	prefs      tokenStore
	passphrase string
	logger     *logger.Logger

	triedPassphrase atomic.Bool
}

var _ tokenStore = (*store.PrefsFile)(nil)

func newClientObserver(manager passphraseSetter, prefs tokenStore, passphrase string, log *logger.Logger) *clientObserver {
	return &clientObserver{
		manager:    manager,
		prefs:      prefs,
		passphrase: passphrase,
		logger:     log,
	}
}

func (o *clientObserver) OnInitializationComplete() {
	o.logger.Info().Msg("engine initialized")
}

func (o *clientObserver) OnUpdatedToken(token string) {
	if err := o.prefs.SetSyncToken(token); err != nil {
		o.logger.Err(err).Msg("failed to persist sync token")
	}
}

func (o *clientObserver) OnPassphraseAccepted(bootstrapToken string) {
	if err := o.prefs.SetBootstrapToken(bootstrapToken); err != nil {
		o.logger.Err(err).Msg("failed to persist bootstrap token")
	}
}

// OnPassphraseRequired tries the configured passphrase once. A rejected
// passphrase leaves the engine waiting for the user.
func (o *clientObserver) OnPassphraseRequired(req models.PassphraseRequired) {
	o.logger.Warn().Str("reason", req.Reason.String()).Msg("passphrase required")
	if o.passphrase == "" || !o.triedPassphrase.CompareAndSwap(false, true) {
		return
	}
	if err := o.manager.SetPassphrase(context.Background(), o.passphrase, true); err != nil {
		o.logger.Err(err).Msg("failed to set configured passphrase")
	}
}

func (o *clientObserver) OnAuthError(err models.AuthError) {
	o.logger.Error().Str("state", err.State.String()).Str("message", err.Message).Msg("authentication failed")
}

func (o *clientObserver) OnStopSyncingPermanently() {
	o.logger.Error().Msg("server asked to stop syncing permanently")
}

func (o *clientObserver) OnSyncCycleCompleted(snap models.SyncSessionSnapshot) {
	o.logger.Debug().Int("downloaded", snap.UpdatesDownloaded).Int("committed", snap.Committed).
		Int("unsynced", snap.UnsyncedCount).Msg("sync cycle completed")
}
