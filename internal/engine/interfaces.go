// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package engine is the public face of the sync engine.
//
// An embedder creates a SyncManager with New, calls Init once with its
// durable store, transport factory, type registrar and credentials, and then
// drives it through a small command surface. Everything the engine wants to
// tell the embedder arrives through two observer channels:
//
//   - ChangeObserver.OnChangesApplied is called synchronously for every
//     committed write transaction, while the committed state is still held
//     under a shared lock. It receives the ordered change records of one
//     model type and may read through the transaction it is given. It must
//     not block or open transactions.
//   - Observer receives every other event. Events are queued and delivered
//     in order on a single dispatcher goroutine with no engine lock held,
//     so observers may call back into the SyncManager.
//
// All entity access goes through ReadTransaction and WriteTransaction,
// which hide encryption: reads return plaintext whenever the keys are
// available and writes encrypt the types the account encrypts.
package engine

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

// SyncManager is the command surface of the engine.
type SyncManager interface {
	// Init opens the store, restores the key state and starts the scheduler
	// in configuration mode. A nil return means the manager accepts
	// commands; OnInitializationComplete is queued afterwards and delivered
	// asynchronously. Init may only be called once.
	Init(ctx context.Context, params InitParams) error

	GetAuthenticatedUsername() string
	UpdateCredentials(creds models.Credentials)
	// UpdateEnabledTypes replaces the routing table of the registrar.
	UpdateEnabledTypes(routing models.RoutingInfo)
	InitialSyncEndedForAllEnabledTypes() bool

	StartSyncingNormally() error
	// StartConfigurationMode returns a channel closed once configuration
	// requests are accepted.
	StartConfigurationMode() (<-chan struct{}, error)
	// RequestConfig downloads types in configuration mode. The channel
	// receives the result.
	RequestConfig(types models.ModelTypeSet, reason models.ConfigureReason) <-chan error
	RequestCleanupDisabledTypes() <-chan error
	RequestClearServerData() error
	RequestNudge(types models.ModelTypeSet, source models.NudgeSource) error
	RequestEarlyExit()

	SetPassphrase(ctx context.Context, passphrase string, explicit bool) error
	EncryptDataTypes(ctx context.Context, types models.ModelTypeSet) error
	RefreshEncryption(ctx context.Context) error
	GetEncryptedDataTypes() models.ModelTypeSet
	IsUsingExplicitPassphrase() bool
	MaybeSetSyncTabsInNigoriNode(ctx context.Context, enabled models.ModelTypeSet) error
	ReceivedExperimentalTypes() models.ModelTypeSet

	AddObserver(o Observer)
	RemoveObserver(o Observer)
	AddChangeObserver(o ChangeObserver)
	RemoveChangeObserver(o ChangeObserver)

	GetStatusSummary() models.StatusSummary
	GetDetailedStatus() models.Status
	SetNotificationsEnabled(enabled bool)
	OnIncomingNotification(types models.ModelTypeSet)

	HasUnsyncedItems(ctx context.Context) (bool, error)
	LogUnsyncedItems(ctx context.Context) error

	ReadTransaction(ctx context.Context) (*ReadTransaction, error)
	WriteTransaction(ctx context.Context) (*WriteTransaction, error)

	SaveChanges(ctx context.Context) error
	// Shutdown stops the scheduler, saves pending changes, drains the
	// observer queue and closes the store. Later calls are no-ops.
	Shutdown(ctx context.Context) error
}

// Registrar is a type registrar whose routing table can be replaced.
type Registrar interface {
	workers.Registrar
	SetRoutingInfo(routing models.RoutingInfo)
}

// TransportFactory builds the connection to the sync server.
type TransportFactory func() (adapter.SyncServer, error)

// InitParams carries everything Init needs.
type InitParams struct {
	// Backing is the durable entity store.
	Backing syncable.Backing
	// Transport creates the server connection.
	Transport TransportFactory
	// Registrar routes enabled types to their workers.
	Registrar Registrar
	// Credentials authenticate the first requests.
	Credentials models.Credentials
	// BootstrapToken restores the keys saved by a previous run. Optional.
	BootstrapToken string
	// Workers tunes the scheduler.
	Workers config.ClientWorkers
	// KeyChain overrides the default key derivation. Optional.
	KeyChain crypto.KeyChain
}

// Observer receives deferred engine events, in order, on the dispatcher
// goroutine.
type Observer interface {
	// OnChangesComplete follows the OnChangesApplied calls of one
	// transaction, once per affected type.
	OnChangesComplete(t models.ModelType)
	OnSyncCycleCompleted(snap models.SyncSessionSnapshot)
	OnAuthError(err models.AuthError)
	// OnUpdatedToken reports a token rotated by the server. The embedder
	// persists it.
	OnUpdatedToken(token string)
	OnPassphraseRequired(req models.PassphraseRequired)
	// OnPassphraseAccepted carries the bootstrap token to persist.
	OnPassphraseAccepted(bootstrapToken string)
	OnInitializationComplete()
	OnStopSyncingPermanently()
	OnClearServerDataSucceeded()
	OnClearServerDataFailed()
	OnEncryptionComplete(encrypted models.ModelTypeSet)
}

// ChangeObserver is called synchronously for every committed transaction.
type ChangeObserver interface {
	OnChangesApplied(t models.ModelType, tx *ReadTransaction, records models.ChangeRecordList)
}

// BaseObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type BaseObserver struct{}

func (BaseObserver) OnChangesComplete(models.ModelType) {}
func (BaseObserver) OnSyncCycleCompleted(models.SyncSessionSnapshot) {}
func (BaseObserver) OnAuthError(models.AuthError) {}
func (BaseObserver) OnUpdatedToken(string) {}
func (BaseObserver) OnPassphraseRequired(models.PassphraseRequired) {}
func (BaseObserver) OnPassphraseAccepted(string) {}
func (BaseObserver) OnInitializationComplete() {}
func (BaseObserver) OnStopSyncingPermanently() {}
func (BaseObserver) OnClearServerDataSucceeded() {}
func (BaseObserver) OnClearServerDataFailed() {}
func (BaseObserver) OnEncryptionComplete(models.ModelTypeSet) {}
