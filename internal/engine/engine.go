// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/scheduler"
	"github.com/MKhiriev/go-sync-engine/internal/status"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/syncer"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

const sourceEmbedder = "embedder"

// manager is the SyncManager implementation. Fields set by Init are
// read-only afterwards.
type manager struct {
	name   string
	logger *logger.Logger

	mu          sync.RWMutex
	initialized bool
	shutdown    bool

	creds      credentialStore
	status     *status.Aggregator
	dispatcher *dispatcher
	notifier   *notifier
	uuidGen    *utils.UUIDGenerator

	cfg       config.ClientWorkers
	dir       *syncable.Directory
	crypto    *crypto.Cryptographer
	server    adapter.SyncServer
	registrar Registrar
	syncer    *syncer.Syncer
	scheduler *scheduler.Scheduler
	saveJob   *saveJob
	stopSave  context.CancelFunc
}

// New returns a SyncManager for the account directory name. Observers may
// be added right away; everything else waits for Init.
func New(name string, log *logger.Logger) SyncManager {
	log = log.WithComponent("engine")
	d := newDispatcher(log)
	return &manager{
		name:       name,
		logger:     log,
		status:     status.NewAggregator(),
		dispatcher: d,
		notifier:   newNotifier(d, log),
		uuidGen:    utils.NewUUIDGenerator(),
	}
}

func (m *manager) ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.shutdown:
		return ErrShutdown
	case !m.initialized:
		return ErrNotInitialized
	}
	return nil
}

func (m *manager) Init(ctx context.Context, params InitParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.shutdown:
		return ErrShutdown
	case m.initialized:
		return ErrAlreadyInitialized
	case params.Backing == nil || params.Transport == nil || params.Registrar == nil:
		return fmt.Errorf("%w: backing, transport and registrar are required", ErrValidation)
	}

	m.cfg = withWorkerDefaults(params.Workers)
	m.registrar = params.Registrar

	dir := syncable.NewDirectory(m.name, params.Backing, m.logger)
	if err := dir.Open(ctx); err != nil {
		m.status.SetDiskFull(true)
		m.logger.Err(err).Str("func", "manager.Init").Msg("failed to open directory")
		return fmt.Errorf("%w: open directory: %w", ErrStore, err)
	}

	keychain := params.KeyChain
	if keychain == nil {
		keychain = crypto.NewKeyChain()
	}
	cr := crypto.NewCryptographer(keychain, m.logger)
	if params.BootstrapToken != "" {
		if err := cr.Bootstrap(params.BootstrapToken); err != nil {
			m.logger.Warn().Err(err).Str("func", "manager.Init").Msg("ignoring bootstrap token")
		}
	}
	if err := restoreNigori(ctx, dir, cr); err != nil {
		_ = dir.Close(ctx)
		return fmt.Errorf("%w: restore keys: %w", ErrStore, err)
	}

	server, err := params.Transport()
	if err != nil {
		_ = dir.Close(ctx)
		return fmt.Errorf("%w: create transport: %w", ErrTransport, err)
	}
	m.creds.Set(params.Credentials)
	server.SetCredentials(params.Credentials)
	server.OnTokenUpdated(m.onTokenUpdated)

	m.dir = dir
	m.crypto = cr
	m.server = server
	m.syncer = syncer.New(dir, server, params.Registrar, cr, m.logger,
		syncer.WithNigoriHandler(m.onNigoriApplied))
	m.scheduler = scheduler.New(m.syncer, params.Registrar, cycleListener{m}, m.cfg, m.logger)

	m.notifier.crypto = cr
	m.notifier.status = m.status
	m.notifier.enabled = func() models.ModelTypeSet { return params.Registrar.RoutingInfo().Types() }
	dir.SetCommitObserver(m.notifier)

	m.status.SetAuthenticated(params.Credentials.Valid())
	m.status.SetServerReachable(true, false)
	m.status.SetInitialSyncEnded(m.initialSyncEnded(ctx))
	m.updateCryptoStatus()

	m.scheduler.Start()
	saveCtx, stopSave := context.WithCancel(context.Background())
	m.stopSave = stopSave
	m.saveJob = newSaveJob(dir, m.logger)
	m.saveJob.Start(saveCtx, m.cfg.SaveInterval)

	// Commands are accepted from here on, before observers hear about it.
	m.initialized = true
	m.logger.Info().Str("func", "manager.Init").Str("account", params.Credentials.Email).
		Str("encrypted_types", cr.EncryptedTypes().String()).Msg("sync manager initialized")

	m.dispatcher.post(func(o Observer) { o.OnInitializationComplete() })
	if req := cr.PassphraseRequired(); req.IsRequired() {
		m.dispatcher.post(func(o Observer) { o.OnPassphraseRequired(req) })
	}
	return nil
}

func withWorkerDefaults(cfg config.ClientWorkers) config.ClientWorkers {
	if cfg.NudgeDelay <= 0 {
		cfg.NudgeDelay = config.DefaultNudgeDelay
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = config.DefaultSaveInterval
	}
	return cfg
}

// restoreNigori feeds the locally stored Nigori node to the cryptographer.
func restoreNigori(ctx context.Context, dir *syncable.Directory, cr *crypto.Cryptographer) error {
	tx, err := dir.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	node, ok := tx.GetByTag(models.Nigori.RootTag())
	if !ok {
		return nil
	}
	nigori, err := models.DecodeNigori(node.Specifics.Payload)
	if err != nil {
		return fmt.Errorf("decode nigori: %w", err)
	}
	cr.Update(nigori)
	return nil
}

func (m *manager) onTokenUpdated(token string) {
	m.creds.SetToken(token)
	m.dispatcher.post(func(o Observer) { o.OnUpdatedToken(token) })
}

// onNigoriApplied runs on the scheduler goroutine after a downloaded Nigori
// node has been committed.
func (m *manager) onNigoriApplied(reason models.PassphraseRequiredReason) {
	m.updateCryptoStatus()
	if reason != models.ReasonPassphraseNotRequired {
		req := m.crypto.PassphraseRequired()
		m.dispatcher.post(func(o Observer) { o.OnPassphraseRequired(req) })
		return
	}
	if !m.crypto.IsReady() {
		return
	}
	// New keys or newly encrypted types: bring local items up to date.
	if _, err := m.reencrypt(context.Background(), "nigori-update"); err != nil {
		m.logger.Err(err).Str("func", "manager.onNigoriApplied").Msg("re-encryption failed")
	}
}

func (m *manager) updateCryptoStatus() {
	m.status.SetCryptoState(m.crypto.EncryptedTypes(), m.crypto.IsReady(), m.crypto.HasPendingKeys())
}

func (m *manager) initialSyncEnded(ctx context.Context) bool {
	tx, err := m.dir.BeginRead(ctx)
	if err != nil {
		return false
	}
	defer tx.Close()
	enabled := m.registrar.RoutingInfo().Types()
	return tx.InitialSyncEnded().HasAll(enabled)
}

// cycleListener receives scheduler callbacks on the scheduler goroutine.
type cycleListener struct {
	m *manager
}

func (l cycleListener) OnSyncCycleStarted() {
	l.m.status.SetSyncing(true)
}

func (l cycleListener) OnSyncCycleCompleted(snap models.SyncSessionSnapshot) {
	m := l.m
	m.status.SetSyncing(false)
	m.status.RecordCycle(snap)

	results := []models.SyncerError{snap.DownloadResult, snap.CommitResult}
	switch {
	case snap.DownloadResult == models.SyncerOK && snap.CommitResult == models.SyncerOK:
		m.status.SetServerReachable(true, false)
		m.status.SetAuthenticated(true)
	case slices.Contains(results, models.SyncerNetworkError):
		m.status.SetServerReachable(false, false)
	case slices.Contains(results, models.SyncerServerError):
		m.status.SetServerReachable(true, true)
	}
	m.status.SetSyncerStuck(snap.Conflicts() > 0 && !snap.Useful())
	m.status.SetInitialSyncEnded(snap.InitialSyncEnded.HasAll(m.registrar.RoutingInfo().Types()))
	m.updateCryptoStatus()

	m.dispatcher.post(func(o Observer) { o.OnSyncCycleCompleted(snap) })
}

// OnUpdatesReapplied ends a local apply pass. Network and cycle counters
// stay as they were.
func (l cycleListener) OnUpdatesReapplied(snap models.SyncSessionSnapshot) {
	m := l.m
	m.status.SetSyncing(false)
	m.status.SetUnsyncedCount(snap.UnsyncedCount)
	m.updateCryptoStatus()
	m.logger.Debug().Str("func", "cycleListener.OnUpdatesReapplied").
		Int("applied", snap.UpdatesApplied).Int("encryption_conflicts", snap.EncryptionConflicts).
		Msg("blocked updates reapplied")
}

func (l cycleListener) OnSyncerError(kind models.SyncerError, err error) {
	m := l.m
	if kind == models.SyncerCancelled {
		return
	}
	m.status.RecordError()

	switch kind {
	case models.SyncerAuthError:
		m.status.SetAuthenticated(false)
		authErr := models.AuthError{State: models.AuthErrorInvalidCredentials, Message: err.Error()}
		m.dispatcher.post(func(o Observer) { o.OnAuthError(authErr) })
	case models.SyncerStopSyncing:
		m.dispatcher.post(func(o Observer) { o.OnStopSyncingPermanently() })
	case models.SyncerStoreError:
		m.status.SetDiskFull(true)
	}
}

func (m *manager) GetAuthenticatedUsername() string {
	return m.creds.Get().Email
}

// UpdateCredentials replaces the account credentials and resumes a
// scheduler paused on an auth error.
func (m *manager) UpdateCredentials(creds models.Credentials) {
	m.creds.Set(creds)
	if m.ready() != nil {
		return
	}
	m.server.SetCredentials(creds)
	m.scheduler.OnCredentialsUpdated()
	m.logger.Info().Str("func", "manager.UpdateCredentials").Str("account", creds.Email).
		Msg("credentials updated")
}

func (m *manager) UpdateEnabledTypes(routing models.RoutingInfo) {
	if m.ready() != nil {
		m.logger.Warn().Str("func", "manager.UpdateEnabledTypes").Msg("ignored before Init")
		return
	}
	m.registrar.SetRoutingInfo(routing)
	m.status.SetInitialSyncEnded(m.initialSyncEnded(context.Background()))
}

func (m *manager) InitialSyncEndedForAllEnabledTypes() bool {
	if m.ready() != nil {
		return false
	}
	return m.initialSyncEnded(context.Background())
}

func (m *manager) StartSyncingNormally() error {
	if err := m.ready(); err != nil {
		return err
	}
	m.scheduler.StartSyncingNormally()
	return nil
}

func (m *manager) StartConfigurationMode() (<-chan struct{}, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.scheduler.StartConfigurationMode(), nil
}

func (m *manager) RequestConfig(types models.ModelTypeSet, reason models.ConfigureReason) <-chan error {
	if err := m.ready(); err != nil {
		return failed(err)
	}
	m.logger.Debug().Str("func", "manager.RequestConfig").Str("types", types.String()).
		Str("reason", reason.String()).Msg("configuration requested")
	return mapped(m.scheduler.ScheduleConfig(types, reason))
}

func (m *manager) RequestCleanupDisabledTypes() <-chan error {
	if err := m.ready(); err != nil {
		return failed(err)
	}
	return mapped(m.scheduler.ScheduleCleanupDisabledTypes(m.registrar.RoutingInfo().Types()))
}

// RequestClearServerData queues the wipe. The outcome arrives as
// OnClearServerDataSucceeded or OnClearServerDataFailed.
func (m *manager) RequestClearServerData() error {
	if err := m.ready(); err != nil {
		return err
	}
	done := m.scheduler.ScheduleClearServerData()
	go func() {
		if err := <-done; err != nil {
			m.dispatcher.post(func(o Observer) { o.OnClearServerDataFailed() })
			return
		}
		m.dispatcher.post(func(o Observer) { o.OnClearServerDataSucceeded() })
	}()
	return nil
}

func (m *manager) RequestNudge(types models.ModelTypeSet, source models.NudgeSource) error {
	if err := m.ready(); err != nil {
		return err
	}
	return mapSchedulerError(m.scheduler.ScheduleNudge(m.cfg.NudgeDelay, types, source))
}

func (m *manager) RequestEarlyExit() {
	if m.ready() == nil {
		m.scheduler.RequestEarlyExit()
	}
}

// nudge schedules a sync for types. Nudges outside normal mode are dropped;
// the next normal cycle picks the changes up.
func (m *manager) nudge(types models.ModelTypeSet, source models.NudgeSource) {
	err := m.scheduler.ScheduleNudge(m.cfg.NudgeDelay, types, source)
	if err != nil {
		m.logger.Debug().Err(err).Str("func", "manager.nudge").Str("types", types.String()).
			Str("source", source.String()).Msg("nudge dropped")
	}
}

func (m *manager) AddObserver(o Observer)    { m.dispatcher.add(o) }
func (m *manager) RemoveObserver(o Observer) { m.dispatcher.remove(o) }

func (m *manager) AddChangeObserver(o ChangeObserver)    { m.notifier.addChangeObserver(o) }
func (m *manager) RemoveChangeObserver(o ChangeObserver) { m.notifier.removeChangeObserver(o) }

func (m *manager) GetStatusSummary() models.StatusSummary {
	return m.status.Summary()
}

func (m *manager) GetDetailedStatus() models.Status {
	return m.status.Snapshot()
}

func (m *manager) SetNotificationsEnabled(enabled bool) {
	m.status.SetNotificationsEnabled(enabled)
}

// OnIncomingNotification counts a server push and nudges the named types.
func (m *manager) OnIncomingNotification(types models.ModelTypeSet) {
	m.status.IncrementNotificationsReceived()
	if m.ready() != nil {
		return
	}
	m.nudge(types, models.NudgeSourceNotification)
}

func (m *manager) HasUnsyncedItems(ctx context.Context) (bool, error) {
	tx, err := m.beginRead(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Close()
	return len(tx.UnsyncedIDs(models.AllModelTypes())) > 0, nil
}

// LogUnsyncedItems writes one debug line per item waiting for commit.
// Specifics are never logged.
func (m *manager) LogUnsyncedItems(ctx context.Context) error {
	tx, err := m.beginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	ids := tx.UnsyncedIDs(models.AllModelTypes())
	for _, id := range ids {
		e, ok := tx.GetByID(id)
		if !ok {
			continue
		}
		m.logger.Debug().Str("func", "manager.LogUnsyncedItems").
			Int64("entity_id", int64(e.ID)).
			Str("server_id", e.ServerID).
			Str("model_type", e.Type().String()).
			Int64("base_version", e.BaseVersion).
			Bool("is_deleted", e.IsDeleted).
			Msg("unsynced item")
	}
	m.logger.Info().Str("func", "manager.LogUnsyncedItems").Int("count", len(ids)).Msg("unsynced items")
	return nil
}

func (m *manager) beginRead(ctx context.Context) (*syncable.ReadTransaction, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	tx, err := m.dir.BeginRead(ctx)
	if err != nil {
		return nil, mapTxError(err)
	}
	return tx, nil
}

func (m *manager) ReadTransaction(ctx context.Context) (*ReadTransaction, error) {
	tx, err := m.beginRead(ctx)
	if err != nil {
		return nil, err
	}
	return newReadTransaction(tx, m.crypto), nil
}

func (m *manager) WriteTransaction(ctx context.Context) (*WriteTransaction, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	tx, err := m.dir.BeginWrite(ctx, sourceEmbedder)
	if err != nil {
		return nil, mapTxError(err)
	}
	return &WriteTransaction{
		reader:  reader{view: tx, crypto: m.crypto},
		tx:      tx,
		uuidGen: m.uuidGen,
		onDone: func(types models.ModelTypeSet) {
			m.nudge(types, models.NudgeSourceLocal)
		},
	}, nil
}

func (m *manager) SaveChanges(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.dir.SaveChanges(ctx); err != nil {
		if errors.Is(err, store.ErrDiskFull) || errors.Is(err, syncable.ErrStoreUnavailable) {
			m.status.SetDiskFull(true)
		}
		return mapTxError(err)
	}
	return nil
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized {
		m.dispatcher.close()
		return nil
	}

	m.logger.Info().Str("func", "manager.Shutdown").Msg("shutting down")
	m.stopSave()
	m.saveJob.Stop()
	m.scheduler.Stop()

	var errs []error
	if err := m.dir.SaveChanges(ctx); err != nil && !errors.Is(err, syncable.ErrClosed) {
		errs = append(errs, fmt.Errorf("save changes: %w", err))
	}
	m.dispatcher.close()
	if err := m.dir.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close directory: %w", err))
	}
	return errors.Join(errs...)
}

func failed(err error) <-chan error {
	out := make(chan error, 1)
	out <- err
	return out
}

// mapped forwards the single result of a scheduler request.
func mapped(in <-chan error) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- mapSchedulerError(<-in)
	}()
	return out
}
