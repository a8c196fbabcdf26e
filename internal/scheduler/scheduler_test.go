// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/syncer"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

const waitTimeout = 2 * time.Second

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeRunner struct {
	mu       sync.Mutex
	errs     []error
	ended    models.ModelTypeSet
	block    bool
	clears   int
	cleanups []models.ModelTypeSet

	ran       chan syncer.Job
	reapplied chan models.ModelTypeSet
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan syncer.Job, 100), reapplied: make(chan models.ModelTypeSet, 100)}
}

func (f *fakeRunner) failWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeRunner) SyncShare(ctx context.Context, job syncer.Job) (models.SyncSessionSnapshot, error) {
	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		err = ctx.Err()
	}
	f.ran <- job
	return models.SyncSessionSnapshot{Types: job.Types, IsConfiguration: job.IsConfiguration}, err
}

func (f *fakeRunner) ClearServerData(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeRunner) PurgeDisabledTypes(_ context.Context, enabled models.ModelTypeSet) (models.ModelTypeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, enabled)
	return models.AllModelTypes().Difference(enabled), nil
}

func (f *fakeRunner) InitialSyncEnded(context.Context) (models.ModelTypeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended, nil
}

func (f *fakeRunner) ApplyPending(_ context.Context, types models.ModelTypeSet) (models.SyncSessionSnapshot, error) {
	f.reapplied <- types
	return models.SyncSessionSnapshot{Types: types, IsConfiguration: true}, nil
}

type fakeListener struct {
	mu        sync.Mutex
	started   int
	cycles    int
	reapplied int
	kinds     []models.SyncerError
}

func (l *fakeListener) OnSyncCycleStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *fakeListener) OnSyncCycleCompleted(models.SyncSessionSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles++
}

func (l *fakeListener) OnUpdatesReapplied(models.SyncSessionSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reapplied++
}

func (l *fakeListener) OnSyncerError(kind models.SyncerError, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, kind)
}

func (l *fakeListener) errors() []models.SyncerError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.SyncerError(nil), l.kinds...)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestScheduler(t *testing.T, cfg config.ClientWorkers) (*Scheduler, *fakeRunner, *fakeListener) {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 5 * time.Millisecond
		cfg.RetryMaxDelay = 20 * time.Millisecond
	}

	reg := workers.NewRegistrar(workers.DefaultRoutingInfo(models.NewModelTypeSet(models.Bookmarks, models.Passwords)), logger.Nop())
	t.Cleanup(reg.Stop)

	runner := newFakeRunner()
	listener := &fakeListener{}
	s := New(runner, reg, listener, cfg, logger.Nop())
	s.Start()
	t.Cleanup(s.Stop)
	return s, runner, listener
}

func waitJob(t *testing.T, r *fakeRunner) syncer.Job {
	t.Helper()
	select {
	case job := <-r.ran:
		return job
	case <-time.After(waitTimeout):
		require.FailNow(t, "no sync job ran")
	}
	return syncer.Job{}
}

func assertNoJob(t *testing.T, r *fakeRunner, within time.Duration) {
	t.Helper()
	select {
	case job := <-r.ran:
		assert.Failf(t, "unexpected sync job", "origin %q", job.Origin)
	case <-time.After(within):
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		require.FailNow(t, "request did not complete")
	}
	return nil
}

func normalMode(t *testing.T, s *Scheduler, r *fakeRunner) {
	t.Helper()
	s.StartSyncingNormally()
	job := waitJob(t, r)
	require.Equal(t, originStart, job.Origin)
}

// ── modes ─────────────────────────────────────────────────────────────────────

func TestScheduler_StartsInConfigurationMode(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})

	assert.Equal(t, ModeConfiguration, s.Mode())
	err := s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal)
	assert.ErrorIs(t, err, ErrWrongMode)
	assertNoJob(t, r, 50*time.Millisecond)
}

func TestScheduler_StartConfigurationModeSignalsEntry(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)

	select {
	case <-s.StartConfigurationMode():
	case <-time.After(waitTimeout):
		require.FailNow(t, "configuration mode not entered")
	}
	assert.Equal(t, ModeConfiguration, s.Mode())
	assert.ErrorIs(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal), ErrWrongMode)
}

func TestScheduler_StartSyncingNormallyIsIdempotent(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)

	s.StartSyncingNormally()
	assertNoJob(t, r, 50*time.Millisecond)
	assert.Equal(t, ModeNormal, s.Mode())
}

// ── configuration jobs ───────────────────────────────────────────────────────

func TestScheduler_ScheduleConfig(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	types := models.NewModelTypeSet(models.Bookmarks)

	require.NoError(t, waitErr(t, s.ScheduleConfig(types, models.ConfigureReasonNewClient)))

	job := waitJob(t, r)
	assert.True(t, job.IsConfiguration)
	assert.True(t, job.Types.Equal(types))
	assert.Equal(t, models.ConfigureReasonNewClient.String(), job.Origin)
	assert.Empty(t, l.errors())
}

func TestScheduler_ScheduleConfig_AlreadySynced(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	r.ended = models.NewModelTypeSet(models.Bookmarks, models.Nigori)

	require.NoError(t, waitErr(t, s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonReconfiguration)))
	assertNoJob(t, r, 50*time.Millisecond)
}

func TestScheduler_ScheduleConfig_WrongMode(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)

	err := waitErr(t, s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonReconfiguration))
	assert.ErrorIs(t, err, ErrWrongMode)
}

func TestScheduler_ScheduleConfig_RetriesTransportErrors(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	r.failWith(
		fmt.Errorf("download: %w", adapter.ErrServerUnreachable),
		fmt.Errorf("download: %w", adapter.ErrThrottled),
	)

	require.NoError(t, waitErr(t, s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonNewClient)))

	for range 3 {
		assert.True(t, waitJob(t, r).IsConfiguration)
	}
	assert.Equal(t, []models.SyncerError{models.SyncerNetworkError, models.SyncerServerError}, l.errors())
}

func TestScheduler_ScheduleConfig_PermanentError(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	r.failWith(fmt.Errorf("download: %w", adapter.ErrBadRequest))

	err := waitErr(t, s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonNewClient))
	assert.ErrorIs(t, err, adapter.ErrBadRequest)
	waitJob(t, r)
	assertNoJob(t, r, 50*time.Millisecond)
}

// ── normal mode ───────────────────────────────────────────────────────────────

func TestScheduler_NudgesAreCoalesced(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)

	require.NoError(t, s.ScheduleNudge(100*time.Millisecond, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal))
	require.NoError(t, s.ScheduleNudge(30*time.Millisecond, models.NewModelTypeSet(models.Passwords), models.NudgeSourceNotification))

	job := waitJob(t, r)
	assert.False(t, job.IsConfiguration)
	assert.Equal(t, models.NudgeSourceNotification.String(), job.Origin, "earliest nudge decides the origin")
	assert.True(t, job.Types.HasAll(models.NewModelTypeSet(models.Bookmarks, models.Passwords)))

	assertNoJob(t, r, 150*time.Millisecond)
}

func TestScheduler_Poll(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{PollInterval: 20 * time.Millisecond})
	normalMode(t, s, r)

	assert.Equal(t, originPoll, waitJob(t, r).Origin)
	assert.Equal(t, originPoll, waitJob(t, r).Origin)
}

func TestScheduler_BackoffRetriesNudge(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)
	r.failWith(adapter.ErrServerUnreachable, adapter.ErrServerUnreachable)

	require.NoError(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal))
	for range 3 {
		assert.Equal(t, models.NudgeSourceLocal.String(), waitJob(t, r).Origin)
	}
	assertNoJob(t, r, 50*time.Millisecond)
	assert.Equal(t, []models.SyncerError{models.SyncerNetworkError, models.SyncerNetworkError}, l.errors())
}

func TestScheduler_AuthErrorPausesUntilCredentialsUpdate(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)
	r.failWith(fmt.Errorf("get updates: %w", adapter.ErrUnauthorized))

	require.NoError(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal))
	waitJob(t, r)
	assert.Equal(t, []models.SyncerError{models.SyncerAuthError}, l.errors())

	require.NoError(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal))
	assertNoJob(t, r, 50*time.Millisecond)

	s.OnCredentialsUpdated()
	job := waitJob(t, r)
	assert.Equal(t, models.NudgeSourceLocal.String(), job.Origin)
}

func TestScheduler_StopSyncing(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	normalMode(t, s, r)
	r.failWith(adapter.ErrStopSyncing)

	require.NoError(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal))
	waitJob(t, r)

	assert.Eventually(t, func() bool {
		return s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal) != nil
	}, waitTimeout, 5*time.Millisecond)
	assert.ErrorIs(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal), ErrSyncingStopped)
	assert.Equal(t, []models.SyncerError{models.SyncerStopSyncing}, l.errors())
	assertNoJob(t, r, 50*time.Millisecond)
}

func TestScheduler_RequestEarlyExit(t *testing.T) {
	s, r, l := newTestScheduler(t, config.ClientWorkers{})
	r.block = true
	done := s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonNewClient)

	// the job is running once the scheduler holds its cancel func
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cancel != nil
	}, waitTimeout, time.Millisecond)
	s.RequestEarlyExit()

	assert.ErrorIs(t, waitErr(t, done), context.Canceled)
	waitJob(t, r)
	assert.Equal(t, []models.SyncerError{models.SyncerCancelled}, l.errors())
}

// ── reapply ──────────────────────────────────────────────────────────────────

func TestScheduler_ScheduleReapply(t *testing.T) {
	types := models.NewModelTypeSet(models.Passwords, models.Nigori)

	t.Run("configuration mode applies without download", func(t *testing.T) {
		s, r, l := newTestScheduler(t, config.ClientWorkers{})

		require.NoError(t, s.ScheduleReapply(types))
		select {
		case got := <-r.reapplied:
			assert.True(t, got.Equal(types))
		case <-time.After(waitTimeout):
			require.FailNow(t, "reapply did not run")
		}
		assertNoJob(t, r, 50*time.Millisecond)

		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Equal(t, 1, l.started)
		assert.Equal(t, 1, l.reapplied)
		assert.Zero(t, l.cycles)
	})

	t.Run("normal mode runs a cycle", func(t *testing.T) {
		s, r, l := newTestScheduler(t, config.ClientWorkers{})
		normalMode(t, s, r)

		require.NoError(t, s.ScheduleReapply(types))
		job := waitJob(t, r)
		assert.Equal(t, originReapply, job.Origin)
		assert.False(t, job.IsConfiguration)
		assert.Empty(t, r.reapplied)

		require.Eventually(t, func() bool {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.started == 2 && l.cycles == 2
		}, waitTimeout, time.Millisecond)
	})

	t.Run("stopped", func(t *testing.T) {
		s, _, _ := newTestScheduler(t, config.ClientWorkers{})
		s.Stop()
		assert.ErrorIs(t, s.ScheduleReapply(types), ErrStopped)
	})
}

// ── maintenance requests ─────────────────────────────────────────────────────

func TestScheduler_ClearAndCleanup(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	enabled := models.NewModelTypeSet(models.Bookmarks)

	require.NoError(t, waitErr(t, s.ScheduleClearServerData()))
	require.NoError(t, waitErr(t, s.ScheduleCleanupDisabledTypes(enabled)))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 1, r.clears)
	require.Len(t, r.cleanups, 1)
	assert.True(t, r.cleanups[0].Equal(enabled))
}

func TestScheduler_Stop(t *testing.T) {
	s, r, _ := newTestScheduler(t, config.ClientWorkers{})
	r.block = true
	running := s.ScheduleConfig(models.NewModelTypeSet(models.Bookmarks), models.ConfigureReasonNewClient)
	queued := s.ScheduleConfig(models.NewModelTypeSet(models.Passwords), models.ConfigureReasonNewClient)

	s.Stop()
	s.Stop()

	assert.Error(t, waitErr(t, running))
	assert.ErrorIs(t, waitErr(t, queued), ErrStopped)
	assert.ErrorIs(t, waitErr(t, s.ScheduleClearServerData()), ErrStopped)
	assert.ErrorIs(t, s.ScheduleNudge(0, models.NewModelTypeSet(models.Bookmarks), models.NudgeSourceLocal), ErrStopped)
}
