// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/syncer"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	originPoll        = "poll"
	originStart       = "start"
	originCredentials = "credentials"
	originReapply     = "reapply"

	jitterPercent = 20
)

type configRequest struct {
	types  models.ModelTypeSet
	reason models.ConfigureReason
	done   chan error
}

type cleanupRequest struct {
	enabled models.ModelTypeSet
	done    chan error
}

// pendingSync is the coalesced normal-mode work: every nudge that arrives
// before it runs is folded into it.
type pendingSync struct {
	types  models.ModelTypeSet
	origin string
	due    time.Time
}

// Scheduler serialises sync jobs and decides when they run.
type Scheduler struct {
	runner    Runner
	registrar workers.Registrar
	listener  Listener
	cfg       config.ClientWorkers
	logger    *logger.Logger

	mu          sync.Mutex
	mode        Mode
	entered     []chan struct{}
	pending     *pendingSync
	configs     []*configRequest
	clears      []chan error
	cleanups    []*cleanupRequest
	reapply     models.ModelTypeSet
	authPaused  bool
	syncStopped bool
	backoff     retry.Backoff
	retryAt     time.Time
	cancel      context.CancelFunc
	started     bool
	stopped     bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New returns a scheduler in configuration mode. Call Start to run it.
func New(runner Runner, registrar workers.Registrar, listener Listener, cfg config.ClientWorkers, log *logger.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = config.DefaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = max(config.DefaultRetryMaxDelay, cfg.RetryBaseDelay)
	}

	s := &Scheduler{
		runner:    runner,
		registrar: registrar,
		listener:  listener,
		cfg:       cfg,
		logger:    log.WithComponent("scheduler"),
		mode:      ModeConfiguration,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.backoff = s.newBackoff()
	return s
}

func (s *Scheduler) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.RetryBaseDelay)
	b = retry.WithJitterPercent(jitterPercent, b)
	return retry.WithCappedDuration(s.cfg.RetryMaxDelay, b)
}

// Start launches the scheduler goroutine. Calling it again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.loop()
}

// Stop cancels the running job, fails every queued request with ErrStopped
// and waits for the scheduler goroutine to exit. It is safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.failQueuedLocked(ErrStopped)
	s.closeEnteredLocked()
	s.mu.Unlock()

	close(s.quit)
	if started {
		<-s.done
	} else {
		close(s.done)
	}
	s.logger.Debug().Str("func", "Scheduler.Stop").Msg("scheduler stopped")
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// StartConfigurationMode suspends nudges and polls. The returned channel is
// closed once no normal-mode job is running any more and configuration
// requests are accepted.
func (s *Scheduler) StartConfigurationMode() <-chan struct{} {
	ch := make(chan struct{})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		close(ch)
		return ch
	}
	if s.mode != ModeConfiguration {
		s.logger.Info().Str("func", "Scheduler.StartConfigurationMode").Msg("entering configuration mode")
	}
	s.mode = ModeConfiguration
	s.entered = append(s.entered, ch)
	s.wakeLocked()
	return ch
}

// StartSyncingNormally switches to normal mode and schedules an immediate
// cycle. It is a no-op in normal mode. Configuration requests still queued
// fail with ErrWrongMode.
func (s *Scheduler) StartSyncingNormally() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.mode == ModeNormal {
		return
	}

	s.logger.Info().Str("func", "Scheduler.StartSyncingNormally").Msg("entering normal mode")
	s.mode = ModeNormal
	for _, req := range s.configs {
		req.done <- ErrWrongMode
	}
	s.configs = nil
	s.reapply = models.ModelTypeSet{}
	s.addPendingLocked(s.enabledTypes(), originStart, time.Now())
}

// ScheduleNudge asks for a normal-mode cycle after delay. Nudges arriving
// before the cycle runs are merged into it; the earliest deadline wins.
func (s *Scheduler) ScheduleNudge(delay time.Duration, types models.ModelTypeSet, source models.NudgeSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil {
		return err
	}
	if s.mode != ModeNormal {
		return ErrWrongMode
	}

	s.logger.Debug().Str("func", "Scheduler.ScheduleNudge").
		Dur("delay", delay).Str("types", types.String()).Str("source", source.String()).
		Msg("nudge scheduled")
	s.addPendingLocked(types, source.String(), time.Now().Add(delay))
	return nil
}

// ScheduleReapply asks for another look at the stored updates of types,
// typically after new keys made blocked updates decryptable. In normal mode
// it schedules an immediate cycle. In configuration mode it queues an
// apply pass that runs without a download.
func (s *Scheduler) ScheduleReapply(types models.ModelTypeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil {
		return err
	}

	s.logger.Debug().Str("func", "Scheduler.ScheduleReapply").Str("types", types.String()).
		Str("mode", s.mode.String()).Msg("reapply scheduled")
	if s.mode == ModeNormal {
		s.addPendingLocked(types, originReapply, time.Now())
		return nil
	}
	s.reapply = s.reapply.Union(types)
	s.wakeLocked()
	return nil
}

// ScheduleConfig queues a configuration job for types. The channel receives
// the job's result. Types whose initial sync already ended are not
// downloaded again: the request completes at once.
func (s *Scheduler) ScheduleConfig(types models.ModelTypeSet, reason models.ConfigureReason) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	if err := s.acceptLocked(); err != nil {
		s.mu.Unlock()
		done <- err
		return done
	}
	if s.mode != ModeConfiguration {
		s.mu.Unlock()
		done <- ErrWrongMode
		return done
	}
	s.mu.Unlock()

	ended, err := s.runner.InitialSyncEnded(context.Background())
	if err == nil && ended.HasAll(types) {
		s.logger.Debug().Str("func", "Scheduler.ScheduleConfig").Str("types", types.String()).
			Msg("types already configured")
		done <- nil
		return done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptLocked(); err != nil {
		done <- err
		return done
	}
	if s.mode != ModeConfiguration {
		done <- ErrWrongMode
		return done
	}
	s.configs = append(s.configs, &configRequest{types: types, reason: reason, done: done})
	s.wakeLocked()
	return done
}

// ScheduleClearServerData queues deletion of the account data on the
// server. It runs in either mode, ahead of any sync job.
func (s *Scheduler) ScheduleClearServerData() <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		done <- ErrStopped
		return done
	}
	s.clears = append(s.clears, done)
	s.wakeLocked()
	return done
}

// ScheduleCleanupDisabledTypes queues purging the local data of every type
// not in enabled.
func (s *Scheduler) ScheduleCleanupDisabledTypes(enabled models.ModelTypeSet) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		done <- ErrStopped
		return done
	}
	s.cleanups = append(s.cleanups, &cleanupRequest{enabled: enabled, done: done})
	s.wakeLocked()
	return done
}

// OnCredentialsUpdated resumes scheduling after an auth failure.
func (s *Scheduler) OnCredentialsUpdated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authPaused {
		return
	}

	s.logger.Info().Str("func", "Scheduler.OnCredentialsUpdated").Msg("credentials updated, resuming")
	s.authPaused = false
	s.resetBackoffLocked()
	if s.mode == ModeNormal {
		s.addPendingLocked(s.enabledTypes(), originCredentials, time.Now())
	}
	s.wakeLocked()
}

// RequestEarlyExit cancels the running job. The syncer gives up at its next
// transaction boundary.
func (s *Scheduler) RequestEarlyExit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Debug().Str("func", "Scheduler.RequestEarlyExit").Msg("cancelling running job")
		s.cancel()
	}
}

func (s *Scheduler) enabledTypes() models.ModelTypeSet {
	return s.registrar.RoutingInfo().Types()
}

func (s *Scheduler) acceptLocked() error {
	switch {
	case s.stopped:
		return ErrStopped
	case s.syncStopped:
		return ErrSyncingStopped
	}
	return nil
}

func (s *Scheduler) addPendingLocked(types models.ModelTypeSet, origin string, due time.Time) {
	if s.pending == nil {
		s.pending = &pendingSync{types: types, origin: origin, due: due}
	} else {
		s.pending.types = s.pending.types.Union(types)
		if due.Before(s.pending.due) {
			s.pending.due = due
			s.pending.origin = origin
		}
	}
	s.wakeLocked()
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) resetBackoffLocked() {
	s.backoff = s.newBackoff()
	s.retryAt = time.Time{}
}

func (s *Scheduler) closeEnteredLocked() {
	for _, ch := range s.entered {
		close(ch)
	}
	s.entered = nil
}

func (s *Scheduler) failQueuedLocked(err error) {
	for _, req := range s.configs {
		req.done <- err
	}
	s.configs = nil
	for _, done := range s.clears {
		done <- err
	}
	s.clears = nil
	for _, req := range s.cleanups {
		req.done <- err
	}
	s.cleanups = nil
}

func (s *Scheduler) loop() {
	defer close(s.done)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		job, wait := s.next(time.Now())
		if job != nil {
			job()
			continue
		}

		if wait > 0 {
			timer.Reset(wait)
		}
		select {
		case <-s.quit:
			return
		case <-s.wake:
		case <-timer.C:
		case <-poll.C:
			s.schedulePoll()
		}
		timer.Stop()
	}
}

func (s *Scheduler) schedulePoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeNormal || s.acceptLocked() != nil {
		return
	}
	s.addPendingLocked(s.enabledTypes(), originPoll, time.Now())
}

// next picks the work to run now. When there is none it returns how long
// to wait for the earliest deadline, or zero to wait for a wake-up.
func (s *Scheduler) next(now time.Time) (func(), time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, 0
	}
	if s.mode == ModeConfiguration {
		s.closeEnteredLocked()
	}

	if len(s.clears) > 0 {
		done := s.clears[0]
		s.clears = s.clears[1:]
		return s.bindLocked(func(ctx context.Context) { s.runClear(ctx, done) }), 0
	}
	if len(s.cleanups) > 0 {
		req := s.cleanups[0]
		s.cleanups = s.cleanups[1:]
		return s.bindLocked(func(ctx context.Context) { s.runCleanup(ctx, req) }), 0
	}

	if s.syncStopped || s.authPaused {
		return nil, 0
	}
	if !s.retryAt.IsZero() && now.Before(s.retryAt) {
		return nil, s.retryAt.Sub(now)
	}

	switch s.mode {
	case ModeConfiguration:
		if !s.reapply.Empty() {
			types := s.reapply
			s.reapply = models.ModelTypeSet{}
			return s.bindLocked(func(ctx context.Context) { s.runReapply(ctx, types) }), 0
		}
		if len(s.configs) > 0 {
			req := s.configs[0]
			return s.bindLocked(func(ctx context.Context) { s.runConfig(ctx, req) }), 0
		}
	case ModeNormal:
		if s.pending == nil {
			return nil, 0
		}
		if now.Before(s.pending.due) {
			return nil, s.pending.due.Sub(now)
		}
		p := *s.pending
		s.pending = nil
		return s.bindLocked(func(ctx context.Context) { s.runNormal(ctx, p) }), 0
	}
	return nil, 0
}

// bindLocked gives job a context that RequestEarlyExit and Stop cancel.
func (s *Scheduler) bindLocked(job func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return func() {
		defer cancel()
		job(ctx)

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}
}

func (s *Scheduler) runConfig(ctx context.Context, req *configRequest) {
	s.listener.OnSyncCycleStarted()
	snap, err := s.runner.SyncShare(ctx, syncer.Job{
		Types:           req.types,
		IsConfiguration: true,
		Origin:          req.reason.String(),
	})
	s.listener.OnSyncCycleCompleted(snap)

	again := s.outcome(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if again {
		return
	}
	for i, queued := range s.configs {
		if queued == req {
			s.configs = append(s.configs[:i], s.configs[i+1:]...)
			req.done <- err
			return
		}
	}
}

func (s *Scheduler) runNormal(ctx context.Context, p pendingSync) {
	s.listener.OnSyncCycleStarted()
	snap, err := s.runner.SyncShare(ctx, syncer.Job{
		Types:  s.enabledTypes(),
		Origin: p.origin,
	})
	s.listener.OnSyncCycleCompleted(snap)

	if s.outcome(err) {
		s.mu.Lock()
		due := s.retryAt
		if due.IsZero() {
			due = time.Now()
		}
		s.addPendingLocked(p.types, p.origin, due)
		s.mu.Unlock()
	}
}

func (s *Scheduler) runReapply(ctx context.Context, types models.ModelTypeSet) {
	s.listener.OnSyncCycleStarted()
	snap, err := s.runner.ApplyPending(ctx, types)
	s.listener.OnUpdatesReapplied(snap)

	if s.outcome(err) {
		s.mu.Lock()
		s.reapply = s.reapply.Union(types)
		s.mu.Unlock()
	}
}

func (s *Scheduler) runClear(ctx context.Context, done chan error) {
	err := s.runner.ClearServerData(ctx)
	if err != nil {
		s.logger.Err(err).Str("func", "Scheduler.runClear").Msg("clear server data failed")
	}
	done <- err
}

func (s *Scheduler) runCleanup(ctx context.Context, req *cleanupRequest) {
	purged, err := s.runner.PurgeDisabledTypes(ctx, req.enabled)
	if err != nil {
		s.logger.Err(err).Str("func", "Scheduler.runCleanup").Msg("cleanup of disabled types failed")
	} else {
		s.logger.Debug().Str("func", "Scheduler.runCleanup").Str("purged", purged.String()).
			Msg("disabled types cleaned up")
	}
	req.done <- err
}

// outcome updates the scheduling state after a cycle and reports whether
// the job has to run again later.
func (s *Scheduler) outcome(err error) bool {
	if err == nil {
		s.mu.Lock()
		s.resetBackoffLocked()
		s.mu.Unlock()
		return false
	}

	kind := syncer.Classify(err)
	s.listener.OnSyncerError(kind, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case kind == models.SyncerCancelled:
		return false
	case kind == models.SyncerAuthError:
		s.logger.Warn().Err(err).Str("func", "Scheduler.outcome").Msg("credentials rejected, pausing until updated")
		s.authPaused = true
		return true
	case kind == models.SyncerStopSyncing:
		s.logger.Warn().Err(err).Str("func", "Scheduler.outcome").Msg("server asked to stop syncing")
		s.syncStopped = true
		s.pending = nil
		for _, req := range s.configs {
			req.done <- ErrSyncingStopped
		}
		s.configs = nil
		return false
	case syncer.Retryable(err):
		delay, _ := s.backoff.Next()
		s.retryAt = time.Now().Add(delay)
		s.logger.Info().Err(err).Str("func", "Scheduler.outcome").Dur("retry_in", delay).
			Msg("sync cycle failed, retrying")
		return true
	}
	s.logger.Error().Err(err).Str("func", "Scheduler.outcome").Str("kind", kind.String()).
		Msg("sync cycle failed permanently")
	return false
}
