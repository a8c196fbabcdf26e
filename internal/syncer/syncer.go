// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	defaultCommitBatchSize = 25
	// maxRounds bounds the download-apply-commit rounds of one cycle. A
	// second round picks up the server side of commit conflicts.
	maxRounds = 2
)

// Syncer runs sync cycles. Cycles must not overlap; the scheduler runs them
// one at a time.
type Syncer struct {
	dir       *syncable.Directory
	server    adapter.SyncServer
	registrar workers.Registrar
	crypto    Cryptographer
	onNigori  NigoriHandler

	commitBatchSize int
	logger          *logger.Logger
}

// Option tunes a Syncer.
type Option func(*Syncer)

// WithCommitBatchSize caps the entries of one commit request.
func WithCommitBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.commitBatchSize = n
		}
	}
}

// WithNigoriHandler registers fn for applied Nigori updates.
func WithNigoriHandler(fn NigoriHandler) Option {
	return func(s *Syncer) {
		s.onNigori = fn
	}
}

// New returns a Syncer working on dir.
func New(dir *syncable.Directory, server adapter.SyncServer, registrar workers.Registrar,
	crypto Cryptographer, log *logger.Logger, opts ...Option,
) *Syncer {
	s := &Syncer{
		dir:             dir,
		server:          server,
		registrar:       registrar,
		crypto:          crypto,
		commitBatchSize: defaultCommitBatchSize,
		logger:          log.WithComponent("syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cycle accumulates the counters of one SyncShare call.
type cycle struct {
	job  Job
	snap models.SyncSessionSnapshot
	// attempted holds the entities already sent in this cycle; each is
	// committed at most once per round.
	attempted map[models.EntityID]struct{}
	// applyOnly marks passes that ran without a download; they must not
	// end the initial sync of any type.
	applyOnly bool
}

// SyncShare runs one cycle for job and returns its snapshot. The returned
// error, if any, is also reflected in the snapshot's DownloadResult or
// CommitResult. Cancelling ctx stops the cycle at the next transaction
// boundary.
func (s *Syncer) SyncShare(ctx context.Context, job Job) (models.SyncSessionSnapshot, error) {
	job.Types = job.Types.Add(models.Nigori)
	c := &cycle{job: job}
	c.snap.Types = job.Types
	c.snap.IsConfiguration = job.IsConfiguration

	log := s.logger.With().Str("types", job.Types.String()).Str("origin", job.Origin).Logger()
	log.Debug().Str("func", "Syncer.SyncShare").Bool("configuration", job.IsConfiguration).
		Msg("sync cycle started")

	err := s.run(ctx, c)
	s.finish(ctx, c)

	if err != nil {
		log.Warn().Err(err).Str("func", "Syncer.SyncShare").
			Str("download", c.snap.DownloadResult.String()).
			Str("commit", c.snap.CommitResult.String()).
			Msg("sync cycle failed")
		return c.snap, err
	}
	log.Debug().Str("func", "Syncer.SyncShare").
		Int("downloaded", c.snap.UpdatesDownloaded).
		Int("applied", c.snap.UpdatesApplied).
		Int("committed", c.snap.Committed).
		Int("conflicts", c.snap.Conflicts()).
		Msg("sync cycle finished")
	return c.snap, nil
}

func (s *Syncer) run(ctx context.Context, c *cycle) error {
	for round := 0; round < maxRounds; round++ {
		c.attempted = make(map[models.EntityID]struct{})
		c.snap.SimpleConflicts = 0

		if err := s.downloadAndApply(ctx, c); err != nil {
			c.snap.DownloadResult = Classify(err)
			return err
		}
		if c.job.IsConfiguration {
			return nil
		}

		if err := s.commitAll(ctx, c); err != nil {
			c.snap.CommitResult = Classify(err)
			return err
		}
		if c.snap.SimpleConflicts == 0 {
			return nil
		}
		s.logger.Debug().Str("func", "Syncer.run").Int("conflicts", c.snap.SimpleConflicts).
			Msg("commit conflicts, fetching server state again")
	}
	return nil
}

func (s *Syncer) downloadAndApply(ctx context.Context, c *cycle) error {
	if err := s.download(ctx, c); err != nil {
		return fmt.Errorf("download updates: %w", err)
	}
	if err := s.apply(ctx, c); err != nil {
		return fmt.Errorf("apply updates: %w", err)
	}
	return nil
}

// ApplyPending applies the stored updates of types without downloading.
// It is used after new keys arrive to pick up updates that were blocked on
// them. The snapshot carries the apply counters only.
func (s *Syncer) ApplyPending(ctx context.Context, types models.ModelTypeSet) (models.SyncSessionSnapshot, error) {
	c := &cycle{job: Job{Types: types, IsConfiguration: true, Origin: "reapply"}, applyOnly: true}
	c.snap.Types = types
	c.snap.IsConfiguration = true

	err := s.apply(ctx, c)
	s.finish(ctx, c)
	if err != nil {
		c.snap.DownloadResult = Classify(err)
		s.logger.Warn().Err(err).Str("func", "Syncer.ApplyPending").Str("types", types.String()).
			Msg("reapply failed")
		return c.snap, fmt.Errorf("apply updates: %w", err)
	}
	s.logger.Debug().Str("func", "Syncer.ApplyPending").Str("types", types.String()).
		Int("applied", c.snap.UpdatesApplied).Int("conflicts", c.snap.Conflicts()).
		Msg("pending updates reapplied")
	return c.snap, nil
}

// finish fills the counters that describe the directory after the cycle.
// It runs even for failed cycles, as long as the directory is readable.
func (s *Syncer) finish(ctx context.Context, c *cycle) {
	if ctx.Err() != nil {
		return
	}
	tx, err := s.dir.BeginRead(ctx)
	if err != nil {
		return
	}
	defer tx.Close()

	enabled := s.registrar.RoutingInfo().Types().Add(models.Nigori)
	c.snap.UnsyncedCount = len(tx.UnsyncedIDs(enabled))
	c.snap.InitialSyncEnded = tx.InitialSyncEnded()
}

// ClearServerData deletes the account data on the server and forgets
// everything the directory knew about it: the store birthday, progress
// markers, and all synced entities.
func (s *Syncer) ClearServerData(ctx context.Context) error {
	if err := s.server.ClearServerData(ctx); err != nil {
		return fmt.Errorf("clear server data: %w", err)
	}

	all := models.AllModelTypes()
	if err := s.resetTypes(ctx, all, true); err != nil {
		return err
	}
	s.logger.Info().Str("func", "Syncer.ClearServerData").Msg("server data cleared")
	return nil
}

// PurgeDisabledTypes drops the local data of every type that is no longer
// enabled so a later re-enable starts with a fresh download.
func (s *Syncer) PurgeDisabledTypes(ctx context.Context, enabled models.ModelTypeSet) (models.ModelTypeSet, error) {
	disabled := models.AllModelTypes().Difference(enabled).Remove(models.Nigori)
	if disabled.Empty() {
		return disabled, nil
	}
	if err := s.resetTypes(ctx, disabled, false); err != nil {
		return models.ModelTypeSet{}, err
	}
	s.logger.Info().Str("func", "Syncer.PurgeDisabledTypes").Str("types", disabled.String()).
		Msg("disabled types purged")
	return disabled, nil
}

// InitialSyncEnded returns the types whose first full download has
// finished.
func (s *Syncer) InitialSyncEnded(ctx context.Context) (models.ModelTypeSet, error) {
	tx, err := s.dir.BeginRead(ctx)
	if err != nil {
		return models.ModelTypeSet{}, err
	}
	defer tx.Close()
	return tx.InitialSyncEnded(), nil
}

func (s *Syncer) resetTypes(ctx context.Context, types models.ModelTypeSet, resetBirthday bool) error {
	if _, err := s.dir.PurgeTypes(ctx, types); err != nil {
		return fmt.Errorf("purge %s: %w", types, err)
	}
	if !resetBirthday {
		return nil
	}

	tx, err := s.dir.BeginWrite(ctx, "syncer.ResetBirthday")
	if err != nil {
		return err
	}
	defer tx.Rollback()
	tx.SetStoreBirthday("")
	return tx.Commit()
}
