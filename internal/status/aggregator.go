// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package status keeps the live sync counters and derives the externally
// visible status from them. It never touches the entity graph, so reading a
// status can not block on a transaction.
package status

import (
	"sync"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	recorded bool
	status   models.Status

	consecutiveErrors int
}

// NewAggregator returns an aggregator with nothing recorded.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) update(fn func(s *models.Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorded = true
	fn(&a.status)
}

// SetAuthenticated records whether the server accepted the credentials.
func (a *Aggregator) SetAuthenticated(ok bool) {
	a.update(func(s *models.Status) { s.Authenticated = ok })
}

// SetServerReachable records the outcome of the latest network round trip.
// A reachable server that answered with an error is up but broken.
func (a *Aggregator) SetServerReachable(reachable, broken bool) {
	a.update(func(s *models.Status) {
		s.ServerReachable = reachable
		s.ServerUp = reachable && !broken
		s.ServerBroken = reachable && broken
	})
}

// SetNotificationsEnabled records the push notification channel state.
func (a *Aggregator) SetNotificationsEnabled(enabled bool) {
	a.update(func(s *models.Status) { s.NotificationsEnabled = enabled })
}

// IncrementNotificationsReceived counts one incoming notification.
func (a *Aggregator) IncrementNotificationsReceived() {
	a.update(func(s *models.Status) { s.NotificationsReceived++ })
}

// SetSyncing marks a sync cycle as running or finished.
func (a *Aggregator) SetSyncing(syncing bool) {
	a.update(func(s *models.Status) { s.Syncing = syncing })
}

// SetUnsyncedCount records how many local changes await commit.
func (a *Aggregator) SetUnsyncedCount(n int) {
	a.update(func(s *models.Status) { s.UnsyncedCount = n })
}

// SetInitialSyncEnded records whether every enabled type finished its first
// download.
func (a *Aggregator) SetInitialSyncEnded(ended bool) {
	a.update(func(s *models.Status) { s.InitialSyncEnded = ended })
}

// SetDiskFull records a durable store failure.
func (a *Aggregator) SetDiskFull(full bool) {
	a.update(func(s *models.Status) { s.DiskFull = full })
}

// SetSyncerStuck records that the syncer can make no progress.
func (a *Aggregator) SetSyncerStuck(stuck bool) {
	a.update(func(s *models.Status) { s.SyncerStuck = stuck })
}

// SetCryptoState records the cryptographer view included in snapshots.
func (a *Aggregator) SetCryptoState(encrypted models.ModelTypeSet, ready, pendingKeys bool) {
	a.update(func(s *models.Status) {
		s.EncryptedTypes = encrypted
		s.CryptographerReady = ready
		s.CryptoHasPendingKeys = pendingKeys
	})
}

// RecordError counts a failed cycle.
func (a *Aggregator) RecordError() {
	a.update(func(s *models.Status) {
		a.consecutiveErrors++
		s.MaxConsecutiveErrors = max(s.MaxConsecutiveErrors, a.consecutiveErrors)
	})
}

// RecordCycle folds the counters of a finished cycle into the totals.
func (a *Aggregator) RecordCycle(snap models.SyncSessionSnapshot) {
	a.update(func(s *models.Status) {
		if snap.DownloadResult == models.SyncerOK && snap.CommitResult == models.SyncerOK {
			a.consecutiveErrors = 0
		}

		s.UpdatesReceived += snap.UpdatesDownloaded
		s.TombstoneUpdatesReceived += snap.TombstoneUpdates
		s.UpdatesAvailable = snap.ChangesRemaining
		s.NumServerOverwritesTotal += snap.ServerOverwrites
		s.NumLocalOverwritesTotal += snap.LocalOverwrites
		s.ConflictingCount = snap.Conflicts()
		s.UnsyncedCount = snap.UnsyncedCount
		s.NotifiableCommits += snap.Committed

		if snap.DownloadResult == models.SyncerOK {
			if snap.UpdatesDownloaded > 0 {
				s.NonemptyGetUpdates++
			} else {
				s.EmptyGetUpdates++
			}
		}
		if snap.Useful() {
			s.UsefulSyncCycles++
		} else {
			s.UselessSyncCycles++
		}
	})
}

// Summary derives the one-word status. The first matching rule wins:
//
//	disk full                          -> OFFLINE_UNUSABLE
//	offline, initial sync never ended  -> OFFLINE_UNUSABLE
//	offline, unsynced changes          -> OFFLINE_UNSYNCED
//	offline                            -> OFFLINE
//	conflicts or stuck syncer          -> CONFLICT
//	unsynced changes or syncing        -> SYNCING
//	otherwise                          -> READY
func (a *Aggregator) Summary() models.StatusSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summaryLocked()
}

func (a *Aggregator) summaryLocked() models.StatusSummary {
	if !a.recorded {
		return models.StatusInvalid
	}
	s := &a.status
	offline := !s.ServerReachable
	switch {
	case s.DiskFull:
		return models.StatusOfflineUnusable
	case offline && !s.InitialSyncEnded:
		return models.StatusOfflineUnusable
	case offline && s.UnsyncedCount > 0:
		return models.StatusOfflineUnsynced
	case offline:
		return models.StatusOffline
	case s.ConflictingCount > 0 || s.SyncerStuck:
		return models.StatusConflict
	case s.UnsyncedCount > 0 || s.Syncing:
		return models.StatusSyncing
	}
	return models.StatusReady
}

// Snapshot returns a copy of every counter with the summary filled in.
func (a *Aggregator) Snapshot() models.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.status
	out.Summary = a.summaryLocked()
	return out
}
