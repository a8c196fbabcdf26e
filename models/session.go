// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// ConfigureReason explains why a configuration cycle was requested.
type ConfigureReason int

const (
	ConfigureReasonUnknown ConfigureReason = iota
	// ConfigureReasonReconfiguration is a user-driven change of enabled types.
	ConfigureReasonReconfiguration
	// ConfigureReasonMigration downloads types required by a data migration.
	ConfigureReasonMigration
	// ConfigureReasonNewClient is the first configuration of a fresh profile.
	ConfigureReasonNewClient
	// ConfigureReasonNewlyEnabledDataType is an automatic enable of a type,
	// e.g. Sessions after the sync_tabs flag arrives.
	ConfigureReasonNewlyEnabledDataType
)

func (r ConfigureReason) String() string {
	switch r {
	case ConfigureReasonReconfiguration:
		return "reconfiguration"
	case ConfigureReasonMigration:
		return "migration"
	case ConfigureReasonNewClient:
		return "new_client"
	case ConfigureReasonNewlyEnabledDataType:
		return "newly_enabled_data_type"
	}
	return "unknown"
}

// NudgeSource identifies what asked for a normal-mode sync cycle.
type NudgeSource int

const (
	NudgeSourceUnknown NudgeSource = iota
	NudgeSourceLocal
	NudgeSourceNotification
	NudgeSourceContinuation
	NudgeSourceLocalRefresh
)

func (s NudgeSource) String() string {
	switch s {
	case NudgeSourceLocal:
		return "local"
	case NudgeSourceNotification:
		return "notification"
	case NudgeSourceContinuation:
		return "continuation"
	case NudgeSourceLocalRefresh:
		return "local_refresh"
	}
	return "unknown"
}

// SyncerError is the outcome of one step of a sync cycle.
type SyncerError int

const (
	SyncerOK SyncerError = iota
	SyncerNetworkError
	SyncerAuthError
	SyncerServerError
	SyncerStopSyncing
	SyncerStoreError
	SyncerCancelled
)

func (e SyncerError) String() string {
	switch e {
	case SyncerOK:
		return "ok"
	case SyncerNetworkError:
		return "network_error"
	case SyncerAuthError:
		return "auth_error"
	case SyncerServerError:
		return "server_error"
	case SyncerStopSyncing:
		return "stop_syncing"
	case SyncerStoreError:
		return "store_error"
	case SyncerCancelled:
		return "cancelled"
	}
	return "unknown"
}

// SyncSessionSnapshot summarises one completed sync cycle and is delivered
// through OnSyncCycleCompleted.
type SyncSessionSnapshot struct {
	// Types the cycle fetched.
	Types ModelTypeSet `json:"types"`
	// IsConfiguration marks cycles run on behalf of RequestConfig.
	IsConfiguration bool `json:"is_configuration"`

	UpdatesDownloaded   int `json:"updates_downloaded"`
	TombstoneUpdates    int `json:"tombstone_updates"`
	UpdatesApplied      int `json:"updates_applied"`
	EncryptionConflicts int `json:"encryption_conflicts"`
	HierarchyConflicts  int `json:"hierarchy_conflicts"`
	SimpleConflicts     int `json:"simple_conflicts"`
	ServerOverwrites    int `json:"server_overwrites"`
	LocalOverwrites     int `json:"local_overwrites"`
	Committed           int `json:"committed"`
	CommitFailures      int `json:"commit_failures"`
	UnsyncedCount       int `json:"unsynced_count"`
	// ChangesRemaining is what the server reported after the last fetch.
	ChangesRemaining int64 `json:"changes_remaining"`

	// InitialSyncEnded lists types whose first download has finished.
	InitialSyncEnded ModelTypeSet `json:"initial_sync_ended"`

	DownloadResult SyncerError `json:"download_result"`
	CommitResult   SyncerError `json:"commit_result"`
}

// Useful reports whether the cycle moved any data.
func (s SyncSessionSnapshot) Useful() bool {
	return s.UpdatesDownloaded > 0 || s.Committed > 0
}

// Conflicts returns the total number of unresolved conflicts.
func (s SyncSessionSnapshot) Conflicts() int {
	return s.EncryptionConflicts + s.HierarchyConflicts + s.SimpleConflicts
}
