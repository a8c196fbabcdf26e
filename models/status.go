// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// StatusSummary is a distilled view of the engine state that an embedder may
// show to the user.
type StatusSummary int

const (
	// StatusInvalid means no status has been recorded yet.
	StatusInvalid StatusSummary = iota
	// StatusOffline means the server is unreachable and nothing is pending.
	StatusOffline
	// StatusOfflineUnsynced means the server is unreachable and local
	// changes are waiting to be committed.
	StatusOfflineUnsynced
	// StatusSyncing means the engine is connected and working.
	StatusSyncing
	// StatusReady means the engine is connected with nothing pending.
	StatusReady
	// StatusConflict means unresolved conflicts or a stuck syncer.
	StatusConflict
	// StatusOfflineUnusable means the engine cannot do anything useful:
	// either the store failed or no initial sync ever completed while
	// the server is unreachable.
	StatusOfflineUnusable
)

func (s StatusSummary) String() string {
	switch s {
	case StatusInvalid:
		return "INVALID"
	case StatusOffline:
		return "OFFLINE"
	case StatusOfflineUnsynced:
		return "OFFLINE_UNSYNCED"
	case StatusSyncing:
		return "SYNCING"
	case StatusReady:
		return "READY"
	case StatusConflict:
		return "CONFLICT"
	case StatusOfflineUnusable:
		return "OFFLINE_UNUSABLE"
	}
	return "UNKNOWN"
}

// Status is a read-only snapshot of the engine counters. It is recomputed
// on demand and never persisted.
type Status struct {
	Summary StatusSummary `json:"summary"`

	Authenticated   bool `json:"authenticated"`
	ServerUp        bool `json:"server_up"`
	ServerReachable bool `json:"server_reachable"`
	ServerBroken    bool `json:"server_broken"`

	NotificationsEnabled  bool `json:"notifications_enabled"`
	NotificationsReceived int  `json:"notifications_received"`
	NotifiableCommits     int  `json:"notifiable_commits"`

	MaxConsecutiveErrors int `json:"max_consecutive_errors"`

	UnsyncedCount    int  `json:"unsynced_count"`
	ConflictingCount int  `json:"conflicting_count"`
	Syncing          bool `json:"syncing"`
	InitialSyncEnded bool `json:"initial_sync_ended"`
	SyncerStuck      bool `json:"syncer_stuck"`

	UpdatesAvailable         int64 `json:"updates_available"`
	UpdatesReceived          int   `json:"updates_received"`
	TombstoneUpdatesReceived int   `json:"tombstone_updates_received"`

	DiskFull bool `json:"disk_full"`

	NumLocalOverwritesTotal  int `json:"num_local_overwrites_total"`
	NumServerOverwritesTotal int `json:"num_server_overwrites_total"`

	NonemptyGetUpdates int `json:"nonempty_get_updates"`
	EmptyGetUpdates    int `json:"empty_get_updates"`
	UselessSyncCycles  int `json:"useless_sync_cycles"`
	UsefulSyncCycles   int `json:"useful_sync_cycles"`

	EncryptedTypes       ModelTypeSet `json:"encrypted_types"`
	CryptographerReady   bool         `json:"cryptographer_ready"`
	CryptoHasPendingKeys bool         `json:"crypto_has_pending_keys"`
}
