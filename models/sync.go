// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// SyncEntity is the wire form of an entity exchanged with the sync server.
// References to other entities use server IDs, never local EntityIDs.
type SyncEntity struct {
	// ID is the server ID. For items not yet committed it is the
	// client-generated ID assigned when the item was created locally.
	ID string `json:"id"`

	// ParentID is the server ID of the parent; empty for top-level folders.
	ParentID string `json:"parent_id,omitempty"`

	// PredecessorID is the server ID of the previous sibling; empty when
	// the item is first under its parent.
	PredecessorID string `json:"predecessor_id,omitempty"`

	// Version is the server version. Zero on the first commit.
	Version int64 `json:"version"`

	// UniqueTag marks permanent server-created items.
	UniqueTag string `json:"unique_tag,omitempty"`

	Name    string `json:"name,omitempty"`
	Folder  bool   `json:"folder"`
	Deleted bool   `json:"deleted"`

	// Specifics is the payload, already encrypted when the type requires it.
	Specifics EntitySpecifics `json:"specifics"`

	// OriginatorClientItemID is the committing client's local EntityID,
	// echoed back in commit results.
	OriginatorClientItemID int64 `json:"originator_client_item_id,omitempty"`
}

// GetUpdatesRequest asks the server for entities changed since the
// progress markers the client already has.
type GetUpdatesRequest struct {
	// Types to fetch.
	Types ModelTypeSet `json:"types"`

	// ProgressMarkers holds the opaque download token of each type.
	// A missing entry requests the type from the beginning.
	ProgressMarkers map[string]string `json:"progress_markers,omitempty"`

	// Birthday is the store birthday the client last saw; empty on a new client.
	Birthday string `json:"birthday,omitempty"`

	// Origin describes the trigger: a ConfigureReason or NudgeSource name.
	Origin string `json:"origin,omitempty"`

	// IsConfiguration is true for fetches made on behalf of RequestConfig.
	IsConfiguration bool `json:"is_configuration"`
}

// GetUpdatesResponse carries one batch of server changes.
type GetUpdatesResponse struct {
	Entries []SyncEntity `json:"entries"`

	// ProgressMarkers are the new download tokens for the fetched types.
	ProgressMarkers map[string]string `json:"progress_markers"`

	// ChangesRemaining is how many more entries the server holds for the
	// request. Zero means the client is up to date.
	ChangesRemaining int64 `json:"changes_remaining"`

	Birthday string `json:"birthday"`
}

// CommitRequest uploads local changes.
type CommitRequest struct {
	// ClientID identifies the committing client (cache GUID).
	ClientID string `json:"client_id"`

	Entries []SyncEntity `json:"entries"`

	Birthday string `json:"birthday,omitempty"`

	// Hash is the keyed digest of the serialized entries, used as a
	// transport integrity check when a hash key is configured.
	Hash string `json:"hash,omitempty"`

	// Length is the total number of entries.
	Length int `json:"length"`
}

// CommitResponseType is the server verdict on one committed entry.
type CommitResponseType string

const (
	CommitSuccess        CommitResponseType = "success"
	CommitConflict       CommitResponseType = "conflict"
	CommitRetry          CommitResponseType = "retry"
	CommitInvalidMessage CommitResponseType = "invalid_message"
	CommitTransientError CommitResponseType = "transient_error"
)

// CommitEntryResult is the server verdict on a single entry of a commit,
// in the same order as the request entries.
type CommitEntryResult struct {
	ResponseType CommitResponseType `json:"response_type"`

	// ID is the server-assigned ID; it may differ from the ID the client
	// sent for a newly created item.
	ID string `json:"id"`

	Version int64 `json:"version"`

	OriginatorClientItemID int64 `json:"originator_client_item_id,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// CommitResponse lists one result per committed entry.
type CommitResponse struct {
	Results []CommitEntryResult `json:"results"`
}

// ClearServerDataResponse is returned by the clear-data endpoint.
type ClearServerDataResponse struct {
	Cleared bool `json:"cleared"`
}
