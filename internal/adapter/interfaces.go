// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package adapter provides the transport abstraction the sync engine talks
// to the sync server through.
//
// The primary abstraction is [SyncServer], which decouples the syncer from
// the underlying protocol. The package ships an HTTP/JSON implementation
// ([NewHTTPSyncServer]) built on resty.
//
// Error values defined in errors.go are mapped from HTTP status codes and
// server error codes by mapHTTPError so that callers can use [errors.Is]
// for transport-agnostic error handling (e.g. [ErrUnauthorized] for 401,
// [ErrStopSyncing] for 410).
package adapter

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/sync_server_mock.go -package=mock

// SyncServer defines transport-agnostic communication with the sync server.
// Implementations are responsible for serialisation, authentication header
// management, and mapping transport-level errors to the sentinel values
// defined in this package. Implementations are safe for concurrent use.
type SyncServer interface {
	// SetCredentials replaces the account and bearer token attached to
	// every subsequent request.
	SetCredentials(creds models.Credentials)

	// OnTokenUpdated registers fn to be called when the server rotates the
	// bearer token. fn receives the new token after it has been installed.
	OnTokenUpdated(fn func(token string))

	// GetUpdates downloads one batch of changes for req.Types starting at
	// the given progress markers.
	GetUpdates(ctx context.Context, req models.GetUpdatesRequest) (models.GetUpdatesResponse, error)

	// Commit uploads local changes. The integrity hash and entry count are
	// filled in by the implementation. The response holds one result per
	// request entry, in order.
	Commit(ctx context.Context, req models.CommitRequest) (models.CommitResponse, error)

	// ClearServerData deletes every item of the account on the server.
	ClearServerData(ctx context.Context) error
}
