package syncer

import (
	"context"
	"errors"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	// ErrBirthdayChanged is returned when the server answers with a store
	// birthday different from the one the directory holds.
	ErrBirthdayChanged = errors.New("server store birthday changed")

	// ErrCommitResponse is returned when the commit response cannot be
	// matched to the request.
	ErrCommitResponse = errors.New("malformed commit response")
)

// Classify maps an error returned by a cycle step to the SyncerError
// reported in the session snapshot.
func Classify(err error) models.SyncerError {
	switch {
	case err == nil:
		return models.SyncerOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.SyncerCancelled
	case errors.Is(err, adapter.ErrUnauthorized):
		return models.SyncerAuthError
	case errors.Is(err, adapter.ErrStopSyncing),
		errors.Is(err, adapter.ErrNotMyBirthday),
		errors.Is(err, ErrBirthdayChanged):
		return models.SyncerStopSyncing
	case errors.Is(err, adapter.ErrServerUnreachable):
		return models.SyncerNetworkError
	case errors.Is(err, syncable.ErrStoreUnavailable),
		errors.Is(err, syncable.ErrClosed),
		errors.Is(err, store.ErrDiskFull):
		return models.SyncerStoreError
	}
	return models.SyncerServerError
}

// Retryable reports whether a cycle that failed with err may succeed when
// simply run again later.
func Retryable(err error) bool {
	switch Classify(err) {
	case models.SyncerNetworkError:
		return true
	case models.SyncerServerError:
		return errors.Is(err, adapter.ErrServerError) || errors.Is(err, adapter.ErrThrottled)
	}
	return false
}
