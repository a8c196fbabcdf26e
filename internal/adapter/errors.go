package adapter

import "errors"

var (
	// ErrUnauthorized is returned on HTTP 401: the credentials were rejected.
	ErrUnauthorized = errors.New("client unauthorized")

	// ErrStopSyncing is returned on HTTP 410 or a stop_syncing error code:
	// the server asks this client to stop syncing permanently.
	ErrStopSyncing = errors.New("server asked to stop syncing")

	// ErrNotMyBirthday is returned when the store birthday sent by the
	// client does not match the server's, i.e. the server data was reset.
	ErrNotMyBirthday = errors.New("store birthday mismatch")

	// ErrThrottled is returned on HTTP 429.
	ErrThrottled = errors.New("throttled by server")

	// ErrBadRequest is returned on HTTP 400, including failed integrity checks.
	ErrBadRequest = errors.New("bad request")

	// ErrServerError is returned on any 5xx response.
	ErrServerError = errors.New("sync server error")

	// ErrServerUnreachable is returned when no response was received.
	ErrServerUnreachable = errors.New("sync server unreachable")
)
