package scheduler

import "errors"

var (
	// ErrWrongMode is returned for a request the current mode does not
	// accept.
	ErrWrongMode = errors.New("request not allowed in current scheduler mode")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")

	// ErrSyncingStopped is returned after the server told the client to stop
	// syncing.
	ErrSyncingStopped = errors.New("server stopped syncing for this account")
)
