// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"errors"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/scheduler"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
)

var (
	// ErrAuth means the server rejected the credentials. UpdateCredentials
	// recovers from it.
	ErrAuth = errors.New("credentials rejected")

	// ErrPassphraseRequired means a type has to be encrypted or decrypted
	// and the keys are not available. SetPassphrase recovers from it.
	ErrPassphraseRequired = errors.New("passphrase required")

	// ErrTransport means the server could not be reached or failed. It is
	// retried internally.
	ErrTransport = errors.New("transport error")

	// ErrStore means the durable store failed. It is fatal for the
	// instance.
	ErrStore = errors.New("entity store error")

	// ErrValidation means a write transaction broke a graph invariant and
	// was rolled back in full.
	ErrValidation = errors.New("transaction validation failed")

	// ErrNotInitialized is returned for commands that need Init first.
	ErrNotInitialized = errors.New("sync manager not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("sync manager already initialized")

	// ErrWrongMode is returned for a request the scheduler mode rejects.
	ErrWrongMode = errors.New("request not allowed in current mode")

	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("sync manager shut down")
)

// ErrorKind is the class of an engine error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuth
	KindPassphrase
	KindTransport
	KindStore
	KindValidation
	KindUsage
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuth:
		return "auth"
	case KindPassphrase:
		return "passphrase"
	case KindTransport:
		return "transport"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	case KindUsage:
		return "usage"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Classify sorts err into the engine taxonomy. Errors from the transport,
// the store and the transaction layer are recognised as well as the
// sentinels of this package.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled

	case errors.Is(err, ErrAuth), errors.Is(err, adapter.ErrUnauthorized):
		return KindAuth

	case errors.Is(err, ErrPassphraseRequired), errors.Is(err, crypto.ErrNotReady),
		errors.Is(err, crypto.ErrCannotDecrypt):
		return KindPassphrase

	case errors.Is(err, ErrValidation), errors.Is(err, syncable.ErrValidation):
		return KindValidation

	case errors.Is(err, ErrStore), errors.Is(err, syncable.ErrStoreUnavailable),
		errors.Is(err, store.ErrDiskFull):
		return KindStore

	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrWrongMode), errors.Is(err, ErrShutdown),
		errors.Is(err, scheduler.ErrWrongMode), errors.Is(err, scheduler.ErrStopped),
		errors.Is(err, syncable.ErrNotFound), errors.Is(err, syncable.ErrTransactionDone),
		errors.Is(err, syncable.ErrClosed):
		return KindUsage
	}
	return KindTransport
}

// mapSchedulerError translates scheduler errors into engine errors.
func mapSchedulerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrWrongMode):
		return ErrWrongMode
	case errors.Is(err, scheduler.ErrStopped):
		return ErrShutdown
	}
	return err
}
