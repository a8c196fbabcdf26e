// Package syncer runs one sync cycle against the server: download updates,
// apply them to the entity graph, and commit local changes.
//
// The syncer holds no state between cycles beyond what the directory
// persists (progress markers, store birthday, unsynced and unapplied flags),
// so a cycle interrupted at any transaction boundary is simply resumed by
// the next one.
package syncer

import (
	"github.com/MKhiriev/go-sync-engine/models"
)

// NigoriExporter describes the local key state as a Nigori node.
type NigoriExporter interface {
	ExportNigori() (models.NigoriSpecifics, error)
}

// Cryptographer is the part of the key management the cycle needs.
type Cryptographer interface {
	NigoriExporter
	// Update merges a downloaded Nigori node and reports whether a
	// passphrase is now required.
	Update(nigori models.NigoriSpecifics) models.PassphraseRequiredReason
	// Checkpoint saves the key state; the returned function restores it.
	Checkpoint() (restore func())
	Encrypt(s models.EntitySpecifics) (models.EntitySpecifics, error)
	CanDecrypt(enc *models.EncryptedData) bool
	EncryptedTypes() models.ModelTypeSet
	IsReady() bool
}

// Job describes the cycle the scheduler wants to run.
type Job struct {
	// Types to download. Nigori is always added.
	Types models.ModelTypeSet
	// IsConfiguration marks download-only cycles run for RequestConfig.
	IsConfiguration bool
	// Origin is the reason or nudge source, forwarded to the server.
	Origin string
}

// NigoriHandler is told about every applied Nigori update, after the
// transaction applying it has committed.
type NigoriHandler func(reason models.PassphraseRequiredReason)
