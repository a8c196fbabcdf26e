// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// PassphraseState is the state of the cryptographer's key material.
type PassphraseState int

const (
	// PassphraseUninitialized means no Nigori node has been seen yet.
	PassphraseUninitialized PassphraseState = iota
	// PassphraseRequiresEncryption means there is no default key, so
	// nothing can be encrypted until a passphrase is supplied.
	PassphraseRequiresEncryption
	// PassphraseRequiresDecryption means the Nigori node carries a keybag
	// that the current keys cannot open.
	PassphraseRequiresDecryption
	// PassphraseRequiresNewPassphrase means the last passphrase attempt
	// failed to decrypt the pending keys.
	PassphraseRequiresNewPassphrase
	// PassphraseReady means the cryptographer can encrypt and decrypt.
	PassphraseReady
)

func (s PassphraseState) String() string {
	switch s {
	case PassphraseUninitialized:
		return "UNINITIALIZED"
	case PassphraseRequiresEncryption:
		return "REQUIRES_ENCRYPTION"
	case PassphraseRequiresDecryption:
		return "REQUIRES_DECRYPTION"
	case PassphraseRequiresNewPassphrase:
		return "REQUIRES_NEW_PASSPHRASE"
	case PassphraseReady:
		return "READY"
	}
	return "INVALID_STATE"
}

// PassphraseRequiredReason tells observers why a passphrase is needed.
type PassphraseRequiredReason int

const (
	ReasonPassphraseNotRequired PassphraseRequiredReason = iota
	ReasonEncryption
	ReasonDecryption
	ReasonSetPassphraseFailed
)

// PassphraseRequiredReasonToString returns the canonical name of r.
func PassphraseRequiredReasonToString(r PassphraseRequiredReason) string {
	switch r {
	case ReasonPassphraseNotRequired:
		return "REASON_PASSPHRASE_NOT_REQUIRED"
	case ReasonEncryption:
		return "REASON_ENCRYPTION"
	case ReasonDecryption:
		return "REASON_DECRYPTION"
	case ReasonSetPassphraseFailed:
		return "REASON_SET_PASSPHRASE_FAILED"
	}
	return "INVALID_REASON"
}

func (r PassphraseRequiredReason) String() string {
	return PassphraseRequiredReasonToString(r)
}

// PassphraseRequired pairs the reason a passphrase is needed with the
// cryptographer state at the moment it was raised.
type PassphraseRequired struct {
	Reason PassphraseRequiredReason `json:"reason"`
	State  PassphraseState          `json:"state"`
}

// IsRequired reports whether a passphrase is actually needed.
func (p PassphraseRequired) IsRequired() bool {
	return p.Reason != ReasonPassphraseNotRequired
}
