// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"bytes"
	"encoding/json"
)

// EntityID is the stable local identifier of an entity (the metahandle).
// It never changes for the life of the entity, even when the server assigns
// a new server ID after the first commit.
type EntityID int64

// RootID is the identifier of the root entity. The root has no parent and
// is created by the directory the first time it is opened.
const RootID EntityID = 1

// EncryptedData is an opaque ciphertext produced by the cryptographer.
// KeyName identifies the key that produced Blob.
type EncryptedData struct {
	KeyName string `json:"key_name"`
	Blob    string `json:"blob"`
}

// IsEmpty reports whether the value carries no ciphertext.
func (e *EncryptedData) IsEmpty() bool {
	return e == nil || e.Blob == ""
}

// EntitySpecifics is the typed payload of an entity. Payload holds the
// plaintext form; when the type is encrypted, Payload is empty and Encrypted
// holds the ciphertext of the original Payload.
type EntitySpecifics struct {
	Type      ModelType      `json:"type"`
	Payload   []byte         `json:"payload,omitempty"`
	Encrypted *EncryptedData `json:"encrypted,omitempty"`
}

// IsEncrypted reports whether the payload is held as ciphertext.
func (s EntitySpecifics) IsEncrypted() bool {
	return !s.Encrypted.IsEmpty()
}

// Clone returns a deep copy of s.
func (s EntitySpecifics) Clone() EntitySpecifics {
	out := EntitySpecifics{Type: s.Type}
	if s.Payload != nil {
		out.Payload = append([]byte(nil), s.Payload...)
	}
	if s.Encrypted != nil {
		enc := *s.Encrypted
		out.Encrypted = &enc
	}
	return out
}

// Equal reports whether both specifics hold the same bytes.
func (s EntitySpecifics) Equal(other EntitySpecifics) bool {
	if s.Type != other.Type || !bytes.Equal(s.Payload, other.Payload) {
		return false
	}
	if s.Encrypted.IsEmpty() || other.Encrypted.IsEmpty() {
		return s.Encrypted.IsEmpty() == other.Encrypted.IsEmpty()
	}
	return *s.Encrypted == *other.Encrypted
}

// Entity is a synced item of the entity graph. Siblings under the same
// parent form a doubly linked list through PredecessorID/SuccessorID; the
// zero EntityID terminates the list.
type Entity struct {
	ID       EntityID `json:"id"`
	ServerID string   `json:"server_id"`
	// UniqueTag is set on permanent server-created folders and on the Nigori node.
	UniqueTag string `json:"unique_tag,omitempty"`
	Title     string `json:"title,omitempty"`

	ParentID      EntityID `json:"parent_id"`
	PredecessorID EntityID `json:"predecessor_id"`
	SuccessorID   EntityID `json:"successor_id"`

	IsDir             bool `json:"is_dir"`
	IsDeleted         bool `json:"is_deleted"`
	IsUnsynced        bool `json:"is_unsynced"`
	IsUnappliedUpdate bool `json:"is_unapplied_update"`

	// BaseVersion is the server version local edits are based on;
	// ServerVersion is the latest version seen from the server.
	BaseVersion   int64 `json:"base_version"`
	ServerVersion int64 `json:"server_version"`

	Specifics EntitySpecifics `json:"specifics"`

	// Server-side view of the entity, filled while an update is unapplied.
	// Parent and predecessor are server IDs since they may refer to items
	// that have not been downloaded yet.
	ServerParentID      string          `json:"server_parent_id,omitempty"`
	ServerPredecessorID string          `json:"server_predecessor_id,omitempty"`
	ServerName          string          `json:"server_name,omitempty"`
	ServerIsDir         bool            `json:"server_is_dir,omitempty"`
	ServerIsDeleted     bool            `json:"server_is_deleted,omitempty"`
	ServerSpecifics     EntitySpecifics `json:"server_specifics"`
}

// Type returns the ModelType the entity belongs to.
func (e *Entity) Type() ModelType {
	return e.Specifics.Type
}

// IsRoot reports whether e is the graph root.
func (e *Entity) IsRoot() bool {
	return e.ID == RootID
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() Entity {
	out := *e
	out.Specifics = e.Specifics.Clone()
	out.ServerSpecifics = e.ServerSpecifics.Clone()
	return out
}

// NigoriSpecifics is the decoded payload of the Nigori node.
type NigoriSpecifics struct {
	// EncryptedKeyBag is the key bag encrypted with the current default key.
	EncryptedKeyBag *EncryptedData `json:"encrypted_key_bag,omitempty"`
	// Salt is used when deriving keys from a passphrase.
	Salt []byte `json:"salt,omitempty"`
	// EncryptedTypes is the set of types every client must encrypt.
	EncryptedTypes ModelTypeSet `json:"encrypted_types"`
	// UsingExplicitPassphrase is true when the key came from an explicit
	// user passphrase instead of the account credentials.
	UsingExplicitPassphrase bool `json:"using_explicit_passphrase"`
	// SyncTabs instructs other clients to start syncing open tabs.
	SyncTabs bool `json:"sync_tabs"`
}

// DecodeNigori parses Nigori specifics from a plaintext payload. An empty
// payload yields the zero value.
func DecodeNigori(payload []byte) (NigoriSpecifics, error) {
	var n NigoriSpecifics
	if len(payload) == 0 {
		return n, nil
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return NigoriSpecifics{}, err
	}
	return n, nil
}

// Encode serialises n into a payload.
func (n NigoriSpecifics) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// PasswordSpecificsData is the decrypted payload of a Passwords entity.
type PasswordSpecificsData struct {
	Origin        string `json:"origin"`
	SignonRealm   string `json:"signon_realm"`
	UsernameValue string `json:"username_value"`
	PasswordValue string `json:"password_value"`
}
