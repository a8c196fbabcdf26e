// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"errors"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// graphView is the read API shared by both transaction kinds of the
// directory.
type graphView interface {
	GetByID(id models.EntityID) (models.Entity, bool)
	GetByServerID(serverID string) (models.Entity, bool)
	GetByTag(tag string) (models.Entity, bool)
	TypeRootID(t models.ModelType) models.EntityID
	Children(parent models.EntityID) []models.Entity
	HasChildren(parent models.EntityID) bool
	EntitiesOfType(t models.ModelType) []models.Entity
}

// reader decrypts everything it returns when the keys allow it. Entities the
// keys cannot open are returned as stored.
type reader struct {
	view   graphView
	crypto *crypto.Cryptographer
}

func (r reader) plain(e models.Entity) models.Entity {
	if !e.Specifics.IsEncrypted() {
		return e
	}
	if dec, err := r.crypto.Decrypt(e.Specifics); err == nil {
		e.Specifics = dec
	}
	return e
}

func (r reader) plainAll(entities []models.Entity) []models.Entity {
	for i := range entities {
		entities[i] = r.plain(entities[i])
	}
	return entities
}

func (r reader) GetByID(id models.EntityID) (models.Entity, bool) {
	e, ok := r.view.GetByID(id)
	return r.plain(e), ok
}

func (r reader) GetByServerID(serverID string) (models.Entity, bool) {
	e, ok := r.view.GetByServerID(serverID)
	return r.plain(e), ok
}

func (r reader) GetByTag(tag string) (models.Entity, bool) {
	e, ok := r.view.GetByTag(tag)
	return r.plain(e), ok
}

// TypeRootID returns the permanent top-level folder of t, or zero before the
// type has been downloaded.
func (r reader) TypeRootID(t models.ModelType) models.EntityID {
	return r.view.TypeRootID(t)
}

// Children returns the live children of parent in sibling order.
func (r reader) Children(parent models.EntityID) []models.Entity {
	return r.plainAll(r.view.Children(parent))
}

func (r reader) HasChildren(parent models.EntityID) bool {
	return r.view.HasChildren(parent)
}

func (r reader) EntitiesOfType(t models.ModelType) []models.Entity {
	return r.plainAll(r.view.EntitiesOfType(t))
}

// ReadTransaction is a consistent view of the entity graph. Call Close when
// done.
type ReadTransaction struct {
	reader
	tx *syncable.ReadTransaction
}

func newReadTransaction(tx *syncable.ReadTransaction, c *crypto.Cryptographer) *ReadTransaction {
	return &ReadTransaction{reader: reader{view: tx, crypto: c}, tx: tx}
}

// Close releases the transaction. It is a no-op on the transaction handed
// to a ChangeObserver.
func (t *ReadTransaction) Close() {
	t.tx.Close()
}

// WriteTransaction stages local changes. Every change marks the entity for
// commit and encrypts specifics of encrypted types. Commit nudges the
// scheduler for the touched types.
type WriteTransaction struct {
	reader
	tx      *syncable.WriteTransaction
	uuidGen *utils.UUIDGenerator
	touched models.ModelTypeSet
	onDone  func(types models.ModelTypeSet)
}

// CreateEntity inserts e under parent after predecessor (zero for the first
// position). The entity gets a client-generated server id.
func (t *WriteTransaction) CreateEntity(parent, predecessor models.EntityID, e models.Entity) (models.EntityID, error) {
	specifics, err := t.encrypt(e.Specifics)
	if err != nil {
		return 0, err
	}

	e.Specifics = specifics
	e.ServerID = t.uuidGen.ClientID()
	e.BaseVersion, e.ServerVersion = 0, 0
	e.IsUnsynced = true
	e.IsUnappliedUpdate = false

	id, err := t.tx.CreateEntity(parent, predecessor, e)
	if err != nil {
		return 0, mapTxError(err)
	}
	t.touched = t.touched.Add(e.Type())
	return id, nil
}

// Update lets fn edit the title, folder flag and specifics of id. fn sees
// plaintext specifics.
func (t *WriteTransaction) Update(id models.EntityID, fn func(e *models.Entity)) error {
	current, ok := t.tx.GetByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", syncable.ErrNotFound, id)
	}

	plain := current.Specifics
	if plain.IsEncrypted() {
		dec, err := t.crypto.Decrypt(plain)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPassphraseRequired, err)
		}
		plain = dec
	}

	edited := current.Clone()
	edited.Specifics = plain.Clone()
	fn(&edited)

	specifics := current.Specifics
	if !edited.Specifics.Equal(plain) {
		var err error
		if specifics, err = t.encrypt(edited.Specifics); err != nil {
			return err
		}
	}

	err := t.tx.Update(id, func(e *models.Entity) {
		e.Title = edited.Title
		e.IsDir = edited.IsDir
		e.Specifics = specifics
		e.IsUnsynced = true
	})
	if err != nil {
		return mapTxError(err)
	}
	t.touched = t.touched.Add(current.Type())
	return nil
}

// Move places id under parent after predecessor.
func (t *WriteTransaction) Move(id, parent, predecessor models.EntityID) error {
	if err := t.tx.Move(id, parent, predecessor); err != nil {
		return mapTxError(err)
	}
	return t.markUnsynced(id)
}

// Delete turns id into a tombstone. Folders must be emptied first.
func (t *WriteTransaction) Delete(id models.EntityID) error {
	if err := t.tx.Delete(id); err != nil {
		return mapTxError(err)
	}
	return t.markUnsynced(id)
}

func (t *WriteTransaction) markUnsynced(id models.EntityID) error {
	var typ models.ModelType
	err := t.tx.Update(id, func(e *models.Entity) {
		e.IsUnsynced = true
		typ = e.Type()
	})
	if err != nil {
		return mapTxError(err)
	}
	t.touched = t.touched.Add(typ)
	return nil
}

// Commit validates and publishes the staged changes. A failed validation
// rolls everything back and returns an error matching ErrValidation.
func (t *WriteTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return mapTxError(err)
	}
	if t.onDone != nil && !t.touched.Empty() {
		t.onDone(t.touched)
	}
	return nil
}

// Rollback discards the staged changes. It is a no-op after Commit.
func (t *WriteTransaction) Rollback() {
	t.tx.Rollback()
}

func (t *WriteTransaction) encrypt(s models.EntitySpecifics) (models.EntitySpecifics, error) {
	if s.Type == models.Nigori || s.IsEncrypted() || !t.crypto.EncryptedTypes().Has(s.Type) {
		return s, nil
	}
	enc, err := t.crypto.Encrypt(s)
	if errors.Is(err, crypto.ErrNotReady) {
		return models.EntitySpecifics{}, fmt.Errorf("%w: %s", ErrPassphraseRequired, s.Type)
	}
	return enc, err
}

func mapTxError(err error) error {
	switch {
	case errors.Is(err, syncable.ErrValidation):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, syncable.ErrStoreUnavailable):
		return fmt.Errorf("%w: %w", ErrStore, err)
	case errors.Is(err, syncable.ErrClosed):
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return err
}
