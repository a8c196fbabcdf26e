// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/syncer"
	"github.com/MKhiriev/go-sync-engine/models"
)

// keyHostname is mixed into every passphrase-derived key. All clients of
// an account must agree on it.
const keyHostname = "localhost"

// SetPassphrase derives a key from passphrase. A passphrase that opens the
// pending keys or becomes the new default key is acknowledged with
// OnPassphraseAccepted and OnEncryptionComplete. A rejected one is reported
// through OnPassphraseRequired, not as an error.
func (m *manager) SetPassphrase(ctx context.Context, passphrase string, explicit bool) error {
	if err := m.ready(); err != nil {
		return err
	}

	var res crypto.PassphraseResult
	_, err := m.runEncryptionTx(ctx, "set-passphrase", func(*syncable.WriteTransaction) error {
		var err error
		res, err = m.crypto.SetPassphrase(crypto.KeyParams{
			Hostname: keyHostname,
			Username: m.creds.Get().Email,
			Password: passphrase,
		}, explicit)
		return err
	})
	if err != nil {
		return err
	}

	switch {
	case res.Ignored:
		m.logger.Info().Str("func", "manager.SetPassphrase").Bool("explicit", explicit).
			Msg("passphrase ignored")
		return nil
	case !res.Accepted:
		m.dispatcher.post(func(o Observer) { o.OnPassphraseRequired(res.Required) })
		return nil
	}

	encrypted := m.crypto.EncryptedTypes()
	m.logger.Info().Str("func", "manager.SetPassphrase").Bool("explicit", explicit).
		Bool("keys_changed", res.KeysChanged).Msg("passphrase accepted")
	m.dispatcher.post(func(o Observer) { o.OnPassphraseAccepted(res.BootstrapToken) })
	m.dispatcher.post(func(o Observer) { o.OnEncryptionComplete(encrypted) })
	m.reapplyBlocked()
	return nil
}

// reapplyBlocked gives updates that were waiting for keys another pass.
// In normal mode that is a full cycle; in configuration mode the stored
// updates are applied without a download.
func (m *manager) reapplyBlocked() {
	types := m.crypto.EncryptedTypes().Intersect(m.registrar.RoutingInfo().Types()).Add(models.Nigori)
	if err := m.scheduler.ScheduleReapply(types); err != nil {
		m.logger.Debug().Err(err).Str("func", "manager.reapplyBlocked").Str("types", types.String()).
			Msg("reapply dropped")
	}
}

// EncryptDataTypes adds types to the encrypted set. The set never shrinks.
// Without keys the change is kept and published once a passphrase is set.
func (m *manager) EncryptDataTypes(ctx context.Context, types models.ModelTypeSet) error {
	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.runEncryptionTx(ctx, "encrypt-data-types", func(*syncable.WriteTransaction) error {
		merged := m.crypto.MergeEncryptedTypes(types)
		m.logger.Info().Str("func", "manager.EncryptDataTypes").Str("encrypted_types", merged.String()).
			Msg("encrypted types updated")
		return nil
	})
	if err != nil {
		return err
	}
	m.finishEncryption()
	return nil
}

// RefreshEncryption feeds the stored Nigori node to the cryptographer, then
// re-encrypts every item of the encrypted types with the current default
// key and rewrites the Nigori node if it is stale.
func (m *manager) RefreshEncryption(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.runEncryptionTx(ctx, "refresh-encryption", func(tx *syncable.WriteTransaction) error {
		node, ok := tx.GetByTag(models.Nigori.RootTag())
		if !ok {
			return nil
		}
		nigori, err := models.DecodeNigori(node.Specifics.Payload)
		if err != nil {
			return fmt.Errorf("decode nigori: %w", err)
		}
		reason := m.crypto.Update(nigori)
		m.logger.Debug().Str("func", "manager.RefreshEncryption").Str("reason", reason.String()).
			Msg("stored nigori applied")
		return nil
	})
	if err != nil {
		return err
	}
	m.finishEncryption()
	return nil
}

func (m *manager) finishEncryption() {
	if !m.crypto.IsReady() {
		req := m.crypto.PassphraseRequired()
		if !req.IsRequired() {
			req.Reason = models.ReasonEncryption
		}
		m.dispatcher.post(func(o Observer) { o.OnPassphraseRequired(req) })
		return
	}
	encrypted := m.crypto.EncryptedTypes()
	m.dispatcher.post(func(o Observer) { o.OnEncryptionComplete(encrypted) })
}

// MaybeSetSyncTabsInNigoriNode asks other clients to sync open tabs once
// Sessions is among the enabled types.
func (m *manager) MaybeSetSyncTabsInNigoriNode(ctx context.Context, enabled models.ModelTypeSet) error {
	if err := m.ready(); err != nil {
		return err
	}
	if !enabled.Has(models.Sessions) || m.crypto.SyncTabs() {
		return nil
	}
	_, err := m.runEncryptionTx(ctx, "sync-tabs", func(*syncable.WriteTransaction) error {
		m.crypto.SetSyncTabs()
		return nil
	})
	return err
}

func (m *manager) ReceivedExperimentalTypes() models.ModelTypeSet {
	if m.ready() != nil || !m.crypto.SyncTabs() {
		return models.ModelTypeSet{}
	}
	return models.NewModelTypeSet(models.Sessions)
}

func (m *manager) GetEncryptedDataTypes() models.ModelTypeSet {
	if m.ready() != nil {
		return crypto.SensitiveTypes
	}
	return m.crypto.EncryptedTypes()
}

func (m *manager) IsUsingExplicitPassphrase() bool {
	return m.ready() == nil && m.crypto.IsUsingExplicitPassphrase()
}

// reencrypt brings local items and the Nigori node in line with the
// current keys.
func (m *manager) reencrypt(ctx context.Context, source string) (models.ModelTypeSet, error) {
	return m.runEncryptionTx(ctx, source, nil)
}

// runEncryptionTx changes the key state through fn inside a write
// transaction, so no other writer sees a half-updated graph. When keys are
// available it then re-encrypts stale items and rewrites the Nigori node.
// If the transaction does not commit, the key state fn changed is restored.
// It returns the types it touched; those are nudged.
func (m *manager) runEncryptionTx(ctx context.Context, source string, fn func(tx *syncable.WriteTransaction) error) (models.ModelTypeSet, error) {
	tx, err := m.dir.BeginWrite(ctx, source)
	if err != nil {
		return models.ModelTypeSet{}, mapTxError(err)
	}
	defer tx.Rollback()

	restore := m.crypto.Checkpoint()
	committed := false
	defer func() {
		if !committed {
			restore()
		}
	}()

	if fn != nil {
		if err := fn(tx); err != nil {
			return models.ModelTypeSet{}, err
		}
	}

	var touched models.ModelTypeSet
	if m.crypto.IsReady() {
		if touched, err = m.reencryptEntities(tx); err != nil {
			return models.ModelTypeSet{}, err
		}
		written, err := syncer.WriteNigori(tx, m.crypto)
		if err != nil {
			return models.ModelTypeSet{}, fmt.Errorf("write nigori: %w", err)
		}
		if written {
			touched = touched.Add(models.Nigori)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.ModelTypeSet{}, mapTxError(err)
	}
	committed = true
	m.updateCryptoStatus()

	if !touched.Empty() {
		m.logger.Debug().Str("func", "manager.runEncryptionTx").Str("source", source).
			Str("types", touched.String()).Msg("encryption state written")
		m.nudge(touched, models.NudgeSourceLocalRefresh)
	}
	return touched, nil
}

// reencryptEntities encrypts every live item of an encrypted type that is
// not already under the default key. Items no known key opens are left for
// a later passphrase.
func (m *manager) reencryptEntities(tx *syncable.WriteTransaction) (models.ModelTypeSet, error) {
	var touched models.ModelTypeSet
	for _, t := range m.crypto.EncryptedTypes().Types() {
		if t == models.Nigori {
			continue
		}
		for _, e := range tx.EntitiesOfType(t) {
			if e.UniqueTag != "" || e.IsDeleted || m.crypto.IsEncryptedWithDefaultKey(e.Specifics) {
				continue
			}

			plain := e.Specifics
			if plain.IsEncrypted() {
				dec, err := m.crypto.Decrypt(plain)
				if err != nil {
					m.logger.Debug().Str("func", "manager.reencryptEntities").
						Int64("entity_id", int64(e.ID)).Msg("skipping undecryptable item")
					continue
				}
				plain = dec
			}

			enc, err := m.crypto.Encrypt(plain)
			if err != nil {
				return touched, fmt.Errorf("encrypt %s item %d: %w", t, e.ID, err)
			}
			err = tx.Update(e.ID, func(x *models.Entity) {
				x.Specifics = enc
				x.IsUnsynced = true
			})
			if err != nil {
				return touched, mapTxError(err)
			}
			touched = touched.Add(t)
		}
	}
	return touched, nil
}
