// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// applyNigori feeds a downloaded Nigori node to the cryptographer and
// applies it. When the local key state is ahead of the node (a new key, more
// encrypted types, the sync_tabs flag) the node is rewritten and queued for
// commit. The cryptographer keeps the new state only if the transaction
// commits.
func (s *Syncer) applyNigori(ctx context.Context, c *cycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.dir.BeginWrite(ctx, "syncer.ApplyNigori")
	if err != nil {
		return err
	}
	defer tx.Rollback()

	node, ok := tx.GetByTag(models.Nigori.RootTag())
	if !ok || !node.IsUnappliedUpdate {
		return nil
	}

	server, err := models.DecodeNigori(node.ServerSpecifics.Payload)
	if err != nil {
		s.logger.Err(err).Str("func", "Syncer.applyNigori").Msg("undecodable nigori node left unapplied")
		c.snap.EncryptionConflicts++
		return nil
	}
	restore := s.crypto.Checkpoint()
	committed := false
	defer func() {
		if !committed {
			restore()
		}
	}()
	reason := s.crypto.Update(server)

	if node.IsUnsynced {
		// the local node is rewritten below from the merged state
		err = tx.Update(node.ID, func(e *models.Entity) {
			e.BaseVersion = e.ServerVersion
			e.IsUnappliedUpdate = false
		})
	} else {
		var out outcome
		out, err = applyServer(tx, node, true)
		if err == nil && out != applied {
			c.snap.HierarchyConflicts++
			return nil
		}
	}
	if err != nil {
		return err
	}

	if err = s.rewriteNigori(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	c.snap.UpdatesApplied++

	s.logger.Debug().Str("func", "Syncer.applyNigori").Str("reason", reason.String()).
		Msg("nigori applied")
	if s.onNigori != nil {
		s.onNigori(reason)
	}
	return nil
}

// rewriteNigori publishes the local key state once the cryptographer can
// encrypt.
func (s *Syncer) rewriteNigori(tx *syncable.WriteTransaction) error {
	if !s.crypto.IsReady() {
		return nil
	}
	_, err := WriteNigori(tx, s.crypto)
	return err
}

// WriteNigori stores the exported key state in the Nigori node and marks
// the node for commit when it differs from what the node holds. It reports
// whether the node changed. Without a Nigori node nothing is written: the
// state is published once the node has been downloaded.
func WriteNigori(tx *syncable.WriteTransaction, exporter NigoriExporter) (bool, error) {
	node, ok := tx.GetByTag(models.Nigori.RootTag())
	if !ok {
		return false, nil
	}
	current, err := models.DecodeNigori(node.Specifics.Payload)
	if err != nil {
		current = models.NigoriSpecifics{}
	}

	local, err := exporter.ExportNigori()
	if err != nil {
		return false, err
	}
	if !NigoriDiffers(current, local) {
		return false, nil
	}
	payload, err := local.Encode()
	if err != nil {
		return false, err
	}
	err = tx.Update(node.ID, func(e *models.Entity) {
		e.Specifics = models.EntitySpecifics{Type: models.Nigori, Payload: payload}
		e.IsUnsynced = true
	})
	return err == nil, err
}

// NigoriDiffers reports whether two nigori nodes describe different key
// states. Key bags are compared by key name since every export seals the
// bag with a fresh nonce.
func NigoriDiffers(a, b models.NigoriSpecifics) bool {
	if !a.EncryptedTypes.Equal(b.EncryptedTypes) ||
		a.UsingExplicitPassphrase != b.UsingExplicitPassphrase ||
		a.SyncTabs != b.SyncTabs {
		return true
	}
	if a.EncryptedKeyBag.IsEmpty() || b.EncryptedKeyBag.IsEmpty() {
		return a.EncryptedKeyBag.IsEmpty() != b.EncryptedKeyBag.IsEmpty()
	}
	return a.EncryptedKeyBag.KeyName != b.EncryptedKeyBag.KeyName
}
