// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

type outcome int

const (
	// applied: the local entity now matches the server.
	applied outcome = iota
	// keptLocal: a conflict was resolved in favour of the local change.
	keptLocal
	// blocked: the update cannot be decrypted with the known keys.
	blocked
	// deferred: the update depends on another update not applied yet.
	deferred
)

type applyResult struct {
	applied          int
	encryption       int
	hierarchy        int
	serverOverwrites int
	localOverwrites  int
}

func (r applyResult) addTo(snap *models.SyncSessionSnapshot) {
	snap.UpdatesApplied += r.applied
	snap.EncryptionConflicts += r.encryption
	snap.HierarchyConflicts += r.hierarchy
	snap.ServerOverwrites += r.serverOverwrites
	snap.LocalOverwrites += r.localOverwrites
}

// apply applies every unapplied update of the job types. The Nigori node
// goes first so that updates encrypted with newly received keys can be
// applied in the same cycle. Other types are applied on the worker of their
// model-safe group, one write transaction per group.
func (s *Syncer) apply(ctx context.Context, c *cycle) error {
	// blocked updates are recounted on every pass
	c.snap.EncryptionConflicts = 0
	c.snap.HierarchyConflicts = 0

	if c.job.Types.Has(models.Nigori) {
		if err := s.applyNigori(ctx, c); err != nil {
			return fmt.Errorf("nigori: %w", err)
		}
	}

	var mu sync.Mutex
	types := c.job.Types.Remove(models.Nigori)
	err := workers.ForEachGroup(ctx, s.registrar, types,
		func(ctx context.Context, group models.ModelSafeGroup, groupTypes models.ModelTypeSet) error {
			res, err := s.applyGroup(ctx, group, groupTypes)
			mu.Lock()
			res.addTo(&c.snap)
			mu.Unlock()
			return err
		})
	if err != nil {
		return err
	}
	if c.applyOnly {
		return nil
	}
	return s.markInitialSyncEnded(ctx, c)
}

func (s *Syncer) applyGroup(ctx context.Context, group models.ModelSafeGroup, types models.ModelTypeSet) (applyResult, error) {
	var res applyResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	tx, err := s.dir.BeginWrite(ctx, "syncer.ApplyUpdates/"+group.String())
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	pending := tx.UnappliedUpdateIDs(types)
	if len(pending) == 0 {
		return res, nil
	}

	// Updates may arrive before the folders or siblings they refer to, so
	// pending updates are retried until a pass makes no progress. One last
	// pass then places items with an unknown predecessor at the end of
	// their folder.
	final := false
	for len(pending) > 0 {
		var next []models.EntityID
		progressed := false
		for _, id := range pending {
			out, err := s.applyOne(tx, id, final, &res)
			if err != nil {
				return res, fmt.Errorf("entity %d: %w", id, err)
			}
			switch out {
			case deferred:
				next = append(next, id)
			case blocked:
				res.encryption++
			default:
				progressed = true
			}
		}
		pending = next
		if !progressed {
			if final {
				break
			}
			final = true
		}
	}
	res.hierarchy = len(pending)

	if err = tx.Commit(); err != nil {
		return applyResult{}, err
	}
	if res.encryption > 0 || res.hierarchy > 0 {
		s.logger.Info().Str("func", "Syncer.applyGroup").Str("group", group.String()).
			Int("encryption_conflicts", res.encryption).Int("hierarchy_conflicts", res.hierarchy).
			Msg("updates left unapplied")
	}
	return res, nil
}

func (s *Syncer) applyOne(tx *syncable.WriteTransaction, id models.EntityID, final bool, res *applyResult) (outcome, error) {
	e, ok := tx.GetByID(id)
	if !ok || !e.IsUnappliedUpdate {
		return applied, nil
	}
	if e.ServerSpecifics.IsEncrypted() && !s.crypto.CanDecrypt(e.ServerSpecifics.Encrypted) {
		return blocked, nil
	}

	if !e.IsUnsynced {
		out, err := applyServer(tx, e, final)
		if out == applied {
			res.applied++
		}
		return out, err
	}

	// Both sides changed. A local deletion or a local copy that says the
	// same as the server gives way; any other local edit is kept and will
	// be committed on top of the server version.
	if e.IsDeleted || sameContent(e) {
		out, err := applyServer(tx, e, final)
		if out == applied {
			res.applied++
			res.serverOverwrites++
		}
		return out, err
	}

	err := tx.Update(id, func(e *models.Entity) {
		e.BaseVersion = e.ServerVersion
		e.IsUnappliedUpdate = false
	})
	if err != nil {
		return keptLocal, err
	}
	res.localOverwrites++
	return keptLocal, nil
}

func sameContent(e models.Entity) bool {
	return !e.ServerIsDeleted &&
		e.Title == e.ServerName &&
		e.IsDir == e.ServerIsDir &&
		e.Specifics.Equal(e.ServerSpecifics)
}

// applyServer makes the local entity match its server view.
func applyServer(tx *syncable.WriteTransaction, e models.Entity, final bool) (outcome, error) {
	if e.ServerIsDeleted {
		if !e.IsDeleted {
			if e.IsDir && tx.HasChildren(e.ID) {
				return deferred, nil
			}
			if err := tx.Delete(e.ID); err != nil {
				return applied, err
			}
		}
		return applied, finishApply(tx, e.ID)
	}

	parent, ok := resolveParent(tx, e)
	if !ok || isAncestor(tx, e.ID, parent) {
		return deferred, nil
	}
	if e.IsDir && !e.ServerIsDir && tx.HasChildren(e.ID) {
		return deferred, nil
	}
	predecessor, ok := resolvePredecessor(tx, e, parent, final)
	if !ok {
		return deferred, nil
	}

	if e.IsDeleted || e.ParentID != parent || e.PredecessorID != predecessor {
		if err := tx.Move(e.ID, parent, predecessor); err != nil {
			return applied, err
		}
	}
	return applied, finishApply(tx, e.ID)
}

func finishApply(tx *syncable.WriteTransaction, id models.EntityID) error {
	return tx.Update(id, func(e *models.Entity) {
		if !e.ServerIsDeleted {
			e.Title = e.ServerName
			e.IsDir = e.ServerIsDir
			e.Specifics = e.ServerSpecifics.Clone()
		}
		e.BaseVersion = e.ServerVersion
		e.IsUnappliedUpdate = false
		e.IsUnsynced = false
	})
}

// resolveParent maps the server parent to an alive local folder. Top-level
// items live under the local root.
func resolveParent(tx *syncable.WriteTransaction, e models.Entity) (models.EntityID, bool) {
	if e.ServerParentID == "" {
		return models.RootID, true
	}
	p, ok := tx.GetByServerID(e.ServerParentID)
	if !ok || p.IsDeleted || !p.IsDir {
		return 0, false
	}
	return p.ID, true
}

func resolvePredecessor(tx *syncable.WriteTransaction, e models.Entity, parent models.EntityID, final bool) (models.EntityID, bool) {
	if e.ServerPredecessorID == "" {
		return 0, true
	}
	p, ok := tx.GetByServerID(e.ServerPredecessorID)
	if ok && p.ID != e.ID && !p.IsDeleted && p.ParentID == parent {
		return p.ID, true
	}
	if !final {
		return 0, false
	}

	children := tx.Children(parent)
	for i := len(children) - 1; i >= 0; i-- {
		if children[i].ID != e.ID {
			return children[i].ID, true
		}
	}
	return 0, true
}

// isAncestor reports whether id is parent or one of its ancestors.
func isAncestor(tx *syncable.WriteTransaction, id, parent models.EntityID) bool {
	for cur := parent; cur != 0; {
		if cur == id {
			return true
		}
		e, ok := tx.GetByID(cur)
		if !ok || e.IsRoot() {
			return false
		}
		cur = e.ParentID
	}
	return false
}

// markInitialSyncEnded records that the first download of the job types is
// complete. It is only reached once the server has nothing remaining.
func (s *Syncer) markInitialSyncEnded(ctx context.Context, c *cycle) error {
	if c.snap.ChangesRemaining > 0 {
		return nil
	}

	tx, err := s.dir.BeginWrite(ctx, "syncer.InitialSyncEnded")
	if err != nil {
		return err
	}
	defer tx.Rollback()

	missing := c.job.Types.Difference(tx.InitialSyncEnded())
	if missing.Empty() {
		return nil
	}
	for _, t := range missing.Types() {
		tx.SetInitialSyncEnded(t, true)
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.logger.Info().Str("func", "Syncer.markInitialSyncEnded").Str("types", missing.String()).
		Msg("initial sync ended")
	return nil
}
