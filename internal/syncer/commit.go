// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// commitItem is one entity of a commit batch together with the state that
// was sent, so that edits made while the request was in flight are kept.
type commitItem struct {
	id   models.EntityID
	sent models.Entity
}

// commitAll commits unsynced entities batch by batch until none is left
// that has not been tried in this round.
func (s *Syncer) commitAll(ctx context.Context, c *cycle) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, req, err := s.prepareCommit(ctx, c)
		if err != nil {
			return fmt.Errorf("prepare commit: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		resp, err := s.server.Commit(ctx, req)
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if len(resp.Results) != len(batch) {
			return fmt.Errorf("%w: %d results for %d entries", ErrCommitResponse, len(resp.Results), len(batch))
		}

		if err = s.processCommitResponse(ctx, c, batch, resp); err != nil {
			return fmt.Errorf("process commit response: %w", err)
		}
	}
}

// prepareCommit picks the next batch. Parents are sent before their
// children and deletions after everything else, deepest first. Entities
// that never reached the server and are now deleted are simply forgotten.
func (s *Syncer) prepareCommit(ctx context.Context, c *cycle) ([]commitItem, models.CommitRequest, error) {
	tx, err := s.dir.BeginWrite(ctx, "syncer.PrepareCommit")
	if err != nil {
		return nil, models.CommitRequest{}, err
	}
	defer tx.Rollback()

	uuidGen := utils.NewUUIDGenerator()
	var candidates []models.Entity
	for _, id := range tx.UnsyncedIDs(c.job.Types) {
		if _, done := c.attempted[id]; done {
			continue
		}
		e, ok := tx.GetByID(id)
		if !ok || e.IsUnappliedUpdate {
			continue
		}
		if e.IsDeleted && e.BaseVersion == 0 && e.ServerVersion == 0 {
			if err = tx.Update(id, func(e *models.Entity) { e.IsUnsynced = false }); err != nil {
				return nil, models.CommitRequest{}, err
			}
			continue
		}
		if e.ServerID == "" {
			e.ServerID = uuidGen.ClientID()
			serverID := e.ServerID
			if err = tx.Update(id, func(e *models.Entity) { e.ServerID = serverID }); err != nil {
				return nil, models.CommitRequest{}, err
			}
		}
		candidates = append(candidates, e)
	}

	depth := make(map[models.EntityID]int, len(candidates))
	for _, e := range candidates {
		depth[e.ID] = depthOf(tx, e)
	}
	slices.SortStableFunc(candidates, func(a, b models.Entity) int {
		if a.IsDeleted != b.IsDeleted {
			if a.IsDeleted {
				return 1
			}
			return -1
		}
		if a.IsDeleted {
			return cmp.Compare(depth[b.ID], depth[a.ID])
		}
		return cmp.Compare(depth[a.ID], depth[b.ID])
	})

	req := models.CommitRequest{ClientID: tx.CacheGUID(), Birthday: tx.StoreBirthday()}
	var batch []commitItem
	for _, e := range candidates {
		if len(batch) == s.commitBatchSize {
			break
		}
		entry, err := s.toSyncEntity(tx, e)
		if errors.Is(err, crypto.ErrNotReady) {
			s.logger.Debug().Str("func", "Syncer.prepareCommit").Int64("entity_id", int64(e.ID)).
				Msg("cannot encrypt yet, commit postponed")
			c.attempted[e.ID] = struct{}{}
			continue
		}
		if err != nil {
			return nil, models.CommitRequest{}, err
		}
		req.Entries = append(req.Entries, entry)
		batch = append(batch, commitItem{id: e.ID, sent: e})
	}

	if err = tx.Commit(); err != nil {
		return nil, models.CommitRequest{}, err
	}
	return batch, req, nil
}

func depthOf(tx *syncable.WriteTransaction, e models.Entity) int {
	d := 0
	for cur := e.ParentID; cur != 0 && cur != models.RootID; d++ {
		p, ok := tx.GetByID(cur)
		if !ok || d > 1<<16 {
			break
		}
		cur = p.ParentID
	}
	return d
}

// toSyncEntity converts e to its wire form. Payloads of encrypted types are
// sealed if they are not already.
func (s *Syncer) toSyncEntity(tx *syncable.WriteTransaction, e models.Entity) (models.SyncEntity, error) {
	out := models.SyncEntity{
		ID:                     e.ServerID,
		Version:                e.BaseVersion,
		UniqueTag:              e.UniqueTag,
		Name:                   e.Title,
		Folder:                 e.IsDir,
		Deleted:                e.IsDeleted,
		Specifics:              e.Specifics.Clone(),
		OriginatorClientItemID: int64(e.ID),
	}
	if e.ParentID != 0 && e.ParentID != models.RootID {
		if p, ok := tx.GetByID(e.ParentID); ok {
			out.ParentID = p.ServerID
		}
	}
	if e.PredecessorID != 0 {
		if p, ok := tx.GetByID(e.PredecessorID); ok {
			out.PredecessorID = p.ServerID
		}
	}

	t := e.Type()
	if t != models.Nigori && s.crypto.EncryptedTypes().Has(t) && !out.Specifics.IsEncrypted() {
		enc, err := s.crypto.Encrypt(out.Specifics)
		if err != nil {
			return models.SyncEntity{}, err
		}
		out.Specifics = enc
	}
	return out, nil
}

func (s *Syncer) processCommitResponse(ctx context.Context, c *cycle, batch []commitItem, resp models.CommitResponse) error {
	tx, err := s.dir.BeginWrite(ctx, "syncer.ProcessCommitResponse")
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, r := range resp.Results {
		item := batch[i]
		c.attempted[item.id] = struct{}{}

		current, ok := tx.GetByID(item.id)
		if !ok {
			continue
		}

		switch r.ResponseType {
		case models.CommitSuccess:
			c.snap.Committed++
			unchanged := sameLocalState(current, item.sent)
			err = tx.Update(item.id, func(e *models.Entity) {
				if r.ID != "" {
					e.ServerID = r.ID
				}
				e.BaseVersion = r.Version
				e.ServerVersion = max(e.ServerVersion, r.Version)
				if unchanged {
					e.IsUnsynced = false
				}
			})
			if err != nil {
				return err
			}
		case models.CommitConflict:
			c.snap.SimpleConflicts++
			c.snap.CommitFailures++
		default:
			c.snap.CommitFailures++
			s.logger.Warn().Str("func", "Syncer.processCommitResponse").Int64("entity_id", int64(item.id)).
				Str("response", string(r.ResponseType)).Str("error", r.ErrorMessage).Msg("entry not committed")
		}
	}

	return tx.Commit()
}

// sameLocalState reports whether nothing the server sees changed on e since
// it was sent.
func sameLocalState(a, b models.Entity) bool {
	return a.Title == b.Title &&
		a.ParentID == b.ParentID &&
		a.PredecessorID == b.PredecessorID &&
		a.IsDir == b.IsDir &&
		a.IsDeleted == b.IsDeleted &&
		a.Specifics.Equal(b.Specifics)
}
