// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncer

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// download fetches batches until the server reports nothing remaining.
// Every batch is stored in its own transaction, so the progress markers
// never run ahead of the stored data.
func (s *Syncer) download(ctx context.Context, c *cycle) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := s.buildGetUpdates(ctx, c)
		if err != nil {
			return err
		}
		resp, err := s.server.GetUpdates(ctx, req)
		if err != nil {
			return err
		}
		if err = s.storeUpdates(ctx, c, resp); err != nil {
			return err
		}

		c.snap.ChangesRemaining = resp.ChangesRemaining
		if resp.ChangesRemaining <= 0 {
			return nil
		}
		if len(resp.Entries) == 0 {
			s.logger.Warn().Str("func", "Syncer.download").Int64("changes_remaining", resp.ChangesRemaining).
				Msg("server reports remaining changes but sent none, stopping download")
			return nil
		}
	}
}

func (s *Syncer) buildGetUpdates(ctx context.Context, c *cycle) (models.GetUpdatesRequest, error) {
	tx, err := s.dir.BeginRead(ctx)
	if err != nil {
		return models.GetUpdatesRequest{}, err
	}
	defer tx.Close()

	req := models.GetUpdatesRequest{
		Types:           c.job.Types,
		ProgressMarkers: make(map[string]string, c.job.Types.Len()),
		Birthday:        tx.StoreBirthday(),
		Origin:          c.job.Origin,
		IsConfiguration: c.job.IsConfiguration,
	}
	for _, t := range c.job.Types.Types() {
		if marker := tx.ProgressMarker(t); marker != "" {
			req.ProgressMarkers[t.String()] = marker
		}
	}
	return req, nil
}

// storeUpdates records a downloaded batch as unapplied server data. Nothing
// visible to observers changes until the updates are applied.
func (s *Syncer) storeUpdates(ctx context.Context, c *cycle, resp models.GetUpdatesResponse) error {
	tx, err := s.dir.BeginWrite(ctx, "syncer.ProcessUpdates")
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch local := tx.StoreBirthday(); {
	case resp.Birthday == "":
	case local == "":
		tx.SetStoreBirthday(resp.Birthday)
	case local != resp.Birthday:
		return fmt.Errorf("%w: have %q, server sent %q", ErrBirthdayChanged, local, resp.Birthday)
	}

	for _, u := range resp.Entries {
		c.snap.UpdatesDownloaded++
		if u.Deleted {
			c.snap.TombstoneUpdates++
		}
		if err = s.storeUpdate(tx, u); err != nil {
			return fmt.Errorf("store update %s: %w", u.ID, err)
		}
	}

	for name, marker := range resp.ProgressMarkers {
		t, err := models.ModelTypeFromString(name)
		if err != nil {
			s.logger.Warn().Err(err).Str("func", "Syncer.storeUpdates").Msg("progress marker for unknown type")
			continue
		}
		if c.job.Types.Has(t) {
			tx.SetProgressMarker(t, marker)
		}
	}

	return tx.Commit()
}

func (s *Syncer) storeUpdate(tx *syncable.WriteTransaction, u models.SyncEntity) error {
	t := u.Specifics.Type
	if !t.IsValid() {
		s.logger.Warn().Str("func", "Syncer.storeUpdate").Str("server_id", u.ID).Msg("update without a type skipped")
		return nil
	}

	local, found := tx.GetByServerID(u.ID)
	if !found && u.UniqueTag != "" {
		local, found = tx.GetByTag(u.UniqueTag)
	}

	if found {
		if u.Version <= local.ServerVersion {
			// echo of our own commit or a batch seen before
			return nil
		}
		return tx.Update(local.ID, func(e *models.Entity) {
			e.ServerID = u.ID
			setServerFields(e, u)
		})
	}

	if u.Deleted {
		return nil
	}
	e := models.Entity{
		ServerID:  u.ID,
		UniqueTag: u.UniqueTag,
		IsDeleted: true,
		Specifics: models.EntitySpecifics{Type: t},
	}
	setServerFields(&e, u)
	_, err := tx.CreateUnlinked(e)
	return err
}

func setServerFields(e *models.Entity, u models.SyncEntity) {
	if e.UniqueTag == "" {
		e.UniqueTag = u.UniqueTag
	}
	e.ServerVersion = u.Version
	e.ServerParentID = u.ParentID
	e.ServerPredecessorID = u.PredecessorID
	e.ServerName = u.Name
	e.ServerIsDir = u.Folder
	e.ServerIsDeleted = u.Deleted
	e.ServerSpecifics = u.Specifics.Clone()
	e.IsUnappliedUpdate = true
}
