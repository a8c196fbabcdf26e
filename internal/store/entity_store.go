// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// EntityStore is the sqlite implementation of [syncable.Backing]. Every Save
// is one database transaction; busy or locked errors are retried a few times
// before the save is reported as failed.
type EntityStore struct {
	*DB
	logger  *logger.Logger
	backoff func() retry.Backoff
}

// NewEntityStore constructs an EntityStore over an open, migrated database.
func NewEntityStore(db *DB, log *logger.Logger) *EntityStore {
	return &EntityStore{
		DB:     db,
		logger: log,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
		},
	}
}

// Load reads the kernel row and every entity.
func (s *EntityStore) Load(ctx context.Context) (*syncable.Snapshot, error) {
	snap := &syncable.Snapshot{}

	if err := s.loadKernel(ctx, &snap.Kernel); err != nil {
		return nil, err
	}

	query, args, err := buildSelectEntitiesQuery()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Err(err).Str("func", "EntityStore.Load").Msg("failed to query entities")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			s.logger.Err(err).Str("func", "EntityStore.Load").Msg("failed to scan entity row")
			return nil, err
		}
		snap.Entities = append(snap.Entities, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}

	s.logger.Debug().Str("func", "EntityStore.Load").Int("entities", len(snap.Entities)).
		Int64("next_id", int64(snap.Kernel.NextID)).Msg("entity store loaded")
	return snap, nil
}

func (s *EntityStore) loadKernel(ctx context.Context, k *syncable.Kernel) error {
	query, args, err := buildSelectKernelQuery()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var (
		ended, markers string
		nextID         int64
	)
	err = s.DB.QueryRowContext(ctx, query, args...).Scan(&ended, &markers, &k.StoreBirthday, &nextID, &k.CacheGUID)
	if errors.Is(err, sql.ErrNoRows) {
		// fresh store
		return nil
	}
	if err != nil {
		s.logger.Err(err).Str("func", "EntityStore.loadKernel").Msg("failed to read kernel")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	k.NextID = models.EntityID(nextID)
	return decodeKernel(ended, markers, k)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (models.Entity, error) {
	var (
		e                          models.Entity
		id, parent, pred, succ     int64
		specifics, serverSpecifics []byte
	)
	err := row.Scan(
		&id,
		&e.ServerID,
		&e.UniqueTag,
		&e.Title,
		&parent,
		&pred,
		&succ,
		&e.IsDir,
		&e.IsDeleted,
		&e.IsUnsynced,
		&e.IsUnappliedUpdate,
		&e.BaseVersion,
		&e.ServerVersion,
		&specifics,
		&e.ServerParentID,
		&e.ServerPredecessorID,
		&e.ServerName,
		&e.ServerIsDir,
		&e.ServerIsDeleted,
		&serverSpecifics,
	)
	if err != nil {
		return models.Entity{}, fmt.Errorf("%w: %w", ErrScanningRows, err)
	}
	e.ID = models.EntityID(id)
	e.ParentID = models.EntityID(parent)
	e.PredecessorID = models.EntityID(pred)
	e.SuccessorID = models.EntityID(succ)

	if len(specifics) > 0 {
		if err = json.Unmarshal(specifics, &e.Specifics); err != nil {
			return models.Entity{}, fmt.Errorf("%w: entity %d specifics: %w", ErrCorruptRow, id, err)
		}
	}
	if len(serverSpecifics) > 0 {
		if err = json.Unmarshal(serverSpecifics, &e.ServerSpecifics); err != nil {
			return models.Entity{}, fmt.Errorf("%w: entity %d server specifics: %w", ErrCorruptRow, id, err)
		}
	}
	return e, nil
}

// Save writes a batch in one transaction.
func (s *EntityStore) Save(ctx context.Context, set syncable.SaveSet) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.save(ctx, set)
		if err != nil && s.errorClassificator != nil && s.errorClassificator.Classify(err) == Retryable {
			s.logger.Warn().Err(err).Str("func", "EntityStore.Save").Msg("database busy, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if s.errorClassificator != nil && s.errorClassificator.Classify(err) == StorageFull {
		s.logger.Err(err).Str("func", "EntityStore.Save").Msg("entity store is full")
		return fmt.Errorf("%w: %w", ErrDiskFull, err)
	}
	s.logger.Err(err).Str("func", "EntityStore.Save").Int("dirty", len(set.Dirty)).
		Int("purged", len(set.Purged)).Msg("failed to save entities")
	return err
}

func (s *EntityStore) save(ctx context.Context, set syncable.SaveSet) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for _, e := range set.Dirty {
		query, args, err := buildUpsertEntityQuery(e)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: entity %d: %w", ErrExecutingStatement, e.ID, err)
		}
	}

	if len(set.Purged) > 0 {
		query, args, err := buildDeleteEntitiesQuery(set.Purged)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: purge: %w", ErrExecutingStatement, err)
		}
	}

	query, args, err := buildUpsertKernelQuery(set.Kernel)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: kernel: %w", ErrExecutingStatement, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

// Close closes the database.
func (s *EntityStore) Close() error {
	return s.DB.Close()
}
