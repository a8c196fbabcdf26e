// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

func newTestEntityStore(t *testing.T) (*EntityStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	l := logger.Nop()
	s := NewEntityStore(&DB{DB: db, logger: l, errorClassificator: NewSQLiteErrorClassifier()}, l)
	s.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func entityRow(id int64, serverID, title string, parent int64, specifics string) []driver.Value {
	return []driver.Value{
		id, serverID, "", title, parent, int64(0), int64(0),
		false, false, true, false, int64(0), int64(0),
		[]byte(specifics), "", "", "", false, false, []byte(`{"type":"unspecified"}`),
	}
}

// ── Load ──────────────────────────────────────────────────────────────────────

func TestEntityStore_Load(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectQuery("SELECT (.+) FROM kernel").
		WithArgs(kernelRowID).
		WillReturnRows(sqlmock.NewRows(kernelColumns[1:]).
			AddRow(`["bookmarks"]`, `{"bookmarks":"tok"}`, "bday", int64(9), "guid"))

	rows := sqlmock.NewRows(entityColumns).
		AddRow(entityRow(1, "r", "", 0, `{"type":"unspecified"}`)...).
		AddRow(entityRow(5, "c-5", "news", 1, `{"type":"bookmarks","payload":"eA=="}`)...)
	mock.ExpectQuery("SELECT (.+) FROM entities ORDER BY id").WillReturnRows(rows)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.EntityID(9), snap.Kernel.NextID)
	assert.Equal(t, "bday", snap.Kernel.StoreBirthday)
	assert.Equal(t, "guid", snap.Kernel.CacheGUID)
	assert.True(t, snap.Kernel.InitialSyncEnded.Has(models.Bookmarks))
	assert.Equal(t, "tok", snap.Kernel.ProgressMarkers[models.Bookmarks])

	require.Len(t, snap.Entities, 2)
	e := snap.Entities[1]
	assert.Equal(t, models.EntityID(5), e.ID)
	assert.Equal(t, models.RootID, e.ParentID)
	assert.Equal(t, "news", e.Title)
	assert.True(t, e.IsUnsynced)
	assert.Equal(t, models.Bookmarks, e.Type())
	assert.Equal(t, []byte("x"), e.Specifics.Payload)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Load_FreshStore(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectQuery("SELECT (.+) FROM kernel").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM entities").WillReturnRows(sqlmock.NewRows(entityColumns))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	assert.Zero(t, snap.Kernel.NextID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "kernel query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM kernel").WillReturnError(errors.New("disk I/O"))
			},
			wantErr: ErrExecutingQuery,
		},
		{
			name: "corrupt kernel row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM kernel").
					WillReturnRows(sqlmock.NewRows(kernelColumns[1:]).AddRow(`{`, `{}`, "", int64(0), ""))
			},
			wantErr: ErrCorruptRow,
		},
		{
			name: "corrupt specifics",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM kernel").WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT (.+) FROM entities").
					WillReturnRows(sqlmock.NewRows(entityColumns).AddRow(entityRow(2, "", "", 1, `not json`)...))
			},
			wantErr: ErrCorruptRow,
		},
		{
			name: "entities query fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM kernel").WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT (.+) FROM entities").WillReturnError(errors.New("boom"))
			},
			wantErr: ErrExecutingQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestEntityStore(t)
			tt.setup(mock)

			_, err := s.Load(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// ── Save ──────────────────────────────────────────────────────────────────────

func testSaveSet() syncable.SaveSet {
	return syncable.SaveSet{
		Dirty: []models.Entity{
			{ID: 5, ParentID: models.RootID, Title: "news", Specifics: models.EntitySpecifics{Type: models.Bookmarks}},
			{ID: 6, ParentID: models.RootID, Title: "blog", Specifics: models.EntitySpecifics{Type: models.Bookmarks}},
		},
		Purged: []models.EntityID{3},
		Kernel: syncable.Kernel{NextID: 7, CacheGUID: "guid"},
	}
}

func TestEntityStore_Save(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO entities").WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("REPLACE INTO entities").WillReturnResult(sqlmock.NewResult(6, 1))
	mock.ExpectExec("DELETE FROM entities WHERE id IN").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("REPLACE INTO kernel").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), testSaveSet()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Save_NothingPurged(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO kernel").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), syncable.SaveSet{Kernel: syncable.Kernel{NextID: 2}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Save_RetriesWhenBusy(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO entities").WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO entities").WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("REPLACE INTO entities").WillReturnResult(sqlmock.NewResult(6, 1))
	mock.ExpectExec("DELETE FROM entities").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("REPLACE INTO kernel").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), testSaveSet()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Save_DiskFull(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO entities").WillReturnError(sqlite3.Error{Code: sqlite3.ErrFull})
	mock.ExpectRollback()

	err := s.Save(context.Background(), testSaveSet())
	require.ErrorIs(t, err, ErrDiskFull)
	require.ErrorIs(t, err, ErrExecutingStatement)
	// a full disk is not retried
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_Save_CommitFails(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO kernel").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("constraint"))

	err := s.Save(context.Background(), syncable.SaveSet{})
	require.ErrorIs(t, err, ErrCommitingTransaction)
	assert.NotErrorIs(t, err, ErrDiskFull)
}

func TestEntityStore_Save_BeginFails(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("closed"))

	err := s.Save(context.Background(), syncable.SaveSet{})
	require.ErrorIs(t, err, ErrBeginningTransaction)
}

// ── Directory integration ─────────────────────────────────────────────────────

func TestEntityStore_BacksDirectory(t *testing.T) {
	s, mock := newTestEntityStore(t)

	mock.ExpectQuery("SELECT (.+) FROM kernel").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM entities").WillReturnRows(sqlmock.NewRows(entityColumns))

	dir := syncable.NewDirectory("test", s, logger.Nop())
	require.NoError(t, dir.Open(context.Background()))

	// the new root and kernel are flushed together
	mock.ExpectBegin()
	mock.ExpectExec("REPLACE INTO entities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("REPLACE INTO kernel").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, dir.SaveChanges(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
