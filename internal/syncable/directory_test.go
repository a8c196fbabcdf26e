// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// recordingObserver collects commit notifications.
type recordingObserver struct {
	mu        sync.Mutex
	commits   []Mutations
	completed []models.ModelTypeSet
	onCommit  func(tx *ReadTransaction, m Mutations)
}

func (o *recordingObserver) HandleCommit(tx *ReadTransaction, m Mutations) {
	if o.onCommit != nil {
		o.onCommit(tx, m)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, m)
}

func (o *recordingObserver) HandleTransactionComplete(types models.ModelTypeSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, types)
}

func (o *recordingObserver) snapshot() ([]Mutations, []models.ModelTypeSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Mutations(nil), o.commits...), append([]models.ModelTypeSet(nil), o.completed...)
}

func newTestDirectory(t *testing.T) (*Directory, *MemoryBacking) {
	t.Helper()
	backing := NewMemoryBacking()
	dir := NewDirectory("test", backing, logger.Nop())
	require.NoError(t, dir.Open(context.Background()))
	return dir, backing
}

func bookmark(title string) models.Entity {
	return models.Entity{
		Title:      title,
		IsUnsynced: true,
		Specifics:  models.EntitySpecifics{Type: models.Bookmarks, Payload: []byte(title)},
	}
}

func folder(title string) models.Entity {
	e := bookmark(title)
	e.IsDir = true
	return e
}

func mustWrite(t *testing.T, dir *Directory, fn func(tx *WriteTransaction)) {
	t.Helper()
	tx, err := dir.BeginWrite(context.Background(), "test")
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func childTitles(t *testing.T, dir *Directory, parent models.EntityID) []string {
	t.Helper()
	rtx, err := dir.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Close()
	var out []string
	for _, c := range rtx.Children(parent) {
		out = append(out, c.Title)
	}
	return out
}

// ── Open ─────────────────────────────────────────────────────────────────────

func TestDirectory_Open_CreatesRoot(t *testing.T) {
	dir, _ := newTestDirectory(t)

	rtx, err := dir.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	root, ok := rtx.GetByID(models.RootID)
	require.True(t, ok)
	assert.True(t, root.IsDir)
	assert.Equal(t, "r", root.ServerID)
	assert.NotEmpty(t, rtx.CacheGUID())
}

func TestDirectory_Open_LoadFailure(t *testing.T) {
	backing := &failingBacking{loadErr: errors.New("disk gone")}
	dir := NewDirectory("test", backing, logger.Nop())

	err := dir.Open(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = dir.BeginWrite(context.Background(), "test")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDirectory_Open_ReloadKeepsIDsUnique(t *testing.T) {
	dir, backing := newTestDirectory(t)
	var first models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		first, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
	})
	require.NoError(t, dir.Close(context.Background()))

	reopened := NewDirectory("test", backing, logger.Nop())
	require.NoError(t, reopened.Open(context.Background()))
	mustWrite(t, reopened, func(tx *WriteTransaction) {
		id, err := tx.CreateEntity(models.RootID, first, bookmark("b"))
		require.NoError(t, err)
		assert.Greater(t, id, first)
	})
	assert.Equal(t, []string{"a", "b"}, childTitles(t, reopened, models.RootID))
}

// ── Sibling order ────────────────────────────────────────────────────────────

func TestWriteTransaction_SiblingOrder(t *testing.T) {
	dir, _ := newTestDirectory(t)

	var a, b, c models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		a, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
		c, err = tx.CreateEntity(models.RootID, a, bookmark("c"))
		require.NoError(t, err)
		b, err = tx.CreateEntity(models.RootID, a, bookmark("b"))
		require.NoError(t, err)
	})
	assert.Equal(t, []string{"a", "b", "c"}, childTitles(t, dir, models.RootID))

	mustWrite(t, dir, func(tx *WriteTransaction) {
		require.NoError(t, tx.Move(c, models.RootID, 0))
	})
	assert.Equal(t, []string{"c", "a", "b"}, childTitles(t, dir, models.RootID))

	mustWrite(t, dir, func(tx *WriteTransaction) {
		require.NoError(t, tx.Delete(a))
	})
	assert.Equal(t, []string{"c", "b"}, childTitles(t, dir, models.RootID))

	rtx, err := dir.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Close()
	deleted, ok := rtx.GetByID(a)
	require.True(t, ok)
	assert.True(t, deleted.IsDeleted)
	assert.Zero(t, deleted.PredecessorID)
	assert.Zero(t, deleted.SuccessorID)
	bEntity, _ := rtx.GetByID(b)
	assert.Equal(t, c, bEntity.PredecessorID)
}

func TestWriteTransaction_MoveIntoFolder(t *testing.T) {
	dir, _ := newTestDirectory(t)

	var f, x models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		f, err = tx.CreateEntity(models.RootID, 0, folder("f"))
		require.NoError(t, err)
		x, err = tx.CreateEntity(models.RootID, f, bookmark("x"))
		require.NoError(t, err)
	})
	mustWrite(t, dir, func(tx *WriteTransaction) {
		require.NoError(t, tx.Move(x, f, 0))
		// the uncommitted move is visible inside the transaction
		assert.Len(t, tx.Children(f), 1)
	})

	assert.Equal(t, []string{"f"}, childTitles(t, dir, models.RootID))
	assert.Equal(t, []string{"x"}, childTitles(t, dir, f))
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestWriteTransaction_Commit_ValidationRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, tx *WriteTransaction, f, leaf, x models.EntityID)
	}{
		{
			name: "parent is not a folder",
			mutate: func(t *testing.T, tx *WriteTransaction, _, leaf, x models.EntityID) {
				require.NoError(t, tx.Move(x, leaf, 0))
			},
		},
		{
			name: "parent does not exist",
			mutate: func(t *testing.T, tx *WriteTransaction, _, _, x models.EntityID) {
				require.NoError(t, tx.Move(x, 999, 0))
			},
		},
		{
			name: "cycle",
			mutate: func(t *testing.T, tx *WriteTransaction, f, _, _ models.EntityID) {
				sub, err := tx.CreateEntity(f, 0, folder("sub"))
				require.NoError(t, err)
				require.NoError(t, tx.Move(f, sub, 0))
			},
		},
		{
			name: "deleted folder with children",
			mutate: func(t *testing.T, tx *WriteTransaction, f, _, _ models.EntityID) {
				_, err := tx.CreateEntity(f, 0, bookmark("child"))
				require.NoError(t, err)
				require.NoError(t, tx.Delete(f))
			},
		},
		{
			name: "broken sibling link",
			mutate: func(t *testing.T, tx *WriteTransaction, _, _, x models.EntityID) {
				e, ok := tx.GetByID(x)
				require.True(t, ok)
				e.PredecessorID = 0
				require.NoError(t, tx.Put(e))
			},
		},
		{
			name: "duplicate server id",
			mutate: func(t *testing.T, tx *WriteTransaction, f, _, x models.EntityID) {
				require.NoError(t, tx.Update(f, func(e *models.Entity) { e.ServerID = "s1" }))
				require.NoError(t, tx.Update(x, func(e *models.Entity) { e.ServerID = "s1" }))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _ := newTestDirectory(t)
			obs := &recordingObserver{}
			dir.SetCommitObserver(obs)

			var f, leaf, x models.EntityID
			mustWrite(t, dir, func(tx *WriteTransaction) {
				var err error
				f, err = tx.CreateEntity(models.RootID, 0, folder("f"))
				require.NoError(t, err)
				leaf, err = tx.CreateEntity(models.RootID, f, bookmark("leaf"))
				require.NoError(t, err)
				x, err = tx.CreateEntity(models.RootID, leaf, bookmark("x"))
				require.NoError(t, err)
			})
			before := childTitles(t, dir, models.RootID)

			tx, err := dir.BeginWrite(context.Background(), "test")
			require.NoError(t, err)
			tt.mutate(t, tx, f, leaf, x)
			err = tx.Commit()
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
			assert.Equal(t, before, childTitles(t, dir, models.RootID))

			commits, _ := obs.snapshot()
			assert.Len(t, commits, 1, "rejected commit must not be observed")

			// the write slot was released
			mustWrite(t, dir, func(tx *WriteTransaction) {})
		})
	}
}

func TestWriteTransaction_RootIsProtected(t *testing.T) {
	dir, _ := newTestDirectory(t)
	tx, err := dir.BeginWrite(context.Background(), "test")
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Delete(models.RootID), ErrValidation)
	assert.ErrorIs(t, tx.Move(models.RootID, models.RootID, 0), ErrValidation)
}

func TestWriteTransaction_UseAfterCommit(t *testing.T) {
	dir, _ := newTestDirectory(t)
	tx, err := dir.BeginWrite(context.Background(), "test")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.CreateEntity(models.RootID, 0, bookmark("late"))
	assert.ErrorIs(t, err, ErrTransactionDone)
	assert.ErrorIs(t, tx.Commit(), ErrTransactionDone)
	assert.NotPanics(t, tx.Rollback)
}

// ── Observers ────────────────────────────────────────────────────────────────

func TestWriteTransaction_Commit_NotifiesObserver(t *testing.T) {
	dir, _ := newTestDirectory(t)
	var seenInside []string
	obs := &recordingObserver{
		onCommit: func(tx *ReadTransaction, _ Mutations) {
			for _, c := range tx.Children(models.RootID) {
				seenInside = append(seenInside, c.Title)
			}
		},
	}
	dir.SetCommitObserver(obs)

	var id models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		id, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
	})
	mustWrite(t, dir, func(tx *WriteTransaction) {
		require.NoError(t, tx.Update(id, func(e *models.Entity) { e.Title = "b" }))
	})
	// a transaction without changes produces no mutations
	mustWrite(t, dir, func(tx *WriteTransaction) {
		require.NoError(t, tx.Update(id, func(e *models.Entity) {}))
	})

	commits, completed := obs.snapshot()
	require.Len(t, commits, 2)
	require.Len(t, commits[0], 1)
	assert.Nil(t, commits[0][0].Original)
	assert.Equal(t, "a", commits[0][0].Mutated.Title)
	require.NotNil(t, commits[1][0].Original)
	assert.Equal(t, "a", commits[1][0].Original.Title)
	assert.Equal(t, "b", commits[1][0].Mutated.Title)

	require.Len(t, completed, 2)
	assert.True(t, completed[0].Equal(models.NewModelTypeSet(models.Bookmarks)))
	assert.Equal(t, []string{"a", "b"}, seenInside)
}

func TestWriteTransaction_ObserverPanicIsContained(t *testing.T) {
	dir, _ := newTestDirectory(t)
	dir.SetCommitObserver(&recordingObserver{
		onCommit: func(*ReadTransaction, Mutations) { panic("observer bug") },
	})

	assert.NotPanics(t, func() {
		mustWrite(t, dir, func(tx *WriteTransaction) {
			_, err := tx.CreateEntity(models.RootID, 0, bookmark("a"))
			require.NoError(t, err)
		})
	})
	assert.Equal(t, []string{"a"}, childTitles(t, dir, models.RootID))
}

func TestDirectory_CompletionsFollowCommitOrder(t *testing.T) {
	dir, _ := newTestDirectory(t)
	obs := &recordingObserver{}
	dir.SetCommitObserver(obs)

	types := []models.ModelType{models.Bookmarks, models.Preferences, models.Autofill, models.Themes}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := dir.BeginWrite(context.Background(), "worker")
			if !assert.NoError(t, err) {
				return
			}
			e := bookmark("x")
			e.Specifics.Type = types[i%len(types)]
			_, err = tx.CreateEntity(models.RootID, 0, e)
			assert.NoError(t, err)
			assert.NoError(t, tx.Commit())
		}(i)
	}
	wg.Wait()

	commits, completed := obs.snapshot()
	require.Len(t, completed, len(commits))
	for i := range commits {
		assert.True(t, commits[i].Types().Equal(completed[i]), "completion %d out of order", i)
	}
}

// ── Concurrency ──────────────────────────────────────────────────────────────

func TestDirectory_WritersAreSerialized(t *testing.T) {
	dir, _ := newTestDirectory(t)

	tx, err := dir.BeginWrite(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = dir.BeginWrite(ctx, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tx.Rollback()
	second, err := dir.BeginWrite(context.Background(), "second")
	require.NoError(t, err)
	second.Rollback()
}

func TestDirectory_ReadersBlockWhileWriterActive(t *testing.T) {
	dir, _ := newTestDirectory(t)

	tx, err := dir.BeginWrite(context.Background(), "writer")
	require.NoError(t, err)

	opened := make(chan struct{})
	go func() {
		rtx, err := dir.BeginRead(context.Background())
		if err == nil {
			rtx.Close()
		}
		close(opened)
	}()

	select {
	case <-opened:
		t.Fatal("reader ran alongside an active writer")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("reader never started")
	}
}

// ── SaveChanges ──────────────────────────────────────────────────────────────

func TestDirectory_SaveChanges_PersistsDirty(t *testing.T) {
	dir, backing := newTestDirectory(t)

	var id models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		id, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
		tx.SetProgressMarker(models.Bookmarks, "tok")
	})
	_, persisted := backing.Entity(id)
	assert.False(t, persisted, "commit alone must not persist")
	assert.True(t, dir.HasDirty())

	require.NoError(t, dir.SaveChanges(context.Background()))
	e, persisted := backing.Entity(id)
	require.True(t, persisted)
	assert.Equal(t, "a", e.Title)
	assert.False(t, dir.HasDirty())

	saves := backing.Saves()
	require.NoError(t, dir.SaveChanges(context.Background()))
	assert.Equal(t, saves, backing.Saves(), "nothing dirty, nothing saved")
}

func TestDirectory_SaveChanges_FailureDisablesWrites(t *testing.T) {
	dir, backing := newTestDirectory(t)
	mustWrite(t, dir, func(tx *WriteTransaction) {
		_, err := tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
	})

	backing.SetFailSave(errors.New("no space left on device"))
	err := dir.SaveChanges(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Error(t, dir.Failed())

	_, err = dir.BeginWrite(context.Background(), "test")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// reads keep working
	assert.Equal(t, []string{"a"}, childTitles(t, dir, models.RootID))
}

// ── PurgeTypes ───────────────────────────────────────────────────────────────

func TestDirectory_PurgeTypes(t *testing.T) {
	dir, backing := newTestDirectory(t)
	obs := &recordingObserver{}
	dir.SetCommitObserver(obs)

	var bm, pref models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		bm, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
		p := bookmark("p")
		p.Specifics.Type = models.Preferences
		pref, err = tx.CreateEntity(models.RootID, bm, p)
		require.NoError(t, err)
		tx.SetInitialSyncEnded(models.Preferences, true)
		tx.SetProgressMarker(models.Preferences, "tok")
	})
	require.NoError(t, dir.SaveChanges(context.Background()))

	n, err := dir.PurgeTypes(context.Background(), models.NewModelTypeSet(models.Preferences))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rtx, err := dir.BeginRead(context.Background())
	require.NoError(t, err)
	_, ok := rtx.GetByID(pref)
	assert.False(t, ok)
	assert.False(t, rtx.InitialSyncEnded().Has(models.Preferences))
	assert.Empty(t, rtx.ProgressMarker(models.Preferences))
	rtx.Close()

	commits, _ := obs.snapshot()
	assert.Len(t, commits, 1, "purge is not observed")

	require.NoError(t, dir.SaveChanges(context.Background()))
	_, persisted := backing.Entity(pref)
	assert.False(t, persisted)
	_, persisted = backing.Entity(bm)
	assert.True(t, persisted)
}

// ── Close ────────────────────────────────────────────────────────────────────

func TestDirectory_Close(t *testing.T) {
	dir, backing := newTestDirectory(t)
	var id models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		var err error
		id, err = tx.CreateEntity(models.RootID, 0, bookmark("a"))
		require.NoError(t, err)
	})

	require.NoError(t, dir.Close(context.Background()))
	_, persisted := backing.Entity(id)
	assert.True(t, persisted, "close flushes dirty entities")

	_, err := dir.BeginRead(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = dir.BeginWrite(context.Background(), "test")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, dir.Close(context.Background()))
}

// ── Queries ──────────────────────────────────────────────────────────────────

func TestReadTransaction_Queries(t *testing.T) {
	dir, _ := newTestDirectory(t)

	var tagged, pending models.EntityID
	mustWrite(t, dir, func(tx *WriteTransaction) {
		top := folder("Bookmarks")
		top.UniqueTag = models.Bookmarks.RootTag()
		top.ServerID = "srv-top"
		top.IsUnsynced = false
		var err error
		tagged, err = tx.CreateEntity(models.RootID, 0, top)
		require.NoError(t, err)

		_, err = tx.CreateEntity(tagged, 0, bookmark("local"))
		require.NoError(t, err)

		pending, err = tx.CreateUnlinked(models.Entity{
			ServerID:          "srv-new",
			IsDeleted:         true,
			IsUnappliedUpdate: true,
			ServerSpecifics:   models.EntitySpecifics{Type: models.Bookmarks},
		})
		require.NoError(t, err)
	})

	rtx, err := dir.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Close()

	bookmarks := models.NewModelTypeSet(models.Bookmarks)
	assert.Equal(t, tagged, rtx.TypeRootID(models.Bookmarks))
	byServer, ok := rtx.GetByServerID("srv-top")
	require.True(t, ok)
	assert.Equal(t, tagged, byServer.ID)
	assert.Len(t, rtx.UnsyncedIDs(bookmarks), 1)
	assert.Equal(t, []models.EntityID{pending}, rtx.UnappliedUpdateIDs(bookmarks))
	assert.Empty(t, rtx.UnsyncedIDs(models.NewModelTypeSet(models.Preferences)))
	assert.Len(t, rtx.EntitiesOfType(models.Bookmarks), 2)
}

type failingBacking struct {
	loadErr error
}

func (f *failingBacking) Load(context.Context) (*Snapshot, error) { return nil, f.loadErr }
func (f *failingBacking) Save(context.Context, SaveSet) error     { return nil }
func (f *failingBacking) Close() error                            { return nil }
