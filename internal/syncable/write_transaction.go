// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncable

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/MKhiriev/go-sync-engine/models"
)

// WriteTransaction is the only way to mutate the graph. Changes are staged on
// copies and become visible atomically on Commit. A transaction that is
// neither committed nor rolled back keeps the write slot forever, so callers
// pair BeginWrite with a deferred Rollback.
type WriteTransaction struct {
	view
	source string

	working   map[models.EntityID]*models.Entity
	originals map[models.EntityID]*models.Entity
	order     []models.EntityID
	kernel    *Kernel
	done      bool
}

func newWriteTransaction(d *Directory, source string) *WriteTransaction {
	tx := &WriteTransaction{
		source:    source,
		working:   make(map[models.EntityID]*models.Entity),
		originals: make(map[models.EntityID]*models.Entity),
	}
	tx.view = view{dir: d, tx: tx}
	return tx
}

// Source names the writer that opened the transaction.
func (tx *WriteTransaction) Source() string {
	return tx.source
}

// mutable returns the working copy of id, copying it from the committed
// graph on first touch.
func (tx *WriteTransaction) mutable(id models.EntityID) (*models.Entity, error) {
	if e, ok := tx.working[id]; ok {
		return e, nil
	}
	committed, ok := tx.dir.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	orig := committed.Clone()
	work := committed.Clone()
	tx.originals[id] = &orig
	tx.working[id] = &work
	tx.order = append(tx.order, id)
	return &work, nil
}

func (tx *WriteTransaction) mutableKernel() *Kernel {
	if tx.kernel == nil {
		k := tx.dir.kernel.Clone()
		tx.kernel = &k
	}
	return tx.kernel
}

func (tx *WriteTransaction) allocate(e models.Entity) *models.Entity {
	k := tx.mutableKernel()
	e.ID = k.NextID
	k.NextID++
	e = e.Clone()
	tx.working[e.ID] = &e
	tx.originals[e.ID] = nil
	tx.order = append(tx.order, e.ID)
	return &e
}

func (tx *WriteTransaction) check() error {
	if tx.done {
		return ErrTransactionDone
	}
	return nil
}

// CreateEntity inserts a new alive entity under parent right after
// predecessor; a zero predecessor makes it the first child. Link fields of e
// are ignored. It returns the assigned id.
func (tx *WriteTransaction) CreateEntity(parent, predecessor models.EntityID, e models.Entity) (models.EntityID, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	e.ParentID, e.PredecessorID, e.SuccessorID = 0, 0, 0
	e.IsDeleted = false
	created := tx.allocate(e)
	if err := tx.link(created.ID, parent, predecessor); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// CreateUnlinked inserts a new entity without placing it in any sibling
// list. It is used for server items whose local side does not exist yet,
// which are stored deleted until their update is applied.
func (tx *WriteTransaction) CreateUnlinked(e models.Entity) (models.EntityID, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	e.PredecessorID, e.SuccessorID = 0, 0
	return tx.allocate(e).ID, nil
}

// Update applies fn to the working copy of id. Structural fields (the id,
// the parent, the sibling links and the deletion flag) are restored after fn
// runs; use Move and Delete to change them.
func (tx *WriteTransaction) Update(id models.EntityID, fn func(e *models.Entity)) error {
	if err := tx.check(); err != nil {
		return err
	}
	e, err := tx.mutable(id)
	if err != nil {
		return err
	}
	keep := *e
	fn(e)
	e.ID = keep.ID
	e.ParentID = keep.ParentID
	e.PredecessorID = keep.PredecessorID
	e.SuccessorID = keep.SuccessorID
	e.IsDeleted = keep.IsDeleted
	return nil
}

// Put replaces every field of an existing entity, links included. Nothing is
// relinked; the result must still pass validation at commit.
func (tx *WriteTransaction) Put(e models.Entity) error {
	if err := tx.check(); err != nil {
		return err
	}
	cur, err := tx.mutable(e.ID)
	if err != nil {
		return err
	}
	*cur = e.Clone()
	return nil
}

// Move places id under parent right after predecessor. A deleted entity is
// revived by moving it.
func (tx *WriteTransaction) Move(id, parent, predecessor models.EntityID) error {
	if err := tx.check(); err != nil {
		return err
	}
	if id == models.RootID {
		return invalid(id, "root cannot be moved")
	}
	if id == predecessor {
		return invalid(id, "entity cannot follow itself")
	}
	e, err := tx.mutable(id)
	if err != nil {
		return err
	}
	if !e.IsDeleted {
		if err := tx.unlink(id); err != nil {
			return err
		}
	}
	e.IsDeleted = false
	return tx.link(id, parent, predecessor)
}

// Delete unlinks id from its siblings and marks it deleted. The entity stays
// in the graph as a tombstone until it is purged.
func (tx *WriteTransaction) Delete(id models.EntityID) error {
	if err := tx.check(); err != nil {
		return err
	}
	if id == models.RootID {
		return invalid(id, "root cannot be deleted")
	}
	e, err := tx.mutable(id)
	if err != nil {
		return err
	}
	if e.IsDeleted {
		return nil
	}
	if err := tx.unlink(id); err != nil {
		return err
	}
	e.IsDeleted = true
	return nil
}

func (tx *WriteTransaction) link(id, parent, predecessor models.EntityID) error {
	e, err := tx.mutable(id)
	if err != nil {
		return err
	}
	e.ParentID = parent

	var successor models.EntityID
	if predecessor == 0 {
		successor = tx.firstChildID(parent, id)
	} else {
		p, err := tx.mutable(predecessor)
		if err != nil {
			return err
		}
		if p.IsDeleted || p.ParentID != parent {
			return invalid(id, "predecessor %d is not a child of %d", predecessor, parent)
		}
		successor = p.SuccessorID
		p.SuccessorID = id
	}

	e.PredecessorID = predecessor
	e.SuccessorID = successor
	if successor != 0 {
		s, err := tx.mutable(successor)
		if err != nil {
			return err
		}
		s.PredecessorID = id
	}
	return nil
}

func (tx *WriteTransaction) unlink(id models.EntityID) error {
	e, err := tx.mutable(id)
	if err != nil {
		return err
	}
	if e.PredecessorID != 0 {
		p, err := tx.mutable(e.PredecessorID)
		if err != nil {
			return err
		}
		p.SuccessorID = e.SuccessorID
	}
	if e.SuccessorID != 0 {
		s, err := tx.mutable(e.SuccessorID)
		if err != nil {
			return err
		}
		s.PredecessorID = e.PredecessorID
	}
	e.PredecessorID, e.SuccessorID = 0, 0
	return nil
}

// SetInitialSyncEnded records whether the first download of t finished.
func (tx *WriteTransaction) SetInitialSyncEnded(t models.ModelType, ended bool) {
	k := tx.mutableKernel()
	if ended {
		k.InitialSyncEnded = k.InitialSyncEnded.Add(t)
	} else {
		k.InitialSyncEnded = k.InitialSyncEnded.Remove(t)
	}
}

// SetProgressMarker stores the download token of t.
func (tx *WriteTransaction) SetProgressMarker(t models.ModelType, marker string) {
	k := tx.mutableKernel()
	if marker == "" {
		delete(k.ProgressMarkers, t)
		return
	}
	k.ProgressMarkers[t] = marker
}

// SetStoreBirthday stores the server store identity.
func (tx *WriteTransaction) SetStoreBirthday(birthday string) {
	tx.mutableKernel().StoreBirthday = birthday
}

// Commit validates the staged changes and publishes them. On a validation
// failure nothing is applied, the transaction is rolled back and a
// *ValidationError is returned.
//
// Observers are notified in two steps: HandleCommit while the new state is
// held under a shared lock, then HandleTransactionComplete once every lock
// is released.
func (tx *WriteTransaction) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	d := tx.dir

	if err := tx.validate(); err != nil {
		d.log.Warn().Err(err).Str("func", "WriteTransaction.Commit").
			Str("source", tx.source).Msg("commit rejected, rolling back")
		tx.Rollback()
		return err
	}

	mutations := tx.mutations()
	changed := make(map[models.EntityID]*models.Entity, len(mutations))
	for _, m := range mutations {
		changed[m.Mutated.ID] = tx.working[m.Mutated.ID]
	}
	var kernel *Kernel
	if tx.kernel != nil && !reflect.DeepEqual(*tx.kernel, d.kernel.Clone()) {
		kernel = tx.kernel
	}
	d.applyLocked(changed, kernel)
	tx.done = true

	d.completeMu.Lock()
	d.commitSeq++
	seq := d.commitSeq
	d.completeMu.Unlock()

	observer := d.observer

	// Downgrade: the write slot stays held so no writer can run before the
	// observers have seen this commit.
	d.mu.Unlock()
	d.mu.RLock()
	if observer != nil && len(mutations) > 0 {
		borrowed := &ReadTransaction{view: view{dir: d}}
		d.safeCall("HandleCommit", func() { observer.HandleCommit(borrowed, mutations) })
		borrowed.done = true
	}
	d.mu.RUnlock()
	d.writers.Release(1)
	d.inflight.Done()

	d.notifyComplete(seq, observer, mutations.Types())
	return nil
}

// Rollback discards the staged changes. It is a no-op after Commit.
func (tx *WriteTransaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.working = nil
	tx.originals = nil
	tx.kernel = nil
	tx.dir.mu.Unlock()
	tx.dir.writers.Release(1)
	tx.dir.inflight.Done()
}

// mutations returns the touched entities that actually changed, by id.
func (tx *WriteTransaction) mutations() Mutations {
	ids := slices.Clone(tx.order)
	slices.Sort(ids)

	out := make(Mutations, 0, len(ids))
	for _, id := range ids {
		work := tx.working[id]
		orig := tx.originals[id]
		if orig != nil && reflect.DeepEqual(*orig, *work) {
			continue
		}
		m := Mutation{Mutated: work.Clone()}
		if orig != nil {
			o := orig.Clone()
			m.Original = &o
		}
		out = append(out, m)
	}
	return out
}
