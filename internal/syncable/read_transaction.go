// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncable

import (
	"slices"

	"github.com/MKhiriev/go-sync-engine/models"
)

// view implements the read API shared by read and write transactions. When
// tx is set, reads see the transaction's uncommitted working copies first.
type view struct {
	dir *Directory
	tx  *WriteTransaction
}

func (v view) get(id models.EntityID) *models.Entity {
	if v.tx != nil {
		if e, ok := v.tx.working[id]; ok {
			return e
		}
	}
	return v.dir.entities[id]
}

func (v view) kernel() *Kernel {
	if v.tx != nil && v.tx.kernel != nil {
		return v.tx.kernel
	}
	return &v.dir.kernel
}

// ids returns every entity id visible through v, ascending.
func (v view) ids() []models.EntityID {
	out := make([]models.EntityID, 0, len(v.dir.entities))
	for id := range v.dir.entities {
		out = append(out, id)
	}
	if v.tx != nil {
		for id := range v.tx.working {
			if _, ok := v.dir.entities[id]; !ok {
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out
}

// childIDs returns the alive children of parent in no particular order.
func (v view) childIDs(parent models.EntityID) []models.EntityID {
	var out []models.EntityID
	seen := make(map[models.EntityID]struct{})
	consider := func(id models.EntityID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		e := v.get(id)
		if e != nil && !e.IsDeleted && !e.IsRoot() && e.ParentID == parent {
			out = append(out, id)
		}
	}
	for id := range v.dir.children[parent] {
		consider(id)
	}
	if v.tx != nil {
		for id, e := range v.tx.working {
			if e.ParentID == parent {
				consider(id)
			}
		}
	}
	return out
}

// orderedChildIDs walks the sibling list of parent from its head. Children
// not reachable from the head are appended by id.
func (v view) orderedChildIDs(parent models.EntityID) []models.EntityID {
	ids := v.childIDs(parent)
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)

	members := make(map[models.EntityID]struct{}, len(ids))
	var head models.EntityID
	for _, id := range ids {
		members[id] = struct{}{}
		if head == 0 && v.get(id).PredecessorID == 0 {
			head = id
		}
	}

	out := make([]models.EntityID, 0, len(ids))
	visited := make(map[models.EntityID]struct{}, len(ids))
	for cur := head; cur != 0; cur = v.get(cur).SuccessorID {
		if _, ok := members[cur]; !ok {
			break
		}
		if _, ok := visited[cur]; ok {
			break
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
	}
	for _, id := range ids {
		if _, ok := visited[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (v view) firstChildID(parent, except models.EntityID) models.EntityID {
	for _, id := range v.childIDs(parent) {
		if id != except && v.get(id).PredecessorID == 0 {
			return id
		}
	}
	return 0
}

// GetByID returns a copy of the entity with the given id.
func (v view) GetByID(id models.EntityID) (models.Entity, bool) {
	e := v.get(id)
	if e == nil {
		return models.Entity{}, false
	}
	return e.Clone(), true
}

// GetByServerID looks an entity up by its server-assigned id.
func (v view) GetByServerID(serverID string) (models.Entity, bool) {
	if serverID == "" {
		return models.Entity{}, false
	}
	if v.tx != nil {
		for _, id := range v.tx.order {
			if e := v.tx.working[id]; e.ServerID == serverID {
				return e.Clone(), true
			}
		}
	}
	id, ok := v.dir.byServerID[serverID]
	if !ok {
		return models.Entity{}, false
	}
	e := v.get(id)
	if e == nil || e.ServerID != serverID {
		return models.Entity{}, false
	}
	return e.Clone(), true
}

// GetByTag looks an entity up by its unique server tag.
func (v view) GetByTag(tag string) (models.Entity, bool) {
	if tag == "" {
		return models.Entity{}, false
	}
	if v.tx != nil {
		for _, id := range v.tx.order {
			if e := v.tx.working[id]; e.UniqueTag == tag {
				return e.Clone(), true
			}
		}
	}
	id, ok := v.dir.byTag[tag]
	if !ok {
		return models.Entity{}, false
	}
	e := v.get(id)
	if e == nil || e.UniqueTag != tag {
		return models.Entity{}, false
	}
	return e.Clone(), true
}

// TypeRootID returns the id of the permanent top-level folder of t, or zero
// when it has not been downloaded yet.
func (v view) TypeRootID(t models.ModelType) models.EntityID {
	e, ok := v.GetByTag(t.RootTag())
	if !ok || e.IsDeleted {
		return 0
	}
	return e.ID
}

// Children returns the alive children of parent in sibling order.
func (v view) Children(parent models.EntityID) []models.Entity {
	ids := v.orderedChildIDs(parent)
	out := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.get(id).Clone())
	}
	return out
}

// HasChildren reports whether parent has any alive child.
func (v view) HasChildren(parent models.EntityID) bool {
	return len(v.childIDs(parent)) > 0
}

// EntitiesOfType returns every alive entity of t ordered by id.
func (v view) EntitiesOfType(t models.ModelType) []models.Entity {
	var out []models.Entity
	for _, id := range v.ids() {
		e := v.get(id)
		if !e.IsRoot() && !e.IsDeleted && e.Type() == t {
			out = append(out, e.Clone())
		}
	}
	return out
}

// UnsyncedIDs returns the ids of entities with local changes not yet
// committed to the server, restricted to types.
func (v view) UnsyncedIDs(types models.ModelTypeSet) []models.EntityID {
	return v.filterIDs(types, func(e *models.Entity) bool { return e.IsUnsynced })
}

// UnappliedUpdateIDs returns the ids of entities holding a downloaded
// update not yet applied locally, restricted to types.
func (v view) UnappliedUpdateIDs(types models.ModelTypeSet) []models.EntityID {
	return v.filterIDs(types, func(e *models.Entity) bool { return e.IsUnappliedUpdate })
}

func (v view) filterIDs(types models.ModelTypeSet, keep func(*models.Entity) bool) []models.EntityID {
	var out []models.EntityID
	for _, id := range v.ids() {
		e := v.get(id)
		t := e.Type()
		if !t.IsValid() {
			t = e.ServerSpecifics.Type
		}
		if keep(e) && types.Has(t) {
			out = append(out, id)
		}
	}
	return out
}

// InitialSyncEnded returns the types whose first download finished.
func (v view) InitialSyncEnded() models.ModelTypeSet {
	return v.kernel().InitialSyncEnded
}

// ProgressMarker returns the download token of t.
func (v view) ProgressMarker(t models.ModelType) string {
	return v.kernel().ProgressMarkers[t]
}

// StoreBirthday returns the server store identity last seen.
func (v view) StoreBirthday() string {
	return v.kernel().StoreBirthday
}

// CacheGUID returns the client identity used with the server.
func (v view) CacheGUID() string {
	return v.kernel().CacheGUID
}

// ReadTransaction is a consistent view of the committed graph. Many read
// transactions may be open at once; none overlaps a writer.
type ReadTransaction struct {
	view
	// owned is false for the borrowed transaction handed to commit
	// observers; its lock belongs to the committing writer.
	owned bool
	done  bool
}

// Close ends the transaction. Calling it more than once is a no-op.
func (r *ReadTransaction) Close() {
	if r.done {
		return
	}
	r.done = true
	if r.owned {
		r.dir.mu.RUnlock()
		r.dir.inflight.Done()
	}
}
