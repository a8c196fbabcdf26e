// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncable

import (
	"slices"

	"github.com/MKhiriev/go-sync-engine/models"
)

// validate checks the graph invariants for every touched entity as the graph
// would look after commit.
func (tx *WriteTransaction) validate() error {
	ids := slices.Clone(tx.order)
	slices.Sort(ids)

	parents := make(map[models.EntityID]struct{})
	for _, id := range ids {
		e := tx.working[id]
		if e.IsRoot() {
			if err := validateRoot(e); err != nil {
				return err
			}
			continue
		}
		if err := tx.validateServerID(e); err != nil {
			return err
		}
		if e.IsDeleted {
			if err := tx.validateTombstone(e); err != nil {
				return err
			}
			continue
		}
		if err := tx.validateHierarchy(e); err != nil {
			return err
		}
		if err := tx.validateSiblings(e); err != nil {
			return err
		}
		parents[e.ParentID] = struct{}{}
	}

	for parent := range parents {
		heads := 0
		for _, child := range tx.childIDs(parent) {
			if tx.get(child).PredecessorID == 0 {
				heads++
			}
		}
		if heads > 1 {
			return invalid(parent, "sibling list has %d heads", heads)
		}
	}
	return nil
}

func validateRoot(e *models.Entity) error {
	if e.ParentID != 0 || e.PredecessorID != 0 || e.SuccessorID != 0 {
		return invalid(e.ID, "root must not be linked")
	}
	if !e.IsDir || e.IsDeleted {
		return invalid(e.ID, "root must be an alive folder")
	}
	return nil
}

func (tx *WriteTransaction) validateServerID(e *models.Entity) error {
	if e.ServerID == "" {
		return nil
	}
	if other, ok := tx.dir.byServerID[e.ServerID]; ok && other != e.ID {
		if o := tx.get(other); o != nil && o.ServerID == e.ServerID {
			return invalid(e.ID, "server id %q already used by %d", e.ServerID, other)
		}
	}
	for _, id := range tx.order {
		if id != e.ID && tx.working[id].ServerID == e.ServerID {
			return invalid(e.ID, "server id %q already used by %d", e.ServerID, id)
		}
	}
	return nil
}

func (tx *WriteTransaction) validateTombstone(e *models.Entity) error {
	if e.PredecessorID != 0 || e.SuccessorID != 0 {
		return invalid(e.ID, "deleted entity is still linked")
	}
	if e.IsDir && tx.HasChildren(e.ID) {
		return invalid(e.ID, "deleted folder still has children")
	}
	return nil
}

func (tx *WriteTransaction) validateHierarchy(e *models.Entity) error {
	limit := len(tx.dir.entities) + len(tx.working) + 1
	cur := e
	for steps := 0; !cur.IsRoot(); steps++ {
		if steps > limit {
			return invalid(e.ID, "ancestor chain does not reach the root")
		}
		parent := tx.get(cur.ParentID)
		switch {
		case parent == nil:
			return invalid(e.ID, "ancestor %d does not exist", cur.ParentID)
		case parent.ID == e.ID:
			return invalid(e.ID, "entity is its own ancestor")
		case parent.IsDeleted:
			return invalid(e.ID, "ancestor %d is deleted", parent.ID)
		case !parent.IsDir:
			return invalid(e.ID, "ancestor %d is not a folder", parent.ID)
		}
		cur = parent
	}
	return nil
}

func (tx *WriteTransaction) validateSiblings(e *models.Entity) error {
	if e.PredecessorID != 0 {
		p := tx.get(e.PredecessorID)
		switch {
		case p == nil || p.IsDeleted:
			return invalid(e.ID, "predecessor %d is missing", e.PredecessorID)
		case p.ParentID != e.ParentID:
			return invalid(e.ID, "predecessor %d has a different parent", p.ID)
		case p.SuccessorID != e.ID:
			return invalid(e.ID, "predecessor %d does not link back", p.ID)
		}
	}
	if e.SuccessorID != 0 {
		s := tx.get(e.SuccessorID)
		switch {
		case s == nil || s.IsDeleted:
			return invalid(e.ID, "successor %d is missing", e.SuccessorID)
		case s.ParentID != e.ParentID:
			return invalid(e.ID, "successor %d has a different parent", s.ID)
		case s.PredecessorID != e.ID:
			return invalid(e.ID, "successor %d does not link back", s.ID)
		}
	}
	return nil
}
