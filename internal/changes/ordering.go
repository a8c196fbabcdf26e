// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package changes

import (
	"errors"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// ErrOrdering is wrapped by every CheckOrdering failure.
var ErrOrdering = errors.New("change records out of order")

// CheckOrdering verifies that records, built from mutations, never reference
// an item before that item's own record: a deletion precedes the deletion of
// its parent, and an addition or update follows the addition or update of
// its parent and predecessor.
func CheckOrdering(records models.ChangeRecordList, mutations syncable.Mutations) error {
	byID := make(map[models.EntityID]syncable.Mutation, len(mutations))
	for _, m := range mutations {
		byID[m.Mutated.ID] = m
	}
	pos := make(map[models.EntityID]int, len(records))
	for i, r := range records {
		pos[r.ID] = i
	}

	seenLive := false
	for i, r := range records {
		m, ok := byID[r.ID]
		if !ok {
			return fmt.Errorf("%w: record %d has no mutation", ErrOrdering, r.ID)
		}

		if r.Action == models.ActionDelete {
			if seenLive {
				return fmt.Errorf("%w: deletion of %d after an addition or update", ErrOrdering, r.ID)
			}
			if m.Original == nil {
				return fmt.Errorf("%w: deletion of %d has no original", ErrOrdering, r.ID)
			}
			if j, ok := pos[m.Original.ParentID]; ok && records[j].Action == models.ActionDelete && j < i {
				return fmt.Errorf("%w: parent %d deleted before child %d", ErrOrdering, m.Original.ParentID, r.ID)
			}
			continue
		}

		seenLive = true
		for _, dep := range []models.EntityID{m.Mutated.ParentID, m.Mutated.PredecessorID} {
			j, ok := pos[dep]
			if !ok || records[j].Action == models.ActionDelete {
				continue
			}
			if j > i {
				return fmt.Errorf("%w: %d emitted before its dependency %d", ErrOrdering, r.ID, dep)
			}
		}
	}
	return nil
}
