// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package changes turns the mutations of one committed write transaction into
// ordered change records, one list per model type.
//
// Within a list, records follow this order:
//
//  1. deletions, children before their parents;
//  2. updates whose parent and predecessor are not part of the list;
//  3. additions whose parent and predecessor are not part of the list;
//  4. the remaining updates and additions, in rounds, each one after the
//     records of its parent and predecessor.
//
// A consumer walking a list front to back therefore never meets a reference
// to an item it has not seen yet. A deletion may orphan a node that a later
// update moves elsewhere; consumers must accept that transient state.
package changes

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Decrypter recovers plaintext specifics. Build uses it so observers never
// see ciphertext for types the client can read.
type Decrypter interface {
	Decrypt(s models.EntitySpecifics) (models.EntitySpecifics, error)
}

type entry struct {
	record   models.ChangeRecord
	parent   models.EntityID
	previous models.EntityID
}

// Build classifies mutations and orders them per model type. Mutations that
// leave no visible trace (created then deleted, or only sync metadata
// changed) produce no record. dec may be nil.
func Build(mutations syncable.Mutations, dec Decrypter) map[models.ModelType]models.ChangeRecordList {
	byType := make(map[models.ModelType][]entry)
	for _, m := range mutations {
		e, ok := classify(m, dec)
		if !ok {
			continue
		}
		t := e.record.Specifics.Type
		byType[t] = append(byType[t], e)
	}

	out := make(map[models.ModelType]models.ChangeRecordList, len(byType))
	for t, entries := range byType {
		out[t] = order(entries)
	}
	return out
}

func classify(m syncable.Mutation, dec Decrypter) (entry, bool) {
	mutated := m.Mutated
	if mutated.IsRoot() {
		return entry{}, false
	}
	existedBefore := m.Original != nil && !m.Original.IsDeleted
	existsNow := !mutated.IsDeleted

	var e entry
	switch {
	case !existedBefore && !existsNow:
		return entry{}, false
	case existedBefore && !existsNow:
		e = entry{
			record: models.ChangeRecord{ID: mutated.ID, Action: models.ActionDelete, Specifics: m.Original.Specifics.Clone()},
			parent: m.Original.ParentID,
		}
	case !existedBefore && existsNow:
		e = entry{
			record:   models.ChangeRecord{ID: mutated.ID, Action: models.ActionAdd, Specifics: mutated.Specifics.Clone()},
			parent:   mutated.ParentID,
			previous: mutated.PredecessorID,
		}
	default:
		if !visiblyDiffers(m.Original, &mutated) {
			return entry{}, false
		}
		e = entry{
			record:   models.ChangeRecord{ID: mutated.ID, Action: models.ActionUpdate, Specifics: mutated.Specifics.Clone()},
			parent:   mutated.ParentID,
			previous: mutated.PredecessorID,
		}
	}

	if !e.record.Specifics.Type.IsValid() {
		return entry{}, false
	}
	decrypt(&e.record, dec)
	return e, true
}

// visiblyDiffers ignores sync metadata such as versions, unsynced flags and
// the server-side view of the entity.
func visiblyDiffers(a, b *models.Entity) bool {
	return a.Title != b.Title ||
		a.IsDir != b.IsDir ||
		a.ParentID != b.ParentID ||
		a.PredecessorID != b.PredecessorID ||
		!a.Specifics.Equal(b.Specifics)
}

func decrypt(r *models.ChangeRecord, dec Decrypter) {
	if dec == nil || !r.Specifics.IsEncrypted() {
		return
	}
	plain, err := dec.Decrypt(r.Specifics)
	if err != nil {
		return
	}
	r.Specifics = plain
	if plain.Type != models.Passwords {
		return
	}
	var data models.PasswordSpecificsData
	if err := json.Unmarshal(plain.Payload, &data); err == nil {
		r.Extra = &models.ExtraPasswordChangeRecordData{Unencrypted: data}
	}
}

func order(entries []entry) models.ChangeRecordList {
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.record.ID, b.record.ID) })

	deletes := make(map[models.EntityID]entry)
	live := make(map[models.EntityID]struct{})
	for _, e := range entries {
		if e.record.Action == models.ActionDelete {
			deletes[e.record.ID] = e
		} else {
			live[e.record.ID] = struct{}{}
		}
	}

	out := make(models.ChangeRecordList, 0, len(entries))

	// 1. deletions, deepest first
	depth := func(e entry) int {
		d := 0
		for p, ok := deletes[e.parent]; ok && d <= len(deletes); p, ok = deletes[p.parent] {
			d++
		}
		return d
	}
	var dels []entry
	for _, e := range entries {
		if e.record.Action == models.ActionDelete {
			dels = append(dels, e)
		}
	}
	slices.SortStableFunc(dels, func(a, b entry) int { return depth(b) - depth(a) })
	for _, e := range dels {
		out = append(out, e.record)
	}

	stable := func(e entry) bool {
		_, parentPending := live[e.parent]
		_, previousPending := live[e.previous]
		return !parentPending && !previousPending
	}

	// 2. and 3. updates, then additions, anchored outside the list
	var rest []entry
	var anchored []models.EntityID
	for _, action := range []models.ChangeAction{models.ActionUpdate, models.ActionAdd} {
		for _, e := range entries {
			if e.record.Action != action {
				continue
			}
			if stable(e) {
				out = append(out, e.record)
				anchored = append(anchored, e.record.ID)
			} else {
				rest = append(rest, e)
			}
		}
	}
	for _, id := range anchored {
		delete(live, id)
	}

	// 4. rounds over whatever depends on records of this list
	for len(rest) > 0 {
		var next []entry
		var emitted []models.EntityID
		for _, e := range rest {
			if stable(e) {
				out = append(out, e.record)
				emitted = append(emitted, e.record.ID)
			} else {
				next = append(next, e)
			}
		}
		if len(emitted) == 0 {
			// unreachable for a validated graph; keep every record anyway
			for _, e := range next {
				out = append(out, e.record)
			}
			break
		}
		for _, id := range emitted {
			delete(live, id)
		}
		rest = next
	}
	return out
}
