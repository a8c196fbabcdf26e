// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package syncable

//go:generate mockgen -source=backing.go -destination=../mock/backing_mock.go -package=mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Kernel is the per-directory metadata persisted next to the entities.
type Kernel struct {
	// InitialSyncEnded holds the types whose first download finished.
	InitialSyncEnded models.ModelTypeSet
	// ProgressMarkers are the opaque download tokens per type.
	ProgressMarkers map[models.ModelType]string
	// StoreBirthday is the server store identity; a change means the
	// server data was reset.
	StoreBirthday string
	// NextID is the next local EntityID to hand out.
	NextID models.EntityID
	// CacheGUID identifies this client to the server.
	CacheGUID string
}

// Clone deep-copies k.
func (k Kernel) Clone() Kernel {
	out := k
	out.ProgressMarkers = maps.Clone(k.ProgressMarkers)
	if out.ProgressMarkers == nil {
		out.ProgressMarkers = make(map[models.ModelType]string)
	}
	return out
}

// Snapshot is what a Backing loads on open.
type Snapshot struct {
	Entities []models.Entity
	Kernel   Kernel
}

// SaveSet is one batch of changes flushed to a Backing.
type SaveSet struct {
	// Dirty entities to upsert.
	Dirty []models.Entity
	// Purged entity IDs to delete.
	Purged []models.EntityID
	// Kernel is the full kernel at snapshot time.
	Kernel Kernel
}

// Backing is the durable store behind a Directory.
type Backing interface {
	// Load returns everything persisted so far. An empty store returns a
	// zero Snapshot.
	Load(ctx context.Context) (*Snapshot, error)
	// Save persists a batch atomically.
	Save(ctx context.Context, set SaveSet) error
	// Close releases the store.
	Close() error
}

// MemoryBacking is a Backing that keeps everything in memory. It is used by
// tests and by embedders that do not need persistence across restarts.
type MemoryBacking struct {
	mu       sync.Mutex
	entities map[models.EntityID]models.Entity
	kernel   Kernel
	saves    int
	failSave error
}

// NewMemoryBacking returns an empty in-memory store.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{entities: make(map[models.EntityID]models.Entity)}
}

func (m *MemoryBacking) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{Kernel: m.kernel.Clone()}
	for _, e := range m.entities {
		snap.Entities = append(snap.Entities, e.Clone())
	}
	return snap, nil
}

func (m *MemoryBacking) Save(_ context.Context, set SaveSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSave != nil {
		return m.failSave
	}
	for _, e := range set.Dirty {
		m.entities[e.ID] = e.Clone()
	}
	for _, id := range set.Purged {
		delete(m.entities, id)
	}
	m.kernel = set.Kernel.Clone()
	m.saves++
	return nil
}

func (m *MemoryBacking) Close() error { return nil }

// Saves returns how many batches were persisted.
func (m *MemoryBacking) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Entity returns the persisted copy of id.
func (m *MemoryBacking) Entity(id models.EntityID) (models.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	return e.Clone(), ok
}

// SetFailSave makes every later Save return err; nil restores normal saves.
func (m *MemoryBacking) SetFailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}
