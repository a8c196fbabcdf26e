// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package syncable holds the entity graph and the transaction layer in front
// of it.
//
// Every read and write goes through a scoped transaction. Write transactions
// are strictly serialized; read transactions run concurrently with each
// other but never alongside an active writer. Commits are validated before
// they become visible and are either applied in full or rolled back.
//
// Durability is paced by the caller: commits only mark entities dirty, and
// [Directory.SaveChanges] flushes them to the [Backing].
package syncable

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Mutation is the before/after pair of one entity touched by a commit.
// Original is nil for entities created by the transaction.
type Mutation struct {
	Original *models.Entity
	Mutated  models.Entity
}

// Types returns the model types the mutation touches.
func (m Mutation) Types() models.ModelTypeSet {
	s := models.NewModelTypeSet(m.Mutated.Type())
	if m.Original != nil {
		s = s.Add(m.Original.Type())
	}
	return s
}

// Mutations are the entities touched by one commit, ordered by EntityID.
type Mutations []Mutation

// Types returns the union of the types of every mutation.
func (ms Mutations) Types() models.ModelTypeSet {
	var s models.ModelTypeSet
	for _, m := range ms {
		s = s.Union(m.Types())
	}
	return s
}

// CommitObserver receives commit notifications on two channels.
//
// HandleCommit runs while the committed snapshot is held under a shared
// lock; it may read through tx but must not block or open transactions.
// HandleTransactionComplete runs after every lock is released. Calls to
// HandleTransactionComplete are issued in commit order.
type CommitObserver interface {
	HandleCommit(tx *ReadTransaction, mutations Mutations)
	HandleTransactionComplete(types models.ModelTypeSet)
}

// Directory is the in-memory entity graph backed by a durable store.
type Directory struct {
	name    string
	backing Backing
	log     *logger.Logger

	// writers is the single write slot; holding it is a prerequisite for
	// mu.Lock so commit can downgrade without a writer slipping in.
	writers *semaphore.Weighted

	mu         sync.RWMutex
	opened     bool
	closed     bool
	entities   map[models.EntityID]*models.Entity
	byServerID map[string]models.EntityID
	byTag      map[string]models.EntityID
	children   map[models.EntityID]map[models.EntityID]struct{}
	kernel     Kernel
	observer   CommitObserver

	// dirtyMu guards the dirty bookkeeping and the failure state so
	// SaveChanges never needs the graph lock exclusively.
	dirtyMu     sync.Mutex
	generation  uint64
	dirty       map[models.EntityID]uint64
	purged      map[models.EntityID]uint64
	kernelDirty uint64
	failed      error

	saveMu sync.Mutex

	completeMu   sync.Mutex
	completeCond *sync.Cond
	commitSeq    uint64
	completedSeq uint64

	inflight sync.WaitGroup
}

// NewDirectory returns an unopened directory over backing.
func NewDirectory(name string, backing Backing, log *logger.Logger) *Directory {
	d := &Directory{
		name:       name,
		backing:    backing,
		log:        log,
		writers:    semaphore.NewWeighted(1),
		entities:   make(map[models.EntityID]*models.Entity),
		byServerID: make(map[string]models.EntityID),
		byTag:      make(map[string]models.EntityID),
		children:   make(map[models.EntityID]map[models.EntityID]struct{}),
		dirty:      make(map[models.EntityID]uint64),
		purged:     make(map[models.EntityID]uint64),
	}
	d.completeCond = sync.NewCond(&d.completeMu)
	return d
}

// Open loads the graph from the backing store. The root entity is created
// on first open. A load failure leaves the directory unusable and is
// reported as ErrStoreUnavailable.
func (d *Directory) Open(ctx context.Context) error {
	snap, err := d.backing.Load(ctx)
	if err != nil {
		d.log.Err(err).Str("func", "Directory.Open").Str("directory", d.name).
			Msg("failed to load entity store")
		d.setFailed(err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.kernel = snap.Kernel.Clone()
	var maxID models.EntityID
	for i := range snap.Entities {
		e := snap.Entities[i].Clone()
		d.indexLocked(&e)
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()

	if _, ok := d.entities[models.RootID]; !ok {
		root := models.Entity{ID: models.RootID, ServerID: "r", IsDir: true}
		d.indexLocked(&root)
		d.generation++
		d.dirty[models.RootID] = d.generation
		maxID = max(maxID, models.RootID)
	}
	if d.kernel.NextID <= maxID {
		d.kernel.NextID = maxID + 1
		d.kernelDirty = d.generation + 1
	}
	if d.kernel.CacheGUID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate cache guid: %w", err)
		}
		d.kernel.CacheGUID = id.String()
		d.kernelDirty = d.generation + 1
	}
	if d.kernelDirty > d.generation {
		d.generation = d.kernelDirty
	}

	d.opened = true
	d.log.Info().Str("func", "Directory.Open").Str("directory", d.name).
		Int("entities", len(d.entities)).Msg("directory opened")
	return nil
}

// SetCommitObserver registers the single commit observer. It must be called
// before the first write transaction.
func (d *Directory) SetCommitObserver(o CommitObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

// BeginRead opens a read transaction. Close must be called on it.
func (d *Directory) BeginRead(ctx context.Context) (*ReadTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	if err := d.usableLocked(); err != nil {
		d.mu.RUnlock()
		return nil, err
	}
	d.inflight.Add(1)
	return &ReadTransaction{view: view{dir: d}, owned: true}, nil
}

// BeginWrite opens a write transaction, blocking until the write slot is
// free or ctx is done. Source names the writer in logs.
func (d *Directory) BeginWrite(ctx context.Context, source string) (*WriteTransaction, error) {
	if err := d.Failed(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := d.writers.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if err := d.usableLocked(); err != nil {
		d.mu.Unlock()
		d.writers.Release(1)
		return nil, err
	}
	if err := d.Failed(); err != nil {
		d.mu.Unlock()
		d.writers.Release(1)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d.inflight.Add(1)
	return newWriteTransaction(d, source), nil
}

func (d *Directory) usableLocked() error {
	if d.closed {
		return ErrClosed
	}
	if !d.opened {
		return ErrStoreUnavailable
	}
	return nil
}

// Failed returns the store failure that disabled writes, if any.
func (d *Directory) Failed() error {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	return d.failed
}

func (d *Directory) setFailed(err error) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	if d.failed == nil {
		d.failed = err
	}
}

// SaveChanges flushes dirty entities and kernel changes to the backing store.
// The graph is only held under a shared lock while the batch is snapshotted;
// writing happens without any graph lock. Entities dirtied again while the
// write was in flight stay dirty for the next call. A write failure marks
// the store failed and blocks further write transactions.
func (d *Directory) SaveChanges(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	if err := d.Failed(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d.mu.RLock()
	if !d.opened {
		d.mu.RUnlock()
		return ErrStoreUnavailable
	}

	d.dirtyMu.Lock()
	if len(d.dirty) == 0 && len(d.purged) == 0 && d.kernelDirty == 0 {
		d.dirtyMu.Unlock()
		d.mu.RUnlock()
		return nil
	}
	dirtyGen := make(map[models.EntityID]uint64, len(d.dirty))
	set := SaveSet{Kernel: d.kernel.Clone()}
	for id, gen := range d.dirty {
		dirtyGen[id] = gen
		if e, ok := d.entities[id]; ok {
			set.Dirty = append(set.Dirty, e.Clone())
		}
	}
	purgedGen := make(map[models.EntityID]uint64, len(d.purged))
	for id, gen := range d.purged {
		purgedGen[id] = gen
		set.Purged = append(set.Purged, id)
	}
	kernelGen := d.kernelDirty
	d.dirtyMu.Unlock()
	d.mu.RUnlock()

	sort.Slice(set.Dirty, func(i, j int) bool { return set.Dirty[i].ID < set.Dirty[j].ID })
	sort.Slice(set.Purged, func(i, j int) bool { return set.Purged[i] < set.Purged[j] })

	if err := d.backing.Save(ctx, set); err != nil {
		d.log.Err(err).Str("func", "Directory.SaveChanges").Str("directory", d.name).
			Int("dirty", len(set.Dirty)).Msg("failed to persist changes")
		d.setFailed(err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d.dirtyMu.Lock()
	for id, gen := range dirtyGen {
		if d.dirty[id] == gen {
			delete(d.dirty, id)
		}
	}
	for id, gen := range purgedGen {
		if d.purged[id] == gen {
			delete(d.purged, id)
		}
	}
	if d.kernelDirty == kernelGen {
		d.kernelDirty = 0
	}
	d.dirtyMu.Unlock()

	d.log.Debug().Str("func", "Directory.SaveChanges").Str("directory", d.name).
		Int("saved", len(set.Dirty)).Int("purged", len(set.Purged)).Msg("changes saved")
	return nil
}

// HasDirty reports whether anything is waiting for SaveChanges.
func (d *Directory) HasDirty() bool {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	return len(d.dirty) > 0 || len(d.purged) > 0 || d.kernelDirty != 0
}

// PurgeTypes removes every entity of types from the graph and resets their
// download state. No change notifications are sent: the types are disabled
// and nobody observes them anymore.
func (d *Directory) PurgeTypes(ctx context.Context, types models.ModelTypeSet) (int, error) {
	if types.Empty() {
		return 0, nil
	}
	if err := d.writers.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer d.writers.Release(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return 0, err
	}

	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	d.generation++

	removed := make(map[models.EntityID]*models.Entity)
	for id, e := range d.entities {
		t := e.Type()
		if !t.IsValid() {
			t = e.ServerSpecifics.Type
		}
		if id == models.RootID || !types.Has(t) {
			continue
		}
		removed[id] = e
	}
	for id, e := range removed {
		d.unindexLocked(e)
		delete(d.dirty, id)
		d.purged[id] = d.generation
	}
	d.relinkAroundLocked(removed)
	for _, t := range types.Types() {
		delete(d.kernel.ProgressMarkers, t)
	}
	d.kernel.InitialSyncEnded = d.kernel.InitialSyncEnded.Difference(types)
	d.kernelDirty = d.generation

	d.log.Info().Str("func", "Directory.PurgeTypes").Str("types", types.String()).
		Int("purged", len(removed)).Msg("purged disabled types")
	return len(removed), nil
}

// Close performs a final SaveChanges, waits for in-flight transactions, and
// closes the backing store. Later calls are no-ops.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	wasOpen := d.opened
	d.mu.Unlock()

	var saveErr error
	if wasOpen && d.Failed() == nil {
		saveErr = d.SaveChanges(ctx)
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()

	if err := d.backing.Close(); err != nil {
		return fmt.Errorf("close backing: %w", err)
	}
	return saveErr
}

// indexLocked inserts e into the graph and its indexes.
func (d *Directory) indexLocked(e *models.Entity) {
	d.entities[e.ID] = e
	if e.ServerID != "" {
		d.byServerID[e.ServerID] = e.ID
	}
	if e.UniqueTag != "" {
		d.byTag[e.UniqueTag] = e.ID
	}
	if e.ID != models.RootID && !e.IsDeleted {
		set, ok := d.children[e.ParentID]
		if !ok {
			set = make(map[models.EntityID]struct{})
			d.children[e.ParentID] = set
		}
		set[e.ID] = struct{}{}
	}
}

// unindexLocked removes e from the graph and its indexes.
func (d *Directory) unindexLocked(e *models.Entity) {
	delete(d.entities, e.ID)
	if d.byServerID[e.ServerID] == e.ID {
		delete(d.byServerID, e.ServerID)
	}
	if e.UniqueTag != "" && d.byTag[e.UniqueTag] == e.ID {
		delete(d.byTag, e.UniqueTag)
	}
	if set, ok := d.children[e.ParentID]; ok {
		delete(set, e.ID)
		if len(set) == 0 {
			delete(d.children, e.ParentID)
		}
	}
}

// relinkAroundLocked repairs sibling links of surviving entities that
// pointed at removed ones. Callers hold mu and dirtyMu.
func (d *Directory) relinkAroundLocked(removed map[models.EntityID]*models.Entity) {
	for id, e := range d.entities {
		pred, succ := e.PredecessorID, e.SuccessorID
		for r, ok := removed[pred]; ok; r, ok = removed[pred] {
			pred = r.PredecessorID
		}
		for r, ok := removed[succ]; ok; r, ok = removed[succ] {
			succ = r.SuccessorID
		}
		if pred != e.PredecessorID || succ != e.SuccessorID {
			e.PredecessorID, e.SuccessorID = pred, succ
			d.dirty[id] = d.generation
		}
	}
}

// applyLocked swaps the committed copies into the graph and marks them
// dirty. Callers hold mu exclusively.
func (d *Directory) applyLocked(working map[models.EntityID]*models.Entity, kernel *Kernel) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	d.generation++

	for id, e := range working {
		if old, ok := d.entities[id]; ok {
			d.unindexLocked(old)
		}
		d.indexLocked(e)
		d.dirty[id] = d.generation
		delete(d.purged, id)
	}
	if kernel != nil {
		d.kernel = *kernel
		d.kernelDirty = d.generation
	}
}

// notifyComplete calls HandleTransactionComplete for commit seq once every
// earlier commit has been notified.
func (d *Directory) notifyComplete(seq uint64, o CommitObserver, types models.ModelTypeSet) {
	d.completeMu.Lock()
	for d.completedSeq+1 != seq {
		d.completeCond.Wait()
	}
	d.completeMu.Unlock()

	if o != nil && !types.Empty() {
		d.safeCall("HandleTransactionComplete", func() { o.HandleTransactionComplete(types) })
	}

	d.completeMu.Lock()
	d.completedSeq = seq
	d.completeCond.Broadcast()
	d.completeMu.Unlock()
}

func (d *Directory) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("func", "Directory."+name).Str("directory", d.name).
				Interface("panic", r).Msg("commit observer panicked")
		}
	}()
	fn()
}
