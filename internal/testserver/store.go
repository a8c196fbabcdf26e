// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package testserver

import (
	"cmp"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	// ErrBirthdayMismatch is returned when the client's store birthday is
	// not the account's current one.
	ErrBirthdayMismatch = errors.New("store birthday mismatch")

	// ErrInvalidMarker is returned for a progress marker the server did not
	// issue.
	ErrInvalidMarker = errors.New("invalid progress marker")
)

// serverEntity is the authoritative copy of one item.
type serverEntity struct {
	models.SyncEntity
	// originator is the cache GUID of the client that created the item.
	originator string
}

// account holds everything the server keeps for one user.
type account struct {
	birthday string
	version  int64
	entities map[string]*serverEntity
	// clientIDs maps originator cache GUID + client ID to server ID.
	clientIDs map[string]string
}

func newAccount() *account {
	a := &account{
		birthday:  uuid.NewString(),
		entities:  make(map[string]*serverEntity),
		clientIDs: make(map[string]string),
	}
	a.createPermanentItems()
	return a
}

// createPermanentItems adds the top-level folder of every type and the
// Nigori node. They exist from the first request on, like on a real server.
func (a *account) createPermanentItems() {
	for _, t := range models.AllModelTypes().Types() {
		a.version++
		id := "root-" + t.String()
		a.entities[id] = &serverEntity{SyncEntity: models.SyncEntity{
			ID:        id,
			Version:   a.version,
			UniqueTag: t.RootTag(),
			Name:      t.String(),
			Folder:    t != models.Nigori,
			Specifics: models.EntitySpecifics{Type: t},
		}}
	}
}

// Store is the in-memory state of every account. It is safe for concurrent
// use.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]*account
	batchSize int
}

// NewStore returns an empty store that returns at most batchSize entries per
// GetUpdates call.
func NewStore(batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Store{accounts: make(map[string]*account), batchSize: batchSize}
}

func (s *Store) accountLocked(name string) *account {
	a, ok := s.accounts[name]
	if !ok {
		a = newAccount()
		s.accounts[name] = a
	}
	return a
}

// Birthday returns the current store birthday of the account.
func (s *Store) Birthday(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(name).birthday
}

// Entity returns the server copy of id.
func (s *Store) Entity(name, id string) (models.SyncEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accountLocked(name).entities[id]
	if !ok {
		return models.SyncEntity{}, false
	}
	return e.SyncEntity, true
}

// Entities returns every live server item of t.
func (s *Store) Entities(name string, t models.ModelType) []models.SyncEntity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SyncEntity
	for _, e := range s.accountLocked(name).entities {
		if !e.Deleted && e.Specifics.Type == t && e.UniqueTag == "" {
			out = append(out, e.SyncEntity)
		}
	}
	slices.SortFunc(out, func(a, b models.SyncEntity) int { return cmp.Compare(a.Version, b.Version) })
	return out
}

// Put stores e as if another client had committed it and returns its
// version. It is how tests inject remote changes.
func (s *Store) Put(name string, e models.SyncEntity) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(name)
	a.version++
	e.Version = a.version
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	a.entities[e.ID] = &serverEntity{SyncEntity: e}
	return e.Version
}

// GetUpdates returns entries of the requested types newer than the
// client's progress markers, oldest first.
func (s *Store) GetUpdates(name string, req models.GetUpdatesRequest) (models.GetUpdatesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(name)
	if req.Birthday != "" && req.Birthday != a.birthday {
		return models.GetUpdatesResponse{}, ErrBirthdayMismatch
	}

	since := make(map[models.ModelType]int64)
	for _, t := range req.Types.Types() {
		marker := req.ProgressMarkers[t.String()]
		if marker == "" {
			continue
		}
		v, err := strconv.ParseInt(marker, 10, 64)
		if err != nil || v < 0 || v > a.version {
			return models.GetUpdatesResponse{}, ErrInvalidMarker
		}
		since[t] = v
	}

	var pending []models.SyncEntity
	for _, e := range a.entities {
		t := e.Specifics.Type
		if req.Types.Has(t) && e.Version > since[t] {
			pending = append(pending, e.SyncEntity)
		}
	}
	slices.SortFunc(pending, func(x, y models.SyncEntity) int { return cmp.Compare(x.Version, y.Version) })

	batch := pending
	if len(batch) > s.batchSize {
		batch = pending[:s.batchSize]
	}
	rest := pending[len(batch):]

	markers := make(map[string]string, req.Types.Len())
	for _, t := range req.Types.Types() {
		markers[t.String()] = strconv.FormatInt(markerFor(t, batch, rest, since[t], a.version), 10)
	}

	return models.GetUpdatesResponse{
		Entries:          batch,
		ProgressMarkers:  markers,
		ChangesRemaining: int64(len(rest)),
		Birthday:         a.birthday,
	}, nil
}

// markerFor is the newest version of t the client has seen once it holds
// batch. With nothing of t left on the server it jumps to current.
func markerFor(t models.ModelType, batch, rest []models.SyncEntity, since, current int64) int64 {
	for _, e := range rest {
		if e.Specifics.Type == t {
			marker := since
			for _, b := range batch {
				if b.Specifics.Type == t {
					marker = b.Version
				}
			}
			return marker
		}
	}
	return current
}

// Commit applies a batch of client changes. Each entry is judged on its
// own: a stale version is a conflict and does not affect the other entries.
func (s *Store) Commit(name string, req models.CommitRequest) (models.CommitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accountLocked(name)
	if req.Birthday != "" && req.Birthday != a.birthday {
		return models.CommitResponse{}, ErrBirthdayMismatch
	}

	resp := models.CommitResponse{Results: make([]models.CommitEntryResult, 0, len(req.Entries))}
	for _, in := range req.Entries {
		resp.Results = append(resp.Results, a.commitOne(req.ClientID, in))
	}
	return resp, nil
}

func (a *account) resolve(clientID, id string) string {
	if id == "" {
		return ""
	}
	if serverID, ok := a.clientIDs[clientID+"/"+id]; ok {
		return serverID
	}
	return id
}

func (a *account) commitOne(clientID string, in models.SyncEntity) models.CommitEntryResult {
	result := models.CommitEntryResult{OriginatorClientItemID: in.OriginatorClientItemID}

	if in.Specifics.Type == models.Unspecified {
		result.ResponseType = models.CommitInvalidMessage
		result.ErrorMessage = "entry has no type"
		return result
	}

	in.ParentID = a.resolve(clientID, in.ParentID)
	in.PredecessorID = a.resolve(clientID, in.PredecessorID)
	if in.ParentID != "" && !in.Deleted {
		if p, ok := a.entities[in.ParentID]; !ok || p.Deleted || !p.Folder {
			result.ResponseType = models.CommitConflict
			result.ErrorMessage = "parent does not exist"
			return result
		}
	}

	id := a.resolve(clientID, in.ID)
	existing, found := a.entities[id]

	switch {
	case !found && in.Version == 0:
		a.version++
		localID := in.ID
		in.ID = uuid.NewString()
		in.Version = a.version
		a.clientIDs[clientID+"/"+localID] = in.ID
		a.entities[in.ID] = &serverEntity{SyncEntity: in, originator: clientID}
	case !found:
		result.ResponseType = models.CommitConflict
		result.ErrorMessage = "unknown item"
		return result
	case existing.Version != in.Version && !(in.Version == 0 && existing.originator == clientID):
		result.ResponseType = models.CommitConflict
		result.ID = existing.ID
		result.Version = existing.Version
		return result
	default:
		if existing.UniqueTag != "" {
			// permanent items keep their identity
			in.UniqueTag = existing.UniqueTag
			in.ParentID = existing.ParentID
			in.Deleted = false
		}
		a.version++
		in.ID = existing.ID
		in.Version = a.version
		existing.SyncEntity = in
	}

	result.ResponseType = models.CommitSuccess
	result.ID = in.ID
	result.Version = in.Version
	return result
}

// Clear deletes every item of the account and starts a new birthday.
func (s *Store) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[name] = newAccount()
}
