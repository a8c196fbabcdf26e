// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// DefaultGroups is the group every type is routed to unless told otherwise.
var DefaultGroups = map[models.ModelType]models.ModelSafeGroup{
	models.Bookmarks:   models.GroupUI,
	models.Preferences: models.GroupUI,
	models.Themes:      models.GroupUI,
	models.Extensions:  models.GroupUI,
	models.Apps:        models.GroupUI,
	models.Sessions:    models.GroupUI,
	models.Autofill:    models.GroupDB,
	models.TypedURLs:   models.GroupFile,
	models.Passwords:   models.GroupPassword,
	models.Nigori:      models.GroupPassive,
}

// DefaultRoutingInfo routes enabled through DefaultGroups. Nigori is always
// routed since encryption depends on it.
func DefaultRoutingInfo(enabled models.ModelTypeSet) models.RoutingInfo {
	out := make(models.RoutingInfo)
	for _, t := range enabled.Add(models.Nigori).Types() {
		out[t] = DefaultGroups[t]
	}
	return out
}

// StaticRegistrar is the stock Registrar: a routing table that can be
// replaced at runtime and one worker per group. Passive work runs inline;
// every other group owns a LoopWorker.
type StaticRegistrar struct {
	mu      sync.RWMutex
	routing models.RoutingInfo
	byGroup map[models.ModelSafeGroup]Worker
	workers Workers
}

// NewRegistrar builds a registrar over routing and starts its workers.
func NewRegistrar(routing models.RoutingInfo, log *logger.Logger) *StaticRegistrar {
	r := &StaticRegistrar{
		routing: routing.Clone(),
		byGroup: map[models.ModelSafeGroup]Worker{models.GroupPassive: PassiveWorker{}},
	}
	for _, g := range []models.ModelSafeGroup{models.GroupUI, models.GroupDB, models.GroupFile, models.GroupPassword} {
		r.byGroup[g] = NewLoopWorker(g, log)
	}
	for _, g := range []models.ModelSafeGroup{models.GroupPassive, models.GroupUI, models.GroupDB, models.GroupFile, models.GroupPassword} {
		r.workers.workers = append(r.workers.workers, r.byGroup[g])
	}
	r.workers.Run()
	return r
}

func (r *StaticRegistrar) RoutingInfo() models.RoutingInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routing.Clone()
}

func (r *StaticRegistrar) WorkerFor(t models.ModelType) Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byGroup[r.routing.GroupFor(t)]
}

func (r *StaticRegistrar) Workers() []Worker {
	return append([]Worker(nil), r.workers.workers...)
}

// SetRoutingInfo replaces the routing table.
func (r *StaticRegistrar) SetRoutingInfo(routing models.RoutingInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routing = routing.Clone()
}

// Stop stops every worker.
func (r *StaticRegistrar) Stop() {
	r.workers.Stop()
}
