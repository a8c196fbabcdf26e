// Package workers runs change application on behalf of model-safe groups.
//
// Each data type is routed to exactly one ModelSafeGroup, and each group is
// served by exactly one Worker. The syncer never applies updates for a type
// directly: it hands a closure to the type's worker, so embedders can keep
// per-group data structures single-threaded.
package workers

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/models"
)

// Worker executes work for one model-safe group.
//
// Do must not return before fn has finished. Implementations either run fn
// inline or hand it to a dedicated goroutine and wait.
//
// Example implementation:
//
//	type inlineWorker struct{}
//
//	func (inlineWorker) Group() models.ModelSafeGroup { return models.GroupPassive }
//
//	func (inlineWorker) Do(ctx context.Context, fn func(context.Context) error) error {
//	    return fn(ctx)
//	}
type Worker interface {
	Group() models.ModelSafeGroup
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registrar tells the engine which types are enabled and which worker
// applies each of them.
type Registrar interface {
	// RoutingInfo returns a copy of the current routing table.
	RoutingInfo() models.RoutingInfo
	// WorkerFor returns the worker of the group t is routed to.
	WorkerFor(t models.ModelType) Worker
	// Workers returns every worker of the registrar.
	Workers() []Worker
}
