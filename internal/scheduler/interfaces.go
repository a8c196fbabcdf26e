// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package scheduler decides when sync cycles run.
//
// The scheduler has two modes. In configuration mode only explicitly
// requested configuration jobs run, each fetching just the types it names.
// In normal mode nudges and periodic polls drive full cycles over every
// enabled type. Requests that do not belong to the current mode are
// rejected with ErrWrongMode.
//
// All jobs run one at a time on a single goroutine.
package scheduler

import (
	"context"

	"github.com/MKhiriev/go-sync-engine/internal/syncer"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Runner executes the jobs the scheduler hands out. *syncer.Syncer
// implements it.
type Runner interface {
	SyncShare(ctx context.Context, job syncer.Job) (models.SyncSessionSnapshot, error)
	ClearServerData(ctx context.Context) error
	PurgeDisabledTypes(ctx context.Context, enabled models.ModelTypeSet) (models.ModelTypeSet, error)
	InitialSyncEnded(ctx context.Context) (models.ModelTypeSet, error)
	ApplyPending(ctx context.Context, types models.ModelTypeSet) (models.SyncSessionSnapshot, error)
}

// Listener receives the outcome of every sync cycle. Calls are made from
// the scheduler goroutine, one at a time.
type Listener interface {
	// OnSyncCycleStarted is called before every cycle and reapply pass.
	OnSyncCycleStarted()
	OnSyncCycleCompleted(snap models.SyncSessionSnapshot)
	// OnUpdatesReapplied ends a pass started by ScheduleReapply in
	// configuration mode. No network round trip took place.
	OnUpdatesReapplied(snap models.SyncSessionSnapshot)
	OnSyncerError(kind models.SyncerError, err error)
}

// Mode is the scheduling mode.
type Mode int

const (
	ModeConfiguration Mode = iota
	ModeNormal
)

func (m Mode) String() string {
	if m == ModeNormal {
		return "normal"
	}
	return "configuration"
}
