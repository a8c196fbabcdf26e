// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"maps"
	"slices"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/changes"
	"github.com/MKhiriev/go-sync-engine/internal/crypto"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/status"
	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

// event is one deferred notification.
type event func(o Observer)

// dispatcher delivers events to observers in the order they were posted,
// on its own goroutine.
type dispatcher struct {
	logger *logger.Logger

	mu        sync.Mutex
	observers []Observer
	queue     []event
	closed    bool

	signal chan struct{}
	done   chan struct{}
}

func newDispatcher(log *logger.Logger) *dispatcher {
	d := &dispatcher{
		logger: log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) add(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.observers, o) {
		d.observers = append(d.observers, o)
	}
}

func (d *dispatcher) remove(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = slices.DeleteFunc(d.observers, func(x Observer) bool { return x == o })
}

// post queues ev. Events posted after close are dropped.
func (d *dispatcher) post(ev event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.signal
			continue
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		observers := slices.Clone(d.observers)
		d.mu.Unlock()

		for _, o := range observers {
			d.deliver(o, ev)
		}
	}
}

func (d *dispatcher) deliver(o Observer, ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("func", "dispatcher.deliver").Interface("panic", r).
				Msg("observer panicked")
		}
	}()
	ev(o)
}

// close delivers what is queued and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	<-d.done
}

// notifier turns directory commits into observer notifications. It is the
// directory's CommitObserver.
type notifier struct {
	crypto     *crypto.Cryptographer
	status     *status.Aggregator
	enabled    func() models.ModelTypeSet
	dispatcher *dispatcher
	logger     *logger.Logger

	mu       sync.RWMutex
	changeOs []ChangeObserver
}

// newNotifier returns a notifier without keys. Set crypto before attaching
// it to a directory. With status and enabled set, every commit refreshes
// the unsynced count of the enabled types.
func newNotifier(d *dispatcher, log *logger.Logger) *notifier {
	return &notifier{dispatcher: d, logger: log}
}

func (n *notifier) addChangeObserver(o ChangeObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !slices.Contains(n.changeOs, o) {
		n.changeOs = append(n.changeOs, o)
	}
}

func (n *notifier) removeChangeObserver(o ChangeObserver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changeOs = slices.DeleteFunc(n.changeOs, func(x ChangeObserver) bool { return x == o })
}

// HandleCommit builds the ordered records of every affected type and hands
// them to the change observers, types in ascending order.
func (n *notifier) HandleCommit(tx *syncable.ReadTransaction, mutations syncable.Mutations) {
	if n.status != nil && n.enabled != nil {
		n.status.SetUnsyncedCount(len(tx.UnsyncedIDs(n.enabled().Add(models.Nigori))))
	}

	n.mu.RLock()
	observers := slices.Clone(n.changeOs)
	n.mu.RUnlock()
	if len(observers) == 0 {
		return
	}

	byType := changes.Build(mutations, n.crypto)
	public := newReadTransaction(tx, n.crypto)
	for _, t := range slices.Sorted(maps.Keys(byType)) {
		records := byType[t]
		if len(records) == 0 {
			continue
		}
		n.logger.Debug().Str("func", "notifier.HandleCommit").Str("model_type", t.String()).
			Int("records", len(records)).Msg("delivering changes")
		for _, o := range observers {
			n.safeApply(o, t, public, records.Clone())
		}
	}
}

func (n *notifier) safeApply(o ChangeObserver, t models.ModelType, tx *ReadTransaction, records models.ChangeRecordList) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Str("func", "notifier.safeApply").Str("model_type", t.String()).
				Interface("panic", r).Msg("change observer panicked")
		}
	}()
	o.OnChangesApplied(t, tx, records)
}

// HandleTransactionComplete queues OnChangesComplete for every affected
// type. Commits reach this method in commit order.
func (n *notifier) HandleTransactionComplete(types models.ModelTypeSet) {
	for _, t := range types.Types() {
		n.dispatcher.post(func(o Observer) { o.OnChangesComplete(t) })
	}
}
