package workers

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// ErrWorkerStopped is returned by Do once the worker has been stopped.
var ErrWorkerStopped = errors.New("worker stopped")

// PassiveWorker runs work inline on the caller's goroutine.
type PassiveWorker struct{}

func (PassiveWorker) Group() models.ModelSafeGroup { return models.GroupPassive }

func (PassiveWorker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// LoopWorker runs every piece of work on one dedicated goroutine, one at a
// time, in submission order.
type LoopWorker struct {
	group models.ModelSafeGroup
	log   *logger.Logger

	tasks    chan task
	quit     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopped  bool
	loopDone chan struct{}
}

// NewLoopWorker returns a stopped worker for group; call Run to start it.
func NewLoopWorker(group models.ModelSafeGroup, log *logger.Logger) *LoopWorker {
	return &LoopWorker{
		group:    group,
		log:      log,
		tasks:    make(chan task),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func (w *LoopWorker) Group() models.ModelSafeGroup { return w.group }

// Run starts the worker goroutine. Calling it again is a no-op.
func (w *LoopWorker) Run() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.loop()
}

func (w *LoopWorker) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.quit:
			return
		case t := <-w.tasks:
			t.done <- w.run(t)
		}
	}
}

func (w *LoopWorker) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("func", "LoopWorker.run").Str("group", w.group.String()).
				Interface("panic", r).Msg("worker task panicked")
			err = errors.New("worker task panicked")
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.fn(t.ctx)
}

// Do submits fn and waits for it to finish.
func (w *LoopWorker) Do(ctx context.Context, fn func(context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case w.tasks <- t:
	case <-w.quit:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.done
}

// Stop ends the worker goroutine after the running task, if any.
func (w *LoopWorker) Stop() {
	w.startMu.Lock()
	if w.stopped {
		w.startMu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.quit)
	w.startMu.Unlock()

	if started {
		<-w.loopDone
	}
}

// Workers groups the workers of a registrar so they start and stop together.
type Workers struct {
	workers []Worker
}

// Run starts every worker that needs a goroutine.
func (w *Workers) Run() {
	for _, worker := range w.workers {
		if r, ok := worker.(interface{ Run() }); ok {
			r.Run()
		}
	}
}

// Stop stops every worker that owns a goroutine.
func (w *Workers) Stop() {
	for _, worker := range w.workers {
		if s, ok := worker.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
}

// ForEachGroup splits types by the group they are routed to and runs fn for
// every group on that group's worker. Groups run concurrently; the first
// error cancels the rest.
func ForEachGroup(ctx context.Context, r Registrar, types models.ModelTypeSet,
	fn func(ctx context.Context, group models.ModelSafeGroup, types models.ModelTypeSet) error,
) error {
	routing := r.RoutingInfo()
	byGroup := make(map[models.ModelSafeGroup]models.ModelTypeSet)
	for _, t := range types.Types() {
		g := routing.GroupFor(t)
		byGroup[g] = byGroup[g].Add(t)
	}

	g, gctx := errgroup.WithContext(ctx)
	for group, groupTypes := range byGroup {
		worker := r.WorkerFor(groupTypes.Types()[0])
		g.Go(func() error {
			return worker.Do(gctx, func(ctx context.Context) error {
				return fn(ctx, group, groupTypes)
			})
		})
	}
	return g.Wait()
}
