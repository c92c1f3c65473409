package runtime

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// RunFunc hosts one worker until its context is cancelled or it decides
// to stop. The in-process runtime calls it in a goroutine per worker.
type RunFunc func(ctx context.Context, def WorkerDef) error

type coopWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// CoopRuntime hosts workers as goroutines inside the fleet process.
// Each worker gets its own derived context so one can be stopped
// without touching the rest.
type CoopRuntime struct {
	defs map[string]WorkerDef
	run  RunFunc

	mu      sync.Mutex
	workers map[string]*coopWorker
}

// NewCoop creates an in-process runtime over the given roster.
func NewCoop(defs []WorkerDef, run RunFunc) *CoopRuntime {
	return &CoopRuntime{
		defs:    defMap(defs),
		run:     run,
		workers: make(map[string]*coopWorker),
	}
}

// Start launches a worker goroutine. Starting an already-running worker
// is a no-op.
func (r *CoopRuntime) Start(ctx context.Context, id string) error {
	def, ok := r.defs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[id]; ok {
		select {
		case <-w.done:
			// Finished; fall through and restart.
		default:
			return nil
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &coopWorker{cancel: cancel, done: make(chan struct{})}
	r.workers[id] = w

	go func() {
		defer close(w.done)
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("WARNING: worker %s goroutine panicked: %v", id, rec)
			}
		}()
		if err := r.run(wctx, def); err != nil && wctx.Err() == nil {
			log.Printf("WARNING: worker %s exited: %v", id, err)
		}
	}()

	return nil
}

// StartAll launches every worker in the roster.
func (r *CoopRuntime) StartAll(ctx context.Context) error {
	for id := range r.defs {
		if err := r.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels a worker's context and waits for its goroutine to return.
func (r *CoopRuntime) Stop(id string) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}

// StopAll stops every running worker.
func (r *CoopRuntime) StopAll() error {
	r.mu.Lock()
	workers := r.workers
	r.workers = make(map[string]*coopWorker)
	r.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		<-w.done
	}
	return nil
}

// IsAlive reports whether the worker's goroutine is still running.
func (r *CoopRuntime) IsAlive(id string) bool {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// AgentIDs returns the roster.
func (r *CoopRuntime) AgentIDs() []string {
	return idsOf(r.defs)
}

// EnsureRunning restarts a worker whose goroutine has finished.
func (r *CoopRuntime) EnsureRunning(ctx context.Context, id string) error {
	if r.IsAlive(id) {
		return nil
	}
	return r.Start(ctx, id)
}
