package runtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aristath/fleet/internal/queue"
)

// LazyConfig parameterizes on-demand worker management.
type LazyConfig struct {
	Delegate      Mode     // Backend workers actually run on; in_process by default
	AlwaysOn      []string // Started eagerly, never idled out
	IdleShutdown  time.Duration
	CheckInterval time.Duration
}

// LazyOption customizes a LazyRuntime.
type LazyOption func(*LazyRuntime)

// WithLazyClock injects a clock for tests.
func WithLazyClock(now func() time.Time) LazyOption {
	return func(r *LazyRuntime) { r.now = now }
}

// LazyRuntime wraps another runtime, starting workers when the queue
// holds work for their role and stopping them after a period of
// inactivity. Always-on workers are exempt from idle shutdown.
type LazyRuntime struct {
	delegate Runtime
	defs     map[string]WorkerDef
	queue    *queue.Queue
	cfg      LazyConfig
	now      func() time.Time

	alwaysOn map[string]bool

	mu          sync.Mutex
	startedAt   map[string]time.Time
	stop        chan struct{}
	monitorDone chan struct{}
}

// NewLazy wraps a delegate runtime with demand-driven lifecycle
// management over the given roster.
func NewLazy(delegate Runtime, defs []WorkerDef, q *queue.Queue, cfg LazyConfig, opts ...LazyOption) *LazyRuntime {
	if cfg.IdleShutdown <= 0 {
		cfg.IdleShutdown = 10 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	always := make(map[string]bool, len(cfg.AlwaysOn))
	for _, id := range cfg.AlwaysOn {
		always[id] = true
	}
	r := &LazyRuntime{
		delegate:  delegate,
		defs:      defMap(defs),
		queue:     q,
		cfg:       cfg,
		now:       time.Now,
		alwaysOn:  always,
		startedAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts a worker immediately, bypassing demand checks.
func (r *LazyRuntime) Start(ctx context.Context, id string) error {
	if err := r.delegate.Start(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	r.startedAt[id] = r.now()
	r.mu.Unlock()
	return nil
}

// StartAll starts the always-on workers and launches the demand
// monitor. The rest of the roster comes up when work appears for it.
func (r *LazyRuntime) StartAll(ctx context.Context) error {
	for _, id := range r.cfg.AlwaysOn {
		if err := r.Start(ctx, id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if r.stop == nil {
		r.stop = make(chan struct{})
		r.monitorDone = make(chan struct{})
		go r.monitor(ctx, r.stop, r.monitorDone)
	}
	r.mu.Unlock()
	return nil
}

// Stop stops one worker.
func (r *LazyRuntime) Stop(id string) error {
	r.mu.Lock()
	delete(r.startedAt, id)
	r.mu.Unlock()
	return r.delegate.Stop(id)
}

// StopAll halts the monitor and every running worker.
func (r *LazyRuntime) StopAll() error {
	r.mu.Lock()
	stop, done := r.stop, r.monitorDone
	r.stop, r.monitorDone = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return r.delegate.StopAll()
}

func (r *LazyRuntime) IsAlive(id string) bool { return r.delegate.IsAlive(id) }

func (r *LazyRuntime) AgentIDs() []string { return idsOf(r.defs) }

// EnsureRunning starts the worker if needed, refreshing its start time.
func (r *LazyRuntime) EnsureRunning(ctx context.Context, id string) error {
	if r.IsAlive(id) {
		return nil
	}
	return r.Start(ctx, id)
}

func (r *LazyRuntime) monitor(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

// check wakes workers the queue has work for and idles out the rest.
func (r *LazyRuntime) check(ctx context.Context) {
	tasks, err := r.queue.List()
	if err != nil {
		log.Printf("WARNING: lazy runtime demand check: %v", err)
		return
	}

	demand := make(map[string]bool, len(r.defs))
	for _, task := range tasks {
		if task.Status != queue.StatusPending && task.Status != queue.StatusBlocked {
			continue
		}
		for id, def := range r.defs {
			if task.RoleMatches(def.Role) {
				demand[id] = true
			}
		}
	}

	for id := range demand {
		if err := r.EnsureRunning(ctx, id); err != nil {
			log.Printf("WARNING: lazy runtime starting %s: %v", id, err)
		}
	}

	for id := range r.defs {
		if r.alwaysOn[id] || demand[id] || !r.IsAlive(id) {
			continue
		}
		if r.idle(id) {
			log.Printf("worker %s idle, stopping", id)
			if err := r.Stop(id); err != nil {
				log.Printf("WARNING: lazy runtime stopping %s: %v", id, err)
			}
		}
	}
}

// idle reports whether the worker has neither started nor touched a
// task within the idle window.
func (r *LazyRuntime) idle(id string) bool {
	cutoff := r.now().Add(-r.cfg.IdleShutdown)

	r.mu.Lock()
	started, ok := r.startedAt[id]
	r.mu.Unlock()
	if ok && started.After(cutoff) {
		return false
	}

	history, err := r.queue.History(id, 1)
	if err != nil {
		return false
	}
	if len(history) > 0 && history[0].UpdatedAt.After(cutoff) {
		return false
	}
	return true
}
