package worker

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/queue"
)

// Watchdog periodically sweeps the queue for tasks whose claim lease
// expired, typically because a worker crashed or was killed mid-task.
type Watchdog struct {
	queue    *queue.Queue
	interval time.Duration
	bus      *events.Bus
}

// NewWatchdog returns a watchdog sweeping every interval. bus may be nil.
func NewWatchdog(q *queue.Queue, interval time.Duration, bus *events.Bus) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watchdog{queue: q, interval: interval, bus: bus}
}

// Run sweeps until the context is cancelled. One sweep runs immediately
// on start so a restarted fleet recovers orphans without waiting a full
// interval.
func (w *Watchdog) Run(ctx context.Context) error {
	w.sweep()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watchdog) sweep() {
	recovered, err := w.queue.RecoverStale()
	if err != nil {
		log.Printf("WARNING: stale recovery sweep: %v", err)
		return
	}
	for _, task := range recovered {
		owner := ""
		if n := len(task.AssignedTo); n > 0 {
			owner = task.AssignedTo[n-1]
		}
		prev := ""
		for _, flag := range task.EvolutionFlags {
			if rest, ok := strings.CutPrefix(flag, "timeout_recovered:"); ok {
				prev = rest
			}
		}
		log.Printf("WARNING: recovered stale task %s from %s (was %s)", task.ID, owner, prev)
		if w.bus != nil {
			w.bus.Publish(events.StaleRecoveredEvent{
				ID:         task.ID,
				PrevStatus: prev,
				Timestamp:  time.Now(),
			})
		}
	}
}
