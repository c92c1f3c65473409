package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/evolution"
	"github.com/aristath/fleet/internal/mailbox"
	"github.com/aristath/fleet/internal/queue"
	"github.com/aristath/fleet/internal/reputation"
)

// Executor produces a task result from the task description and the
// worker's assembled instructions (base prompt plus any active
// corrective overrides).
type Executor interface {
	Execute(ctx context.Context, task *queue.Task, instructions string) (string, error)
}

// Reviewer scores a peer's submitted result.
type Reviewer interface {
	Review(ctx context.Context, task *queue.Task) (score float64, comment string, approve bool, err error)
}

// Config parameterizes a single worker loop.
type Config struct {
	ID            string
	Role          string
	Prompt        string
	Peers         []string // Review candidates; empty means direct completion
	PollInterval  time.Duration
	MinClaimScore float64 // Below this composite the worker stops claiming
}

// Loop is one worker's claim-execute-review cycle over the shared queue.
// Many loops run concurrently against the same board; the queue's file
// locking makes each claim exclusive.
type Loop struct {
	cfg      Config
	queue    *queue.Queue
	mail     *mailbox.Mailbox
	tracker  *reputation.Tracker
	sched    *reputation.Scheduler
	engine   *evolution.Engine
	executor Executor
	reviewer Reviewer
	bus      *events.Bus
	breaker  *gobreaker.CircuitBreaker
	nextPeer int
}

// NewLoop wires a worker loop. bus may be nil.
func NewLoop(cfg Config, q *queue.Queue, mail *mailbox.Mailbox, tracker *reputation.Tracker, sched *reputation.Scheduler, engine *evolution.Engine, executor Executor, reviewer Reviewer, bus *events.Bus) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.ID,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Don't count cancellation as an executor failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	return &Loop{
		cfg:      cfg,
		queue:    q,
		mail:     mail,
		tracker:  tracker,
		sched:    sched,
		engine:   engine,
		executor: executor,
		reviewer: reviewer,
		bus:      bus,
		breaker:  cb,
	}
}

// Run drives the worker until the context is cancelled or a shutdown
// message arrives. Each iteration drains the mailbox, then tries to
// claim and execute one task.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stop, err := l.drainMailbox(ctx)
		if err != nil {
			log.Printf("WARNING: worker %s: mailbox drain: %v", l.cfg.ID, err)
		}
		if stop {
			return nil
		}

		if l.declineClaim() {
			if err := l.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		task, err := l.queue.ClaimNext(l.cfg.ID, l.cfg.Role)
		if err != nil {
			log.Printf("WARNING: worker %s: claim: %v", l.cfg.ID, err)
			if err := l.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		if task == nil {
			if err := l.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		l.publish(events.TaskClaimedEvent{
			ID: task.ID, AgentID: l.cfg.ID, Timestamp: time.Now(),
		})

		l.runTask(ctx, task)
	}
}

// runTask executes one claimed task end to end.
func (l *Loop) runTask(ctx context.Context, task *queue.Task) {
	started := time.Now()
	result, err := l.executeGuarded(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-task; the lease watchdog will reclaim it.
			return
		}
		log.Printf("WARNING: worker %s: task %s failed: %v", l.cfg.ID, task.ID, err)
		if _, ferr := l.queue.Fail(task.ID, err.Error()); ferr != nil {
			log.Printf("WARNING: worker %s: recording failure for %s: %v", l.cfg.ID, task.ID, ferr)
		}
		l.sched.RecordError(ctx, l.cfg.ID)
		l.publish(events.TaskFailedEvent{
			ID: task.ID, AgentID: l.cfg.ID, Err: err, Timestamp: time.Now(),
		})
		return
	}

	reviewer := l.pickPeer()
	if reviewer == "" {
		updated, cerr := l.queue.CompleteWithResult(task.ID, result)
		if cerr != nil {
			log.Printf("WARNING: worker %s: completing %s: %v", l.cfg.ID, task.ID, cerr)
			return
		}
		l.sched.RecordCompletion(ctx, l.cfg.ID, updated)
		l.publish(events.TaskCompletedEvent{
			ID: task.ID, AgentID: l.cfg.ID, Duration: time.Since(started), Timestamp: time.Now(),
		})
		return
	}

	if _, serr := l.queue.SubmitForReview(task.ID, result); serr != nil {
		log.Printf("WARNING: worker %s: submitting %s: %v", l.cfg.ID, task.ID, serr)
		return
	}
	if merr := l.mail.Send(l.cfg.ID, reviewer, task.ID, mailbox.TypeReviewRequest); merr != nil {
		log.Printf("WARNING: worker %s: review request for %s: %v", l.cfg.ID, task.ID, merr)
	}
	l.publish(events.TaskSubmittedEvent{
		ID: task.ID, AgentID: l.cfg.ID, Reviewer: reviewer, Timestamp: time.Now(),
	})
}

// executeGuarded runs the executor through the circuit breaker with
// panic recovery, feeding it the prompt plus any corrective overrides.
func (l *Loop) executeGuarded(ctx context.Context, task *queue.Task) (string, error) {
	instructions := l.cfg.Prompt
	if l.engine != nil {
		if overrides, err := l.engine.Overrides(l.cfg.ID); err == nil && overrides != "" {
			instructions = instructions + "\n\n" + overrides
		}
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.runExecutor(ctx, task, instructions)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (l *Loop) runExecutor(ctx context.Context, task *queue.Task, instructions string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.executor.Execute(ctx, task, instructions)
}

// drainMailbox processes every pending message. Returns stop=true on a
// shutdown message; remaining messages are still processed first.
func (l *Loop) drainMailbox(ctx context.Context) (stop bool, err error) {
	msgs, err := l.mail.ReadAndDrain(l.cfg.ID)
	if err != nil {
		return false, err
	}
	for _, msg := range msgs {
		switch msg.Type {
		case mailbox.TypeShutdown:
			stop = true
		case mailbox.TypeReviewRequest:
			l.handleReview(ctx, msg.Content)
		default:
			log.Printf("worker %s: message from %s: %s", l.cfg.ID, msg.From, msg.Content)
		}
	}
	return stop, nil
}

// handleReview scores a submitted task and either completes it or sends
// it back. A task no longer in review was already handled; the request
// is dropped.
func (l *Loop) handleReview(ctx context.Context, taskID string) {
	task, err := l.queue.Get(taskID)
	if err != nil || task == nil {
		return
	}
	if task.Status != queue.StatusReview {
		return
	}

	score, comment, approve, err := l.reviewer.Review(ctx, task)
	if err != nil {
		log.Printf("WARNING: worker %s: reviewing %s: %v", l.cfg.ID, taskID, err)
		return
	}

	if _, err := l.queue.AddReview(taskID, l.cfg.ID, score, comment); err != nil {
		log.Printf("WARNING: worker %s: recording review for %s: %v", l.cfg.ID, taskID, err)
		return
	}

	author := task.AgentID
	if approve {
		updated, err := l.queue.Complete(taskID)
		if err != nil {
			log.Printf("WARNING: worker %s: completing reviewed %s: %v", l.cfg.ID, taskID, err)
			return
		}
		l.sched.RecordCompletion(ctx, author, updated)
		l.publish(events.TaskCompletedEvent{
			ID: taskID, AgentID: author, Timestamp: time.Now(),
		})
	} else {
		if _, err := l.queue.SendBack(taskID, "review_rejected"); err != nil {
			log.Printf("WARNING: worker %s: sending back %s: %v", l.cfg.ID, taskID, err)
			return
		}
		l.publish(events.TaskSentBackEvent{
			ID: taskID, Reviewer: l.cfg.ID, Reason: comment, Timestamp: time.Now(),
		})
	}
	l.sched.RecordReview(ctx, l.cfg.ID, author, score)
}

// declineClaim reports whether the worker should sit out this cycle,
// either because its reputation fell below the claim floor or because
// the executor breaker is open.
func (l *Loop) declineClaim() bool {
	if l.breaker.State() == gobreaker.StateOpen {
		return true
	}
	if l.cfg.MinClaimScore <= 0 || l.tracker == nil {
		return false
	}
	entry, err := l.tracker.Get(l.cfg.ID)
	if err != nil || entry == nil {
		return false
	}
	if entry.Composite < l.cfg.MinClaimScore {
		log.Printf("worker %s: composite %.1f below claim floor %.1f, declining",
			l.cfg.ID, entry.Composite, l.cfg.MinClaimScore)
		return true
	}
	return false
}

// pickPeer rotates through the configured review candidates, skipping
// the worker itself.
func (l *Loop) pickPeer() string {
	n := len(l.cfg.Peers)
	for i := 0; i < n; i++ {
		peer := l.cfg.Peers[l.nextPeer%n]
		l.nextPeer++
		if peer != l.cfg.ID {
			return peer
		}
	}
	return ""
}

func (l *Loop) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.cfg.PollInterval):
		return nil
	}
}

func (l *Loop) publish(event events.Event) {
	if l.bus != nil {
		l.bus.Publish(event)
	}
}
