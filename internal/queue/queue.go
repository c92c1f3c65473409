// Package queue implements the shared work queue: the single source of truth
// for task existence and status. The board is one JSON document on disk,
// guarded by a single advisory lock; every operation is a full
// read-modify-write under that lock, so concurrent workers never observe or
// produce partial updates.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/aristath/fleet/internal/lockfile"
)

const (
	// DefaultLeaseTimeout is how long a claim may sit without progress
	// before stale recovery resets the task.
	DefaultLeaseTimeout = 15 * time.Minute

	// DefaultLockWait bounds how long any operation waits for the board
	// lock before surfacing a transient error to the caller.
	DefaultLockWait = 10 * time.Second
)

// Queue is a file-backed work queue.
type Queue struct {
	path     string
	lockPath string
	lease    time.Duration
	lockWait time.Duration
	now      func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLeaseTimeout overrides the stale-recovery lease.
func WithLeaseTimeout(d time.Duration) Option {
	return func(q *Queue) { q.lease = d }
}

// WithLockWait overrides the bound on lock acquisition.
func WithLockWait(d time.Duration) Option {
	return func(q *Queue) { q.lockWait = d }
}

// WithClock injects a clock, for tests and deterministic recovery.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue backed by the JSON document at path.
func New(path string, opts ...Option) *Queue {
	q := &Queue{
		path:     path,
		lockPath: path + ".lock",
		lease:    DefaultLeaseTimeout,
		lockWait: DefaultLockWait,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// board is the persisted document: every task keyed by id plus a monotonic
// sequence for creation-order scans.
type board struct {
	NextSeq int64            `json:"next_seq"`
	Tasks   map[string]*Task `json:"tasks"`
}

func (q *Queue) load() (*board, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return &board{NextSeq: 1, Tasks: make(map[string]*Task)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read board: %w", err)
	}

	var b board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("queue: parse board: %w", err)
	}
	if b.Tasks == nil {
		b.Tasks = make(map[string]*Task)
	}
	if b.NextSeq == 0 {
		b.NextSeq = 1
	}
	return &b, nil
}

func (q *Queue) save(b *board) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal board: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("queue: ensure board dir: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the board.
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("queue: write board: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("queue: replace board: %w", err)
	}
	return nil
}

// withBoard runs fn against the loaded board under the advisory lock and
// persists the result when fn asks for it.
func (q *Queue) withBoard(fn func(b *board) (dirty bool, err error)) error {
	return lockfile.WithLock(q.lockPath, q.lockWait, func() error {
		b, err := q.load()
		if err != nil {
			return err
		}
		dirty, err := fn(b)
		if err != nil {
			return err
		}
		if dirty {
			return q.save(b)
		}
		return nil
	})
}

// inOrder returns the board's tasks sorted by creation sequence.
func inOrder(b *board) []*Task {
	tasks := make([]*Task, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks
}

// depsSatisfied reports whether every dependency of t is completed. A
// referenced id that no longer exists counts as satisfied: tasks only leave
// the board through operator pruning, which touches terminal tasks alone.
func depsSatisfied(b *board, t *Task) bool {
	for _, depID := range t.BlockedBy {
		dep, exists := b.Tasks[depID]
		if !exists {
			continue
		}
		if dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Create appends a new task. Tasks with unsatisfied dependencies start out
// blocked; everything else starts pending. Adding the task must keep the
// dependency graph acyclic.
func (q *Queue) Create(description string, blockedBy []string, requiredRole string) (*Task, error) {
	task := &Task{
		ID:           uuid.NewString(),
		Description:  description,
		RequiredRole: requiredRole,
		BlockedBy:    append([]string(nil), blockedBy...),
	}

	err := q.withBoard(func(b *board) (bool, error) {
		if err := validateAcyclic(b, task); err != nil {
			return false, err
		}

		now := q.now()
		task.Seq = b.NextSeq
		b.NextSeq++
		task.CreatedAt = now
		task.UpdatedAt = now
		task.Status = StatusPending
		if len(task.BlockedBy) > 0 && !depsSatisfied(b, task) {
			task.Status = StatusBlocked
		}

		b.Tasks[task.ID] = task
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneTask(task), nil
}

// validateAcyclic runs a topological sort over the dependency graph with the
// candidate task included and rejects the insert when a cycle would form.
func validateAcyclic(b *board, candidate *Task) error {
	var edges []toposort.Edge
	add := func(t *Task) {
		if len(t.BlockedBy) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			return
		}
		for _, depID := range t.BlockedBy {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}
	for _, t := range b.Tasks {
		add(t)
	}
	add(candidate)

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("queue: dependency cycle: %w", err)
	}
	return nil
}

// ClaimNext scans tasks in creation order and claims the oldest eligible one
// for agentID. A task is eligible when it is pending (or blocked with all
// dependencies now completed), its dependencies are satisfied, and its
// required role matches the agent's role description. Returns nil when
// nothing is claimable. The reputation score does not change eligibility;
// callers with a degraded score decline to call ClaimNext at all.
func (q *Queue) ClaimNext(agentID string, agentRole string) (*Task, error) {
	var claimed *Task

	err := q.withBoard(func(b *board) (bool, error) {
		dirty := false
		for _, t := range inOrder(b) {
			// Blocked tasks whose dependencies have since completed
			// return to pending, whether or not this agent can
			// claim them.
			if t.Status == StatusBlocked && depsSatisfied(b, t) {
				t.Status = StatusPending
				t.UpdatedAt = q.now()
				dirty = true
			}

			if claimed != nil {
				continue
			}
			if t.Status != StatusPending {
				continue
			}
			if !depsSatisfied(b, t) {
				continue
			}
			if !t.RoleMatches(agentRole) {
				continue
			}

			now := q.now()
			t.Status = StatusClaimed
			t.AgentID = agentID
			t.AssignedTo = append(t.AssignedTo, agentID)
			t.ClaimedAt = &now
			t.UpdatedAt = now
			claimed = cloneTask(t)
			dirty = true
		}
		return dirty, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SubmitForReview moves a claimed task into review and stores its result.
// Unknown ids and tasks in any other state are no-ops.
func (q *Queue) SubmitForReview(taskID, result string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusClaimed {
			return false
		}
		t.Status = StatusReview
		t.Result = result
		return true
	})
}

// AddReview appends a peer-review verdict. Status is unchanged; the reviewer
// decides separately whether to complete or send the task back.
func (q *Queue) AddReview(taskID, reviewerID string, score float64, comment string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		t.Reviews = append(t.Reviews, Review{
			Reviewer:  reviewerID,
			Score:     score,
			Comment:   comment,
			Timestamp: q.now(),
		})
		return true
	})
}

// Complete marks a claimed or in-review task as completed.
func (q *Queue) Complete(taskID string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusClaimed && t.Status != StatusReview {
			return false
		}
		t.Status = StatusCompleted
		return true
	})
}

// CompleteWithResult finishes a claimed task directly, recording its
// output without a review round.
func (q *Queue) CompleteWithResult(taskID, result string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusClaimed {
			return false
		}
		t.Status = StatusCompleted
		t.Result = result
		return true
	})
}

// SendBack returns a claimed or in-review task to pending for rework,
// clearing its owner. The reason is recorded as a structured evolution flag.
func (q *Queue) SendBack(taskID, reason string) (*Task, error) {
	if reason == "" {
		reason = "review_rejected"
	}
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusClaimed && t.Status != StatusReview {
			return false
		}
		t.Status = StatusPending
		t.AgentID = ""
		t.ClaimedAt = nil
		t.EvolutionFlags = append(t.EvolutionFlags, "failed:"+reason)
		return true
	})
}

// Fail marks a task as failed and records the error class as an evolution
// flag.
func (q *Queue) Fail(taskID, errMsg string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		t.Status = StatusFailed
		t.EvolutionFlags = append(t.EvolutionFlags, "failed:"+errorClass(errMsg))
		return true
	})
}

// Cancel terminates any non-terminal task.
func (q *Queue) Cancel(taskID string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status.Terminal() {
			return false
		}
		t.Status = StatusCancelled
		t.AgentID = ""
		t.ClaimedAt = nil
		return true
	})
}

// Pause takes a pending task off the claimable set.
func (q *Queue) Pause(taskID string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusPending && t.Status != StatusBlocked {
			return false
		}
		t.Status = StatusPaused
		return true
	})
}

// Resume returns a paused task to pending.
func (q *Queue) Resume(taskID string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusPaused {
			return false
		}
		t.Status = StatusPending
		return true
	})
}

// Retry returns a failed or cancelled task to pending with a fresh owner
// slot. Result and flags are kept as diagnostic history.
func (q *Queue) Retry(taskID string) (*Task, error) {
	return q.transition(taskID, func(t *Task) bool {
		if t.Status != StatusFailed && t.Status != StatusCancelled {
			return false
		}
		t.Status = StatusPending
		t.AgentID = ""
		t.ClaimedAt = nil
		return true
	})
}

// transition applies mutate to the identified task under the board lock.
// Unknown ids are no-ops returning nil, per the board's failure semantics.
func (q *Queue) transition(taskID string, mutate func(*Task) bool) (*Task, error) {
	var out *Task

	err := q.withBoard(func(b *board) (bool, error) {
		t, exists := b.Tasks[taskID]
		if !exists {
			return false, nil
		}
		if !mutate(t) {
			return false, nil
		}
		t.UpdatedAt = q.now()
		out = cloneTask(t)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecoverStale resets claimed or in-review tasks whose lease has expired back
// to pending, clearing their owner and annotating the prior status. The
// recovered set is returned so callers can log it.
func (q *Queue) RecoverStale() ([]*Task, error) {
	var recovered []*Task

	err := q.withBoard(func(b *board) (bool, error) {
		cutoff := q.now().Add(-q.lease)
		dirty := false
		for _, t := range inOrder(b) {
			if t.Status != StatusClaimed && t.Status != StatusReview {
				continue
			}
			if t.ClaimedAt == nil || t.ClaimedAt.After(cutoff) {
				continue
			}

			prev := t.Status
			t.Status = StatusPending
			t.AgentID = ""
			t.ClaimedAt = nil
			t.EvolutionFlags = append(t.EvolutionFlags, "timeout_recovered:"+string(prev))
			t.UpdatedAt = q.now()
			recovered = append(recovered, cloneTask(t))
			dirty = true
		}
		return dirty, nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// Get returns a copy of the identified task, or nil if it does not exist.
func (q *Queue) Get(taskID string) (*Task, error) {
	var out *Task
	err := q.withBoard(func(b *board) (bool, error) {
		if t, exists := b.Tasks[taskID]; exists {
			out = cloneTask(t)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns copies of every task in creation order.
func (q *Queue) List() ([]*Task, error) {
	var out []*Task
	err := q.withBoard(func(b *board) (bool, error) {
		for _, t := range inOrder(b) {
			out = append(out, cloneTask(t))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to last tasks ever assigned to agentID, most recent
// first. Assignment history survives recovery and rework, which clear the
// live AgentID field.
func (q *Queue) History(agentID string, last int) ([]*Task, error) {
	var out []*Task
	err := q.withBoard(func(b *board) (bool, error) {
		for _, t := range inOrder(b) {
			for _, assignee := range t.AssignedTo {
				if assignee == agentID {
					out = append(out, cloneTask(t))
					break
				}
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if last > 0 && len(out) > last {
		out = out[:last]
	}
	return out, nil
}

// Prune removes terminal tasks from the board and returns them, oldest
// first. The caller is expected to archive the returned set.
func (q *Queue) Prune() ([]*Task, error) {
	var pruned []*Task
	err := q.withBoard(func(b *board) (bool, error) {
		for _, t := range inOrder(b) {
			if !t.Status.Terminal() {
				continue
			}
			pruned = append(pruned, cloneTask(t))
			delete(b.Tasks, t.ID)
		}
		return len(pruned) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}
