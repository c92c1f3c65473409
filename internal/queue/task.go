package queue

import (
	"strings"
	"time"
)

// Status represents the current state of a task on the board.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusReview    Status = "review"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Review is one peer-review verdict attached to a task.
type Review struct {
	Reviewer  string    `json:"reviewer"`
	Score     float64   `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of work on the board.
type Task struct {
	ID           string   `json:"id"`
	Seq          int64    `json:"seq"` // Creation order, used for oldest-first claim scans
	Description  string   `json:"description"`
	Status       Status   `json:"status"`
	AgentID      string   `json:"agent_id,omitempty"`
	RequiredRole string   `json:"required_role,omitempty"`
	BlockedBy    []string `json:"blocked_by,omitempty"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Result string `json:"result,omitempty"`

	// EvolutionFlags are structured diagnostic annotations such as
	// "failed:timeout" or "timeout_recovered:claimed". They are signal for
	// diagnosis only and never drive task state transitions.
	EvolutionFlags []string `json:"evolution_flags,omitempty"`

	Reviews []Review `json:"reviews,omitempty"`

	// AssignedTo records every agent that ever claimed this task, in order.
	// AgentID is cleared on recovery and rework, so per-agent history scans
	// rely on this list instead.
	AssignedTo []string `json:"assigned_to,omitempty"`
}

// reworkPrefixes are the structured flag families that count as rework when
// diagnosing a worker. The legacy bare "review_failed" marker predates the
// structured form and is deliberately not matched.
var reworkPrefixes = []string{"failed:", "timeout_recovered:"}

// HasReworkSignal reports whether the task carries a structured rework or
// recovery flag.
func (t *Task) HasReworkSignal() bool {
	for _, flag := range t.EvolutionFlags {
		for _, prefix := range reworkPrefixes {
			if strings.HasPrefix(flag, prefix) {
				return true
			}
		}
	}
	return false
}

// RoleMatches reports whether an agent's role description satisfies the
// task's required role keyword. An empty requirement matches every agent.
func (t *Task) RoleMatches(agentRole string) bool {
	if t.RequiredRole == "" {
		return true
	}
	return strings.Contains(strings.ToLower(agentRole), strings.ToLower(t.RequiredRole))
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.BlockedBy != nil {
		cp.BlockedBy = append([]string(nil), t.BlockedBy...)
	}
	if t.EvolutionFlags != nil {
		cp.EvolutionFlags = append([]string(nil), t.EvolutionFlags...)
	}
	if t.Reviews != nil {
		cp.Reviews = append([]Review(nil), t.Reviews...)
	}
	if t.AssignedTo != nil {
		cp.AssignedTo = append([]string(nil), t.AssignedTo...)
	}
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		cp.ClaimedAt = &at
	}
	return &cp
}

// errorClass collapses an execution error message to a short class token used
// in "failed:<class>" flags.
func errorClass(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return "timeout"
	case strings.Contains(lower, "cancel"):
		return "cancelled"
	case strings.Contains(lower, "panic"):
		return "panic"
	default:
		return "error"
	}
}
