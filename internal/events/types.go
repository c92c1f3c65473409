package events

import (
	"time"
)

// Topic groups events by the subsystem that emits them.
type Topic string

const (
	TopicTask       Topic = "task"
	TopicReputation Topic = "reputation"
	TopicEvolution  Topic = "evolution"
)

// Event is the base interface for all events. Every event names its own
// topic; the bus routes by it, so publishers cannot misfile an event.
type Event interface {
	Topic() Topic
	EventType() string
	Subject() string
}

// Event type constants
const (
	EventTypeTaskCreated    = "task.created"
	EventTypeTaskClaimed    = "task.claimed"
	EventTypeTaskSubmitted  = "task.submitted"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskFailed     = "task.failed"
	EventTypeTaskSentBack   = "task.sent_back"
	EventTypeStaleRecovered = "task.stale_recovered"
	EventTypeScoreUpdated   = "reputation.score_updated"
	EventTypeCorrection     = "evolution.correction"
	EventTypeRecovered      = "evolution.recovered"
)

// TaskCreatedEvent is published when a task enters the queue.
type TaskCreatedEvent struct {
	ID          string
	Description string
	BlockedBy   []string
	Timestamp   time.Time
}

func (e TaskCreatedEvent) Topic() Topic      { return TopicTask }
func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) Subject() string   { return e.ID }

// TaskClaimedEvent is published when a worker takes a task.
type TaskClaimedEvent struct {
	ID        string
	AgentID   string
	Timestamp time.Time
}

func (e TaskClaimedEvent) Topic() Topic      { return TopicTask }
func (e TaskClaimedEvent) EventType() string { return EventTypeTaskClaimed }
func (e TaskClaimedEvent) Subject() string   { return e.ID }

// TaskSubmittedEvent is published when a result goes out for peer review.
type TaskSubmittedEvent struct {
	ID        string
	AgentID   string
	Reviewer  string
	Timestamp time.Time
}

func (e TaskSubmittedEvent) Topic() Topic      { return TopicTask }
func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	AgentID   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() Topic      { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	AgentID   string
	Err       error
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() Topic      { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// TaskSentBackEvent is published when a review rejects a result.
type TaskSentBackEvent struct {
	ID        string
	Reviewer  string
	Reason    string
	Timestamp time.Time
}

func (e TaskSentBackEvent) Topic() Topic      { return TopicTask }
func (e TaskSentBackEvent) EventType() string { return EventTypeTaskSentBack }
func (e TaskSentBackEvent) Subject() string   { return e.ID }

// StaleRecoveredEvent is published when the watchdog reclaims an
// abandoned task.
type StaleRecoveredEvent struct {
	ID         string
	PrevStatus string
	Timestamp  time.Time
}

func (e StaleRecoveredEvent) Topic() Topic      { return TopicTask }
func (e StaleRecoveredEvent) EventType() string { return EventTypeStaleRecovered }
func (e StaleRecoveredEvent) Subject() string   { return e.ID }

// ScoreUpdatedEvent is published after each reputation update.
type ScoreUpdatedEvent struct {
	AgentID   string
	Dimension string
	Composite float64
	Status    string
	Timestamp time.Time
}

func (e ScoreUpdatedEvent) Topic() Topic      { return TopicReputation }
func (e ScoreUpdatedEvent) EventType() string { return EventTypeScoreUpdated }
func (e ScoreUpdatedEvent) Subject() string   { return e.AgentID }

// CorrectionEvent is published when the evolution engine acts on a
// struggling worker.
type CorrectionEvent struct {
	AgentID   string
	Patterns  []string
	Path      string
	State     string
	Timestamp time.Time
}

func (e CorrectionEvent) Topic() Topic      { return TopicEvolution }
func (e CorrectionEvent) EventType() string { return EventTypeCorrection }
func (e CorrectionEvent) Subject() string   { return e.AgentID }

// RecoveredEvent is published when a corrected worker climbs back to
// healthy and its overrides are lifted.
type RecoveredEvent struct {
	AgentID   string
	Timestamp time.Time
}

func (e RecoveredEvent) Topic() Topic      { return TopicEvolution }
func (e RecoveredEvent) EventType() string { return EventTypeRecovered }
func (e RecoveredEvent) Subject() string   { return e.AgentID }
