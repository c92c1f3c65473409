package reputation

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/queue"
)

// Corrector receives threshold breaches and recoveries. Implemented by the
// evolution engine; the indirection keeps this package free of a dependency
// on diagnosis internals.
type Corrector interface {
	// Trigger asks for a diagnosis of a worker whose threshold status
	// dropped to warning or below. Implementations must dedupe.
	Trigger(ctx context.Context, agentID string)

	// NoteHealthy reports that a worker's composite is back in the
	// healthy band, allowing applied remediations to be lifted.
	NoteHealthy(agentID string)
}

// Scheduler is the glue the worker loop calls after every task event. It
// converts task outcomes into dimension signals and forwards threshold
// breaches to the corrector.
type Scheduler struct {
	tracker   *Tracker
	corrector Corrector
	bus       *events.Bus
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBus attaches an event bus; every dimension update is then
// published on the reputation topic.
func WithBus(bus *events.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

// NewScheduler creates the scoring glue. corrector may be nil, which
// disables remediation (scores still accumulate).
func NewScheduler(tracker *Tracker, corrector Corrector, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{tracker: tracker, corrector: corrector}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordCompletion scores a finished task: full marks unless the task went
// through rework or timeout recovery, plus a quality heuristic over the
// result body.
func (s *Scheduler) RecordCompletion(ctx context.Context, agentID string, task *queue.Task) {
	completion := 100.0
	if task.HasReworkSignal() {
		completion = 70.0
	}
	s.update(ctx, agentID, DimTaskCompletion, completion)
	s.update(ctx, agentID, DimOutputQuality, qualityHeuristic(task.Result))
}

// RecordError scores an uncaught task execution error as a hard penalty.
func (s *Scheduler) RecordError(ctx context.Context, agentID string) {
	s.update(ctx, agentID, DimTaskCompletion, 0)
	s.update(ctx, agentID, DimConsistency, 30)
}

// RecordReview scores a delivered peer review: the reviewer's accuracy and
// the reviewed worker's output quality both move toward the given score.
func (s *Scheduler) RecordReview(ctx context.Context, reviewerID, revieweeID string, score float64) {
	s.update(ctx, reviewerID, DimReviewAccuracy, score)
	s.update(ctx, revieweeID, DimOutputQuality, score)
}

// RecordImprovement feeds the improvement_rate dimension directly, typically
// from trend observations.
func (s *Scheduler) RecordImprovement(ctx context.Context, agentID string, signal float64) {
	s.update(ctx, agentID, DimImprovementRate, signal)
}

func (s *Scheduler) update(ctx context.Context, agentID, dimension string, signal float64) {
	entry, err := s.tracker.Update(agentID, dimension, signal)
	if err != nil {
		log.Printf("WARNING: reputation update for %s failed: %v", agentID, err)
		return
	}

	if s.bus != nil {
		s.bus.Publish(events.ScoreUpdatedEvent{
			AgentID:   agentID,
			Dimension: dimension,
			Composite: entry.Composite,
			Status:    string(Classify(entry.Composite)),
			Timestamp: time.Now(),
		})
	}

	if s.corrector == nil {
		return
	}

	switch Classify(entry.Composite) {
	case StatusWarning, StatusEvolve:
		s.corrector.Trigger(ctx, agentID)
	case StatusHealthy:
		s.corrector.NoteHealthy(agentID)
	}
}

// qualityHeuristic estimates output quality from the result text: a baseline
// of 60, with bonuses for substance and structure.
func qualityHeuristic(result string) float64 {
	score := 60.0
	if len(result) > 200 {
		score += 10
	}
	if len(result) > 500 {
		score += 5
	}
	if hasStructure(result) {
		score += 10
	}
	return score
}

// hasStructure looks for markdown-ish structure markers in a result body.
func hasStructure(result string) bool {
	return strings.Contains(result, "```") ||
		strings.Contains(result, "\n- ") ||
		strings.Contains(result, "\n#") ||
		strings.Contains(result, "\n1.")
}
