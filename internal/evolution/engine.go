// Package evolution diagnoses sustained worker underperformance and executes
// one of three remediation paths: a prompt patch applied automatically, a
// model substitution awaiting operator confirmation, or a role restructuring
// decided by team vote. A worker with an in-flight remediation is never
// re-diagnosed; the pending marker doubles as the dedup guard.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/fleet/internal/chat"
	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/lockfile"
	"github.com/aristath/fleet/internal/queue"
	"github.com/aristath/fleet/internal/reputation"
)

// Remediation paths.
type Path string

const (
	PathPrompt Path = "prompt"
	PathModel  Path = "model"
	PathRole   Path = "role"
)

// Plan states.
type State string

const (
	StateApplied              State = "applied"               // Prompt patch in effect, lifted on recovery
	StateAwaitingConfirmation State = "awaiting_confirmation" // Model swap pending operator approval
	StateAwaitingVote         State = "awaiting_vote"         // Role change pending team quorum
)

// Error-pattern tags produced by diagnosis.
const (
	PatternHighFailureRate    = "high_failure_rate"
	PatternFrequentRework     = "frequent_rework"
	PatternLowOutputQuality   = "low_output_quality"
	PatternInconsistentOutput = "inconsistent_output"
	PatternNotImproving       = "not_improving"
)

const (
	historyWindow    = 10  // Recent tasks considered by diagnosis
	failureRateLimit = 0.3 // Above this, high_failure_rate
	reworkRateLimit  = 0.2 // Above this, frequent_rework
	dimensionFloor   = 50.0
)

// Plan is a diagnosis result and the in-flight remediation derived from it.
// Persisted as the worker's pending marker until resolved.
type Plan struct {
	AgentID   string    `json:"agent_id"`
	Path      Path      `json:"path"`
	State     State     `json:"state"`
	RootCause string    `json:"root_cause"`
	Patterns  []string  `json:"patterns"`
	CreatedAt time.Time `json:"created_at"`

	// Path-specific payload.
	PromptAddition string          `json:"prompt_addition,omitempty"`
	NewModel       string          `json:"new_model,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Proposal       string          `json:"proposal,omitempty"`
	Votes          map[string]bool `json:"votes,omitempty"`
}

// ModelStore exposes the slice of configuration the model path needs: the
// worker's current model with its fallbacks, and a way to persist a swap.
type ModelStore interface {
	WorkerModel(agentID string) (current string, fallbacks []string)
	SetWorkerModel(agentID, model string) error
}

// Config parameterizes the engine.
type Config struct {
	Dir            string   // Root for pending markers and override files
	Team           []string // Full roster, defines the vote quorum
	VoteThreshold  float64  // Approval ratio required once quorum is met
	MaxOverrides   int      // Most-recent constraint blocks kept per worker
	DiagnosisModel string   // Model hint for the optional summarization call
}

// Engine drives diagnosis and remediation.
type Engine struct {
	cfg     Config
	queue   *queue.Queue
	tracker *reputation.Tracker
	models  ModelStore
	chat    chat.Chat   // Optional; diagnosis degrades to heuristics without it
	bus     *events.Bus // Optional; corrections and recoveries are announced on it
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithChat attaches the optional summarization capability.
func WithChat(c chat.Chat) Option {
	return func(e *Engine) { e.chat = c }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBus attaches an event bus; plan creation and recovery are then
// published on the evolution topic.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// New creates an evolution engine. models may be nil, which turns the model
// path into a pending record that can only be rejected.
func New(cfg Config, q *queue.Queue, tracker *reputation.Tracker, models ModelStore, opts ...Option) *Engine {
	if cfg.VoteThreshold <= 0 {
		cfg.VoteThreshold = 0.6
	}
	if cfg.MaxOverrides <= 0 {
		cfg.MaxOverrides = 5
	}
	e := &Engine{
		cfg:     cfg,
		queue:   q,
		tracker: tracker,
		models:  models,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) markerPath(agentID string) string {
	return filepath.Join(e.cfg.Dir, "pending", agentID+".json")
}

func (e *Engine) markerLock(agentID string) string {
	return e.markerPath(agentID) + ".lock"
}

func (e *Engine) loadPlan(agentID string) (*Plan, error) {
	data, err := os.ReadFile(e.markerPath(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evolution: read marker for %s: %w", agentID, err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("evolution: parse marker for %s: %w", agentID, err)
	}
	return &plan, nil
}

func (e *Engine) savePlan(plan *Plan) error {
	path := e.markerPath(plan.AgentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("evolution: ensure marker dir: %w", err)
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("evolution: marshal marker: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("evolution: write marker: %w", err)
	}
	return os.Rename(tmp, path)
}

func (e *Engine) removePlan(agentID string) error {
	err := os.Remove(e.markerPath(agentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("evolution: remove marker for %s: %w", agentID, err)
	}
	return nil
}

// Trigger diagnoses the worker and records a remediation plan, unless one is
// already in flight. The existence check and the marker write happen under
// the worker's marker lock, so two near-simultaneous threshold breaches
// produce exactly one plan.
func (e *Engine) Trigger(ctx context.Context, agentID string) {
	if err := os.MkdirAll(filepath.Dir(e.markerLock(agentID)), 0o755); err != nil {
		log.Printf("ERROR: evolution: ensure marker dir: %v", err)
		return
	}

	var created *Plan
	err := lockfile.WithLock(e.markerLock(agentID), 10*time.Second, func() error {
		existing, err := e.loadPlan(agentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil // Already pending, never re-diagnose
		}

		plan, err := e.diagnose(ctx, agentID)
		if err != nil {
			return err
		}
		if err := e.execute(plan); err != nil {
			return err
		}
		if err := e.savePlan(plan); err != nil {
			return err
		}
		created = plan
		return nil
	})
	if err != nil {
		log.Printf("ERROR: evolution trigger for %s: %v", agentID, err)
		return
	}

	if created != nil && e.bus != nil {
		e.bus.Publish(events.CorrectionEvent{
			AgentID:   agentID,
			Patterns:  created.Patterns,
			Path:      string(created.Path),
			State:     string(created.State),
			Timestamp: e.now(),
		})
	}
}

// diagnose classifies the worker's recent history and dimension scores into
// error patterns and selects a remediation path.
func (e *Engine) diagnose(ctx context.Context, agentID string) (*Plan, error) {
	history, err := e.queue.History(agentID, historyWindow)
	if err != nil {
		return nil, err
	}

	var failed, rework int
	for _, task := range history {
		if task.Status == queue.StatusFailed {
			failed++
			continue
		}
		// Only the structured flag families count; the legacy bare
		// review_failed marker does not.
		if task.HasReworkSignal() {
			rework++
		}
	}

	var patterns []string
	if n := len(history); n > 0 {
		if float64(failed+rework)/float64(n) > failureRateLimit {
			patterns = append(patterns, PatternHighFailureRate)
		}
		if float64(rework)/float64(n) > reworkRateLimit {
			patterns = append(patterns, PatternFrequentRework)
		}
	}

	entry, err := e.tracker.Get(agentID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if entry.Dimensions[reputation.DimOutputQuality] < dimensionFloor {
			patterns = append(patterns, PatternLowOutputQuality)
		}
		if entry.Dimensions[reputation.DimConsistency] < dimensionFloor {
			patterns = append(patterns, PatternInconsistentOutput)
		}
		trend, _ := e.tracker.TrendOf(agentID)
		if entry.Dimensions[reputation.DimImprovementRate] < dimensionFloor || trend == reputation.TrendDeclining {
			patterns = append(patterns, PatternNotImproving)
		}
	}

	plan := &Plan{
		AgentID:   agentID,
		Patterns:  patterns,
		CreatedAt: e.now(),
		RootCause: e.rootCause(ctx, agentID, patterns, history),
	}
	e.selectPath(plan)
	return plan, nil
}

// rootCause produces a short explanation, optionally refined through the
// chat capability. A failed or absent chat call degrades to the heuristic
// text without surfacing an error.
func (e *Engine) rootCause(ctx context.Context, agentID string, patterns []string, history []*queue.Task) string {
	heuristic := fmt.Sprintf("worker %s: %d recent tasks, detected patterns: %s",
		agentID, len(history), strings.Join(patterns, ", "))
	if len(patterns) == 0 {
		heuristic = fmt.Sprintf("worker %s: composite below threshold with no dominant pattern", agentID)
	}
	if e.chat == nil {
		return heuristic
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	summary, err := e.chat.Chat(callCtx, []chat.Message{
		{Role: "system", Content: "Summarize the root cause of this worker's underperformance in one sentence."},
		{Role: "user", Content: heuristic},
	}, e.cfg.DiagnosisModel)
	if err != nil || strings.TrimSpace(summary) == "" {
		return heuristic
	}
	return strings.TrimSpace(summary)
}

// selectPath picks the remediation path. The prompt patch is the least
// invasive and wins ties; a high failure rate escalates to a model swap;
// stagnation without a quality collapse goes to a role vote.
func (e *Engine) selectPath(plan *Plan) {
	has := func(p string) bool {
		for _, got := range plan.Patterns {
			if got == p {
				return true
			}
		}
		return false
	}

	switch {
	case has(PatternLowOutputQuality) || has(PatternFrequentRework):
		plan.Path = PathPrompt
		plan.PromptAddition = promptConstraint(plan.Patterns)
	case has(PatternHighFailureRate):
		plan.Path = PathModel
		plan.Reason = plan.RootCause
		if e.models != nil {
			current, fallbacks := e.models.WorkerModel(plan.AgentID)
			for _, candidate := range fallbacks {
				if candidate != current {
					plan.NewModel = candidate
					break
				}
			}
		}
	case has(PatternNotImproving) || has(PatternInconsistentOutput):
		plan.Path = PathRole
		plan.Proposal = fmt.Sprintf("narrow %s's task scope to its strongest recent work", plan.AgentID)
		plan.Votes = make(map[string]bool)
	default:
		plan.Path = PathPrompt
		plan.PromptAddition = promptConstraint(plan.Patterns)
	}
}

// execute performs the automatic part of the plan and sets its state. Model
// and role paths only record intent; their effects wait on confirmation or
// quorum.
func (e *Engine) execute(plan *Plan) error {
	switch plan.Path {
	case PathPrompt:
		if err := e.appendOverride(plan.AgentID, plan.PromptAddition); err != nil {
			return err
		}
		plan.State = StateApplied
		log.Printf("evolution: applied prompt patch for %s (%s)", plan.AgentID, strings.Join(plan.Patterns, ","))
	case PathModel:
		plan.State = StateAwaitingConfirmation
		log.Printf("evolution: model swap for %s pending confirmation (-> %s)", plan.AgentID, plan.NewModel)
	case PathRole:
		plan.State = StateAwaitingVote
		log.Printf("evolution: role change for %s pending team vote", plan.AgentID)
	}
	return nil
}

// NoteHealthy lifts an applied prompt patch once the worker's composite is
// back in the healthy band. Plans awaiting confirmation or vote are left for
// their own resolution step.
func (e *Engine) NoteHealthy(agentID string) {
	lifted := false
	err := lockfile.WithLock(e.markerLock(agentID), 10*time.Second, func() error {
		plan, err := e.loadPlan(agentID)
		if err != nil {
			return err
		}
		if plan == nil || plan.State != StateApplied {
			return nil
		}
		if err := e.clearOverrides(agentID); err != nil {
			return err
		}
		log.Printf("evolution: %s recovered, overrides cleared", agentID)
		if err := e.removePlan(agentID); err != nil {
			return err
		}
		lifted = true
		return nil
	})
	if err != nil {
		log.Printf("WARNING: evolution recovery for %s: %v", agentID, err)
		return
	}

	if lifted && e.bus != nil {
		e.bus.Publish(events.RecoveredEvent{AgentID: agentID, Timestamp: e.now()})
	}
}

// Pending returns the plan currently in flight for the worker, or nil.
func (e *Engine) Pending(agentID string) (*Plan, error) {
	var plan *Plan
	err := lockfile.WithLock(e.markerLock(agentID), 10*time.Second, func() error {
		var err error
		plan, err = e.loadPlan(agentID)
		return err
	})
	return plan, err
}

// PendingAll returns every in-flight plan.
func (e *Engine) PendingAll() ([]*Plan, error) {
	dir := filepath.Join(e.cfg.Dir, "pending")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evolution: list markers: %w", err)
	}

	var plans []*Plan
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		plan, err := e.Pending(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if plan != nil {
			plans = append(plans, plan)
		}
	}
	return plans, nil
}

// promptConstraint renders the constraint block appended to a worker's
// override instructions for the detected patterns.
func promptConstraint(patterns []string) string {
	var lines []string
	for _, p := range patterns {
		switch p {
		case PatternLowOutputQuality:
			lines = append(lines, "Structure every result: lead with a summary, then concrete details as a list.")
		case PatternFrequentRework:
			lines = append(lines, "Before submitting, re-read the task description and verify each requirement is addressed.")
		case PatternHighFailureRate:
			lines = append(lines, "Prefer a smaller correct result over an ambitious incomplete one.")
		case PatternInconsistentOutput:
			lines = append(lines, "Keep output format consistent across tasks of the same kind.")
		case PatternNotImproving:
			lines = append(lines, "Review the feedback on your last reviewed tasks and apply it explicitly.")
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "Double-check results against the task description before submitting.")
	}
	return strings.Join(lines, "\n")
}
