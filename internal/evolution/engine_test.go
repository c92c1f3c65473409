package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aristath/fleet/internal/chat"
	"github.com/aristath/fleet/internal/events"
	"github.com/aristath/fleet/internal/queue"
	"github.com/aristath/fleet/internal/reputation"
)

type fakeModelStore struct {
	mu        sync.Mutex
	current   map[string]string
	fallbacks map[string][]string
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{
		current:   make(map[string]string),
		fallbacks: make(map[string][]string),
	}
}

func (f *fakeModelStore) WorkerModel(agentID string) (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[agentID], f.fallbacks[agentID]
}

func (f *fakeModelStore) SetWorkerModel(agentID, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[agentID] = model
	return nil
}

type fixture struct {
	engine  *Engine
	queue   *queue.Queue
	tracker *reputation.Tracker
	models  *fakeModelStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	q := queue.New(filepath.Join(dir, "tasks.json"))
	tr := reputation.NewTracker(filepath.Join(dir, "reputation.json"))
	models := newFakeModelStore()
	eng := New(Config{
		Dir:           filepath.Join(dir, "evolution"),
		Team:          []string{"worker-1", "worker-2", "worker-3"},
		VoteThreshold: 0.6,
	}, q, tr, models, opts...)
	return &fixture{engine: eng, queue: q, tracker: tr, models: models}
}

// completeTasks pushes n tasks through claim and completion for the agent.
func (f *fixture) completeTasks(t *testing.T, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		task, err := f.queue.Create(fmt.Sprintf("ok %d", i), nil, "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		f.queue.ClaimNext(agentID, "")
		f.queue.Complete(task.ID)
	}
}

// failTasks pushes n tasks through claim and failure for the agent.
func (f *fixture) failTasks(t *testing.T, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		task, err := f.queue.Create(fmt.Sprintf("bad %d", i), nil, "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		f.queue.ClaimNext(agentID, "")
		f.queue.Fail(task.ID, "executor error")
	}
}

// TestTriggerDedup verifies two rapid triggers produce exactly one pending
// plan.
func TestTriggerDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Trigger(ctx, "worker-1")
	f.engine.Trigger(ctx, "worker-1")

	plans, err := f.engine.PendingAll()
	if err != nil {
		t.Fatalf("PendingAll failed: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected exactly one pending plan, got %d", len(plans))
	}
}

// TestTriggerDedupConcurrent races many triggers for the same worker.
func TestTriggerDedupConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.Trigger(ctx, "worker-1")
		}()
	}
	wg.Wait()

	plans, _ := f.engine.PendingAll()
	if len(plans) != 1 {
		t.Fatalf("expected exactly one pending plan, got %d", len(plans))
	}
}

// TestPromptPathAppliesOverride verifies low output quality selects the
// prompt path, writes an override block, and lifts it on recovery.
func TestPromptPathAppliesOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Push output_quality well below the floor.
	for i := 0; i < 6; i++ {
		f.tracker.Update("worker-1", reputation.DimOutputQuality, 0)
	}

	f.engine.Trigger(ctx, "worker-1")

	plan, err := f.engine.Pending("worker-1")
	if err != nil || plan == nil {
		t.Fatalf("expected pending plan, got %v (err %v)", plan, err)
	}
	if plan.Path != PathPrompt || plan.State != StateApplied {
		t.Errorf("expected applied prompt plan, got %s/%s", plan.Path, plan.State)
	}

	overrides, _ := f.engine.Overrides("worker-1")
	if overrides == "" {
		t.Error("expected override instructions to be written")
	}

	f.engine.NoteHealthy("worker-1")

	if plan, _ := f.engine.Pending("worker-1"); plan != nil {
		t.Error("expected marker removed after recovery")
	}
	if overrides, _ := f.engine.Overrides("worker-1"); overrides != "" {
		t.Error("expected overrides cleared after recovery")
	}
}

// TestModelPathAwaitsConfirmation verifies a high failure rate selects the
// model path and the swap only lands on operator approval.
func TestModelPathAwaitsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.models.current["worker-1"] = "model-a"
	f.models.fallbacks["worker-1"] = []string{"model-a", "model-b"}

	f.failTasks(t, "worker-1", 4)
	f.completeTasks(t, "worker-1", 6)

	f.engine.Trigger(ctx, "worker-1")

	plan, _ := f.engine.Pending("worker-1")
	if plan == nil || plan.Path != PathModel || plan.State != StateAwaitingConfirmation {
		t.Fatalf("expected model plan awaiting confirmation, got %+v", plan)
	}
	if plan.NewModel != "model-b" {
		t.Errorf("expected fallback model-b, got %q", plan.NewModel)
	}

	// Nothing changes until confirmation.
	if current, _ := f.models.WorkerModel("worker-1"); current != "model-a" {
		t.Errorf("model changed before confirmation: %s", current)
	}

	if err := f.engine.ConfirmModelSwap("worker-1", true); err != nil {
		t.Fatalf("ConfirmModelSwap failed: %v", err)
	}
	if current, _ := f.models.WorkerModel("worker-1"); current != "model-b" {
		t.Errorf("expected model-b after confirmation, got %s", current)
	}
	if plan, _ := f.engine.Pending("worker-1"); plan != nil {
		t.Error("expected marker removed after confirmation")
	}
}

// TestModelSwapRejection verifies a rejected swap leaves the model alone.
func TestModelSwapRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.models.current["worker-1"] = "model-a"
	f.models.fallbacks["worker-1"] = []string{"model-b"}
	f.failTasks(t, "worker-1", 5)
	f.completeTasks(t, "worker-1", 5)

	f.engine.Trigger(ctx, "worker-1")

	if err := f.engine.ConfirmModelSwap("worker-1", false); err != nil {
		t.Fatalf("ConfirmModelSwap failed: %v", err)
	}
	if current, _ := f.models.WorkerModel("worker-1"); current != "model-a" {
		t.Errorf("rejected swap must not change the model, got %s", current)
	}
	if plan, _ := f.engine.Pending("worker-1"); plan != nil {
		t.Error("expected marker removed after rejection")
	}
}

// rolePlanFixture produces a worker whose diagnosis lands on the role path.
func rolePlanFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)

	// Stagnation: improvement_rate collapses while quality and
	// consistency stay fine.
	for i := 0; i < 6; i++ {
		f.tracker.Update("worker-1", reputation.DimImprovementRate, 0)
	}

	f.engine.Trigger(context.Background(), "worker-1")

	plan, _ := f.engine.Pending("worker-1")
	if plan == nil || plan.Path != PathRole || plan.State != StateAwaitingVote {
		t.Fatalf("expected role plan awaiting vote, got %+v", plan)
	}
	return f
}

// TestRoleVoteQuorumExecutes covers the approving quorum: in a 3-worker
// team, 2 approvals out of 2 votes executes the restructuring.
func TestRoleVoteQuorumExecutes(t *testing.T) {
	f := rolePlanFixture(t)

	outcome, err := f.engine.CastVote("worker-1", "worker-2", true)
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if outcome != VoteRecorded {
		t.Errorf("expected recorded before quorum, got %s", outcome)
	}

	outcome, err = f.engine.CastVote("worker-1", "worker-3", true)
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if outcome != VoteExecuted {
		t.Errorf("expected executed at quorum, got %s", outcome)
	}

	overrides, _ := f.engine.Overrides("worker-1")
	if !strings.Contains(overrides, "Role restructuring") {
		t.Errorf("expected restructuring constraint, got %q", overrides)
	}
	if plan, _ := f.engine.Pending("worker-1"); plan != nil {
		t.Error("expected marker removed after execution")
	}
}

// TestRoleVoteSplitRejects covers the failing ratio: 1 approval + 1
// rejection misses the 0.6 threshold once quorum is met.
func TestRoleVoteSplitRejects(t *testing.T) {
	f := rolePlanFixture(t)

	f.engine.CastVote("worker-1", "worker-2", true)
	outcome, err := f.engine.CastVote("worker-1", "worker-3", false)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if outcome != VoteRejected {
		t.Errorf("expected rejected, got %s", outcome)
	}

	if overrides, _ := f.engine.Overrides("worker-1"); overrides != "" {
		t.Errorf("rejected vote must not restructure, got %q", overrides)
	}
	if plan, _ := f.engine.Pending("worker-1"); plan != nil {
		t.Error("expected marker discarded after rejection")
	}
}

// TestDuplicateVoteRejected verifies one vote per teammate.
func TestDuplicateVoteRejected(t *testing.T) {
	f := rolePlanFixture(t)

	if _, err := f.engine.CastVote("worker-1", "worker-2", true); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if _, err := f.engine.CastVote("worker-1", "worker-2", false); !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("expected ErrDuplicateVote, got %v", err)
	}
}

// TestLegacyReviewFailedExcluded is the regression guard: completed tasks
// carrying the bare legacy "review_failed" marker (written by old board
// versions) are not counted as rework by diagnosis.
func TestLegacyReviewFailedExcluded(t *testing.T) {
	dir := t.TempDir()
	boardPath := filepath.Join(dir, "tasks.json")
	q := queue.New(boardPath)
	tr := reputation.NewTracker(filepath.Join(dir, "reputation.json"))
	eng := New(Config{Dir: filepath.Join(dir, "evolution"), Team: []string{"worker-1"}}, q, tr, nil)

	for i := 0; i < 5; i++ {
		task, _ := q.Create(fmt.Sprintf("legacy %d", i), nil, "")
		q.ClaimNext("worker-1", "")
		q.Complete(task.ID)
	}

	// Graft the legacy marker onto every task, the way an old board
	// version would have left it.
	data, err := os.ReadFile(boardPath)
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	var doc struct {
		NextSeq int64                      `json:"next_seq"`
		Tasks   map[string]json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse board: %v", err)
	}
	for id, raw := range doc.Tasks {
		var task map[string]any
		json.Unmarshal(raw, &task)
		task["evolution_flags"] = []string{"review_failed"}
		patched, _ := json.Marshal(task)
		doc.Tasks[id] = patched
	}
	patched, _ := json.Marshal(doc)
	if err := os.WriteFile(boardPath, patched, 0o644); err != nil {
		t.Fatalf("write board: %v", err)
	}

	plan, err := eng.diagnose(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("diagnose failed: %v", err)
	}
	for _, p := range plan.Patterns {
		if p == PatternHighFailureRate || p == PatternFrequentRework {
			t.Errorf("legacy marker counted as rework: pattern %s", p)
		}
	}
}

// TestDiagnosisDegradesWithoutChat verifies a failing summarization call
// falls back to the heuristic root cause.
func TestDiagnosisDegradesWithoutChat(t *testing.T) {
	failing := chat.Func(func(_ context.Context, _ []chat.Message, _ string) (string, error) {
		return "", errors.New("provider down")
	})
	f := newFixture(t, WithChat(failing))

	plan, err := f.engine.diagnose(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("diagnose failed: %v", err)
	}
	if plan.RootCause == "" {
		t.Error("expected heuristic root cause despite chat failure")
	}
}

// TestOverrideDedupAndCap verifies blocks are deduplicated and capped at the
// most recent N.
func TestOverrideDedupAndCap(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.MaxOverrides = 3

	for i := 0; i < 2; i++ {
		if err := f.engine.appendOverride("worker-1", "same block"); err != nil {
			t.Fatalf("appendOverride failed: %v", err)
		}
	}
	overrides, _ := f.engine.Overrides("worker-1")
	if strings.Count(overrides, "same block") != 1 {
		t.Errorf("expected deduplicated block, got %q", overrides)
	}

	for i := 0; i < 5; i++ {
		f.engine.appendOverride("worker-1", fmt.Sprintf("block %d", i))
	}
	overrides, _ = f.engine.Overrides("worker-1")
	if strings.Contains(overrides, "block 0") || strings.Contains(overrides, "block 1") {
		t.Errorf("expected oldest blocks evicted, got %q", overrides)
	}
	if !strings.Contains(overrides, "block 4") {
		t.Errorf("expected newest block kept, got %q", overrides)
	}
}

// TestEvolutionEventsPublished verifies plan creation and recovery are
// announced on the evolution topic, and deduped triggers stay silent.
func TestEvolutionEventsPublished(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	f := newFixture(t, WithBus(bus))
	ctx := context.Background()
	ch := bus.Subscribe(events.TopicEvolution, 10)

	// Low output quality selects the prompt path, which applies at once.
	for i := 0; i < 6; i++ {
		f.tracker.Update("worker-1", reputation.DimOutputQuality, 0)
	}
	f.engine.Trigger(ctx, "worker-1")

	select {
	case ev := <-ch:
		corr, ok := ev.(events.CorrectionEvent)
		if !ok {
			t.Fatalf("expected CorrectionEvent, got %T", ev)
		}
		if corr.AgentID != "worker-1" || corr.Path != string(PathPrompt) {
			t.Errorf("unexpected correction event: %+v", corr)
		}
		if len(corr.Patterns) == 0 {
			t.Error("expected patterns on the correction event")
		}
	default:
		t.Fatal("expected a correction event after trigger")
	}

	// A deduped trigger creates nothing and must not re-announce.
	f.engine.Trigger(ctx, "worker-1")
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after deduped trigger: %T", ev)
	default:
	}

	f.engine.NoteHealthy("worker-1")
	select {
	case ev := <-ch:
		rec, ok := ev.(events.RecoveredEvent)
		if !ok {
			t.Fatalf("expected RecoveredEvent, got %T", ev)
		}
		if rec.AgentID != "worker-1" {
			t.Errorf("agent = %q, want worker-1", rec.AgentID)
		}
	default:
		t.Fatal("expected a recovery event after overrides lifted")
	}
}
