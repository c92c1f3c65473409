package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/fleet/internal/queue"
)

func archivedTask(id string, seq int64, status queue.Status) *queue.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return &queue.Task{
		ID:          id,
		Seq:         seq,
		Description: "task " + id,
		Status:      status,
		Result:      "output of " + id,
		EvolutionFlags: []string{
			"failed:timeout",
		},
		Reviews: []queue.Review{
			{Reviewer: "critic", Score: 85, Comment: "fine", Timestamp: now},
		},
		AssignedTo: []string{"coder-1"},
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now,
	}
}

func TestArchiveAndGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	want := archivedTask("t1", 1, queue.StatusCompleted)
	if err := store.ArchiveTasks(ctx, []*queue.Task{want}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	got, err := store.GetArchived(ctx, "t1")
	if err != nil {
		t.Fatalf("GetArchived: %v", err)
	}
	if got == nil {
		t.Fatal("archived task not found")
	}
	if got.Description != want.Description || got.Status != want.Status {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.Reviews) != 1 || got.Reviews[0].Reviewer != "critic" {
		t.Errorf("reviews = %+v, want one from critic", got.Reviews)
	}
	if len(got.EvolutionFlags) != 1 || got.EvolutionFlags[0] != "failed:timeout" {
		t.Errorf("flags = %v", got.EvolutionFlags)
	}
	if len(got.AssignedTo) != 1 || got.AssignedTo[0] != "coder-1" {
		t.Errorf("assignees = %v", got.AssignedTo)
	}
}

func TestGetArchivedMissing(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	got, err := store.GetArchived(ctx, "nope")
	if err != nil {
		t.Fatalf("GetArchived: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing id, got %+v", got)
	}
}

func TestListArchivedOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	batch := []*queue.Task{
		archivedTask("t3", 3, queue.StatusCompleted),
		archivedTask("t1", 1, queue.StatusCancelled),
		archivedTask("t2", 2, queue.StatusFailed),
	}
	if err := store.ArchiveTasks(ctx, batch); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	all, err := store.ListArchived(ctx, 0)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, wantID := range []string{"t1", "t2", "t3"} {
		if all[i].ID != wantID {
			t.Errorf("position %d = %s, want %s", i, all[i].ID, wantID)
		}
	}

	limited, err := store.ListArchived(ctx, 2)
	if err != nil {
		t.Fatalf("ListArchived limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestArchiveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	first := archivedTask("t1", 1, queue.StatusFailed)
	if err := store.ArchiveTasks(ctx, []*queue.Task{first}); err != nil {
		t.Fatalf("ArchiveTasks: %v", err)
	}

	second := archivedTask("t1", 1, queue.StatusCompleted)
	second.Result = "retried and finished"
	if err := store.ArchiveTasks(ctx, []*queue.Task{second}); err != nil {
		t.Fatalf("ArchiveTasks replace: %v", err)
	}

	got, err := store.GetArchived(ctx, "t1")
	if err != nil {
		t.Fatalf("GetArchived: %v", err)
	}
	if got.Status != queue.StatusCompleted || got.Result != "retried and finished" {
		t.Errorf("replacement not applied: %+v", got)
	}
}

func TestArchiveEmptyBatch(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	if err := store.ArchiveTasks(ctx, nil); err != nil {
		t.Errorf("ArchiveTasks(nil) = %v, want nil", err)
	}
}
