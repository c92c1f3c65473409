package events

import (
	"fmt"
	"testing"
	"time"
)

// TestPublishRoutesByEventTopic verifies an event lands with the
// subscribers of the topic it carries.
func TestPublishRoutesByEventTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskClaimedEvent{
		ID:        "task-1",
		AgentID:   "coder",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.Subject() != "task-1" {
			t.Errorf("expected subject 'task-1', got '%s'", received.Subject())
		}
		if received.EventType() != EventTypeTaskClaimed {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskClaimed, received.EventType())
		}
		if received.Topic() != TopicTask {
			t.Errorf("expected topic %q, got %q", TopicTask, received.Topic())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{
		ID:        "task-2",
		AgentID:   "coder",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Subject() != "task-2" {
				t.Errorf("subscriber %d: expected subject 'task-2', got '%s'", i+1, received.Subject())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSendCountsDrops verifies publishing never blocks on a
// full subscriber buffer and the shed deliveries are accounted for.
func TestNonBlockingSendCountsDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskClaimedEvent{
				ID:        fmt.Sprintf("task-%d", i),
				AgentID:   "coder",
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
		// Publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskClaimedEvent{
		ID:        "task-1",
		AgentID:   "coder",
		Timestamp: time.Now(),
	})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Channel closed, no data
	}
}

// TestTopicIsolation verifies a subscriber only sees its own topic.
func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	repCh := bus.Subscribe(TopicReputation, 10)

	bus.Publish(TaskClaimedEvent{
		ID:        "task-1",
		AgentID:   "coder",
		Timestamp: time.Now(),
	})
	bus.Publish(ScoreUpdatedEvent{
		AgentID:   "coder",
		Dimension: "output_quality",
		Composite: 72.5,
		Status:    "watch",
		Timestamp: time.Now(),
	})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskClaimed {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-repCh:
		if received.EventType() != EventTypeScoreUpdated {
			t.Errorf("reputation channel: expected score event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("reputation channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-repCh:
		t.Error("reputation channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskClaimedEvent{
		ID:        "task-1",
		AgentID:   "coder",
		Timestamp: time.Now(),
	})
	bus.Publish(CorrectionEvent{
		AgentID:   "coder",
		Patterns:  []string{"high_failure_rate"},
		Path:      "model",
		State:     "awaiting_confirmation",
		Timestamp: time.Now(),
	})

	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskClaimed] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeCorrection] {
		t.Error("SubscribeAll did not receive evolution event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
