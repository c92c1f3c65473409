package mailbox

import (
	"fmt"
	"sync"
	"testing"
)

// TestSendAndDrain verifies FIFO delivery and that the log is emptied.
func TestSendAndDrain(t *testing.T) {
	m := New(t.TempDir())

	if err := m.Send("alice", "bob", "first", TypeInfo); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := m.Send("carol", "bob", "second", TypeReviewRequest); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs, err := m.ReadAndDrain("bob")
	if err != nil {
		t.Fatalf("ReadAndDrain failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].From != "alice" || msgs[0].Content != "first" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Type != TypeReviewRequest {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}

	// Drained: a second read yields nothing.
	msgs, err = m.ReadAndDrain("bob")
	if err != nil {
		t.Fatalf("second ReadAndDrain failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty mailbox after drain, got %d messages", len(msgs))
	}
}

// TestDrainEmptyMailbox verifies a recipient with no log drains cleanly.
func TestDrainEmptyMailbox(t *testing.T) {
	m := New(t.TempDir())

	msgs, err := m.ReadAndDrain("nobody")
	if err != nil {
		t.Fatalf("ReadAndDrain failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

// TestRecipientsIsolated verifies delivery does not leak across recipients.
func TestRecipientsIsolated(t *testing.T) {
	m := New(t.TempDir())

	m.Send("alice", "bob", "for bob", TypeInfo)
	m.Send("alice", "carol", "for carol", TypeInfo)

	msgs, _ := m.ReadAndDrain("bob")
	if len(msgs) != 1 || msgs[0].Content != "for bob" {
		t.Errorf("unexpected bob mailbox: %+v", msgs)
	}

	msgs, _ = m.ReadAndDrain("carol")
	if len(msgs) != 1 || msgs[0].Content != "for carol" {
		t.Errorf("unexpected carol mailbox: %+v", msgs)
	}
}

// TestConcurrentSendersNoLoss verifies messages survive concurrent appends.
func TestConcurrentSendersNoLoss(t *testing.T) {
	m := New(t.TempDir())

	const senders = 10
	const perSender = 20

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				content := fmt.Sprintf("msg %d/%d", n, j)
				if err := m.Send(fmt.Sprintf("sender-%d", n), "sink", content, TypeInfo); err != nil {
					t.Errorf("Send failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	msgs, err := m.ReadAndDrain("sink")
	if err != nil {
		t.Fatalf("ReadAndDrain failed: %v", err)
	}
	if len(msgs) != senders*perSender {
		t.Errorf("expected %d messages, got %d", senders*perSender, len(msgs))
	}
}
