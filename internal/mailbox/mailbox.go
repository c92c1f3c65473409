// Package mailbox provides point-to-point asynchronous messaging between
// workers. Each recipient owns one append-only line-delimited JSON log;
// reading drains the log atomically under the recipient's lock. Delivery is
// FIFO per recipient and at-least-once: a crash between read and truncate can
// redeliver, so handlers must be idempotent.
package mailbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/fleet/internal/lockfile"
)

// Message type constants.
const (
	TypeInfo          = "info"
	TypeShutdown      = "shutdown"
	TypeReviewRequest = "review_request"
)

// Message is one delivered mailbox entry.
type Message struct {
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Mailbox delivers messages through per-recipient logs under dir.
type Mailbox struct {
	dir      string
	lockWait time.Duration
	now      func() time.Time
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) { m.now = now }
}

// WithLockWait overrides the bound on lock acquisition.
func WithLockWait(d time.Duration) Option {
	return func(m *Mailbox) { m.lockWait = d }
}

// New creates a mailbox rooted at dir.
func New(dir string, opts ...Option) *Mailbox {
	m := &Mailbox{
		dir:      dir,
		lockWait: 10 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mailbox) logPath(id string) string {
	return filepath.Join(m.dir, id+".jsonl")
}

// Send appends one message to the recipient's log.
func (m *Mailbox) Send(from, to, content, msgType string) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("mailbox: ensure dir: %w", err)
	}

	msg := Message{
		From:      from,
		Type:      msgType,
		Content:   content,
		Timestamp: m.now(),
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailbox: marshal message: %w", err)
	}

	path := m.logPath(to)
	return lockfile.WithLock(path+".lock", m.lockWait, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("mailbox: open log for %s: %w", to, err)
		}
		defer f.Close()

		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("mailbox: append for %s: %w", to, err)
		}
		return nil
	})
}

// ReadAndDrain returns every queued message for id in delivery order and
// truncates the log, all under the recipient's lock. An absent log yields an
// empty slice.
func (m *Mailbox) ReadAndDrain(id string) ([]Message, error) {
	path := m.logPath(id)

	var messages []Message
	err := lockfile.WithLock(path+".lock", m.lockWait, func() error {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mailbox: open log for %s: %w", id, err)
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil {
				// A torn trailing line from a crashed writer is
				// dropped rather than wedging the mailbox.
				continue
			}
			messages = append(messages, msg)
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return fmt.Errorf("mailbox: read log for %s: %w", id, scanErr)
		}

		return os.Truncate(path, 0)
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}
