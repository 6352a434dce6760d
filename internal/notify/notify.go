package notify

import (
	"context"
	"encoding/json"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/queue"
)

// Event types emitted by the engine.
const (
	TypeAttendanceRecorded = "attendance_recorded"
	TypeSessionCompleted   = "session_completed"
)

// Event is what the messaging subsystem forwards to students and lecturers.
type Event struct {
	Type      string        `json:"type"`
	StudentID string        `json:"student_id,omitempty"`
	SessionID string        `json:"session_id"`
	ClassID   string        `json:"class_id"`
	Status    ledger.Status `json:"status,omitempty"`
	At        time.Time     `json:"at"`
}

// Publisher is the seam between the engine and the notification transport.
// Components receive one explicitly; there is no process-wide singleton.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// QueuePublisher puts events on the work queue for the worker to fan out.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher creates a publisher over a queue.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

// Publish enqueues the event as JSON.
func (p *QueuePublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: evt.Type, Body: body})
}

// Nop discards events; used in tests and when the queue is disabled.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(ctx context.Context, evt Event) error { return nil }
