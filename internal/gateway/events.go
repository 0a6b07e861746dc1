package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

// EventType names a gateway notification.
type EventType string

const (
	EventDecision  EventType = "decision"
	EventConfirmed EventType = "confirmed"
	EventRejected  EventType = "rejected"
	EventCompleted EventType = "completed"
	EventExpired   EventType = "expired"
	// EventDegraded reports a critical dispatch that missed a required
	// responder. The gateway does not raise it itself; callers publish it.
	EventDegraded EventType = "dispatch_degraded"
)

// Event is a typed notification delivered to every Sink.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	CommandID string            `json:"command_id,omitempty"`
	Command   *command.Command  `json:"command,omitempty"`
	Decision  *command.Decision `json:"decision,omitempty"`
	Severity  int               `json:"severity"`
	Reason    string            `json:"reason,omitempty"`
}

// Alert reports whether an operator should hear about e.
func (e Event) Alert() bool {
	switch e.Type {
	case EventExpired, EventDegraded:
		return true
	case EventDecision:
		return e.Decision != nil && e.Decision.Result == command.ResultBlocked
	}
	return false
}

// Sink consumes gateway events. Handle is called synchronously outside the
// gateway locks and must not block.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

func newEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.New().String(), Type: t, At: at}
}
