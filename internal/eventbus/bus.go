// Package eventbus is orka's internal pub/sub bus. internal/session
// publishes session lifecycle events on it (SubjectSessionLifecycle); it
// exists as a generic fan-out channel any future subsystem can subscribe
// to without SessionManager knowing its consumers (SPEC_FULL.md §4).
//
// Grounded on the teacher's internal/events/bus package: the same Bus
// interface shape, and the same rule that an empty broker URL selects the
// in-memory implementation instead of dialing out.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message carried on the bus. Data is schemaless, mirroring
// AgentLogEvent.Details (SPEC_FULL.md §9 "dynamic event payloads").
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an Event stamped with a fresh ID and timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered Event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Subject names used across orka's own components. Consumers may also use
// arbitrary subjects (e.g. per-agent subjects for hook-trigger coalescing).
const (
	SubjectAgentRequestHelp = "orka.agent.request_help"
	SubjectAgentCapBreach   = "orka.agent.cap_breach"
	SubjectSessionLifecycle = "orka.session.lifecycle"
	SubjectHookTrigger      = "orka.hook.trigger"
)

// Bus is the pub/sub contract shared by the in-memory and NATS-backed
// implementations.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
