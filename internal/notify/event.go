// Package notify carries order events to connected drivers.
//
// Delivery is best-effort: nothing here acknowledges or replays an event.
// A driver that misses one recovers by polling the attempt endpoint, so
// correctness never depends on a broadcast arriving.
package notify

import "time"

// MessageType is the envelope type of every event sent to drivers.
const MessageType = "order_event"

type EventType string

const (
	NewOrderAvailable   EventType = "new_order_available"
	OrderLocked         EventType = "order_locked"
	OrderAssigned       EventType = "order_assigned"
	OrderAvailableAgain EventType = "order_available_again"
	OrderTimeout        EventType = "order_timeout"
)

type Event struct {
	Type      string         `json:"type"`
	EventType EventType      `json:"eventType"`
	JobID     string         `json:"jobId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType EventType, jobID string, at time.Time, data map[string]any) Event {
	return Event{
		Type:      MessageType,
		EventType: eventType,
		JobID:     jobID,
		Timestamp: at,
		Data:      data,
	}
}

// Notifier delivers an event to each listed agent.
type Notifier interface {
	Notify(agentIDs []string, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(agentIDs []string, event Event)

func (f NotifierFunc) Notify(agentIDs []string, event Event) {
	f(agentIDs, event)
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func([]string, Event) {})
