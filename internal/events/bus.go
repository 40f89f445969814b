package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSnapshot        EventType = "SNAPSHOT"
	EventSignal          EventType = "SIGNAL"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPartialClose    EventType = "PARTIAL_CLOSE"
	EventStopMoved       EventType = "STOP_MOVED"
	EventCircuitBreaker  EventType = "CIRCUIT_BREAKER"
	EventConnection      EventType = "CONNECTION"
	EventContextSwitched EventType = "CONTEXT_SWITCHED"
	EventError           EventType = "ERROR"
)

// Event represents a system event. Session is the owning session name.
type Event struct {
	Type      EventType   `json:"type"`
	Session   string      `json:"session"`
	Pair      string      `json:"pair,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
// Subscribers run on the publisher's goroutine in registration order and
// must not block.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	now         func() time.Time
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus is a no-op.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	specific := eb.subscribers[event.Type]
	all := eb.allSubs
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	for _, sub := range specific {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(session, source string, err error) {
	data := map[string]interface{}{"source": source}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Session: session, Data: data})
}

// PublishConnection publishes a stream connection state change
func (eb *EventBus) PublishConnection(session, pair, state string) {
	eb.Publish(Event{
		Type:    EventConnection,
		Session: session,
		Pair:    pair,
		Data:    map[string]interface{}{"state": state},
	})
}

// PublishCircuitBreaker publishes a breaker trip or reset
func (eb *EventBus) PublishCircuitBreaker(session string, tripped bool, reason string) {
	eb.Publish(Event{
		Type:    EventCircuitBreaker,
		Session: session,
		Data: map[string]interface{}{
			"tripped": tripped,
			"reason":  reason,
		},
	})
}
