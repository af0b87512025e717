package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Topic reconciler event topic
type Topic string

const (
	TopicReconciled Topic = "message.reconciled"
	TopicReceived   Topic = "message.received"
	TopicSendFailed Topic = "message.send_failed"
)

// Event a reconciler notification. Message is the log entry after the
// change; for send failures it is the removed optimistic entry.
type Event struct {
	Topic          Topic
	ConversationID uint64
	Message        Message
	TempID         string
	Outcome        Outcome
	Err            error
	Timestamp      time.Time
}

// Handler event callback
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus synchronous topic fanout. A panicking handler is logged and
// does not affect other handlers or the reconciler.
type EventBus struct {
	subscribers map[Topic][]subscription
	nextID      uint64
	mu          sync.RWMutex
	log         zerolog.Logger
}

// NewEventBus creates an EventBus
func NewEventBus(log zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[Topic][]subscription),
		log:         log,
	}
}

// Subscribe registers handler for topic and returns its cancel func
func (eb *EventBus) Subscribe(topic Topic, handler Handler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subscribers[topic] = append(eb.subscribers[topic], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		subs := eb.subscribers[topic]
		for i, s := range subs {
			if s.id == id {
				eb.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(eb.subscribers[topic]) == 0 {
			delete(eb.subscribers, topic)
		}
	}
}

// Publish runs every handler for the event's topic in subscription order
func (eb *EventBus) Publish(ev Event) {
	eb.mu.RLock()
	subs := make([]subscription, len(eb.subscribers[ev.Topic]))
	copy(subs, eb.subscribers[ev.Topic])
	eb.mu.RUnlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.log.Error().Str("topic", string(ev.Topic)).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			s.handler(ev)
		}()
	}
}
