// Package feed delivers MessageInserted events to conversation subscribers.
// Delivery is at-least-once from the subscriber's point of view: consumers
// must tolerate duplicates and out of order arrival.
package feed

import (
	"context"
	"fmt"

	"github.com/lexgig/lexgig-backend/internal/domain"
)

const subscriptionBuffer = 64

// Publisher publishes persisted messages
type Publisher interface {
	Publish(ctx context.Context, ev domain.MessageInserted) error
}

// Subscriber opens a per-conversation event stream
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID uint64) (Subscription, error)
}

// Feed is both ends of the message stream
type Feed interface {
	Publisher
	Subscriber
}

// Subscription a live event stream. Events is closed after Close, when the
// subscribe context ends, or when the feed gives up on a slow consumer. A
// close the consumer did not ask for means events may have been missed.
type Subscription interface {
	Events() <-chan domain.MessageInserted
	Close()
}

// Channel returns the pubsub channel name for a conversation
func Channel(conversationID uint64) string {
	return fmt.Sprintf("conversation:%d:messages", conversationID)
}
