package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Redis pubsub backed feed for multi-instance deployments
type Redis struct {
	client *redis.Client
}

// NewRedis creates a redis feed
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends the event on the conversation channel
func (r *Redis) Publish(ctx context.Context, ev domain.MessageInserted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, Channel(ev.ConversationID), data).Err()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan domain.MessageInserted
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (s *redisSub) Events() <-chan domain.MessageInserted {
	return s.ch
}

func (s *redisSub) Close() {
	s.once.Do(func() {
		s.cancel()
		s.pubsub.Close() //nolint:errcheck
	})
	<-s.done
}

// Subscribe listens on the conversation channel. The subscription is
// confirmed with redis before returning so no event published afterwards
// is missed.
func (r *Redis) Subscribe(ctx context.Context, conversationID uint64) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, Channel(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close() //nolint:errcheck
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan domain.MessageInserted, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.forward(subCtx)
	return sub, nil
}

func (s *redisSub) forward(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	defer s.pubsub.Close() //nolint:errcheck

	msgs := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev domain.MessageInserted
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.GetLogger().Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed feed event")
				continue
			}
			select {
			case s.ch <- ev:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
