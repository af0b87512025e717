package feed

import (
	"context"
	"sync"

	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/pkg/logger"
)

// Memory in-process fanout feed for single node deployments and tests
type Memory struct {
	mu   sync.RWMutex
	subs map[uint64]map[*memorySub]struct{}
}

// NewMemory creates an in-process feed
func NewMemory() *Memory {
	return &Memory{subs: make(map[uint64]map[*memorySub]struct{})}
}

type memorySub struct {
	feed   *Memory
	convID uint64
	ch     chan domain.MessageInserted
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) Events() <-chan domain.MessageInserted {
	return s.ch
}

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		if set, ok := s.feed.subs[s.convID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.feed.subs, s.convID)
			}
		}
		close(s.ch)
		close(s.done)
		s.feed.mu.Unlock()
	})
}

// Subscribe registers a subscriber for the conversation
func (m *Memory) Subscribe(ctx context.Context, conversationID uint64) (Subscription, error) {
	sub := &memorySub{
		feed:   m,
		convID: conversationID,
		ch:     make(chan domain.MessageInserted, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.subs[conversationID] == nil {
		m.subs[conversationID] = make(map[*memorySub]struct{})
	}
	m.subs[conversationID][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish fans the event out. A subscriber whose buffer is full is evicted:
// its Events channel closes, which tells the consumer it missed events and
// must reload history.
func (m *Memory) Publish(_ context.Context, ev domain.MessageInserted) error {
	var evicted []*memorySub
	m.mu.RLock()
	for sub := range m.subs[ev.ConversationID] {
		select {
		case sub.ch <- ev:
		default:
			evicted = append(evicted, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range evicted {
		metrics.FeedPublishFailures.Inc()
		logger.GetLogger().Warn().
			Uint64("conversation_id", ev.ConversationID).
			Str("message_id", ev.ID).
			Msg("feed subscriber buffer full, subscription evicted")
		sub.Close()
	}
	return nil
}

// Subscribers returns the number of live subscriptions for a conversation
func (m *Memory) Subscribers(conversationID uint64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[conversationID])
}
