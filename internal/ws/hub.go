package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const redisPubSubChannel = "lexgig:member-events"

// Event represents a real-time event sent via WebSocket
type Event struct {
	Type           string      `json:"type"` // "message.inserted", "gig.updated", "joined", "left", "error"
	ConversationID uint64      `json:"conversation_id,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
}

// Authorizer decides whether a member may follow a conversation
type Authorizer interface {
	Authorize(ctx context.Context, conversationID uint64, userID string) error
}

// Hub manages WebSocket clients, member notifications and conversation
// feed subscriptions
type Hub struct {
	// Registered clients grouped by member ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *targetedEvent

	id          string
	mu          sync.RWMutex
	redisClient *redis.Client
	feed        feed.Subscriber
	auth        Authorizer
	ctx         context.Context
	cancel      context.CancelFunc
}

type targetedEvent struct {
	MemberID string
	Event    *Event
}

// NewHub creates a new Hub. redisClient may be nil for single node setups.
func NewHub(redisClient *redis.Client, subscriber feed.Subscriber, auth Authorizer) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *targetedEvent, 256),
		id:          uuid.New().String(),
		redisClient: redisClient,
		feed:        subscriber,
		auth:        auth,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		client.close()
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	if h.redisClient != nil {
		go h.subscribeRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.memberID] == nil {
				h.clients[client.memberID] = make(map[*Client]bool)
			}
			h.clients[client.memberID][client] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.memberID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.close()
					metrics.WSConnections.Dec()
					if len(clients) == 0 {
						delete(h.clients, client.memberID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Event)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients[msg.MemberID] {
				client.trySend(data)
			}
			h.mu.RUnlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Notify sends an event to every connection of a member on every instance
func (h *Hub) Notify(memberID string, eventType string, payload interface{}) {
	h.SendToMember(memberID, &Event{Type: eventType, Payload: payload})
}

// SendToMember sends an event to a specific member (local + Redis publish)
func (h *Hub) SendToMember(memberID string, event *Event) {
	msg := &targetedEvent{MemberID: memberID, Event: event}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		return
	}

	if h.redisClient != nil {
		data, err := json.Marshal(&remoteEvent{Origin: h.id, MemberID: memberID, Event: event})
		if err == nil {
			if err := h.redisClient.Publish(h.ctx, redisPubSubChannel, data).Err(); err != nil {
				logger.GetLogger().Warn().Err(err).Str("member_id", memberID).Msg("member event publish failed")
			}
		}
	}
}

// Connections returns the number of live connections of a member
func (h *Hub) Connections(memberID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[memberID])
}

// remoteEvent member event relayed between instances. Origin lets a hub
// skip its own publications.
type remoteEvent struct {
	Origin   string `json:"origin"`
	MemberID string `json:"member_id"`
	Event    *Event `json:"event"`
}

// subscribeRedis relays member events published by other instances
func (h *Hub) subscribeRedis() {
	pubsub := h.redisClient.Subscribe(h.ctx, redisPubSubChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var re remoteEvent
			if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil || re.Event == nil {
				continue
			}
			if re.Origin == h.id {
				continue
			}
			select {
			case h.broadcast <- &targetedEvent{MemberID: re.MemberID, Event: re.Event}:
			case <-h.ctx.Done():
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
}
