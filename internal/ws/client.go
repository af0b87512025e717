package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	maxJoined      = 64
)

// Frame a client to server control message
type Frame struct {
	Type           string `json:"type"` // "join" or "leave"
	ConversationID uint64 `json:"conversation_id"`
}

// ErrorPayload payload of "error" events
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client represents a single WebSocket connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	memberID string

	mu     sync.Mutex
	closed bool

	// joined is owned by the ReadPump goroutine
	joined map[uint64]*following
}

// following one joined conversation. left is set before a requested close so
// forward can tell it apart from the feed dropping the subscription.
type following struct {
	sub  feed.Subscription
	left atomic.Bool
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, memberID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		memberID: memberID,
		joined:   make(map[uint64]*following),
	}
}

// trySend queues data unless the client is closed or its buffer is full
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) emit(ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if !c.trySend(data) {
		logger.GetLogger().Debug().Str("member_id", c.memberID).Str("type", ev.Type).Msg("ws event dropped")
	}
}

func (c *Client) emitError(conversationID uint64, err error) {
	c.emit(&Event{
		Type:           "error",
		ConversationID: conversationID,
		Payload:        &ErrorPayload{Code: common.ErrorCode(err), Message: err.Error()},
	})
}

// ReadPump reads join/leave frames until the connection closes
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(c.hub.ctx)
	defer func() {
		cancel()
		for id, f := range c.joined {
			f.left.Store(true)
			f.sub.Close()
			delete(c.joined, id)
		}
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emitError(0, common.ErrInvalidInput)
			continue
		}
		switch f.Type {
		case "join":
			c.join(ctx, f.ConversationID)
		case "leave":
			c.leave(f.ConversationID)
		default:
			c.emitError(f.ConversationID, common.ErrInvalidInput)
		}
	}
}

func (c *Client) join(ctx context.Context, conversationID uint64) {
	if _, ok := c.joined[conversationID]; ok {
		c.emit(&Event{Type: "joined", ConversationID: conversationID})
		return
	}
	if len(c.joined) >= maxJoined {
		c.emitError(conversationID, common.ErrInvalidInput)
		return
	}
	if c.hub.auth != nil {
		if err := c.hub.auth.Authorize(ctx, conversationID, c.memberID); err != nil {
			c.emitError(conversationID, err)
			return
		}
	}
	if c.hub.feed == nil {
		c.emitError(conversationID, common.ErrNotFound)
		return
	}

	sub, err := c.hub.feed.Subscribe(ctx, conversationID)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Uint64("conversation_id", conversationID).Msg("feed subscribe failed")
		c.emitError(conversationID, err)
		return
	}
	f := &following{sub: sub}
	c.joined[conversationID] = f
	go c.forward(conversationID, f)
	c.emit(&Event{Type: "joined", ConversationID: conversationID})
}

func (c *Client) leave(conversationID uint64) {
	if f, ok := c.joined[conversationID]; ok {
		f.left.Store(true)
		f.sub.Close()
		delete(c.joined, conversationID)
	}
	c.emit(&Event{Type: "left", ConversationID: conversationID})
}

// forward pushes feed events to the socket until the subscription closes.
// A message that cannot be queued, or a subscription the feed dropped, means
// the peer missed events: the connection is closed so the peer reconnects
// and reloads history.
func (c *Client) forward(conversationID uint64, f *following) {
	for ev := range f.sub.Events() {
		data, err := json.Marshal(&Event{Type: "message.inserted", ConversationID: conversationID, Payload: ev})
		if err != nil {
			continue
		}
		if !c.trySend(data) {
			c.dropLagging(conversationID, "send buffer full")
			return
		}
	}
	if !f.left.Load() {
		c.dropLagging(conversationID, "feed subscription lost")
	}
}

func (c *Client) dropLagging(conversationID uint64, reason string) {
	logger.GetLogger().Warn().
		Str("member_id", c.memberID).
		Uint64("conversation_id", conversationID).
		Str("reason", reason).
		Msg("closing lagging ws connection")
	c.conn.Close() //nolint:errcheck
}

// WritePump sends messages to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message) //nolint:errcheck
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
