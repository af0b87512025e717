package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	streamBuffer     = 256
	reconnectInitial = 500 * time.Millisecond
	reconnectMax     = 15 * time.Second
)

// wireEvent mirrors the server's WebSocket event frame
type wireEvent struct {
	Type           string          `json:"type"`
	ConversationID uint64          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type joinFrame struct {
	Type           string `json:"type"`
	ConversationID uint64 `json:"conversation_id"`
}

// Loader reloads authoritative history of a conversation
type Loader interface {
	Load(ctx context.Context, conversationID uint64) (int, error)
}

// Stream follows conversations over the WebSocket endpoint and yields their
// MessageInserted events. It reconnects with backoff and re-joins every
// followed conversation, so consumers must tolerate redelivery. Events sent
// while disconnected are lost; Resync reloads them once the server confirms
// each re-join.
type Stream struct {
	wsURL  string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger

	messages chan domain.MessageInserted
	gigs     chan json.RawMessage
	resync   chan struct{}

	mu           sync.Mutex
	conn         *websocket.Conn
	joined       map[uint64]bool
	rejoining    map[uint64]bool
	stale        map[uint64]bool
	retryInitial time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenStream dials the WebSocket endpoint and starts the read loop. The
// stream stops when ctx is done or Close is called.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/ws")
	if err != nil {
		return nil, fmt.Errorf("client: invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		wsURL:    u.String(),
		header:   header,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      logger.Component("stream"),
		messages: make(chan domain.MessageInserted, streamBuffer),
		gigs:     make(chan json.RawMessage, streamBuffer),
		resync:   make(chan struct{}, 1),
		joined:   make(map[uint64]bool),
		cancel:   cancel,
		done:     make(chan struct{}),

		rejoining:    make(map[uint64]bool),
		stale:        make(map[uint64]bool),
		retryInitial: reconnectInitial,
	}

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.conn = conn

	go s.run(ctx, conn)
	return s, nil
}

// Messages yields MessageInserted events of followed conversations. It is
// closed when the stream stops.
func (s *Stream) Messages() <-chan domain.MessageInserted {
	return s.messages
}

// GigUpdates yields raw gig.updated payloads addressed to this user
func (s *Stream) GigUpdates() <-chan json.RawMessage {
	return s.gigs
}

// Join starts following a conversation
func (s *Stream) Join(conversationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[conversationID] = true
	if s.conn == nil {
		return nil // re-joined on reconnect
	}
	return s.conn.WriteJSON(joinFrame{Type: "join", ConversationID: conversationID})
}

// Leave stops following a conversation
func (s *Stream) Leave(conversationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, conversationID)
	delete(s.rejoining, conversationID)
	delete(s.stale, conversationID)
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(joinFrame{Type: "leave", ConversationID: conversationID})
}

// Close stops the stream and waits for the read loop to exit
func (s *Stream) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("client: websocket dial failed: %w", err)
	}
	return conn, nil
}

// Resync calls l.Load for every conversation re-joined after a reconnect,
// until ctx ends or the stream stops. A failed load is retried after the
// next confirmation or after a short delay.
func (s *Stream) Resync(ctx context.Context, l Loader) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.resync:
		}

		s.mu.Lock()
		ids := make([]uint64, 0, len(s.stale))
		for id := range s.stale {
			ids = append(ids, id)
		}
		clear(s.stale)
		s.mu.Unlock()

		for _, id := range ids {
			n, err := l.Load(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Uint64("conversation_id", id).Msg("history reload failed")
				s.markStale(id)
				time.AfterFunc(reconnectInitial, s.signalResync)
				continue
			}
			s.log.Debug().Uint64("conversation_id", id).Int("changed", n).Msg("history reloaded")
		}
	}
}

func (s *Stream) markStale(conversationID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined[conversationID] {
		s.stale[conversationID] = true
	}
}

func (s *Stream) signalResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// confirmJoin marks a re-joined conversation for history reload
func (s *Stream) confirmJoin(conversationID uint64) {
	s.mu.Lock()
	pending := s.rejoining[conversationID]
	delete(s.rejoining, conversationID)
	s.mu.Unlock()
	if pending {
		s.markStale(conversationID)
		s.signalResync()
	}
}

func (s *Stream) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.messages)
	defer close(s.gigs)

	for {
		err := s.readLoop(ctx, conn)
		s.mu.Lock()
		s.conn = nil
		backoff := s.retryInitial
		s.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("websocket disconnected")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)

			next, err := s.dial(ctx)
			if err != nil {
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("websocket reconnect failed")
				continue
			}
			if err := s.rejoin(next); err != nil {
				_ = next.Close()
				continue
			}
			conn = next
			break
		}
	}
}

// rejoin installs conn and replays join frames for every followed
// conversation. Each one is reloaded once the server confirms the join, so
// the reload cannot miss an event published before the subscription.
func (s *Stream) rejoin(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.joined {
		if err := conn.WriteJSON(joinFrame{Type: "join", ConversationID: id}); err != nil {
			return err
		}
		s.rejoining[id] = true
	}
	s.conn = conn
	return nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}

		switch ev.Type {
		case "message.inserted":
			var msg domain.MessageInserted
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				s.log.Warn().Err(err).Msg("dropping malformed message.inserted event")
				continue
			}
			select {
			case s.messages <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "joined":
			s.confirmJoin(ev.ConversationID)
		case "gig.updated":
			select {
			case s.gigs <- ev.Payload:
			default:
			}
		case "error":
			s.log.Warn().Uint64("conversation_id", ev.ConversationID).
				Str("payload", strings.TrimSpace(string(ev.Payload))).Msg("server rejected frame")
		}
	}
}
