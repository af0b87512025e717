package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type participants map[uint64][]string

func (p participants) Authorize(_ context.Context, conversationID uint64, userID string) error {
	for _, u := range p[conversationID] {
		if u == userID {
			return nil
		}
	}
	return common.ErrNotParticipant
}

// capturingFeed hands out memory subscriptions and keeps them for the test
type capturingFeed struct {
	*feed.Memory
	mu   sync.Mutex
	subs []feed.Subscription
}

func (f *capturingFeed) Subscribe(ctx context.Context, conversationID uint64) (feed.Subscription, error) {
	sub, err := f.Memory.Subscribe(ctx, conversationID)
	if err == nil {
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}
	return sub, err
}

type received struct {
	Type           string          `json:"type"`
	ConversationID uint64          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
}

// HubTestSuite drives a hub through real WebSocket connections
type HubTestSuite struct {
	suite.Suite
	feed   *feed.Memory
	hub    *Hub
	server *httptest.Server
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubTestSuite))
}

func (s *HubTestSuite) SetupTest() {
	s.feed = feed.NewMemory()
	s.hub = NewHub(nil, s.feed, participants{1: {"alice", "bob"}})
	go s.hub.Run()
	s.server = s.newServer(s.hub)
}

func (s *HubTestSuite) TearDownTest() {
	s.hub.Stop()
	s.server.Close()
}

// newServer upgrades every request, taking the member id from ?user=
func (s *HubTestSuite) newServer(hub *Hub) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("user"))
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
}

func (s *HubTestSuite) dial(server *httptest.Server, hub *Hub, user string, want int) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	s.Require().Eventually(func() bool { return hub.Connections(user) == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func (s *HubTestSuite) read(conn *websocket.Conn) received {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var ev received
	s.Require().NoError(conn.ReadJSON(&ev))
	return ev
}

func (s *HubTestSuite) TestNotifyReachesEveryConnection() {
	first := s.dial(s.server, s.hub, "alice", 1)
	second := s.dial(s.server, s.hub, "alice", 2)

	s.hub.Notify("alice", "gig.updated", map[string]uint64{"gig_id": 7})

	for _, conn := range []*websocket.Conn{first, second} {
		ev := s.read(conn)
		s.Equal("gig.updated", ev.Type)
		s.JSONEq(`{"gig_id":7}`, string(ev.Payload))
	}
}

func (s *HubTestSuite) TestJoinStreamsConversation() {
	conn := s.dial(s.server, s.hub, "alice", 1)

	s.Require().NoError(conn.WriteJSON(Frame{Type: "join", ConversationID: 1}))
	s.Equal("joined", s.read(conn).Type)
	s.Equal(1, s.feed.Subscribers(1))

	sent := domain.MessageInserted{
		ConversationID: 1,
		ID:             "m1",
		SenderID:       "bob",
		Content:        "hi",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	s.Require().NoError(s.feed.Publish(context.Background(), sent))

	ev := s.read(conn)
	s.Equal("message.inserted", ev.Type)
	s.EqualValues(1, ev.ConversationID)
	var got domain.MessageInserted
	s.Require().NoError(json.Unmarshal(ev.Payload, &got))
	s.Equal("m1", got.ID)
	s.Equal("hi", got.Content)
	s.True(sent.CreatedAt.Equal(got.CreatedAt))

	s.Require().NoError(conn.WriteJSON(Frame{Type: "leave", ConversationID: 1}))
	s.Equal("left", s.read(conn).Type)
	s.Eventually(func() bool { return s.feed.Subscribers(1) == 0 }, time.Second, 10*time.Millisecond)
}

func (s *HubTestSuite) TestJoinRequiresParticipant() {
	conn := s.dial(s.server, s.hub, "mallory", 1)

	s.Require().NoError(conn.WriteJSON(Frame{Type: "join", ConversationID: 1}))
	ev := s.read(conn)
	s.Equal("error", ev.Type)

	var payload ErrorPayload
	s.Require().NoError(json.Unmarshal(ev.Payload, &payload))
	s.Equal(common.ErrorCode(common.ErrNotParticipant), payload.Code)
	s.Equal(0, s.feed.Subscribers(1))
}

func (s *HubTestSuite) TestMalformedFrame() {
	conn := s.dial(s.server, s.hub, "alice", 1)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := s.read(conn)
	s.Equal("error", ev.Type)

	var payload ErrorPayload
	s.Require().NoError(json.Unmarshal(ev.Payload, &payload))
	s.Equal(common.ErrorCode(common.ErrInvalidInput), payload.Code)
}

func (s *HubTestSuite) TestDisconnectUnregisters() {
	conn := s.dial(s.server, s.hub, "bob", 1)
	s.Require().NoError(conn.WriteJSON(Frame{Type: "join", ConversationID: 1}))
	s.Equal("joined", s.read(conn).Type)

	conn.Close()

	s.Eventually(func() bool { return s.hub.Connections("bob") == 0 }, 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool { return s.feed.Subscribers(1) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *HubTestSuite) TestRelayAcrossInstances() {
	mr := miniredis.RunT(s.T())
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	origin := NewHub(rc, s.feed, nil)
	remote := NewHub(rc, s.feed, nil)
	go origin.Run()
	go remote.Run()
	defer origin.Stop()
	defer remote.Stop()

	server := s.newServer(remote)
	defer server.Close()
	conn := s.dial(server, remote, "carol", 1)

	s.Require().Eventually(func() bool {
		return mr.PubSubNumSub(redisPubSubChannel)[redisPubSubChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	origin.Notify("carol", "gig.updated", map[string]string{"status": "suspended"})

	ev := s.read(conn)
	s.Equal("gig.updated", ev.Type)
	s.JSONEq(`{"status":"suspended"}`, string(ev.Payload))
}

func (s *HubTestSuite) TestLostSubscriptionClosesConnection() {
	captured := &capturingFeed{Memory: s.feed}
	hub := NewHub(nil, captured, participants{1: {"alice"}})
	go hub.Run()
	defer hub.Stop()
	server := s.newServer(hub)
	defer server.Close()

	conn := s.dial(server, hub, "alice", 1)
	s.Require().NoError(conn.WriteJSON(Frame{Type: "join", ConversationID: 1}))
	s.Equal("joined", s.read(conn).Type)

	captured.mu.Lock()
	s.Require().Len(captured.subs, 1)
	captured.subs[0].Close()
	captured.mu.Unlock()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.Error(err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		s.False(netErr.Timeout(), "connection was left open")
	}
	s.Eventually(func() bool { return hub.Connections("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}
