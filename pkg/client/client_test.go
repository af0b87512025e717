package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/clock"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/internal/handler"
	"github.com/lexgig/lexgig-backend/internal/migration"
	"github.com/lexgig/lexgig-backend/internal/reconciler"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/internal/routes"
	"github.com/lexgig/lexgig-backend/internal/service"
	"github.com/lexgig/lexgig-backend/internal/ws"
	"github.com/lexgig/lexgig-backend/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

type stack struct {
	server *httptest.Server
	jwt    *jwt.Manager
	feed   *feed.Memory
	gigs   repository.GigRepository
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:client_%d?mode=memory&cache=shared", dbSeq.Add(1))), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.Run(db))

	gigActors := actor.NewGroup(time.Minute)
	convActors := actor.NewGroup(time.Minute)
	t.Cleanup(gigActors.Close)
	t.Cleanup(convActors.Close)

	gigRepo := repository.NewGigRepository(db)
	convRepo := repository.NewConversationRepository(db)
	mem := feed.NewMemory()
	messages := service.NewMessageService(repository.NewMessageRepository(db), convRepo, mem, convActors, clock.System{})
	hub := ws.NewHub(nil, mem, messages)
	go hub.Run()
	t.Cleanup(hub.Stop)

	jwtManager := jwt.NewManager("client-test", time.Hour)
	router := gin.New()
	routes.Setup(router, &routes.Handlers{
		Gig:          handler.NewGigHandler(service.NewGigService(gigRepo, repository.NewBidRepository(db), gigActors, hub)),
		Moderation:   handler.NewModerationHandler(service.NewModerationService(gigRepo, gigActors, hub)),
		Conversation: handler.NewConversationHandler(service.NewConversationService(convRepo, gigRepo, nil), messages),
		WS:           handler.NewWSHandler(hub, "", 0),
	}, jwtManager, nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &stack{server: srv, jwt: jwtManager, feed: mem, gigs: gigRepo}
}

func (s *stack) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := s.jwt.GenerateToken(userID, userID, 2)
	require.NoError(t, err)
	c, err := New(Config{BaseURL: s.server.URL, Token: token})
	require.NoError(t, err)
	return c
}

func (s *stack) conversation(t *testing.T, buyer *Client) *domain.Conversation {
	t.Helper()
	gig := &domain.Gig{BuyerID: "buyer", Title: "Voice over", Budget: 3000, Status: domain.GigStatusPending}
	require.NoError(t, s.gigs.Create(context.Background(), gig))
	conv, err := buyer.OpenConversation(context.Background(), gig.ID, "seller")
	require.NoError(t, err)
	return conv
}

func TestClient_RequestsAndErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	buyer := s.client(t, "buyer")
	conv := s.conversation(t, buyer)

	msg, err := buyer.SendMessage(ctx, conv.ID, "hello", "tmp_1")
	require.NoError(t, err)
	assert.Equal(t, "tmp_1", msg.TempID())

	history, err := buyer.History(ctx, conv.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	convs, err := buyer.Conversations(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	stranger := s.client(t, "stranger")
	_, err = stranger.SendMessage(ctx, conv.ID, "hi", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = New(Config{})
	assert.Error(t, err)
}

// Buyer sends optimistically while both parties follow the conversation
// over the WebSocket; the buyer's entry reconciles in place and the seller
// receives it exactly once.
func TestClient_ReconcilerOverWebSocket(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buyer := s.client(t, "buyer")
	sellerClient := s.client(t, "seller")
	conv := s.conversation(t, buyer)

	newReconciler := func(user string, c *Client) (*reconciler.Reconciler, *Stream) {
		rec, err := reconciler.New(reconciler.Options{LocalUser: user, Sender: c, MarkReader: c, History: c})
		require.NoError(t, err)
		t.Cleanup(rec.Close)

		stream, err := c.OpenStream(ctx)
		require.NoError(t, err)
		t.Cleanup(stream.Close)
		require.NoError(t, stream.Join(conv.ID))
		go func() { _ = rec.Attach(ctx, stream.Messages()) }()
		return rec, stream
	}
	buyerRec, _ := newReconciler("buyer", buyer)
	sellerRec, _ := newReconciler("seller", sellerClient)

	require.Eventually(t, func() bool { return s.feed.Subscribers(conv.ID) == 2 }, 5*time.Second, 10*time.Millisecond)

	reconciled := make(chan reconciler.Event, 1)
	buyerRec.OnMessageReconciled(func(ev reconciler.Event) { reconciled <- ev })

	ps, err := buyerRec.Send(ctx, conv.ID, "draft ready?")
	require.NoError(t, err)

	select {
	case ev := <-reconciled:
		assert.Equal(t, ps.TempID, ev.TempID)
	case <-ctx.Done():
		t.Fatal("echo never reconciled")
	}

	sent, err := ps.Wait(ctx)
	require.NoError(t, err)

	buyerLog, err := buyerRec.Snapshot(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, buyerLog, 1)
	assert.Equal(t, sent.ID, buyerLog[0].ID)
	assert.False(t, buyerLog[0].Pending)

	require.Eventually(t, func() bool {
		entries, err := sellerRec.Snapshot(ctx, conv.ID)
		return err == nil && len(entries) == 1 && entries[0].ID == sent.ID
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sellerRec.MarkRead(ctx, conv.ID))
}

// The socket drops while the buyer's send is in flight, so its echo is
// published with nobody subscribed. After the reconnect the stream re-joins
// and Resync reloads history, which settles the entry without a live echo.
func TestClient_ReconnectReloadsMissedEcho(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	buyer := s.client(t, "buyer")
	conv := s.conversation(t, buyer)

	rec, err := reconciler.New(reconciler.Options{LocalUser: "buyer", Sender: buyer, MarkReader: buyer, History: buyer})
	require.NoError(t, err)
	t.Cleanup(rec.Close)

	stream, err := buyer.OpenStream(ctx)
	require.NoError(t, err)
	t.Cleanup(stream.Close)
	stream.mu.Lock()
	stream.retryInitial = 2 * time.Second
	stream.mu.Unlock()

	require.NoError(t, stream.Join(conv.ID))
	go func() { _ = rec.Attach(ctx, stream.Messages()) }()
	go stream.Resync(ctx, rec)
	require.Eventually(t, func() bool { return s.feed.Subscribers(conv.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

	stream.mu.Lock()
	require.NotNil(t, stream.conn)
	_ = stream.conn.Close()
	stream.mu.Unlock()
	require.Eventually(t, func() bool { return s.feed.Subscribers(conv.ID) == 0 }, 5*time.Second, 10*time.Millisecond)

	ps, err := rec.Send(ctx, conv.ID, "still there?")
	require.NoError(t, err)
	sent, err := ps.Wait(ctx)
	require.NoError(t, err)

	entries, err := rec.Snapshot(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)

	require.Eventually(t, func() bool {
		entries, err := rec.Snapshot(ctx, conv.ID)
		return err == nil && len(entries) == 1 && !entries[0].Pending && entries[0].ID == sent.ID
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, s.feed.Subscribers(conv.ID))
}
