package feed

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) domain.MessageInserted {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.MessageInserted{}
}

func TestMemory_FanOutPerConversation(t *testing.T) {
	f := NewMemory()
	ctx := context.Background()

	a, err := f.Subscribe(ctx, 1)
	require.NoError(t, err)
	b, err := f.Subscribe(ctx, 1)
	require.NoError(t, err)
	other, err := f.Subscribe(ctx, 2)
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, f.Publish(ctx, domain.MessageInserted{ConversationID: 1, ID: "m1"}))

	assert.Equal(t, "m1", receive(t, a).ID)
	assert.Equal(t, "m1", receive(t, b).ID)
	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected event on other conversation: %+v", ev)
	default:
	}

	a.Close()
	a.Close()
	assert.Equal(t, 1, f.Subscribers(1))
	b.Close()
	assert.Equal(t, 0, f.Subscribers(1))
}

func TestMemory_ContextCancelClosesSubscription(t *testing.T) {
	f := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.Subscribe(ctx, 9)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemory_CloseStopsContextWatcher(t *testing.T) {
	f := NewMemory()
	before := runtime.NumGoroutine()

	subs := make([]Subscription, 0, 50)
	for i := 0; i < 50; i++ {
		sub, err := f.Subscribe(context.Background(), 3)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		sub.Close()
	}

	assert.Equal(t, 0, f.Subscribers(3))
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_SlowSubscriberEvicted(t *testing.T) {
	f := NewMemory()
	ctx := context.Background()

	slow, err := f.Subscribe(ctx, 4)
	require.NoError(t, err)
	fast, err := f.Subscribe(ctx, 4)
	require.NoError(t, err)
	defer fast.Close()

	for i := 0; i <= subscriptionBuffer; i++ {
		require.NoError(t, f.Publish(ctx, domain.MessageInserted{ConversationID: 4, ID: "m"}))
		receive(t, fast)
	}

	assert.Equal(t, 1, f.Subscribers(4))
	drained := 0
	for range slow.Events() {
		drained++
	}
	assert.Equal(t, subscriptionBuffer, drained)

	slow.Close()
	assert.Equal(t, 1, f.Subscribers(4))
}

func TestRedis_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := NewRedis(client)
	ctx := context.Background()

	sub, err := f.Subscribe(ctx, 5)
	require.NoError(t, err)
	defer sub.Close()

	tmp := "tmp_1"
	msg := &domain.Message{ID: "100", ConversationID: 5, SenderID: "alice", Content: "hi", ClientTempID: &tmp, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.Publish(ctx, msg.Inserted()))

	ev := receive(t, sub)
	assert.Equal(t, "100", ev.ID)
	assert.Equal(t, "tmp_1", ev.ClientTempID)
	assert.Equal(t, "conversation:5:messages", Channel(5))
}
