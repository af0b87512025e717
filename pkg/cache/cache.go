package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL defaults
const (
	TTLConversation = 10 * time.Minute
	TTLDefault      = 5 * time.Minute
)

// Key prefixes
const (
	PrefixConversation = "conversation:"
)

// ErrMiss is returned when the key is absent or the cache is disabled
var ErrMiss = errors.New("cache miss")

// Service redis backed cache. A nil client disables caching: reads miss and
// writes are dropped.
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	GetConversation(ctx context.Context, userA, userB string, gigID uint64, dest interface{}) error
	SetConversation(ctx context.Context, userA, userB string, gigID uint64, value interface{}) error
	InvalidateConversation(ctx context.Context, userA, userB string, gigID uint64) error

	IsAvailable() bool
	Ping(ctx context.Context) error
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewService creates a cache service. ttl applies to conversation entries;
// zero falls back to TTLConversation.
func NewService(client *redis.Client, ttl time.Duration) Service {
	if ttl <= 0 {
		ttl = TTLConversation
	}
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// ConversationKey is symmetric in the two participants
func ConversationKey(userA, userB string, gigID uint64) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%s%s:%s:%d", PrefixConversation, userA, userB, gigID)
}

func (c *redisCache) GetConversation(ctx context.Context, userA, userB string, gigID uint64, dest interface{}) error {
	return c.Get(ctx, ConversationKey(userA, userB, gigID), dest)
}

func (c *redisCache) SetConversation(ctx context.Context, userA, userB string, gigID uint64, value interface{}) error {
	return c.Set(ctx, ConversationKey(userA, userB, gigID), value, c.ttl)
}

func (c *redisCache) InvalidateConversation(ctx context.Context, userA, userB string, gigID uint64) error {
	return c.Delete(ctx, ConversationKey(userA, userB, gigID))
}
