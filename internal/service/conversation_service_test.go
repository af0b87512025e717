package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockConversationRepository is a mock implementation of ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) FindOrCreate(ctx context.Context, buyerID, sellerID string, gigID uint64) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, buyerID, sellerID, gigID)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationRepository) FindByID(ctx context.Context, id uint64) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.Conversation, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	return args.Get(0).([]*domain.Conversation), args.Get(1).(int64), args.Error(2)
}

func (m *MockConversationRepository) TouchLastMessage(ctx context.Context, id uint64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func newRedisCache(t *testing.T) (cache.Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewService(client, time.Minute), mr
}

func TestConversationService_ConcurrentGetOrCreateReturnsOneConversation(t *testing.T) {
	db := newTestDB(t)
	svc := NewConversationService(repository.NewConversationRepository(db), repository.NewGigRepository(db), nil)

	const callers = 12
	ids := make([]uint64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyerID, sellerID := "buyer-1", "seller-1"
			if i%2 == 1 {
				// either side may initiate
				buyerID, sellerID = sellerID, buyerID
			}
			conv, err := svc.GetOrCreate(context.Background(), buyerID, sellerID, 9)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int64
	require.NoError(t, db.Model(&domain.Conversation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConversationService_FailureIsRetryable(t *testing.T) {
	repo := new(MockConversationRepository)
	svc := NewConversationService(repo, nil, nil)
	ctx := context.Background()

	conv := domain.NewConversation("b", "s", 3)
	conv.ID = 77
	repo.On("FindOrCreate", mock.Anything, "b", "s", uint64(3)).
		Return(nil, false, errors.New("connection reset")).Once()
	repo.On("FindOrCreate", mock.Anything, "b", "s", uint64(3)).
		Return(conv, true, nil).Once()

	_, err := svc.GetOrCreate(ctx, "b", "s", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConversationCreateFailed)

	got, err := svc.GetOrCreate(ctx, "b", "s", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), got.ID)
	repo.AssertExpectations(t)
}

func TestConversationService_CacheHitSkipsStore(t *testing.T) {
	repo := new(MockConversationRepository)
	cacheSvc, mr := newRedisCache(t)
	svc := NewConversationService(repo, nil, cacheSvc)
	ctx := context.Background()

	conv := domain.NewConversation("b", "s", 3)
	conv.ID = 5
	repo.On("FindOrCreate", mock.Anything, "b", "s", uint64(3)).Return(conv, true, nil).Once()

	first, err := svc.GetOrCreate(ctx, "b", "s", 3)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.ConversationKey("b", "s", 3)))

	second, err := svc.GetOrCreate(ctx, "s", "b", 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "b", second.BuyerID)
	repo.AssertNumberOfCalls(t, "FindOrCreate", 1)
}

func TestConversationService_CacheOutageFallsBackToStore(t *testing.T) {
	db := newTestDB(t)
	cacheSvc, mr := newRedisCache(t)
	svc := NewConversationService(repository.NewConversationRepository(db), nil, cacheSvc)
	mr.Close()

	conv, err := svc.GetOrCreate(context.Background(), "b", "s", 1)
	require.NoError(t, err)
	assert.NotZero(t, conv.ID)
}

func TestConversationService_Validation(t *testing.T) {
	svc := NewConversationService(new(MockConversationRepository), nil, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "", "s", 1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.GetOrCreate(ctx, "b", "b", 1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = svc.GetOrCreate(ctx, "b", "s", 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestConversationService_OpenAndGet(t *testing.T) {
	db := newTestDB(t)
	gigRepo := repository.NewGigRepository(db)
	svc := NewConversationService(repository.NewConversationRepository(db), gigRepo, nil)
	ctx := context.Background()

	gig := &domain.Gig{BuyerID: buyer.UserID, Title: "t", Budget: 1, Status: domain.GigStatusPending}
	require.NoError(t, gigRepo.Create(ctx, gig))

	_, err := svc.Open(ctx, seller(1), gig.ID, seller(1).UserID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	conv, err := svc.Open(ctx, buyer, gig.ID, seller(1).UserID)
	require.NoError(t, err)
	assert.Equal(t, buyer.UserID, conv.BuyerID)
	assert.Equal(t, seller(1).UserID, conv.SellerID)

	got, err := svc.Get(ctx, seller(1), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = svc.Get(ctx, seller(2), conv.ID)
	assert.ErrorIs(t, err, common.ErrNotParticipant)
}
