package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/pkg/cache"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ConversationService resolves (buyer, seller, gig) triples to conversations
type ConversationService interface {
	GetOrCreate(ctx context.Context, buyerID, sellerID string, gigID uint64) (*domain.Conversation, error)
	Open(ctx context.Context, p domain.Principal, gigID uint64, sellerID string) (*domain.Conversation, error)
	Get(ctx context.Context, p domain.Principal, conversationID uint64) (*domain.Conversation, error)
}

type conversationService struct {
	repo  repository.ConversationRepository
	gigs  repository.GigRepository
	cache cache.Service
	group singleflight.Group
	log   zerolog.Logger
}

// cachedConversation cache entry; the participant pair is rebuilt on read
type cachedConversation struct {
	ID            uint64     `json:"id"`
	GigID         uint64     `json:"gig_id"`
	BuyerID       string     `json:"buyer_id"`
	SellerID      string     `json:"seller_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewConversationService creates a new ConversationService. cacheSvc may be
// backed by a nil redis client, in which case every lookup hits the store.
func NewConversationService(repo repository.ConversationRepository, gigs repository.GigRepository, cacheSvc cache.Service) ConversationService {
	if cacheSvc == nil {
		cacheSvc = cache.NewService(nil, 0)
	}
	return &conversationService{
		repo:  repo,
		gigs:  gigs,
		cache: cacheSvc,
		log:   logger.Component("conversation"),
	}
}

// GetOrCreate returns the single conversation for the triple. Identical
// concurrent calls in this process collapse into one store round trip;
// across processes the unique index decides the winner and losers read it
// back. A failed attempt leaves nothing behind and may be retried.
func (s *conversationService) GetOrCreate(ctx context.Context, buyerID, sellerID string, gigID uint64) (*domain.Conversation, error) {
	if buyerID == "" || sellerID == "" || gigID == 0 {
		return nil, fmt.Errorf("buyer, seller and gig are required: %w", common.ErrInvalidInput)
	}
	if buyerID == sellerID {
		return nil, fmt.Errorf("a conversation needs two participants: %w", common.ErrInvalidInput)
	}

	var hit cachedConversation
	if err := s.cache.GetConversation(ctx, buyerID, sellerID, gigID, &hit); err == nil {
		return fromCache(hit), nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Uint64("gig_id", gigID).Msg("conversation cache read failed")
	}

	key := cache.ConversationKey(buyerID, sellerID, gigID)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		conv, created, err := s.repo.FindOrCreate(ctx, buyerID, sellerID, gigID)
		if err != nil {
			return nil, err
		}
		if created {
			metrics.ConversationsCreated.Inc()
			s.log.Info().Uint64("conversation_id", conv.ID).Uint64("gig_id", gigID).Msg("conversation created")
		}
		if err := s.cache.SetConversation(ctx, buyerID, sellerID, gigID, toCache(conv)); err != nil {
			s.log.Warn().Err(err).Uint64("conversation_id", conv.ID).Msg("conversation cache write failed")
		}
		return conv, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("buyer_id", buyerID).Str("seller_id", sellerID).Uint64("gig_id", gigID).Msg("conversation get-or-create failed")
		return nil, fmt.Errorf("%w: %v", common.ErrConversationCreateFailed, err)
	}

	conv := *v.(*domain.Conversation)
	return &conv, nil
}

// Open is the buyer's "message seller" action on one of their gigs
func (s *conversationService) Open(ctx context.Context, p domain.Principal, gigID uint64, sellerID string) (*domain.Conversation, error) {
	gig, err := s.gigs.FindByID(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if gig.BuyerID != p.UserID {
		return nil, fmt.Errorf("only the gig owner can open a conversation: %w", common.ErrForbidden)
	}
	return s.GetOrCreate(ctx, gig.BuyerID, sellerID, gigID)
}

func (s *conversationService) Get(ctx context.Context, p domain.Principal, conversationID uint64) (*domain.Conversation, error) {
	conv, err := s.repo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(p.UserID) {
		return nil, common.ErrNotParticipant
	}
	return conv, nil
}

func toCache(c *domain.Conversation) cachedConversation {
	return cachedConversation{
		ID:            c.ID,
		GigID:         c.GigID,
		BuyerID:       c.BuyerID,
		SellerID:      c.SellerID,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
}

func fromCache(e cachedConversation) *domain.Conversation {
	conv := domain.NewConversation(e.BuyerID, e.SellerID, e.GigID)
	conv.ID = e.ID
	conv.LastMessageAt = e.LastMessageAt
	conv.CreatedAt = e.CreatedAt
	return conv
}
