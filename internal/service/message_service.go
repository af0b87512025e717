package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/clock"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/internal/metrics"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/pkg/idgen"
	"github.com/lexgig/lexgig-backend/pkg/logger"
	"github.com/rs/zerolog"
)

// MessageService server side of conversation messaging
type MessageService interface {
	Send(ctx context.Context, p domain.Principal, conversationID uint64, req *domain.SendMessageRequest) (*domain.Message, error)
	History(ctx context.Context, p domain.Principal, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error)
	ListConversations(ctx context.Context, p domain.Principal, page, limit int) ([]*domain.Conversation, *common.Meta, error)
	MarkRead(ctx context.Context, p domain.Principal, conversationID uint64) (int64, error)
	UnreadCount(ctx context.Context, p domain.Principal) (int64, error)
	Authorize(ctx context.Context, conversationID uint64, userID string) error
}

type messageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	publisher     feed.Publisher
	actors        *actor.Group
	clock         clock.Clock
	log           zerolog.Logger
}

// NewMessageService creates a new MessageService
func NewMessageService(messages repository.MessageRepository, conversations repository.ConversationRepository, publisher feed.Publisher, actors *actor.Group, clk clock.Clock) MessageService {
	if clk == nil {
		clk = clock.System{}
	}
	return &messageService{
		messages:      messages,
		conversations: conversations,
		publisher:     publisher,
		actors:        actors,
		clock:         clk,
		log:           logger.Component("message"),
	}
}

func conversationKey(conversationID uint64) string {
	return "conversation:" + strconv.FormatUint(conversationID, 10)
}

// Send persists a message and publishes it on the conversation feed. Sends
// to one conversation are serialized so created_at follows persist order.
// Repeating a send with the same client temp id returns the stored message
// and publishes it again; subscribers drop the duplicate.
func (s *messageService) Send(ctx context.Context, p domain.Principal, conversationID uint64, req *domain.SendMessageRequest) (*domain.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is empty: %w", common.ErrInvalidInput)
	}
	conv, err := s.authorized(ctx, conversationID, p.UserID)
	if err != nil {
		return nil, err
	}

	var stored *domain.Message
	err = s.actors.Do(ctx, conversationKey(conversationID), func() error {
		msg := &domain.Message{
			ID:             idgen.New(),
			ConversationID: conv.ID,
			SenderID:       p.UserID,
			Content:        content,
			CreatedAt:      s.clock.Now().UTC().Truncate(time.Microsecond),
		}
		if req.ClientTempID != "" {
			tempID := req.ClientTempID
			msg.ClientTempID = &tempID
		}

		saved, created, err := s.messages.Append(ctx, msg)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrMessageSendFailed, err)
		}
		stored = saved
		if created {
			metrics.MessagesPersisted.Inc()
			if err := s.conversations.TouchLastMessage(ctx, conv.ID, stored.CreatedAt); err != nil {
				s.log.Warn().Err(err).Uint64("conversation_id", conv.ID).Msg("updating last message time failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, stored)
	return stored, nil
}

// publish failures do not fail the send; subscribers recover via history
func (s *messageService) publish(ctx context.Context, msg *domain.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg.Inserted()); err != nil {
		metrics.FeedPublishFailures.Inc()
		s.log.Error().Err(err).
			Uint64("conversation_id", msg.ConversationID).
			Str("message_id", msg.ID).
			Msg("publishing message failed")
	}
}

func (s *messageService) History(ctx context.Context, p domain.Principal, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error) {
	if _, err := s.authorized(ctx, conversationID, p.UserID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID, before, limit)
}

func (s *messageService) ListConversations(ctx context.Context, p domain.Principal, page, limit int) ([]*domain.Conversation, *common.Meta, error) {
	if p.UserID == "" {
		return nil, nil, common.ErrUnauthorized
	}
	convs, total, err := s.conversations.ListByUser(ctx, p.UserID, page, limit)
	if err != nil {
		return nil, nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return convs, &common.Meta{Page: page, Limit: limit, Total: total}, nil
}

// MarkRead is idempotent: a second call marks nothing and returns 0
func (s *messageService) MarkRead(ctx context.Context, p domain.Principal, conversationID uint64) (int64, error) {
	if _, err := s.authorized(ctx, conversationID, p.UserID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, conversationID, p.UserID, s.clock.Now().UTC())
}

func (s *messageService) UnreadCount(ctx context.Context, p domain.Principal) (int64, error) {
	if p.UserID == "" {
		return 0, common.ErrUnauthorized
	}
	return s.messages.CountUnread(ctx, p.UserID)
}

// Authorize checks that userID may read the conversation's feed
func (s *messageService) Authorize(ctx context.Context, conversationID uint64, userID string) error {
	_, err := s.authorized(ctx, conversationID, userID)
	return err
}

func (s *messageService) authorized(ctx context.Context, conversationID uint64, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, common.ErrNotParticipant
	}
	return conv, nil
}
