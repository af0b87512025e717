package repository

import (
	"context"
	"time"

	"github.com/lexgig/lexgig-backend/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository message data access interface
type MessageRepository interface {
	Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error)
	ListByConversation(ctx context.Context, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error)
	MarkRead(ctx context.Context, conversationID uint64, readerID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Append persists msg. When the message carries a client temp id and the
// same (conversation, sender, temp id) was stored before, the stored row is
// returned instead and created is false.
func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	db := r.db.WithContext(ctx)
	if msg.ClientTempID == nil {
		if err := db.Create(msg).Error; err != nil {
			return nil, false, err
		}
		return msg, true, nil
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return msg, true, nil
	}

	var existing domain.Message
	err := db.Where("conversation_id = ? AND sender_id = ? AND client_temp_id = ?",
		msg.ConversationID, msg.SenderID, *msg.ClientTempID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// ListByConversation returns up to limit messages older than before, oldest first
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uint64, before *time.Time, limit int) ([]*domain.Message, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != nil {
		query = query.Where("created_at < ?", *before)
	}

	var messages []*domain.Message
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead marks every message the reader received in the conversation as read.
// Already read messages keep their original read time.
func (r *messageRepository) MarkRead(ctx context.Context, conversationID uint64, readerID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, readerID).
		Update("read_at", at)
	return result.RowsAffected, result.Error
}

func (r *messageRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.buyer_id = ? OR conversations.seller_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}
