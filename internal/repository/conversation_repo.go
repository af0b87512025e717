package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository conversation data access interface
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, buyerID, sellerID string, gigID uint64) (*domain.Conversation, bool, error)
	FindByID(ctx context.Context, id uint64) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.Conversation, int64, error)
	TouchLastMessage(ctx context.Context, id uint64, at time.Time) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// FindOrCreate inserts the conversation unless the (pair, gig) unique index
// already holds one, then reads back whichever row won. The insert is a
// single statement, so a failure leaves nothing behind and can be retried.
func (r *conversationRepository) FindOrCreate(ctx context.Context, buyerID, sellerID string, gigID uint64) (*domain.Conversation, bool, error) {
	conv := domain.NewConversation(buyerID, sellerID, gigID)
	db := r.db.WithContext(ctx)

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(conv)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 && conv.ID != 0 {
		return conv, true, nil
	}

	var existing domain.Conversation
	err := db.Where("participant_low = ? AND participant_high = ? AND gig_id = ?",
		conv.ParticipantLow, conv.ParticipantHigh, gigID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %d: %w", id, common.ErrConversationNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]*domain.Conversation, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit = normalizePage(page, limit)
	var convs []*domain.Conversation
	err := query.Order("COALESCE(last_message_at, created_at) DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&convs).Error
	return convs, total, err
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", id, at).
		Update("last_message_at", at).Error
}
