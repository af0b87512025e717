package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/domain"
	"gorm.io/gorm"
)

// GigRepository gig data access interface
type GigRepository interface {
	Create(ctx context.Context, gig *domain.Gig) error
	FindByID(ctx context.Context, id uint64) (*domain.Gig, error)
	CompareAndSetStatus(ctx context.Context, id uint64, expected, next domain.GigStatus) (bool, error)
	SetFlagged(ctx context.Context, id uint64, flagged bool) error
	SetNeedsReview(ctx context.Context, id uint64, needsReview bool) error
	ListModerationQueue(ctx context.Context, params *ModerationQueueParams) ([]*domain.Gig, int64, error)
	DeleteIfNoAcceptedBid(ctx context.Context, id uint64) error
}

// ModerationQueueParams admin queue filters
type ModerationQueueParams struct {
	FlaggedOnly     bool
	NeedsReviewOnly bool
	Status          *domain.GigStatus
	Page            int
	Limit           int
}

type gigRepository struct {
	db *gorm.DB
}

// NewGigRepository creates a new GigRepository
func NewGigRepository(db *gorm.DB) GigRepository {
	return &gigRepository{db: db}
}

func (r *gigRepository) Create(ctx context.Context, gig *domain.Gig) error {
	return r.db.WithContext(ctx).Create(gig).Error
}

func (r *gigRepository) FindByID(ctx context.Context, id uint64) (*domain.Gig, error) {
	return findGig(r.db.WithContext(ctx), id)
}

func findGig(db *gorm.DB, id uint64) (*domain.Gig, error) {
	var gig domain.Gig
	err := db.Where("id = ?", id).First(&gig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("gig %d: %w", id, common.ErrGigNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &gig, nil
}

// CompareAndSetStatus moves the gig to next only if it is still in expected.
// Returns false when another writer changed the status first.
func (r *gigRepository) CompareAndSetStatus(ctx context.Context, id uint64, expected, next domain.GigStatus) (bool, error) {
	return casGigStatus(r.db.WithContext(ctx), id, expected, next)
}

func casGigStatus(db *gorm.DB, id uint64, expected, next domain.GigStatus) (bool, error) {
	result := db.Model(&domain.Gig{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *gigRepository) SetFlagged(ctx context.Context, id uint64, flagged bool) error {
	return r.updateColumn(ctx, id, "is_flagged", flagged)
}

func (r *gigRepository) SetNeedsReview(ctx context.Context, id uint64, needsReview bool) error {
	return r.updateColumn(ctx, id, "needs_review", needsReview)
}

func (r *gigRepository) updateColumn(ctx context.Context, id uint64, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.Gig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("gig %d: %w", id, common.ErrGigNotFound)
	}
	return nil
}

func (r *gigRepository) ListModerationQueue(ctx context.Context, params *ModerationQueueParams) ([]*domain.Gig, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Gig{})
	if params.FlaggedOnly {
		query = query.Where("is_flagged = ?", true)
	}
	if params.NeedsReviewOnly {
		query = query.Where("needs_review = ?", true)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(params.Page, params.Limit)
	var gigs []*domain.Gig
	err := query.Order("is_flagged DESC, created_at ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&gigs).Error
	return gigs, total, err
}

// DeleteIfNoAcceptedBid hard-deletes a gig and its bids unless a bid was accepted
func (r *gigRepository) DeleteIfNoAcceptedBid(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findGig(tx, id); err != nil {
			return err
		}
		var accepted int64
		if err := tx.Model(&domain.Bid{}).
			Where("gig_id = ? AND status = ?", id, domain.BidStatusAccepted).
			Count(&accepted).Error; err != nil {
			return err
		}
		if accepted > 0 {
			return common.ErrGigHasAcceptedBid
		}
		if err := tx.Where("gig_id = ?", id).Delete(&domain.Bid{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Gig{}, id).Error
	})
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
