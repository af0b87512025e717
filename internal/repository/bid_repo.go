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

// BidRepository bid data access interface
type BidRepository interface {
	Create(ctx context.Context, bid *domain.Bid) error
	FindByID(ctx context.Context, id uint64) (*domain.Bid, error)
	FindAccepted(ctx context.Context, gigID uint64) (*domain.Bid, error)
	AcceptedID(ctx context.Context, gigID uint64) (uint64, error)
	ListByGig(ctx context.Context, gigID uint64) ([]*domain.Bid, error)
	Accept(ctx context.Context, gigID, bidID uint64) error
	Reject(ctx context.Context, gigID, bidID uint64) error
}

type bidRepository struct {
	db *gorm.DB
}

// NewBidRepository creates a new BidRepository
func NewBidRepository(db *gorm.DB) BidRepository {
	return &bidRepository{db: db}
}

func (r *bidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	err := r.db.WithContext(ctx).Create(bid).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return common.ErrDuplicateBid
	}
	return err
}

func (r *bidRepository) FindByID(ctx context.Context, id uint64) (*domain.Bid, error) {
	return findBid(r.db.WithContext(ctx), id)
}

func findBid(db *gorm.DB, id uint64) (*domain.Bid, error) {
	var bid domain.Bid
	err := db.Where("id = ?", id).First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("bid %d: %w", id, common.ErrBidNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *bidRepository) FindAccepted(ctx context.Context, gigID uint64) (*domain.Bid, error) {
	var bid domain.Bid
	err := r.db.WithContext(ctx).
		Where("gig_id = ? AND status = ?", gigID, domain.BidStatusAccepted).
		First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no accepted bid on gig %d: %w", gigID, common.ErrBidNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// AcceptedID returns the id of the gig's accepted bid, zero when none
func (r *bidRepository) AcceptedID(ctx context.Context, gigID uint64) (uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&domain.Bid{}).
		Where("gig_id = ? AND status = ?", gigID, domain.BidStatusAccepted).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}

func (r *bidRepository) ListByGig(ctx context.Context, gigID uint64) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := r.db.WithContext(ctx).
		Where("gig_id = ?", gigID).
		Order("created_at ASC, id ASC").
		Find(&bids).Error
	return bids, err
}

// Accept applies accept-bid as one transaction: a compare-and-set of the gig
// from pending to active, a guard against an already accepted sibling, and a
// conditional pending -> accepted update of the bid. Whoever moves the gig
// first wins; every other caller gets ErrInvalidTransition (or
// ErrGigSuspended when moderation got there first).
func (r *bidRepository) Accept(ctx context.Context, gigID, bidID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := casGigStatus(tx, gigID, domain.GigStatusPending, domain.GigStatusActive)
		if err != nil {
			return err
		}
		if !won {
			return classifyGigConflict(tx, gigID)
		}

		if err := guardNoAcceptedSibling(tx, gigID); err != nil {
			return err
		}
		return setBidStatus(tx, gigID, bidID, domain.BidStatusAccepted)
	})
}

// Reject moves a pending bid to rejected while its gig is still pending and
// no sibling has been accepted. The gig status is not modified.
func (r *bidRepository) Reject(ctx context.Context, gigID, bidID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// row lock so a concurrent accept cannot slip between check and update
		gig, err := findGig(tx.Clauses(clause.Locking{Strength: "UPDATE"}), gigID)
		if err != nil {
			return err
		}
		if gig.Status == domain.GigStatusSuspended {
			return common.ErrGigSuspended
		}
		if gig.Status != domain.GigStatusPending {
			return fmt.Errorf("gig %d is %s: %w", gigID, gig.Status, common.ErrInvalidTransition)
		}
		if err := guardNoAcceptedSibling(tx, gigID); err != nil {
			return err
		}
		return setBidStatus(tx, gigID, bidID, domain.BidStatusRejected)
	})
}

// guardNoAcceptedSibling fails with ErrInvalidTransition once any bid of the
// gig is accepted. A gig unsuspended after an accept is pending again, so the
// gig status alone does not close its bids.
func guardNoAcceptedSibling(tx *gorm.DB, gigID uint64) error {
	var accepted int64
	if err := tx.Model(&domain.Bid{}).
		Where("gig_id = ? AND status = ?", gigID, domain.BidStatusAccepted).
		Count(&accepted).Error; err != nil {
		return err
	}
	if accepted > 0 {
		return fmt.Errorf("gig %d already has an accepted bid: %w", gigID, common.ErrInvalidTransition)
	}
	return nil
}

func setBidStatus(tx *gorm.DB, gigID, bidID uint64, next domain.BidStatus) error {
	result := tx.Model(&domain.Bid{}).
		Where("id = ? AND gig_id = ? AND status = ?", bidID, gigID, domain.BidStatusPending).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	bid, err := findBid(tx, bidID)
	if err != nil {
		return err
	}
	if bid.GigID != gigID {
		return fmt.Errorf("bid %d does not belong to gig %d: %w", bidID, gigID, common.ErrBidNotFound)
	}
	return fmt.Errorf("bid %d already %s: %w", bidID, bid.Status, common.ErrInvalidTransition)
}

// classifyGigConflict explains why a compare-and-set on a pending gig lost
func classifyGigConflict(tx *gorm.DB, gigID uint64) error {
	gig, err := findGig(tx, gigID)
	if err != nil {
		return err
	}
	if gig.Status == domain.GigStatusSuspended {
		return common.ErrGigSuspended
	}
	return fmt.Errorf("gig %d is %s: %w", gigID, gig.Status, common.ErrInvalidTransition)
}
