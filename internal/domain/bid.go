package domain

import (
	"fmt"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
)

// BidStatus bid status; only pending may change, and only once
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)

// Bid seller proposal against a gig
type Bid struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	GigID     uint64    `gorm:"column:gig_id;not null;uniqueIndex:ux_bid_gig_seller,priority:1" json:"gig_id"`
	SellerID  string    `gorm:"column:seller_id;size:64;not null;uniqueIndex:ux_bid_gig_seller,priority:2" json:"seller_id"`
	Amount    int64     `gorm:"column:amount;not null" json:"amount"`
	Proposal  string    `gorm:"column:proposal;type:text" json:"proposal"`
	Status    BidStatus `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName GORM table name
func (Bid) TableName() string {
	return "bids"
}

// Decide validates a pending -> accepted/rejected decision. acceptedID is the
// gig's accepted bid, zero when there is none. The parent gig must still be
// open: a suspended gig fails with ErrGigSuspended; a non-pending gig or an
// accepted sibling fails with ErrInvalidTransition. An unsuspended gig is
// pending again but keeps its accepted bid, so the sibling check stands alone.
func (b *Bid) Decide(gig *Gig, acceptedID uint64, next BidStatus) error {
	if next != BidStatusAccepted && next != BidStatusRejected {
		return fmt.Errorf("bid cannot move to %s: %w", next, common.ErrInvalidTransition)
	}
	if b.GigID != gig.ID {
		return fmt.Errorf("bid %d does not belong to gig %d: %w", b.ID, gig.ID, common.ErrBidNotFound)
	}
	if gig.Status == GigStatusSuspended {
		return common.ErrGigSuspended
	}
	if b.Status != BidStatusPending {
		return fmt.Errorf("bid %d already %s: %w", b.ID, b.Status, common.ErrInvalidTransition)
	}
	if gig.Status != GigStatusPending {
		return fmt.Errorf("gig %d is %s: %w", gig.ID, gig.Status, common.ErrInvalidTransition)
	}
	if acceptedID != 0 {
		return fmt.Errorf("gig %d already accepted bid %d: %w", gig.ID, acceptedID, common.ErrInvalidTransition)
	}
	return nil
}

// Actionable reports whether accept/reject may still be attempted
func (b *Bid) Actionable(gig *Gig, acceptedID uint64) bool {
	return b.Status == BidStatusPending && gig.Status == GigStatusPending && acceptedID == 0
}

// PlaceBidRequest seller bid request
type PlaceBidRequest struct {
	Amount   int64  `json:"amount" binding:"required,gt=0"`
	Proposal string `json:"proposal" binding:"required"`
}

// BidResponse bid in API responses
type BidResponse struct {
	ID         uint64    `json:"id"`
	GigID      uint64    `json:"gig_id"`
	SellerID   string    `json:"seller_id"`
	Amount     int64     `json:"amount"`
	Proposal   string    `json:"proposal"`
	Status     BidStatus `json:"status"`
	Actionable bool      `json:"actionable"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToResponse converts Bid to BidResponse in the context of its gig and the
// gig's accepted bid (zero when none)
func (b *Bid) ToResponse(gig *Gig, acceptedID uint64) *BidResponse {
	return &BidResponse{
		ID:         b.ID,
		GigID:      b.GigID,
		SellerID:   b.SellerID,
		Amount:     b.Amount,
		Proposal:   b.Proposal,
		Status:     b.Status,
		Actionable: gig != nil && b.Actionable(gig, acceptedID),
		CreatedAt:  b.CreatedAt,
	}
}

// BidDecisionResponse result of accept/reject
type BidDecisionResponse struct {
	Bid *BidResponse `json:"bid"`
	Gig *GigResponse `json:"gig"`
}
