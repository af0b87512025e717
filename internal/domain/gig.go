package domain

import (
	"fmt"
	"time"

	"github.com/lexgig/lexgig-backend/internal/common"
)

// GigStatus gig lifecycle status
type GigStatus string

const (
	GigStatusPending        GigStatus = "pending"         // open for bids
	GigStatusActive         GigStatus = "active"          // a bid was accepted
	GigStatusInProgress     GigStatus = "in_progress"     // seller started work
	GigStatusCompleted      GigStatus = "completed"       // deliverable submitted
	GigStatusPendingPayment GigStatus = "pending_payment" // awaiting payout
	GigStatusSuspended      GigStatus = "suspended"       // blocked by moderation
)

// GigTransition names a lifecycle edge
type GigTransition string

const (
	TransitionAcceptBid      GigTransition = "accept_bid"
	TransitionStartWork      GigTransition = "start_work"
	TransitionComplete       GigTransition = "complete"
	TransitionRequestPayment GigTransition = "request_payment"
	TransitionSuspend        GigTransition = "suspend"
	TransitionUnsuspend      GigTransition = "unsuspend"
)

// gigEdges: transition -> allowed source states -> target
var gigEdges = map[GigTransition]struct {
	from []GigStatus
	to   GigStatus
}{
	TransitionAcceptBid:      {[]GigStatus{GigStatusPending}, GigStatusActive},
	TransitionStartWork:      {[]GigStatus{GigStatusActive}, GigStatusInProgress},
	TransitionComplete:       {[]GigStatus{GigStatusInProgress}, GigStatusCompleted},
	TransitionRequestPayment: {[]GigStatus{GigStatusCompleted}, GigStatusPendingPayment},
	TransitionSuspend:        {[]GigStatus{GigStatusPending, GigStatusActive, GigStatusInProgress}, GigStatusSuspended},
	TransitionUnsuspend:      {[]GigStatus{GigStatusSuspended}, GigStatusPending},
}

// IsValid reports whether s is a known status
func (s GigStatus) IsValid() bool {
	switch s {
	case GigStatusPending, GigStatusActive, GigStatusInProgress,
		GigStatusCompleted, GigStatusPendingPayment, GigStatusSuspended:
		return true
	}
	return false
}

// IsTerminal reports whether moderation can no longer suspend the gig
func (s GigStatus) IsTerminal() bool {
	return s == GigStatusCompleted || s == GigStatusPendingPayment
}

// NextGigStatus validates a transition from the current status and returns
// the target. Accept on a suspended gig fails with ErrGigSuspended rather
// than ErrInvalidTransition so callers can tell moderation blocks apart.
func NextGigStatus(current GigStatus, t GigTransition) (GigStatus, error) {
	edge, ok := gigEdges[t]
	if !ok {
		return "", fmt.Errorf("unknown transition %q: %w", t, common.ErrInvalidTransition)
	}
	if current == GigStatusSuspended && t == TransitionAcceptBid {
		return "", common.ErrGigSuspended
	}
	for _, from := range edge.from {
		if current == from {
			return edge.to, nil
		}
	}
	return "", fmt.Errorf("cannot %s a gig in status %s: %w", t, current, common.ErrInvalidTransition)
}

// Gig buyer-posted task open for bids
type Gig struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	BuyerID     string     `gorm:"column:buyer_id;size:64;not null;index" json:"buyer_id"`
	Title       string     `gorm:"column:title;size:200;not null" json:"title"`
	Description string     `gorm:"column:description;type:text" json:"description"`
	Budget      int64      `gorm:"column:budget;not null" json:"budget"`
	Currency    string     `gorm:"column:currency;size:3;default:NGN" json:"currency"`
	Deadline    *time.Time `gorm:"column:deadline" json:"deadline,omitempty"`
	Status      GigStatus  `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	IsFlagged   bool       `gorm:"column:is_flagged;not null;default:false" json:"is_flagged"`
	NeedsReview bool       `gorm:"column:needs_review;not null;default:true" json:"needs_review"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName GORM table name
func (Gig) TableName() string {
	return "gigs"
}

// CreateGigRequest buyer gig creation request
type CreateGigRequest struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description string     `json:"description" binding:"required"`
	Budget      int64      `json:"budget" binding:"required,gt=0"`
	Currency    string     `json:"currency" binding:"omitempty,len=3"`
	Deadline    *time.Time `json:"deadline"`
}

// GigResponse gig snapshot returned by lifecycle and moderation calls
type GigResponse struct {
	ID          uint64     `json:"id"`
	BuyerID     string     `json:"buyer_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Budget      int64      `json:"budget"`
	Currency    string     `json:"currency"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      GigStatus  `json:"status"`
	IsFlagged   bool       `json:"is_flagged"`
	NeedsReview bool       `json:"needs_review"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToResponse converts Gig to GigResponse
func (g *Gig) ToResponse() *GigResponse {
	return &GigResponse{
		ID:          g.ID,
		BuyerID:     g.BuyerID,
		Title:       g.Title,
		Description: g.Description,
		Budget:      g.Budget,
		Currency:    g.Currency,
		Deadline:    g.Deadline,
		Status:      g.Status,
		IsFlagged:   g.IsFlagged,
		NeedsReview: g.NeedsReview,
		CreatedAt:   g.CreatedAt,
	}
}
