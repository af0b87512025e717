package service

import "github.com/lexgig/lexgig-backend/internal/domain"

// Real-time event types pushed to members
const (
	EventGigUpdated      = "gig.updated"
	EventMessageInserted = "message.inserted"
)

// Notifier pushes member-scoped real-time events
type Notifier interface {
	Notify(memberID string, eventType string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, interface{}) {}

// GigUpdated payload of gig.updated events
type GigUpdated struct {
	Gig    *domain.GigResponse `json:"gig"`
	BidID  uint64              `json:"bid_id,omitempty"`
	Reason string              `json:"reason"`
}
