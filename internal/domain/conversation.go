package domain

import "time"

// Conversation the single channel between one buyer and one seller about one gig.
// The participant pair is stored sorted so {a,b} and {b,a} share one row.
type Conversation struct {
	ID              uint64     `gorm:"primaryKey" json:"id"`
	GigID           uint64     `gorm:"column:gig_id;not null;uniqueIndex:ux_conversation_triple,priority:3" json:"gig_id"`
	BuyerID         string     `gorm:"column:buyer_id;size:64;not null;index" json:"buyer_id"`
	SellerID        string     `gorm:"column:seller_id;size:64;not null;index" json:"seller_id"`
	ParticipantLow  string     `gorm:"column:participant_low;size:64;not null;uniqueIndex:ux_conversation_triple,priority:1" json:"-"`
	ParticipantHigh string     `gorm:"column:participant_high;size:64;not null;uniqueIndex:ux_conversation_triple,priority:2" json:"-"`
	LastMessageAt   *time.Time `gorm:"column:last_message_at" json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName GORM table name
func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation builds an unsaved conversation with a normalized participant pair
func NewConversation(buyerID, sellerID string, gigID uint64) *Conversation {
	low, high := ParticipantPair(buyerID, sellerID)
	return &Conversation{
		GigID:           gigID,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		ParticipantLow:  low,
		ParticipantHigh: high,
	}
}

// ParticipantPair orders two user ids
func ParticipantPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// HasParticipant reports whether userID is the buyer or the seller
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// Counterpart returns the other participant
func (c *Conversation) Counterpart(userID string) string {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}

// OpenConversationRequest buyer "message seller" request
type OpenConversationRequest struct {
	SellerID string `json:"seller_id" binding:"required"`
}
