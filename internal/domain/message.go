package domain

import "time"

// Message an authoritative, persisted conversation message
type Message struct {
	ID             string     `gorm:"column:id;primaryKey;size:32" json:"id"`
	ConversationID uint64     `gorm:"column:conversation_id;not null;index:ix_message_conversation_created,priority:1;uniqueIndex:ux_message_client_temp,priority:1" json:"conversation_id"`
	SenderID       string     `gorm:"column:sender_id;size:64;not null;uniqueIndex:ux_message_client_temp,priority:2" json:"sender_id"`
	Content        string     `gorm:"column:content;type:text;not null" json:"content"`
	ClientTempID   *string    `gorm:"column:client_temp_id;size:64;uniqueIndex:ux_message_client_temp,priority:3" json:"client_temp_id,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index:ix_message_conversation_created,priority:2" json:"created_at"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
}

// TableName GORM table name
func (Message) TableName() string {
	return "messages"
}

// TempID returns the client correlation token, if any
func (m *Message) TempID() string {
	if m.ClientTempID == nil {
		return ""
	}
	return *m.ClientTempID
}

// Inserted converts a persisted message into its feed event
func (m *Message) Inserted() MessageInserted {
	return MessageInserted{
		ConversationID: m.ConversationID,
		ID:             m.ID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ClientTempID:   m.TempID(),
	}
}

// MessageInserted authoritative real-time event. Delivery is at-least-once
// and unordered across reconnects. ClientTempID echoes the sender's
// correlation token when the send carried one.
type MessageInserted struct {
	ConversationID uint64    `json:"conversation_id"`
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	ClientTempID   string    `json:"client_temp_id,omitempty"`
}

// SendMessageRequest send message request
type SendMessageRequest struct {
	Content      string `json:"content" binding:"required,max=5000"`
	ClientTempID string `json:"client_temp_id" binding:"max=64"`
}
