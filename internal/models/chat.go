package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat message types.
const (
	MessageTypeText  = "text"
	MessageTypeFile  = "file"
	MessageTypeImage = "image"
	MessageTypeCode  = "code"
)

// ChatMessage is a message posted to a study group or a direct conversation.
// Exactly one of GroupID and ConversationID is set.
type ChatMessage struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID        *uuid.UUID `gorm:"type:uuid;index" json:"group_id,omitempty"`
	ConversationID *uuid.UUID `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	SenderID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"sender_id"`
	Content        string     `gorm:"type:text" json:"content"`
	MessageType    string     `gorm:"size:32;not null;default:text" json:"message_type"`
	FileURL        string     `gorm:"size:512" json:"file_url,omitempty"`
	FileName       string     `gorm:"size:255" json:"file_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// IsGroupMessage reports whether the message was posted to a study group.
func (m ChatMessage) IsGroupMessage() bool { return m.GroupID != nil }

// Conversation is a direct-message thread between two users.
type Conversation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserAID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair" json:"user_a_id"`
	UserBID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair" json:"user_b_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Involves reports whether the given user is one of the two participants.
func (c Conversation) Involves(userID uuid.UUID) bool {
	return c.UserAID == userID || c.UserBID == userID
}
