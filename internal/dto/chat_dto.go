package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// ChatSendRequest describes an incoming chat message, over REST or the
// websocket channel.
type ChatSendRequest struct {
	Content     string `json:"content" validate:"required_without=FileURL,max=10000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text file image code"`
	FileURL     string `json:"file_url" validate:"omitempty,url"`
	FileName    string `json:"file_name" validate:"omitempty,max=255"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        *uuid.UUID `json:"group_id,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	SenderID       uuid.UUID  `json:"sender_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	FileURL        string     `json:"file_url,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConversationResponse is the serialized representation of a direct thread.
type ConversationResponse struct {
	ID            uuid.UUID `json:"id"`
	UserAID       uuid.UUID `json:"user_a_id"`
	UserBID       uuid.UUID `json:"user_b_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(model models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:             model.ID,
		GroupID:        model.GroupID,
		ConversationID: model.ConversationID,
		SenderID:       model.SenderID,
		Content:        model.Content,
		MessageType:    model.MessageType,
		FileURL:        model.FileURL,
		FileName:       model.FileName,
		CreatedAt:      model.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	responses := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, NewChatMessageResponse(message))
	}

	return responses
}

// NewConversationResponse converts a model into a DTO.
func NewConversationResponse(model models.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            model.ID,
		UserAID:       model.UserAID,
		UserBID:       model.UserBID,
		LastMessageAt: model.LastMessageAt,
		CreatedAt:     model.CreatedAt,
	}
}
