package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// ChatRepository defines persistence operations for chat messages and direct
// conversations.
type ChatRepository interface {
	SaveMessage(ctx context.Context, message *models.ChatMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (models.ChatMessage, error)
	ListGroupMessages(ctx context.Context, groupID uuid.UUID, limit int, before *uuid.UUID) ([]models.ChatMessage, error)
	ListConversationMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error)

	GetOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository instantiates a GORM-backed repository.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatRepository) GetMessage(ctx context.Context, id uuid.UUID) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error

	return message, err
}

func (r *chatRepository) ListGroupMessages(ctx context.Context, groupID uuid.UUID, limit int, before *uuid.UUID) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("group_id = ?", groupID)
	if before != nil {
		var pivot models.ChatMessage
		if err := r.db.WithContext(ctx).First(&pivot, "id = ?", *before).Error; err != nil {
			return nil, err
		}
		query = query.Where("created_at < ?", pivot.CreatedAt)
	}

	var messages []models.ChatMessage
	err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *chatRepository) ListConversationMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// GetOrCreateConversation returns the thread between two users, creating it
// when absent. Participants are stored in a canonical order so the pair maps
// to exactly one row.
func (r *chatRepository) GetOrCreateConversation(ctx context.Context, userA, userB uuid.UUID) (models.Conversation, error) {
	if userB.String() < userA.String() {
		userA, userB = userB, userA
	}

	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", userA, userB).
		First(&conversation).Error
	if err == nil {
		return conversation, nil
	}
	if err != gorm.ErrRecordNotFound {
		return models.Conversation{}, err
	}

	conversation = models.Conversation{UserAID: userA, UserBID: userB}
	if err := r.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		return models.Conversation{}, err
	}

	return conversation, nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error

	return conversation, err
}

func (r *chatRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	return conversations, nil
}

func (r *chatRepository) TouchConversation(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("last_message_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}
