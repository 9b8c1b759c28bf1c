package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// GroupCreateRequest describes the payload for creating a study group.
type GroupCreateRequest struct {
	Name        string `json:"name" validate:"required,min=3,max=255"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	Subject     string `json:"subject" validate:"omitempty,max=128"`
}

// GroupMemberRequest adds a user to a group.
type GroupMemberRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"omitempty,oneof=admin member"`
}

// GroupMemberResponse is the serialized representation of a membership.
type GroupMemberResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// GroupResponse is the serialized representation of a study group.
type GroupResponse struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Subject     string                `json:"subject"`
	CreatorID   uuid.UUID             `json:"creator_id"`
	CreatedAt   time.Time             `json:"created_at"`
	Members     []GroupMemberResponse `json:"members,omitempty"`
}

// NewGroupResponse converts a model into a DTO.
func NewGroupResponse(model models.StudyGroup) GroupResponse {
	response := GroupResponse{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		Subject:     model.Subject,
		CreatorID:   model.CreatorID,
		CreatedAt:   model.CreatedAt,
	}
	for _, member := range model.Members {
		response.Members = append(response.Members, GroupMemberResponse{
			UserID:   member.UserID,
			Role:     member.Role,
			JoinedAt: member.JoinedAt,
		})
	}

	return response
}

// NewGroupResponseSlice converts a slice of models into DTOs.
func NewGroupResponseSlice(groups []models.StudyGroup) []GroupResponse {
	responses := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		responses = append(responses, NewGroupResponse(group))
	}

	return responses
}
