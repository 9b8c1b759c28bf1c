package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/dto"
	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
)

// ErrGroupNotFound indicates the requested study group does not exist.
var ErrGroupNotFound = errors.New("study group not found")

// ErrAlreadyMember indicates the user already belongs to the group.
var ErrAlreadyMember = errors.New("user is already a member")

// GroupService exposes study group management use cases.
type GroupService interface {
	Create(ctx context.Context, creatorID uuid.UUID, payload dto.GroupCreateRequest) (dto.GroupResponse, error)
	Get(ctx context.Context, id, userID uuid.UUID) (dto.GroupResponse, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]dto.GroupResponse, error)
	AddMember(ctx context.Context, groupID, actorID uuid.UUID, payload dto.GroupMemberRequest) error
	RemoveMember(ctx context.Context, groupID, actorID, userID uuid.UUID) error
	Delete(ctx context.Context, groupID, actorID uuid.UUID) error
}

type groupService struct {
	groups    repository.GroupRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGroupService builds the group management service.
func NewGroupService(groups repository.GroupRepository, validate *validator.Validate, logger zerolog.Logger) GroupService {
	return &groupService{
		groups:    groups,
		validator: validate,
		logger:    logger.With().Str("component", "group_service").Logger(),
	}
}

// Create stores a new study group and enrolls the creator as its admin.
func (s *groupService) Create(ctx context.Context, creatorID uuid.UUID, payload dto.GroupCreateRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.GroupResponse{}, err
	}

	group := models.StudyGroup{
		Name:        payload.Name,
		Description: payload.Description,
		Subject:     payload.Subject,
		CreatorID:   creatorID,
	}
	if err := s.groups.Create(ctx, &group); err != nil {
		return dto.GroupResponse{}, err
	}

	member := models.GroupMember{GroupID: group.ID, UserID: creatorID, Role: models.RoleAdmin}
	if err := s.groups.AddMember(ctx, &member); err != nil {
		return dto.GroupResponse{}, err
	}

	s.logger.Info().Str("group_id", group.ID.String()).Str("name", group.Name).Msg("study group created")
	group.Members = []models.GroupMember{member}

	return dto.NewGroupResponse(group), nil
}

func (s *groupService) Get(ctx context.Context, id, userID uuid.UUID) (dto.GroupResponse, error) {
	group, err := s.groups.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GroupResponse{}, ErrGroupNotFound
		}
		return dto.GroupResponse{}, err
	}

	member, err := s.groups.IsMember(ctx, id, userID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	if !member {
		return dto.GroupResponse{}, ErrNotGroupMember
	}

	group.Members, err = s.groups.ListMembers(ctx, id)
	if err != nil {
		return dto.GroupResponse{}, err
	}

	return dto.NewGroupResponse(group), nil
}

func (s *groupService) ListForUser(ctx context.Context, userID uuid.UUID) ([]dto.GroupResponse, error) {
	groups, err := s.groups.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return dto.NewGroupResponseSlice(groups), nil
}

// AddMember enrolls a user; only admins may do this.
func (s *groupService) AddMember(ctx context.Context, groupID, actorID uuid.UUID, payload dto.GroupMemberRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, groupID, actorID); err != nil {
		return err
	}

	exists, err := s.groups.IsMember(ctx, groupID, payload.UserID)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyMember
	}

	role := payload.Role
	if role == "" {
		role = models.RoleMember
	}

	return s.groups.AddMember(ctx, &models.GroupMember{GroupID: groupID, UserID: payload.UserID, Role: role})
}

// RemoveMember drops a membership. Members may leave on their own; removing
// someone else requires admin.
func (s *groupService) RemoveMember(ctx context.Context, groupID, actorID, userID uuid.UUID) error {
	if actorID != userID {
		if err := s.requireAdmin(ctx, groupID, actorID); err != nil {
			return err
		}
	}

	return s.groups.RemoveMember(ctx, groupID, userID)
}

func (s *groupService) Delete(ctx context.Context, groupID, actorID uuid.UUID) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		return err
	}
	if err := s.requireAdmin(ctx, groupID, actorID); err != nil {
		return err
	}

	return s.groups.Delete(ctx, groupID)
}

func (s *groupService) requireAdmin(ctx context.Context, groupID, userID uuid.UUID) error {
	role, err := s.groups.MemberRole(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotGroupMember
		}
		return err
	}
	if role != models.RoleAdmin {
		return ErrNotGroupAdmin
	}

	return nil
}
