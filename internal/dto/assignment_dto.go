package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// AssignmentCreateRequest describes the payload for manually creating an
// assignment or detecting one from pasted text.
type AssignmentCreateRequest struct {
	Title       string  `form:"title" json:"title" validate:"required,min=3"`
	Description string  `form:"description" json:"description" validate:"required,min=10"`
	Subject     string  `form:"subject" json:"subject" validate:"omitempty,max=128"`
	DueDate     *string `form:"due_date" json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	TotalPoints int     `form:"total_points" json:"total_points" validate:"omitempty,gte=0"`
}

// AssignmentDetectRequest carries raw text to run through the detection
// pipeline on behalf of a group.
type AssignmentDetectRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

// QuestionResponse is the serialized representation of one question.
type QuestionResponse struct {
	ID             uuid.UUID        `json:"id"`
	QuestionNumber int              `json:"question_number"`
	QuestionText   string           `json:"question_text"`
	QuestionType   string           `json:"question_type"`
	Points         int              `json:"points"`
	IsGeneral      bool             `json:"is_general"`
	Answers        []AnswerResponse `json:"answers,omitempty"`
}

// AnswerResponse is the serialized representation of one answer.
type AnswerResponse struct {
	ID           uuid.UUID `json:"id"`
	AssignmentID uuid.UUID `json:"assignment_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	StudentID    uuid.UUID `json:"student_id"`
	AnswerText   string    `json:"answer_text"`
	Source       string    `json:"source"`
	Confidence   float64   `json:"confidence"`
	IsAIDetected bool      `json:"is_ai_detected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID                  uuid.UUID          `json:"id"`
	GroupID             uuid.UUID          `json:"group_id"`
	CreatorID           uuid.UUID          `json:"creator_id"`
	Title               string             `json:"title"`
	Description         string             `json:"description"`
	Subject             string             `json:"subject"`
	DueDate             *time.Time         `json:"due_date"`
	SourceType          string             `json:"source_type"`
	SourceFileURL       string             `json:"source_file_url,omitempty"`
	DetectionConfidence float64            `json:"detection_confidence"`
	TotalPoints         int                `json:"total_points"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	Questions           []QuestionResponse `json:"questions,omitempty"`
}

// AssignmentDetailResponse augments an assignment with progress counters.
type AssignmentDetailResponse struct {
	AssignmentResponse
	QuestionCount int `json:"question_count"`
	AnsweredCount int `json:"answered_count"`
}

// AnswerSubmitRequest describes a manual answer submission.
type AnswerSubmitRequest struct {
	AnswerText string `json:"answer_text" validate:"required,min=1"`
}

// ReplySubmitRequest describes an assignment-level reply. When QuestionID is
// absent the server matches the text to the closest question itself.
type ReplySubmitRequest struct {
	AnswerText string     `json:"answer_text" validate:"required,min=1"`
	QuestionID *uuid.UUID `json:"question_id" validate:"omitempty"`
}

// NewAnswerResponse converts a model into a DTO.
func NewAnswerResponse(model models.Answer) AnswerResponse {
	return AnswerResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		QuestionID:   model.QuestionID,
		StudentID:    model.StudentID,
		AnswerText:   model.AnswerText,
		Source:       model.Source,
		Confidence:   model.Confidence,
		IsAIDetected: model.IsAIDetected,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// NewQuestionResponse converts a model into a DTO.
func NewQuestionResponse(model models.Question) QuestionResponse {
	response := QuestionResponse{
		ID:             model.ID,
		QuestionNumber: model.QuestionNumber,
		QuestionText:   model.QuestionText,
		QuestionType:   model.QuestionType,
		Points:         model.Points,
		IsGeneral:      model.IsGeneral(),
	}
	for _, answer := range model.Answers {
		response.Answers = append(response.Answers, NewAnswerResponse(answer))
	}

	return response
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	response := AssignmentResponse{
		ID:                  model.ID,
		GroupID:             model.GroupID,
		CreatorID:           model.CreatorID,
		Title:               model.Title,
		Description:         model.Description,
		Subject:             model.Subject,
		DueDate:             model.DueDate,
		SourceType:          model.SourceType,
		SourceFileURL:       model.SourceFileURL,
		DetectionConfidence: model.DetectionConfidence,
		TotalPoints:         model.TotalPoints,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
	for _, question := range model.Questions {
		response.Questions = append(response.Questions, NewQuestionResponse(question))
	}

	return response
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}
