package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assignment source types.
const (
	SourceChatMessage = "chat_message"
	SourcePDFUpload   = "pdf_upload"
	SourceManual      = "manual"
)

// Answer sources.
const (
	AnswerSourceManual       = "manual"
	AnswerSourceAutoDetected = "auto_detected"
)

// GeneralQuestionText marks the synthetic bucket question that collects
// answers which match an assignment but no specific question.
const GeneralQuestionText = "General Assignment Response"

// Assignment is a detected or manually created piece of work tracked for a
// study group. DetectionConfidence records the score that admitted it.
type Assignment struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID             uuid.UUID  `gorm:"type:uuid;index;not null" json:"group_id"`
	CreatorID           uuid.UUID  `gorm:"type:uuid;not null" json:"creator_id"`
	Title               string     `gorm:"size:255;not null" json:"title"`
	Description         string     `gorm:"type:text" json:"description"`
	Subject             string     `gorm:"size:128" json:"subject"`
	DueDate             *time.Time `json:"due_date"`
	SourceType          string     `gorm:"size:32;not null;default:manual" json:"source_type"`
	SourceFileURL       string     `gorm:"size:512" json:"source_file_url"`
	DetectionConfidence float64    `json:"detection_confidence"`
	TotalPoints         int        `json:"total_points"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Questions           []Question `gorm:"constraint:OnDelete:CASCADE" json:"questions,omitempty"`
}

// BeforeCreate assigns an ID when the caller did not.
func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return a.DueDate != nil && reference.After(*a.DueDate)
}

// Question is one extracted or manually added question of an assignment.
type Question struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssignmentID   uuid.UUID `gorm:"type:uuid;index;not null" json:"assignment_id"`
	QuestionNumber int       `gorm:"not null" json:"question_number"`
	QuestionText   string    `gorm:"type:text;not null" json:"question_text"`
	QuestionType   string    `gorm:"size:32;default:open_ended" json:"question_type"`
	Points         int       `json:"points"`
	CreatedAt      time.Time `json:"created_at"`
	Answers        []Answer  `gorm:"constraint:OnDelete:CASCADE" json:"answers,omitempty"`
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// IsGeneral reports whether this is the synthetic general-response bucket.
func (q Question) IsGeneral() bool {
	return q.QuestionText == GeneralQuestionText
}

// Answer is one student's answer to a question. A student holds at most one
// answer per question; later answers replace earlier ones.
type Answer struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssignmentID uuid.UUID  `gorm:"type:uuid;not null;index" json:"assignment_id"`
	QuestionID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_answers_question_student" json:"question_id"`
	StudentID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_answers_question_student" json:"student_id"`
	AnswerText   string     `gorm:"type:text;not null" json:"answer_text"`
	Source       string     `gorm:"size:32;not null;default:manual" json:"source"`
	Confidence   float64    `json:"confidence"`
	IsAIDetected bool       `gorm:"column:is_ai_detected;not null;default:false" json:"is_ai_detected"`
	MessageID    *uuid.UUID `gorm:"type:uuid" json:"message_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (a *Answer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
