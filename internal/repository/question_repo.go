package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// QuestionRepository defines persistence operations for assignment questions.
type QuestionRepository interface {
	BatchCreate(ctx context.Context, questions []models.Question) error
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]models.Question, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.Question, error)
	GetOrCreateGeneral(ctx context.Context, assignmentID uuid.UUID) (models.Question, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository instantiates a GORM-backed repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) BatchCreate(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Create(&questions).Error
}

func (r *questionRepository) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("question_number ASC").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}

	return questions, nil
}

func (r *questionRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Question, error) {
	var question models.Question
	err := r.db.WithContext(ctx).First(&question, "id = ?", id).Error

	return question, err
}

// GetOrCreateGeneral returns the assignment's synthetic general-response
// question, creating it at the next free question number when absent. At most
// one such question exists per assignment.
func (r *questionRepository) GetOrCreateGeneral(ctx context.Context, assignmentID uuid.UUID) (models.Question, error) {
	var question models.Question
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND question_text = ?", assignmentID, models.GeneralQuestionText).
		First(&question).Error
	if err == nil {
		return question, nil
	}
	if err != gorm.ErrRecordNotFound {
		return models.Question{}, err
	}

	var maxNumber int
	row := r.db.WithContext(ctx).Model(&models.Question{}).
		Where("assignment_id = ?", assignmentID).
		Select("COALESCE(MAX(question_number), 0)")
	if err := row.Scan(&maxNumber).Error; err != nil {
		return models.Question{}, err
	}

	question = models.Question{
		AssignmentID:   assignmentID,
		QuestionNumber: maxNumber + 1,
		QuestionText:   models.GeneralQuestionText,
		QuestionType:   "open_ended",
	}
	if err := r.db.WithContext(ctx).Create(&question).Error; err != nil {
		return models.Question{}, err
	}

	return question, nil
}
