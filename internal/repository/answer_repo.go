package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

// AnswerRepository defines persistence operations for answers.
type AnswerRepository interface {
	Upsert(ctx context.Context, answer *models.Answer) error
	ListByQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Answer, error)
}

type answerRepository struct {
	db *gorm.DB
}

// NewAnswerRepository instantiates a GORM-backed repository.
func NewAnswerRepository(db *gorm.DB) AnswerRepository {
	return &answerRepository{db: db}
}

// Upsert saves the answer, replacing any previous answer the same student
// gave to the same question.
func (r *answerRepository) Upsert(ctx context.Context, answer *models.Answer) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "question_id"}, {Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"answer_text", "source", "confidence", "is_ai_detected", "message_id", "updated_at",
		}),
	}).Create(answer).Error
}

func (r *answerRepository) ListByQuestion(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	var answers []models.Answer
	err := r.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("created_at ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}

	return answers, nil
}

func (r *answerRepository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.Answer, error) {
	var answers []models.Answer
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}

	return answers, nil
}
