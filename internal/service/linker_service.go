package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
	"github.com/rakhadjo/studygroup-api/pkg/ai"
	"github.com/rakhadjo/studygroup-api/pkg/vectorstore"
)

// Similarity must strictly exceed this for a message to be linked to a
// question or assignment.
const linkThreshold = 0.75

const linkSearchLimit = 5

var linkerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "studygroup",
	Subsystem: "linker",
	Name:      "outcomes_total",
	Help:      "Answer linking outcomes.",
}, []string{"outcome"})

// QuestionMatch is the closest indexed question to a piece of answer text.
type QuestionMatch struct {
	QuestionID   uuid.UUID
	QuestionText string
	Confidence   float64
}

// LinkerService matches chat messages to open assignment questions.
type LinkerService interface {
	LinkAnswer(ctx context.Context, message models.ChatMessage) error
	// MatchAnswerToQuestion finds the question inside one assignment that the
	// answer text most likely addresses. It returns nil when the assignment
	// has no indexed questions near the text.
	MatchAnswerToQuestion(ctx context.Context, answerText string, assignmentID uuid.UUID) (*QuestionMatch, error)
}

type linkerService struct {
	questions   repository.QuestionRepository
	answers     repository.AnswerRepository
	assignments repository.AssignmentRepository
	embedder    ai.Embedder
	store       vectorstore.Store
	logger      zerolog.Logger
}

// NewLinkerService builds the answer linking service.
func NewLinkerService(
	questions repository.QuestionRepository,
	answers repository.AnswerRepository,
	assignments repository.AssignmentRepository,
	embedder ai.Embedder,
	store vectorstore.Store,
	logger zerolog.Logger,
) LinkerService {
	return &linkerService{
		questions:   questions,
		answers:     answers,
		assignments: assignments,
		embedder:    embedder,
		store:       store,
		logger:      logger.With().Str("component", "linker_service").Logger(),
	}
}

// LinkAnswer checks whether a group message answers an indexed question and
// records it when it does. Question-level matches win over assignment-level
// ones; an assignment-level match lands in the general response bucket.
// Matches from other groups are never considered. Index entries may outlive
// their rows, so every match is re-verified against the database before an
// answer is written.
func (s *linkerService) LinkAnswer(ctx context.Context, message models.ChatMessage) error {
	if !message.IsGroupMessage() || message.Content == "" {
		return nil
	}
	groupID := message.GroupID.String()

	vector, err := s.embedder.Embed(ctx, message.Content)
	if err != nil {
		return fmt.Errorf("embed message: %w", err)
	}

	matches, err := s.store.Search(ctx, vector, linkSearchLimit)
	if err != nil {
		return fmt.Errorf("search index: %w", err)
	}

	if linked, err := s.linkToQuestion(ctx, message, matches, groupID); linked || err != nil {
		return err
	}
	if linked, err := s.linkToAssignment(ctx, message, matches, groupID); linked || err != nil {
		return err
	}

	linkerOutcomes.WithLabelValues("no_match").Inc()
	return nil
}

func (s *linkerService) linkToQuestion(ctx context.Context, message models.ChatMessage, matches []vectorstore.Match, groupID string) (bool, error) {
	match, ok := bestMatch(matches, vectorstore.TypeQuestion, groupID)
	if !ok || match.Similarity() <= linkThreshold {
		return false, nil
	}

	questionID, err := uuid.Parse(metaString(match.Metadata, "question_id"))
	if err != nil {
		return false, nil
	}
	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug().Str("question_id", questionID.String()).Msg("matched question no longer exists")
			return false, nil
		}
		return false, err
	}

	if err := s.saveLink(ctx, message, question.AssignmentID, questionID, match.Similarity()); err != nil {
		return false, err
	}

	linkerOutcomes.WithLabelValues("question_link").Inc()
	s.logger.Info().
		Str("question_id", questionID.String()).
		Float64("similarity", match.Similarity()).
		Msg("message linked to question")

	return true, nil
}

func (s *linkerService) linkToAssignment(ctx context.Context, message models.ChatMessage, matches []vectorstore.Match, groupID string) (bool, error) {
	match, ok := bestMatch(matches, vectorstore.TypeAssignment, groupID)
	if !ok || match.Similarity() <= linkThreshold {
		return false, nil
	}

	assignmentID, err := uuid.Parse(metaString(match.Metadata, "assignment_id"))
	if err != nil {
		return false, nil
	}
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug().Str("assignment_id", assignmentID.String()).Msg("matched assignment no longer exists")
			return false, nil
		}
		return false, err
	}

	general, err := s.questions.GetOrCreateGeneral(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	if err := s.saveLink(ctx, message, assignmentID, general.ID, match.Similarity()); err != nil {
		return false, err
	}

	linkerOutcomes.WithLabelValues("general_link").Inc()
	s.logger.Info().
		Str("assignment_id", assignmentID.String()).
		Float64("similarity", match.Similarity()).
		Msg("message linked to assignment general bucket")

	return true, nil
}

func (s *linkerService) saveLink(ctx context.Context, message models.ChatMessage, assignmentID, questionID uuid.UUID, similarity float64) error {
	messageID := message.ID
	answer := models.Answer{
		AssignmentID: assignmentID,
		QuestionID:   questionID,
		StudentID:    message.SenderID,
		AnswerText:   message.Content,
		Source:       models.AnswerSourceAutoDetected,
		Confidence:   similarity,
		IsAIDetected: true,
		MessageID:    &messageID,
	}

	return s.answers.Upsert(ctx, &answer)
}

// MatchAnswerToQuestion embeds the answer text and returns the nearest indexed
// question belonging to the assignment. Unlike LinkAnswer there is no
// similarity cut-off: a student replying within an assignment thread is
// answering something, so the best candidate is always reported.
func (s *linkerService) MatchAnswerToQuestion(ctx context.Context, answerText string, assignmentID uuid.UUID) (*QuestionMatch, error) {
	vector, err := s.embedder.Embed(ctx, answerText)
	if err != nil {
		return nil, fmt.Errorf("embed answer: %w", err)
	}

	matches, err := s.store.Search(ctx, vector, linkSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	wantAssignment := assignmentID.String()
	for _, match := range matches {
		if metaString(match.Metadata, "type") != vectorstore.TypeQuestion {
			continue
		}
		if metaString(match.Metadata, "assignment_id") != wantAssignment {
			continue
		}
		questionID, err := uuid.Parse(metaString(match.Metadata, "question_id"))
		if err != nil {
			continue
		}
		return &QuestionMatch{
			QuestionID:   questionID,
			QuestionText: match.Text,
			Confidence:   match.Similarity(),
		}, nil
	}

	return nil, nil
}

// bestMatch returns the closest match of the wanted type belonging to the
// given group. Search results arrive ordered by distance.
func bestMatch(matches []vectorstore.Match, wantType, groupID string) (vectorstore.Match, bool) {
	for _, match := range matches {
		if metaString(match.Metadata, "type") == wantType && metaString(match.Metadata, "group_id") == groupID {
			return match, true
		}
	}

	return vectorstore.Match{}, false
}

func metaString(metadata map[string]interface{}, key string) string {
	value, _ := metadata[key].(string)
	return value
}
