package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
	"github.com/rakhadjo/studygroup-api/pkg/ai"
	"github.com/rakhadjo/studygroup-api/pkg/vectorstore"
)

const (
	chunkSize            = 1000
	maxChunks            = 10
	questionSampleChars  = 1500
	questionTextMaxChars = 2000
	questionMaxTokens    = 2000
	questionTemperature  = 0.1
)

var (
	questionSplitRe    = regexp.MustCompile(`(?im)(?:^|\n)(?:\d+[.)]\s+|question\s+\d+[:.]?\s+)`)
	numberedLineRe     = regexp.MustCompile(`(\d+)[.)]\s+([^\n]+)`)
	labeledQuestionRe  = regexp.MustCompile(`(?i)(?:Q|Question)\s*(\d+):\s*([^\n]+)`)
)

// Chunk is one indexed slice of assignment text.
type Chunk struct {
	Type string
	Text string
}

// ExtractedQuestion is one question pulled out of assignment text before it
// is persisted.
type ExtractedQuestion struct {
	Number int
	Text   string
	Type   string
}

// QuestionService extracts questions from assignment text, persists them and
// indexes both the assignment and its questions for answer linking.
type QuestionService interface {
	ProcessAssignment(ctx context.Context, assignment models.Assignment, text string) error
	ExtractQuestions(ctx context.Context, text string) []ExtractedQuestion
}

type questionService struct {
	questions repository.QuestionRepository
	model     ai.TextModel
	embedder  ai.Embedder
	store     vectorstore.Store
	logger    zerolog.Logger
}

// NewQuestionService builds the question extraction service.
func NewQuestionService(
	questions repository.QuestionRepository,
	model ai.TextModel,
	embedder ai.Embedder,
	store vectorstore.Store,
	logger zerolog.Logger,
) QuestionService {
	return &questionService{
		questions: questions,
		model:     model,
		embedder:  embedder,
		store:     store,
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

// ProcessAssignment runs the post-detection pipeline for a stored
// assignment: index its text, extract its questions, persist them and index
// each question. Indexing failures are logged and skipped; the assignment
// itself is already saved and answer linking degrades gracefully without
// embeddings.
func (s *questionService) ProcessAssignment(ctx context.Context, assignment models.Assignment, text string) error {
	s.indexAssignment(ctx, assignment, text)

	extracted := s.ExtractQuestions(ctx, text)
	if len(extracted) == 0 {
		s.logger.Debug().Str("assignment_id", assignment.ID.String()).Msg("no questions extracted")
		return nil
	}

	questions := make([]models.Question, 0, len(extracted))
	for _, q := range extracted {
		questions = append(questions, models.Question{
			AssignmentID:   assignment.ID,
			QuestionNumber: q.Number,
			QuestionText:   truncateRunes(q.Text, questionTextMaxChars),
			QuestionType:   q.Type,
		})
	}
	if err := s.questions.BatchCreate(ctx, questions); err != nil {
		return fmt.Errorf("store questions: %w", err)
	}

	s.indexQuestions(ctx, assignment, questions)
	s.logger.Info().
		Str("assignment_id", assignment.ID.String()).
		Int("questions", len(questions)).
		Msg("assignment processed")

	return nil
}

func (s *questionService) indexAssignment(ctx context.Context, assignment models.Assignment, text string) {
	records := []vectorstore.Record{{
		Text: truncateRunes(text, chunkSize),
		Metadata: map[string]interface{}{
			"type":          vectorstore.TypeAssignment,
			"assignment_id": assignment.ID.String(),
			"group_id":      assignment.GroupID.String(),
			"creator_id":    assignment.CreatorID.String(),
		},
	}}

	for _, chunk := range SmartChunk(text) {
		records = append(records, vectorstore.Record{
			Text: chunk.Text,
			Metadata: map[string]interface{}{
				"type":          vectorstore.TypeAssignmentChunk,
				"chunk_type":    chunk.Type,
				"assignment_id": assignment.ID.String(),
				"group_id":      assignment.GroupID.String(),
				"creator_id":    assignment.CreatorID.String(),
			},
		})
	}

	s.embedAndStore(ctx, records)
}

func (s *questionService) indexQuestions(ctx context.Context, assignment models.Assignment, questions []models.Question) {
	records := make([]vectorstore.Record, 0, len(questions))
	for _, question := range questions {
		records = append(records, vectorstore.Record{
			Text: question.QuestionText,
			Metadata: map[string]interface{}{
				"type":           vectorstore.TypeQuestion,
				"question_id":    question.ID.String(),
				"assignment_id":  assignment.ID.String(),
				"group_id":       assignment.GroupID.String(),
				"question_order": question.QuestionNumber,
			},
		})
	}

	s.embedAndStore(ctx, records)
}

func (s *questionService) embedAndStore(ctx context.Context, records []vectorstore.Record) {
	stored := records[:0]
	for _, record := range records {
		vector, err := s.embedder.Embed(ctx, record.Text)
		if err != nil {
			s.logger.Warn().Err(err).Msg("embedding failed, record skipped")
			continue
		}
		record.Vector = vectorstore.NewVector(vector)
		stored = append(stored, record)
	}

	if err := s.store.Add(ctx, stored); err != nil {
		s.logger.Warn().Err(err).Msg("embedding storage failed")
	}
}

// ExtractQuestions asks the model for a structured question list and falls
// back to regex extraction when the model is unavailable or unparseable.
func (s *questionService) ExtractQuestions(ctx context.Context, text string) []ExtractedQuestion {
	sample := truncateRunes(text, questionSampleChars)
	prompt := fmt.Sprintf(`Extract all individual questions/problems from this assignment.

ASSIGNMENT TEXT:
%s

Return ONLY a JSON array in this exact format:

[
  {
    "number": 1,
    "question_text": "Full question text",
    "type": "multiple_choice" | "short_answer" | "essay" | "problem" | "other"
  }
]

No markdown.
No explanation.
Only JSON array.`, sample)

	raw, err := s.model.CompleteJSON(ctx, prompt, ai.CompletionOptions{
		MaxTokens:   questionMaxTokens,
		Temperature: questionTemperature,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("model question extraction failed, using regex fallback")
		return fallbackQuestionExtraction(text)
	}

	parsed, err := ai.ParseArray(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unparseable question list, using regex fallback")
		return fallbackQuestionExtraction(text)
	}

	questions := make([]ExtractedQuestion, 0, len(parsed))
	for i, item := range parsed {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		questionText := asString(entry["question_text"])
		if questionText == "" {
			continue
		}
		number := int(asFloat(entry["number"]))
		if number <= 0 {
			number = i + 1
		}
		questionType := asString(entry["type"])
		if questionType == "" {
			questionType = "general"
		}
		questions = append(questions, ExtractedQuestion{
			Number: number,
			Text:   questionText,
			Type:   questionType,
		})
	}

	if len(questions) == 0 {
		return fallbackQuestionExtraction(text)
	}

	return questions
}

// fallbackQuestionExtraction scans for numbered and labeled question lines.
func fallbackQuestionExtraction(text string) []ExtractedQuestion {
	var questions []ExtractedQuestion

	for _, match := range numberedLineRe.FindAllStringSubmatch(text, -1) {
		questions = append(questions, newFallbackQuestion(match[1], match[2]))
	}
	for _, match := range labeledQuestionRe.FindAllStringSubmatch(text, -1) {
		questions = append(questions, newFallbackQuestion(match[1], match[2]))
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Number < questions[j].Number
	})

	return questions
}

func newFallbackQuestion(order, text string) ExtractedQuestion {
	number, _ := strconv.Atoi(order)
	return ExtractedQuestion{
		Number: number,
		Text:   strings.TrimSpace(text),
		Type:   "general",
	}
}

// SmartChunk splits assignment text on question boundaries when it has a
// recognizable structure, otherwise into fixed-size windows. Output is capped
// so pathological documents do not flood the index.
func SmartChunk(text string) []Chunk {
	var chunks []Chunk

	segments := questionSplitRe.Split(text, -1)
	if len(segments) > 2 {
		if instructions := strings.TrimSpace(segments[0]); instructions != "" {
			chunks = append(chunks, Chunk{Type: "instructions", Text: instructions})
		}
		for i, segment := range segments[1:] {
			if trimmed := strings.TrimSpace(segment); trimmed != "" {
				chunks = append(chunks, Chunk{
					Type: fmt.Sprintf("question_%d", i+1),
					Text: truncateRunes(trimmed, chunkSize),
				})
			}
		}
	} else {
		runes := []rune(text)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			if window := strings.TrimSpace(string(runes[i:end])); window != "" {
				chunks = append(chunks, Chunk{
					Type: fmt.Sprintf("chunk_%d", i/chunkSize),
					Text: window,
				})
			}
		}
	}

	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}

	return chunks
}
