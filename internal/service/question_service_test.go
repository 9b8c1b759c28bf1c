package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/pkg/vectorstore"
)

func TestSmartChunkPreservesQuestionStructure(t *testing.T) {
	text := "Complete all problems before Friday.\n1. Define inertia.\n2. State Newton's second law.\n3. Explain momentum conservation."

	chunks := SmartChunk(text)
	require.Len(t, chunks, 4)
	require.Equal(t, "instructions", chunks[0].Type)
	require.Contains(t, chunks[0].Text, "Complete all problems")
	require.Equal(t, "question_1", chunks[1].Type)
	require.Equal(t, "Define inertia.", chunks[1].Text)
	require.Equal(t, "question_3", chunks[3].Type)
}

func TestSmartChunkFallsBackToWindows(t *testing.T) {
	text := strings.Repeat("plain prose without numbering ", 100)

	chunks := SmartChunk(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		require.True(t, strings.HasPrefix(chunk.Type, "chunk_"))
		require.LessOrEqual(t, len(chunk.Text), chunkSize)
	}
}

func TestSmartChunkCapsOutput(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 30; i++ {
		b.WriteString("Question ")
		b.WriteString(strings.Repeat("x", 3))
		b.WriteString("\n")
		b.WriteString("1. something to answer here\n")
	}
	text := strings.Repeat(b.String(), 2)

	chunks := SmartChunk(text)
	require.LessOrEqual(t, len(chunks), maxChunks)
}

func TestExtractQuestionsFromModel(t *testing.T) {
	model := &fakeTextModel{response: `[
		{"number": 1, "question_text": "Define inertia.", "type": "short_answer"},
		{"number": 2, "question_text": "Explain momentum.", "type": ""},
		{"question_text": "Unnumbered question."}
	]`}
	svc := NewQuestionService(&memoryQuestionRepo{}, model, &fakeEmbedder{}, &fakeVectorStore{}, zerolog.Nop())

	questions := svc.ExtractQuestions(context.Background(), "1. Define inertia.\n2. Explain momentum.")
	require.Len(t, questions, 3)
	require.Equal(t, 1, questions[0].Number)
	require.Equal(t, "short_answer", questions[0].Type)
	require.Equal(t, "general", questions[1].Type)
	require.Equal(t, 3, questions[2].Number, "missing number falls back to position")
}

func TestExtractQuestionsRegexFallbackKeepsOrder(t *testing.T) {
	model := &fakeTextModel{err: errors.New("model down")}
	svc := NewQuestionService(&memoryQuestionRepo{}, model, &fakeEmbedder{}, &fakeVectorStore{}, zerolog.Nop())

	text := "2) State Newton's second law\n1. Define inertia\nQuestion 3: Explain momentum"
	questions := svc.ExtractQuestions(context.Background(), text)
	require.Len(t, questions, 3)
	require.Equal(t, 1, questions[0].Number)
	require.Equal(t, "Define inertia", questions[0].Text)
	require.Equal(t, 2, questions[1].Number)
	require.Equal(t, 3, questions[2].Number)
	require.Equal(t, "Explain momentum", questions[2].Text)
}

func TestProcessAssignmentStoresAndIndexes(t *testing.T) {
	model := &fakeTextModel{response: `[
		{"number": 1, "question_text": "Define inertia.", "type": "short_answer"},
		{"number": 2, "question_text": "Explain momentum.", "type": "essay"}
	]`}
	questions := &memoryQuestionRepo{}
	store := &fakeVectorStore{}
	svc := NewQuestionService(questions, model, &fakeEmbedder{}, store, zerolog.Nop())

	assignment := models.Assignment{
		ID:        uuid.New(),
		GroupID:   uuid.New(),
		CreatorID: uuid.New(),
		Title:     "Physics Problem Set",
	}
	text := "Solve everything.\n1. Define inertia.\n2. Explain momentum."
	require.NoError(t, svc.ProcessAssignment(context.Background(), assignment, text))

	stored, err := questions.ListByAssignment(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "Define inertia.", stored[0].QuestionText)

	records := store.records()
	require.NotEmpty(t, records)

	byType := map[string]int{}
	for _, record := range records {
		recordType, _ := record.Metadata["type"].(string)
		byType[recordType]++
		require.Equal(t, assignment.GroupID.String(), record.Metadata["group_id"], "every record must carry its group")
	}
	require.Equal(t, 1, byType[vectorstore.TypeAssignment])
	require.Equal(t, 2, byType[vectorstore.TypeQuestion])
	require.GreaterOrEqual(t, byType[vectorstore.TypeAssignmentChunk], 1)
}

func TestProcessAssignmentSurvivesEmbeddingFailure(t *testing.T) {
	model := &fakeTextModel{response: `[{"number": 1, "question_text": "Define inertia.", "type": "short_answer"}]`}
	questions := &memoryQuestionRepo{}
	embedder := &fakeEmbedder{err: errors.New("embedding down")}
	svc := NewQuestionService(questions, model, embedder, &fakeVectorStore{}, zerolog.Nop())

	assignment := models.Assignment{ID: uuid.New(), GroupID: uuid.New(), CreatorID: uuid.New()}
	require.NoError(t, svc.ProcessAssignment(context.Background(), assignment, "1. Define inertia."))

	stored, err := questions.ListByAssignment(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1, "questions persist even when indexing fails")
}
