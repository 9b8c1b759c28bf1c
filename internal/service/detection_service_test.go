package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/pkg/ai"
)

type fakeTextModel struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (f *fakeTextModel) CompleteJSON(ctx context.Context, prompt string, opts ai.CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

func (f *fakeTextModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const assignmentVerdictJSON = `{
	"is_assignment": true,
	"confidence": 0.85,
	"reasoning": "explicit tasks with a due date",
	"fields": {
		"title": "Physics Problem Set 3",
		"description": "Solve problems 1 through 10",
		"subject": "physics",
		"deadline": "2026-02-14",
		"question_count": 10
	}
}`

func TestDetectionSkipsShortText(t *testing.T) {
	model := &fakeTextModel{response: assignmentVerdictJSON}
	svc := NewDetectionService(model, zerolog.Nop())

	analysis, err := svc.Analyze(context.Background(), "too short", models.SourceChatMessage)
	require.NoError(t, err)
	require.False(t, analysis.IsAssignment)
	require.Zero(t, model.callCount(), "short text must not reach the model")
}

func TestDetectionAcceptsModelVerdict(t *testing.T) {
	model := &fakeTextModel{response: assignmentVerdictJSON}
	svc := NewDetectionService(model, zerolog.Nop())

	analysis, err := svc.Analyze(context.Background(), "Physics Problem Set 3\nSolve problems 1-10, due February 14.", models.SourceChatMessage)
	require.NoError(t, err)
	require.True(t, analysis.IsAssignment)
	require.InDelta(t, 0.85, analysis.Confidence, 1e-9)
	require.Equal(t, "Physics Problem Set 3", analysis.Title)
	require.Equal(t, "physics", analysis.Subject)
	require.NotNil(t, analysis.Deadline)
	require.Equal(t, "2026-02-14", analysis.Deadline.Format("2006-01-02"))
	require.NotNil(t, analysis.QuestionCount)
	require.Equal(t, 10, *analysis.QuestionCount)
	require.True(t, analysis.Accepted(models.SourceChatMessage))
}

func TestDetectionQuestionCountRejectsUnusableValues(t *testing.T) {
	for name, raw := range map[string]string{
		"missing": `{"is_assignment": true, "confidence": 0.8, "fields": {"title": "Quiz"}}`,
		"zero":    `{"is_assignment": true, "confidence": 0.8, "fields": {"title": "Quiz", "question_count": 0}}`,
		"string":  `{"is_assignment": true, "confidence": 0.8, "fields": {"title": "Quiz", "question_count": "many"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := NewDetectionService(&fakeTextModel{response: raw}, zerolog.Nop())
			analysis, err := svc.Analyze(context.Background(), "Quiz on Friday covering chapters one and two.", models.SourceChatMessage)
			require.NoError(t, err)
			require.Nil(t, analysis.QuestionCount)
		})
	}
}

func TestDetectionThresholdIsStrict(t *testing.T) {
	borderline := DetectionAnalysis{IsAssignment: true, Confidence: 0.60}
	require.False(t, borderline.Accepted(models.SourceChatMessage))

	pdfBorderline := DetectionAnalysis{IsAssignment: true, Confidence: 0.40}
	require.False(t, pdfBorderline.Accepted(models.SourcePDFUpload))

	pdfAbove := DetectionAnalysis{IsAssignment: true, Confidence: 0.41}
	require.True(t, pdfAbove.Accepted(models.SourcePDFUpload))
	require.False(t, pdfAbove.Accepted(models.SourceChatMessage))
}

func TestDetectionFallbackScoresKeywords(t *testing.T) {
	model := &fakeTextModel{err: errors.New("model unavailable")}
	svc := NewDetectionService(model, zerolog.Nop())

	text := "Homework assignment for the course: submit the problem set before the deadline. 20 points."
	first, err := svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.True(t, first.Fallback)
	require.True(t, first.IsAssignment)
	require.Greater(t, first.Confidence, 0.4)
	require.LessOrEqual(t, first.Confidence, 0.9)

	// Same text scores the same regardless of how often it is analyzed.
	fresh := NewDetectionService(&fakeTextModel{err: errors.New("down")}, zerolog.Nop())
	second, err := fresh.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.InDelta(t, first.Confidence, second.Confidence, 1e-9)
}

func TestDetectionFallbackGivesPDFBonus(t *testing.T) {
	model := &fakeTextModel{err: errors.New("model unavailable")}
	svc := NewDetectionService(model, zerolog.Nop())

	text := "Worksheet with exercise problems attached for the class to solve soon."
	analysis, err := svc.Analyze(context.Background(), text, models.SourcePDFUpload)
	require.NoError(t, err)
	require.True(t, analysis.IsAssignment)
	require.LessOrEqual(t, analysis.Confidence, 0.95)

	plain, err := NewDetectionService(&fakeTextModel{err: errors.New("down")}, zerolog.Nop()).
		Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.Greater(t, analysis.Confidence, plain.Confidence)
}

func TestDetectionCachesResults(t *testing.T) {
	model := &fakeTextModel{response: assignmentVerdictJSON}
	svc := NewDetectionService(model, zerolog.Nop())

	text := "Physics Problem Set 3\nSolve problems 1-10, due February 14."
	_, err := svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.Equal(t, 1, model.callCount(), "second analysis must come from cache")

	// A different source type is a different cache entry.
	_, err = svc.Analyze(context.Background(), text, models.SourcePDFUpload)
	require.NoError(t, err)
	require.Equal(t, 2, model.callCount())
}

func TestDetectionClearCacheForcesReanalysis(t *testing.T) {
	model := &fakeTextModel{response: assignmentVerdictJSON}
	svc := NewDetectionService(model, zerolog.Nop()).(*detectionService)

	text := "Physics Problem Set 3\nSolve problems 1-10, due February 14."
	_, err := svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)

	svc.ClearCache()
	_, err = svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.Equal(t, 2, model.callCount())
}

func TestDetectionCacheExpires(t *testing.T) {
	model := &fakeTextModel{response: assignmentVerdictJSON}
	svc := NewDetectionService(model, zerolog.Nop()).(*detectionService)

	current := time.Now()
	svc.now = func() time.Time { return current }

	text := "Physics Problem Set 3\nSolve problems 1-10, due February 14."
	_, err := svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)

	current = current.Add(detectionCacheTTL + time.Second)
	_, err = svc.Analyze(context.Background(), text, models.SourceChatMessage)
	require.NoError(t, err)
	require.Equal(t, 2, model.callCount(), "expired entry must be re-analyzed")
}

func TestExtractTitleHeuristic(t *testing.T) {
	title := extractTitleHeuristic("Assignment: Linear Algebra Review\n1. Solve Ax=b")
	require.Equal(t, "Linear Algebra Review", title)

	short := extractTitleHeuristic("hw3\ndo it")
	require.Equal(t, "hw3\ndo it", short)
}

func TestDetectionFallbackOnGarbageResponse(t *testing.T) {
	model := &fakeTextModel{response: "I could not decide, sorry!"}
	svc := NewDetectionService(model, zerolog.Nop())

	analysis, err := svc.Analyze(context.Background(), "Random chatter about weekend plans with friends.", models.SourceChatMessage)
	require.NoError(t, err)
	require.True(t, analysis.Fallback)
	require.False(t, analysis.IsAssignment)
}
