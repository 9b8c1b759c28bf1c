package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/pkg/ai"
)

// Detection tuning. Confidence must strictly exceed the threshold; PDF
// uploads get a lower bar because extracted documents are usually the real
// thing even when the model hedges.
const (
	detectionMinTextLen    = 20
	detectionCacheTTL      = 5 * time.Minute
	detectionThreshold     = 0.6
	detectionPDFThreshold  = 0.4
	detectionSampleHead    = 600
	detectionSampleTail    = 600
	detectionMaxTokens     = 800
	detectionTemperature   = 0.2
	keywordWeight          = 0.15
	keywordConfidenceCap   = 0.9
	pdfConfidenceBonus     = 0.5
	pdfConfidenceBonusCap  = 0.95
	untitledAssignmentName = "Untitled Assignment"
)

var detectionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "studygroup",
	Subsystem: "detection",
	Name:      "outcomes_total",
	Help:      "Assignment detection outcomes by path and verdict.",
}, []string{"path", "verdict"})

// assignmentKeywords back the fallback scorer when the model is unavailable.
var assignmentKeywords = []string{
	"assignment", "homework", "due date", "deadline", "submit",
	"complete the following", "answer the following", "solve",
	"question 1", "exercise", "problem set", "question sheet",
	"worksheet", "quiz", "exam", "test", "midterm", "final",
	"instructions", "points", "grade", "class", "course",
}

var titlePrefixRe = regexp.MustCompile(`(?i)^(assignment|homework|task|project)[:\s]*`)

// DetectionAnalysis is the normalized verdict for one piece of content.
type DetectionAnalysis struct {
	IsAssignment  bool
	Confidence    float64
	Reasoning     string
	Title         string
	Description   string
	Subject       string
	Deadline      *time.Time
	QuestionCount *int
	Fallback      bool
}

// Accepted applies the admission threshold for the given source type.
func (a DetectionAnalysis) Accepted(sourceType string) bool {
	if !a.IsAssignment {
		return false
	}
	if a.Confidence > detectionThreshold {
		return true
	}

	return sourceType == models.SourcePDFUpload && a.Confidence > detectionPDFThreshold
}

// DetectionService decides whether a piece of text is an assignment and
// extracts its fields.
type DetectionService interface {
	Analyze(ctx context.Context, text, sourceType string) (DetectionAnalysis, error)
}

type cachedAnalysis struct {
	at       time.Time
	analysis DetectionAnalysis
}

type detectionService struct {
	model  ai.TextModel
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedAnalysis
}

// NewDetectionService builds the detection service. Results are cached
// in-process for a short TTL keyed on the content head, so repeated posts of
// the same text do not burn model calls.
func NewDetectionService(model ai.TextModel, logger zerolog.Logger) DetectionService {
	return &detectionService{
		model:  model,
		logger: logger.With().Str("component", "detection_service").Logger(),
		now:    time.Now,
		cache:  make(map[string]cachedAnalysis),
	}
}

func (s *detectionService) Analyze(ctx context.Context, text, sourceType string) (DetectionAnalysis, error) {
	text = strings.TrimSpace(text)
	if len(text) < detectionMinTextLen {
		return DetectionAnalysis{}, nil
	}

	key := detectionCacheKey(text, sourceType)
	if analysis, ok := s.cached(key); ok {
		detectionOutcomes.WithLabelValues("cache", verdict(analysis)).Inc()
		return analysis, nil
	}

	analysis := s.analyzeWithModel(ctx, text, sourceType)
	s.store(key, analysis)

	path := "model"
	if analysis.Fallback {
		path = "fallback"
	}
	detectionOutcomes.WithLabelValues(path, verdict(analysis)).Inc()

	return analysis, nil
}

func verdict(a DetectionAnalysis) string {
	if a.IsAssignment {
		return "assignment"
	}
	return "not_assignment"
}

func detectionCacheKey(text, sourceType string) string {
	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	sum := md5.Sum([]byte(head + "_" + sourceType))

	return hex.EncodeToString(sum[:])
}

func (s *detectionService) cached(key string) (DetectionAnalysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		return DetectionAnalysis{}, false
	}
	if s.now().Sub(entry.at) >= detectionCacheTTL {
		delete(s.cache, key)
		return DetectionAnalysis{}, false
	}

	return entry.analysis, true
}

func (s *detectionService) store(key string, analysis DetectionAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cachedAnalysis{at: s.now(), analysis: analysis}
}

// ClearCache drops all cached verdicts.
func (s *detectionService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cachedAnalysis)
}

func (s *detectionService) analyzeWithModel(ctx context.Context, text, sourceType string) DetectionAnalysis {
	prompt := buildDetectionPrompt(text, sourceType)

	raw, err := s.model.CompleteJSON(ctx, prompt, ai.CompletionOptions{
		MaxTokens:   detectionMaxTokens,
		Temperature: detectionTemperature,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("source", sourceType).Msg("model detection failed, using keyword fallback")
		return fallbackDetection(text, sourceType)
	}

	parsed, err := ai.ParseObject(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unparseable detection response, using keyword fallback")
		return fallbackDetection(text, sourceType)
	}

	analysis := normalizeAnalysis(parsed, text)
	s.logger.Debug().
		Bool("is_assignment", analysis.IsAssignment).
		Float64("confidence", analysis.Confidence).
		Msg("model detection verdict")

	return analysis
}

// buildDetectionPrompt samples the head and tail of long content so the
// prompt stays small without losing due dates that usually sit at either end.
func buildDetectionPrompt(text, sourceType string) string {
	sample := text
	if len(text) > detectionSampleHead+200 {
		runes := []rune(text)
		head := detectionSampleHead
		if head > len(runes) {
			head = len(runes)
		}
		tailStart := len(runes) - detectionSampleTail
		if tailStart < head {
			tailStart = head
		}
		sample = string(runes[:head]) + "\n...\n" + string(runes[tailStart:])
	}

	return fmt.Sprintf(`Is this an academic assignment? Analyze and return ONLY valid JSON.

CONTENT (%s):
%s

Return format:
{
  "is_assignment": bool,
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "fields": {
    "title": "short title or null",
    "description": "what to do or null",
    "subject": "subject area or null",
    "deadline": "YYYY-MM-DD or null",
    "question_count": int or null
  }
}

Rules:
- Assignment = asks reader to complete work/tasks
- High confidence (>0.8) = explicit instructions/due dates
- PDFs more likely assignments
- Use null if uncertain
- NO markdown, ONLY JSON`, sourceType, sample)
}

func normalizeAnalysis(parsed map[string]interface{}, originalText string) DetectionAnalysis {
	analysis := DetectionAnalysis{
		IsAssignment: asBool(parsed["is_assignment"]),
		Confidence:   clamp01(asFloat(parsed["confidence"])),
		Reasoning:    truncateRunes(asString(parsed["reasoning"]), 500),
	}

	fields, _ := parsed["fields"].(map[string]interface{})
	analysis.Title = truncateRunes(asString(fields["title"]), 200)
	analysis.Description = truncateRunes(asString(fields["description"]), 2000)
	analysis.Subject = truncateRunes(asString(fields["subject"]), 100)
	analysis.Deadline = parseDeadline(asString(fields["deadline"]))
	analysis.QuestionCount = asIntPtr(fields["question_count"])

	if analysis.IsAssignment && analysis.Title == "" {
		analysis.Title = extractTitleHeuristic(originalText)
	}

	return analysis
}

func fallbackDetection(text, sourceType string) DetectionAnalysis {
	lower := strings.ToLower(text)
	matches := 0
	for _, keyword := range assignmentKeywords {
		if strings.Contains(lower, keyword) {
			matches++
		}
	}

	confidence := math.Min(float64(matches)*keywordWeight, keywordConfidenceCap)
	isPDF := sourceType == models.SourcePDFUpload
	if isPDF {
		confidence = math.Min(confidence+pdfConfidenceBonus, pdfConfidenceBonusCap)
	}

	isAssignment := confidence > detectionPDFThreshold ||
		(isPDF && (matches > 0 || len(text) > 50))

	analysis := DetectionAnalysis{
		IsAssignment: isAssignment,
		Confidence:   confidence,
		Reasoning:    fmt.Sprintf("Fallback detection: found %d assignment keywords", matches),
		Title:        extractTitleHeuristic(text),
		Fallback:     true,
	}
	if len(text) > 100 {
		analysis.Description = truncateRunes(text, 500)
	}

	return analysis
}

// extractTitleHeuristic picks the first plausible title line, stripping the
// usual labels students put in front of one.
func extractTitleHeuristic(text string) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	limit := len(lines)
	if limit > 5 {
		limit = 5
	}
	for _, line := range lines[:limit] {
		if len(line) > 10 && len(line) < 200 {
			return strings.TrimSpace(titlePrefixRe.ReplaceAllString(line, ""))
		}
	}

	if fallback := strings.TrimSpace(truncateRunes(text, 100)); fallback != "" {
		return fallback
	}

	return untitledAssignmentName
}

func parseDeadline(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			return &day
		}
	}

	return nil
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int:
		return float64(value)
	default:
		return 0
	}
}

// asIntPtr mirrors the deadline treatment: anything that is not a usable
// positive integer becomes nil rather than an error.
func asIntPtr(v interface{}) *int {
	var n int
	switch value := v.(type) {
	case float64:
		n = int(value)
	case int:
		n = value
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}

	return &n
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
