package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/dto"
	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
)

// ErrAssignmentNotFound indicates the requested assignment does not exist.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ErrQuestionNotFound indicates the requested question does not exist.
var ErrQuestionNotFound = errors.New("question not found")

// ErrNotGroupMember indicates the user does not belong to the group.
var ErrNotGroupMember = errors.New("user is not a member of this group")

// ErrNotGroupAdmin indicates an admin-only action by a plain member.
var ErrNotGroupAdmin = errors.New("admin role required")

// ErrNoAssignmentDetected indicates the submitted content did not pass the
// detection threshold.
var ErrNoAssignmentDetected = errors.New("no assignment detected in content")

// FileUploader abstracts uploading binary data and returning a URL.
type FileUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AnswerMatcher pairs free-form answer text with the question inside an
// assignment it most likely addresses.
type AnswerMatcher interface {
	MatchAnswerToQuestion(ctx context.Context, answerText string, assignmentID uuid.UUID) (*QuestionMatch, error)
}

// AssignmentService exposes assignment domain use cases. Admin-gated
// operations check the caller's role before any detection work runs.
type AssignmentService interface {
	ListForGroup(ctx context.Context, groupID, userID uuid.UUID, filter repository.AssignmentFilter) ([]dto.AssignmentResponse, int64, error)
	Detail(ctx context.Context, id, userID uuid.UUID) (dto.AssignmentDetailResponse, error)
	CreateManual(ctx context.Context, groupID, userID uuid.UUID, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	DetectFromText(ctx context.Context, groupID, userID uuid.UUID, text string) (dto.AssignmentResponse, error)
	CreateFromUpload(ctx context.Context, groupID, userID uuid.UUID, fileName string, data []byte) (dto.AssignmentResponse, error)
	SubmitAnswer(ctx context.Context, questionID, studentID uuid.UUID, payload dto.AnswerSubmitRequest) (dto.AnswerResponse, error)
	SubmitReply(ctx context.Context, assignmentID, studentID uuid.UUID, payload dto.ReplySubmitRequest) (dto.AnswerResponse, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error

	ProcessMessage(ctx context.Context, message models.ChatMessage) error
}

type assignmentService struct {
	assignments repository.AssignmentRepository
	questions   repository.QuestionRepository
	answers     repository.AnswerRepository
	groups      repository.GroupRepository
	detector    DetectionService
	pipeline    QuestionService
	extractor   ContentExtractor
	uploader    FileUploader
	matcher     AnswerMatcher
	runner      *TaskRunner
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAssignmentService builds the assignment service.
func NewAssignmentService(
	assignments repository.AssignmentRepository,
	questions repository.QuestionRepository,
	answers repository.AnswerRepository,
	groups repository.GroupRepository,
	detector DetectionService,
	pipeline QuestionService,
	extractor ContentExtractor,
	uploader FileUploader,
	matcher AnswerMatcher,
	runner *TaskRunner,
	validate *validator.Validate,
	logger zerolog.Logger,
) AssignmentService {
	return &assignmentService{
		assignments: assignments,
		questions:   questions,
		answers:     answers,
		groups:      groups,
		detector:    detector,
		pipeline:    pipeline,
		extractor:   extractor,
		uploader:    uploader,
		matcher:     matcher,
		runner:      runner,
		validator:   validate,
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		now:         time.Now,
	}
}

func (s *assignmentService) requireMember(ctx context.Context, groupID, userID uuid.UUID) error {
	ok, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotGroupMember
	}

	return nil
}

func (s *assignmentService) requireAdmin(ctx context.Context, groupID, userID uuid.UUID) error {
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

func (s *assignmentService) ListForGroup(ctx context.Context, groupID, userID uuid.UUID, filter repository.AssignmentFilter) ([]dto.AssignmentResponse, int64, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, 0, err
	}

	assignments, total, err := s.assignments.ListByGroup(ctx, groupID, filter)
	if err != nil {
		return nil, 0, err
	}

	return dto.NewAssignmentResponseSlice(assignments), total, nil
}

func (s *assignmentService) Detail(ctx context.Context, id, userID uuid.UUID) (dto.AssignmentDetailResponse, error) {
	assignment, err := s.assignments.GetWithQuestions(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentDetailResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentDetailResponse{}, err
	}
	if err := s.requireMember(ctx, assignment.GroupID, userID); err != nil {
		return dto.AssignmentDetailResponse{}, err
	}

	detail := dto.AssignmentDetailResponse{
		AssignmentResponse: dto.NewAssignmentResponse(assignment),
		QuestionCount:      len(assignment.Questions),
	}
	for _, question := range assignment.Questions {
		if len(question.Answers) > 0 {
			detail.AnsweredCount++
		}
	}

	return detail, nil
}

// CreateManual stores an admin-declared assignment without running detection.
func (s *assignmentService) CreateManual(ctx context.Context, groupID, userID uuid.UUID, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	if err := s.requireAdmin(ctx, groupID, userID); err != nil {
		return dto.AssignmentResponse{}, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment := models.Assignment{
		GroupID:     groupID,
		CreatorID:   userID,
		Title:       payload.Title,
		Description: payload.Description,
		Subject:     payload.Subject,
		SourceType:  models.SourceManual,
		TotalPoints: payload.TotalPoints,
	}
	if payload.DueDate != nil {
		assignment.DueDate = parseDeadline(*payload.DueDate)
	}

	if err := s.assignments.Create(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}
	s.submitProcessing(assignment, payload.Description)

	return dto.NewAssignmentResponse(assignment), nil
}

// DetectFromText runs the detection pipeline over pasted text on behalf of a
// group admin. The permission check runs before any model work.
func (s *assignmentService) DetectFromText(ctx context.Context, groupID, userID uuid.UUID, text string) (dto.AssignmentResponse, error) {
	if err := s.requireAdmin(ctx, groupID, userID); err != nil {
		return dto.AssignmentResponse{}, err
	}

	return s.detectAndCreate(ctx, groupID, userID, text, models.SourceChatMessage, "")
}

// CreateFromUpload extracts text from an uploaded document, runs detection
// and stores the file alongside the created assignment.
func (s *assignmentService) CreateFromUpload(ctx context.Context, groupID, userID uuid.UUID, fileName string, data []byte) (dto.AssignmentResponse, error) {
	if err := s.requireAdmin(ctx, groupID, userID); err != nil {
		return dto.AssignmentResponse{}, err
	}

	text, err := s.extractor.Extract(ctx, fileName, data)
	if err != nil {
		return dto.AssignmentResponse{}, fmt.Errorf("extract document text: %w", err)
	}
	if len(text) < detectionMinTextLen {
		return dto.AssignmentResponse{}, ErrNoAssignmentDetected
	}

	fileURL := ""
	if s.uploader != nil {
		fileURL, err = s.uploader.Upload(ctx, fileName, bytes.NewReader(data))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", fileName).Msg("file upload failed, assignment keeps no source link")
		}
	}

	return s.detectAndCreate(ctx, groupID, userID, text, models.SourcePDFUpload, fileURL)
}

func (s *assignmentService) detectAndCreate(ctx context.Context, groupID, userID uuid.UUID, text, sourceType, fileURL string) (dto.AssignmentResponse, error) {
	analysis, err := s.detector.Analyze(ctx, text, sourceType)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if !analysis.Accepted(sourceType) {
		s.logger.Debug().Float64("confidence", analysis.Confidence).Str("source", sourceType).Msg("content rejected")
		return dto.AssignmentResponse{}, ErrNoAssignmentDetected
	}

	assignment := s.buildAssignment(groupID, userID, analysis, sourceType, fileURL)
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}
	s.submitProcessing(assignment, text)

	event := s.logger.Info().
		Str("assignment_id", assignment.ID.String()).
		Str("title", assignment.Title).
		Float64("confidence", analysis.Confidence)
	if analysis.QuestionCount != nil {
		event = event.Int("announced_questions", *analysis.QuestionCount)
	}
	event.Msg("assignment created")

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) buildAssignment(groupID, userID uuid.UUID, analysis DetectionAnalysis, sourceType, fileURL string) models.Assignment {
	title := analysis.Title
	if title == "" {
		title = untitledAssignmentName
	}

	return models.Assignment{
		GroupID:             groupID,
		CreatorID:           userID,
		Title:               title,
		Description:         analysis.Description,
		Subject:             analysis.Subject,
		DueDate:             analysis.Deadline,
		SourceType:          sourceType,
		SourceFileURL:       fileURL,
		DetectionConfidence: analysis.Confidence,
	}
}

// submitProcessing queues question extraction and embedding indexing; the
// caller's request returns without waiting for it.
func (s *assignmentService) submitProcessing(assignment models.Assignment, text string) {
	if s.runner == nil || text == "" {
		return
	}
	if err := s.runner.Submit("process_assignment", func(ctx context.Context) error {
		return s.pipeline.ProcessAssignment(ctx, assignment, text)
	}); err != nil {
		s.logger.Warn().Err(err).Msg("assignment processing not queued")
	}
}

// ProcessMessage runs auto-detection over a stored group chat message. Only
// messages from group admins are considered, and the role check runs before
// any model work. It is invoked from a background task, so detection failures
// only log.
func (s *assignmentService) ProcessMessage(ctx context.Context, message models.ChatMessage) error {
	if !message.IsGroupMessage() || message.Content == "" {
		return nil
	}

	role, err := s.groups.MemberRole(ctx, *message.GroupID, message.SenderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if role != models.RoleAdmin {
		return nil
	}

	analysis, err := s.detector.Analyze(ctx, message.Content, models.SourceChatMessage)
	if err != nil {
		return err
	}
	if !analysis.Accepted(models.SourceChatMessage) {
		return nil
	}

	assignment := s.buildAssignment(*message.GroupID, message.SenderID, analysis, models.SourceChatMessage, "")
	if err := s.assignments.Create(ctx, &assignment); err != nil {
		return fmt.Errorf("store detected assignment: %w", err)
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID.String()).
		Str("group_id", message.GroupID.String()).
		Msg("assignment detected in chat message")

	return s.pipeline.ProcessAssignment(ctx, assignment, message.Content)
}

// SubmitAnswer records a student's manual answer, replacing any earlier
// answer they gave to the same question.
func (s *assignmentService) SubmitAnswer(ctx context.Context, questionID, studentID uuid.UUID, payload dto.AnswerSubmitRequest) (dto.AnswerResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerResponse{}, err
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AnswerResponse{}, ErrQuestionNotFound
		}
		return dto.AnswerResponse{}, err
	}

	assignment, err := s.assignments.GetByID(ctx, question.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AnswerResponse{}, ErrAssignmentNotFound
		}
		return dto.AnswerResponse{}, err
	}
	if err := s.requireMember(ctx, assignment.GroupID, studentID); err != nil {
		return dto.AnswerResponse{}, err
	}

	answer := models.Answer{
		AssignmentID: question.AssignmentID,
		QuestionID:   questionID,
		StudentID:    studentID,
		AnswerText:   payload.AnswerText,
		Source:       models.AnswerSourceManual,
		Confidence:   1,
	}
	if err := s.answers.Upsert(ctx, &answer); err != nil {
		return dto.AnswerResponse{}, err
	}

	return dto.NewAnswerResponse(answer), nil
}

// SubmitReply records an assignment-level reply. An explicit question wins;
// otherwise the reply text is matched against the assignment's questions, and
// replies nothing matches land in the general response bucket.
func (s *assignmentService) SubmitReply(ctx context.Context, assignmentID, studentID uuid.UUID, payload dto.ReplySubmitRequest) (dto.AnswerResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerResponse{}, err
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AnswerResponse{}, ErrAssignmentNotFound
		}
		return dto.AnswerResponse{}, err
	}
	if err := s.requireMember(ctx, assignment.GroupID, studentID); err != nil {
		return dto.AnswerResponse{}, err
	}

	questionID, confidence, err := s.resolveReplyTarget(ctx, assignmentID, payload)
	if err != nil {
		return dto.AnswerResponse{}, err
	}

	answer := models.Answer{
		AssignmentID: assignmentID,
		QuestionID:   questionID,
		StudentID:    studentID,
		AnswerText:   payload.AnswerText,
		Source:       models.AnswerSourceManual,
		Confidence:   confidence,
	}
	if err := s.answers.Upsert(ctx, &answer); err != nil {
		return dto.AnswerResponse{}, err
	}

	return dto.NewAnswerResponse(answer), nil
}

func (s *assignmentService) resolveReplyTarget(ctx context.Context, assignmentID uuid.UUID, payload dto.ReplySubmitRequest) (uuid.UUID, float64, error) {
	if payload.QuestionID != nil {
		question, err := s.questions.GetByID(ctx, *payload.QuestionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return uuid.Nil, 0, ErrQuestionNotFound
			}
			return uuid.Nil, 0, err
		}
		if question.AssignmentID != assignmentID {
			return uuid.Nil, 0, ErrQuestionNotFound
		}
		return question.ID, 1, nil
	}

	if s.matcher != nil {
		match, err := s.matcher.MatchAnswerToQuestion(ctx, payload.AnswerText, assignmentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("reply matching failed, using general bucket")
		} else if match != nil {
			s.logger.Debug().
				Str("question_id", match.QuestionID.String()).
				Float64("confidence", match.Confidence).
				Msg("reply matched to question")
			return match.QuestionID, match.Confidence, nil
		}
	}

	general, err := s.questions.GetOrCreateGeneral(ctx, assignmentID)
	if err != nil {
		return uuid.Nil, 0, err
	}

	return general.ID, 1, nil
}

func (s *assignmentService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}
	if assignment.CreatorID != userID {
		if err := s.requireAdmin(ctx, assignment.GroupID, userID); err != nil {
			return err
		}
	}

	return s.assignments.Delete(ctx, id)
}
