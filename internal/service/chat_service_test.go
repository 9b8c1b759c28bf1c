package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rakhadjo/studygroup-api/internal/dto"
	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
)

type recordingLinker struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

func (r *recordingLinker) LinkAnswer(_ context.Context, message models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingLinker) MatchAnswerToQuestion(_ context.Context, _ string, _ uuid.UUID) (*QuestionMatch, error) {
	return nil, nil
}

func (r *recordingLinker) linked() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.messages...)
}

func newChatFixture(t *testing.T) (ChatService, *memoryChatRepo, *memoryGroupRepo, *assignmentFixture, *recordingLinker) {
	t.Helper()

	detector := &fakeDetector{analysis: DetectionAnalysis{IsAssignment: true, Confidence: 0.9, Title: "Detected"}}
	fx := newAssignmentFixture(t, detector, &fakeTextModel{response: "[]"})
	chatRepo := newMemoryChatRepo()
	linker := &recordingLinker{}

	svc := NewChatService(
		chatRepo, fx.groups, fx.svc, linker, fx.runner,
		nil, "", nil, validator.New(), zerolog.Nop(),
	)

	return svc, chatRepo, fx.groups, fx, linker
}

func TestSendGroupMessageRequiresMembership(t *testing.T) {
	svc, _, _, fx, _ := newChatFixture(t)

	_, err := svc.SendGroupMessage(context.Background(), fx.groupID, uuid.New(), dto.ChatSendRequest{Content: "hello"})
	require.ErrorIs(t, err, ErrChatNotAuthorised)
}

func TestAuthorizeGroupAccess(t *testing.T) {
	svc, _, _, fx, _ := newChatFixture(t)

	require.NoError(t, svc.AuthorizeGroupAccess(context.Background(), fx.groupID, fx.member))
	require.ErrorIs(t, svc.AuthorizeGroupAccess(context.Background(), fx.groupID, uuid.New()), ErrChatNotAuthorised)
}

func TestSendGroupMessageFeedsPipeline(t *testing.T) {
	svc, chatRepo, _, fx, linker := newChatFixture(t)

	response, err := svc.SendGroupMessage(context.Background(), fx.groupID, fx.admin, dto.ChatSendRequest{
		Content: "Homework: finish the worksheet on limits before Friday.",
	})
	require.NoError(t, err)
	require.Equal(t, fx.admin, response.SenderID)
	require.NotNil(t, response.GroupID)
	require.Equal(t, fx.groupID, *response.GroupID)

	fx.runner.Wait()

	// Detection ran over the saved message.
	require.Equal(t, 1, fx.detector.callCount())
	_, total, err := fx.assignments.ListByGroup(context.Background(), fx.groupID, repository.AssignmentFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	// The linker saw the same message.
	linked := linker.linked()
	require.Len(t, linked, 1)
	require.Equal(t, response.ID, linked[0].ID)

	stored, err := chatRepo.ListGroupMessages(context.Background(), fx.groupID, 10, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestSendGroupMessageSanitizesContent(t *testing.T) {
	svc, _, _, fx, _ := newChatFixture(t)

	response, err := svc.SendGroupMessage(context.Background(), fx.groupID, fx.member, dto.ChatSendRequest{
		Content: `hello <script>alert("x")</script>world`,
	})
	require.NoError(t, err)
	require.NotContains(t, response.Content, "<script>")
	require.Contains(t, response.Content, "hello")

	_, err = svc.SendGroupMessage(context.Background(), fx.groupID, fx.member, dto.ChatSendRequest{
		Content: `<script>alert("only script")</script>`,
	})
	require.Error(t, err, "content empty after sanitization must be rejected")
}

func TestDirectMessagesShareOneThread(t *testing.T) {
	svc, chatRepo, _, fx, linker := newChatFixture(t)

	alice := fx.member
	bob := fx.admin

	first, err := svc.SendDirectMessage(context.Background(), alice, bob, dto.ChatSendRequest{Content: "hi bob"})
	require.NoError(t, err)
	require.NotNil(t, first.ConversationID)

	second, err := svc.SendDirectMessage(context.Background(), bob, alice, dto.ChatSendRequest{Content: "hi alice"})
	require.NoError(t, err)
	require.Equal(t, *first.ConversationID, *second.ConversationID)

	history, err := svc.ConversationHistory(context.Background(), *first.ConversationID, alice, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	_, err = svc.ConversationHistory(context.Background(), *first.ConversationID, uuid.New(), 10)
	require.ErrorIs(t, err, ErrChatNotAuthorised)

	fx.runner.Wait()
	require.Empty(t, linker.linked(), "direct messages never feed the pipeline")

	messages, err := chatRepo.ListConversationMessages(context.Background(), *first.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestGroupHistoryRequiresMembership(t *testing.T) {
	svc, _, _, fx, _ := newChatFixture(t)

	_, err := svc.GroupHistory(context.Background(), fx.groupID, uuid.New(), 10, nil)
	require.ErrorIs(t, err, ErrChatNotAuthorised)

	history, err := svc.GroupHistory(context.Background(), fx.groupID, fx.member, 10, nil)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestTaskRunnerDrainsOnClose(t *testing.T) {
	runner := NewTaskRunner(2, 4, time.Second, zerolog.Nop())

	var mu sync.Mutex
	done := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Submit("work", func(context.Context) error {
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		}))
	}

	runner.Close()
	mu.Lock()
	require.Equal(t, 4, done)
	mu.Unlock()

	require.ErrorIs(t, runner.Submit("late", func(context.Context) error { return nil }), ErrRunnerClosed)
}

func TestSendGroupMessageCachesLastMessage(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	detector := &fakeDetector{analysis: DetectionAnalysis{IsAssignment: false}}
	fx := newAssignmentFixture(t, detector, &fakeTextModel{response: "[]"})
	chatRepo := newMemoryChatRepo()

	svc := NewChatService(
		chatRepo, fx.groups, fx.svc, &recordingLinker{}, fx.runner,
		client, "studygroup", nil, validator.New(), zerolog.Nop(),
	)

	sent, err := svc.SendGroupMessage(context.Background(), fx.groupID, fx.member, dto.ChatSendRequest{
		Content: "see you at the library",
	})
	require.NoError(t, err)

	key := "studygroup:chat:last:group:" + fx.groupID.String()
	cached, err := mini.Get(key)
	require.NoError(t, err)

	var message dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal([]byte(cached), &message))
	require.Equal(t, sent.ID, message.ID)
	require.Equal(t, "see you at the library", message.Content)

	fx.runner.Wait()
}
