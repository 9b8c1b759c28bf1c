package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/models"
)

func setupPipelineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.StudyGroup{},
		&models.GroupMember{},
		&models.Assignment{},
		&models.Question{},
		&models.Answer{},
		&models.ChatMessage{},
		&models.Conversation{},
	))
	return db
}

func TestAssignmentRepositoryRoundTrip(t *testing.T) {
	db := setupPipelineTestDB(t)
	repo := NewAssignmentRepository(db)

	due := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	assignment := models.Assignment{
		GroupID:             uuid.New(),
		CreatorID:           uuid.New(),
		Title:               "Physics Problem Set 3",
		Description:         "Complete all problems",
		Subject:             "physics",
		DueDate:             &due,
		SourceType:          models.SourcePDFUpload,
		DetectionConfidence: 0.82,
	}
	require.NoError(t, repo.Create(context.Background(), &assignment))
	require.NotEqual(t, uuid.Nil, assignment.ID)

	got, err := repo.GetByID(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Equal(t, "Physics Problem Set 3", got.Title)
	require.NotNil(t, got.DueDate)
	require.Equal(t, "2026-02-14", got.DueDate.UTC().Format("2006-01-02"))
	require.InDelta(t, 0.82, got.DetectionConfidence, 1e-9)
}

func TestAssignmentRepositoryListByGroupFiltersAndPaginates(t *testing.T) {
	db := setupPipelineTestDB(t)
	repo := NewAssignmentRepository(db)

	groupID := uuid.New()
	creator := uuid.New()
	for _, title := range []string{"Calculus homework", "History essay", "Calculus quiz"} {
		a := models.Assignment{GroupID: groupID, CreatorID: creator, Title: title}
		require.NoError(t, repo.Create(context.Background(), &a))
	}
	other := models.Assignment{GroupID: uuid.New(), CreatorID: creator, Title: "Calculus other group"}
	require.NoError(t, repo.Create(context.Background(), &other))

	items, total, err := repo.ListByGroup(context.Background(), groupID, AssignmentFilter{Search: "calculus"})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Equal(t, groupID, item.GroupID)
	}

	paged, total, err := repo.ListByGroup(context.Background(), groupID, AssignmentFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, paged, 1)
}

func TestAssignmentRepositoryDeleteCascades(t *testing.T) {
	db := setupPipelineTestDB(t)
	repo := NewAssignmentRepository(db)
	questions := NewQuestionRepository(db)
	answers := NewAnswerRepository(db)

	assignment := models.Assignment{GroupID: uuid.New(), CreatorID: uuid.New(), Title: "Doomed"}
	require.NoError(t, repo.Create(context.Background(), &assignment))

	qs := []models.Question{
		{AssignmentID: assignment.ID, QuestionNumber: 1, QuestionText: "What is inertia?"},
		{AssignmentID: assignment.ID, QuestionNumber: 2, QuestionText: "Define momentum."},
	}
	require.NoError(t, questions.BatchCreate(context.Background(), qs))

	answer := models.Answer{QuestionID: qs[0].ID, StudentID: uuid.New(), AnswerText: "Resistance to change in motion"}
	require.NoError(t, answers.Upsert(context.Background(), &answer))

	require.NoError(t, repo.Delete(context.Background(), assignment.ID))

	_, err := repo.GetByID(context.Background(), assignment.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var remainingQuestions, remainingAnswers int64
	require.NoError(t, db.Model(&models.Question{}).Count(&remainingQuestions).Error)
	require.NoError(t, db.Model(&models.Answer{}).Count(&remainingAnswers).Error)
	require.Zero(t, remainingQuestions)
	require.Zero(t, remainingAnswers)
}

func TestQuestionRepositoryGetOrCreateGeneralIsIdempotent(t *testing.T) {
	db := setupPipelineTestDB(t)
	assignments := NewAssignmentRepository(db)
	questions := NewQuestionRepository(db)

	assignment := models.Assignment{GroupID: uuid.New(), CreatorID: uuid.New(), Title: "With general bucket"}
	require.NoError(t, assignments.Create(context.Background(), &assignment))
	require.NoError(t, questions.BatchCreate(context.Background(), []models.Question{
		{AssignmentID: assignment.ID, QuestionNumber: 1, QuestionText: "Q1"},
		{AssignmentID: assignment.ID, QuestionNumber: 2, QuestionText: "Q2"},
	}))

	first, err := questions.GetOrCreateGeneral(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Equal(t, models.GeneralQuestionText, first.QuestionText)
	require.Equal(t, 3, first.QuestionNumber)
	require.True(t, first.IsGeneral())

	second, err := questions.GetOrCreateGeneral(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := questions.ListByAssignment(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestAnswerRepositoryUpsertReplacesPerStudent(t *testing.T) {
	db := setupPipelineTestDB(t)
	questions := NewQuestionRepository(db)
	answers := NewAnswerRepository(db)

	assignmentID := uuid.New()
	qs := []models.Question{{AssignmentID: assignmentID, QuestionNumber: 1, QuestionText: "Q1"}}
	require.NoError(t, questions.BatchCreate(context.Background(), qs))

	student := uuid.New()
	first := models.Answer{AssignmentID: assignmentID, QuestionID: qs[0].ID, StudentID: student, AnswerText: "draft", Source: models.AnswerSourceAutoDetected, Confidence: 0.8, IsAIDetected: true}
	require.NoError(t, answers.Upsert(context.Background(), &first))

	second := models.Answer{AssignmentID: assignmentID, QuestionID: qs[0].ID, StudentID: student, AnswerText: "final", Source: models.AnswerSourceManual, Confidence: 1}
	require.NoError(t, answers.Upsert(context.Background(), &second))

	other := models.Answer{QuestionID: qs[0].ID, StudentID: uuid.New(), AnswerText: "someone else"}
	require.NoError(t, answers.Upsert(context.Background(), &other))

	stored, err := answers.ListByQuestion(context.Background(), qs[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	var mine models.Answer
	require.NoError(t, db.Where("question_id = ? AND student_id = ?", qs[0].ID, student).First(&mine).Error)
	require.Equal(t, "final", mine.AnswerText)
	require.Equal(t, models.AnswerSourceManual, mine.Source)
	require.Equal(t, assignmentID, mine.AssignmentID)
	require.False(t, mine.IsAIDetected, "a manual resubmission clears the detection mark")
}

func TestGroupRepositoryMembership(t *testing.T) {
	db := setupPipelineTestDB(t)
	groups := NewGroupRepository(db)

	admin := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	group := models.StudyGroup{Name: "Linear Algebra", CreatorID: admin}
	require.NoError(t, groups.Create(context.Background(), &group))
	require.NoError(t, groups.AddMember(context.Background(), &models.GroupMember{GroupID: group.ID, UserID: admin, Role: models.RoleAdmin}))
	require.NoError(t, groups.AddMember(context.Background(), &models.GroupMember{GroupID: group.ID, UserID: member, Role: models.RoleMember}))

	role, err := groups.MemberRole(context.Background(), group.ID, admin)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, role)

	ok, err := groups.IsMember(context.Background(), group.ID, member)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = groups.IsMember(context.Background(), group.ID, outsider)
	require.NoError(t, err)
	require.False(t, ok)

	mine, err := groups.ListForUser(context.Background(), member)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, group.ID, mine[0].ID)

	require.NoError(t, groups.RemoveMember(context.Background(), group.ID, member))
	ok, err = groups.IsMember(context.Background(), group.ID, member)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGroupRepositoryDeleteCascades(t *testing.T) {
	db := setupPipelineTestDB(t)
	groups := NewGroupRepository(db)
	assignments := NewAssignmentRepository(db)
	questions := NewQuestionRepository(db)
	answers := NewAnswerRepository(db)
	chat := NewChatRepository(db)

	admin := uuid.New()
	group := models.StudyGroup{Name: "Doomed", CreatorID: admin}
	require.NoError(t, groups.Create(context.Background(), &group))
	require.NoError(t, groups.AddMember(context.Background(), &models.GroupMember{GroupID: group.ID, UserID: admin, Role: models.RoleAdmin}))

	assignment := models.Assignment{GroupID: group.ID, CreatorID: admin, Title: "Final review"}
	require.NoError(t, assignments.Create(context.Background(), &assignment))
	qs := []models.Question{{AssignmentID: assignment.ID, QuestionNumber: 1, QuestionText: "Q1"}}
	require.NoError(t, questions.BatchCreate(context.Background(), qs))
	require.NoError(t, answers.Upsert(context.Background(), &models.Answer{
		AssignmentID: assignment.ID, QuestionID: qs[0].ID, StudentID: admin, AnswerText: "done",
	}))
	groupID := group.ID
	require.NoError(t, chat.SaveMessage(context.Background(), &models.ChatMessage{
		GroupID: &groupID, SenderID: admin, Content: "hello", MessageType: models.MessageTypeText,
	}))

	var loaded models.StudyGroup
	require.NoError(t, db.Preload("Members").First(&loaded, "id = ?", group.ID).Error)
	require.Len(t, loaded.Members, 1)

	require.NoError(t, groups.Delete(context.Background(), group.ID))

	_, err := groups.GetByID(context.Background(), group.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	for name, model := range map[string]interface{}{
		"group_members": &models.GroupMember{},
		"assignments":   &models.Assignment{},
		"questions":     &models.Question{},
		"answers":       &models.Answer{},
		"chat_messages": &models.ChatMessage{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.Zero(t, count, "leftover rows in %s", name)
	}
}

func TestChatRepositoryConversationPairIsCanonical(t *testing.T) {
	db := setupPipelineTestDB(t)
	chat := NewChatRepository(db)

	alice := uuid.New()
	bob := uuid.New()

	first, err := chat.GetOrCreateConversation(context.Background(), alice, bob)
	require.NoError(t, err)

	swapped, err := chat.GetOrCreateConversation(context.Background(), bob, alice)
	require.NoError(t, err)
	require.Equal(t, first.ID, swapped.ID)
	require.True(t, first.Involves(alice))
	require.True(t, first.Involves(bob))
}

func TestChatRepositoryGroupMessagePagination(t *testing.T) {
	db := setupPipelineTestDB(t)
	chat := NewChatRepository(db)

	groupID := uuid.New()
	sender := uuid.New()
	base := time.Now().Add(-time.Hour)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		msg := models.ChatMessage{
			GroupID:     &groupID,
			SenderID:    sender,
			Content:     "message",
			MessageType: models.MessageTypeText,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, chat.SaveMessage(context.Background(), &msg))
		ids = append(ids, msg.ID)
	}

	latest, err := chat.ListGroupMessages(context.Background(), groupID, 2, nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, ids[4], latest[0].ID)
	require.Equal(t, ids[3], latest[1].ID)

	older, err := chat.ListGroupMessages(context.Background(), groupID, 10, &ids[3])
	require.NoError(t, err)
	require.Len(t, older, 3)
	require.Equal(t, ids[2], older[0].ID)
}
