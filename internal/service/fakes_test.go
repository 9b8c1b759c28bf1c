package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
	"github.com/rakhadjo/studygroup-api/pkg/vectorstore"
)

type memoryQuestionRepo struct {
	mu    sync.Mutex
	items []models.Question
}

func (r *memoryQuestionRepo) BatchCreate(_ context.Context, questions []models.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range questions {
		if questions[i].ID == uuid.Nil {
			questions[i].ID = uuid.New()
		}
		r.items = append(r.items, questions[i])
	}
	return nil
}

func (r *memoryQuestionRepo) ListByAssignment(_ context.Context, assignmentID uuid.UUID) ([]models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Question
	for _, q := range r.items {
		if q.AssignmentID == assignmentID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out, nil
}

func (r *memoryQuestionRepo) GetByID(_ context.Context, id uuid.UUID) (models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.items {
		if q.ID == id {
			return q, nil
		}
	}
	return models.Question{}, gorm.ErrRecordNotFound
}

func (r *memoryQuestionRepo) GetOrCreateGeneral(_ context.Context, assignmentID uuid.UUID) (models.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxNumber := 0
	for _, q := range r.items {
		if q.AssignmentID != assignmentID {
			continue
		}
		if q.QuestionText == models.GeneralQuestionText {
			return q, nil
		}
		if q.QuestionNumber > maxNumber {
			maxNumber = q.QuestionNumber
		}
	}
	general := models.Question{
		ID:             uuid.New(),
		AssignmentID:   assignmentID,
		QuestionNumber: maxNumber + 1,
		QuestionText:   models.GeneralQuestionText,
		QuestionType:   "open_ended",
	}
	r.items = append(r.items, general)
	return general, nil
}

type memoryAnswerRepo struct {
	mu    sync.Mutex
	items []models.Answer
}

func (r *memoryAnswerRepo) Upsert(_ context.Context, answer *models.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if answer.ID == uuid.Nil {
		answer.ID = uuid.New()
	}
	for i, existing := range r.items {
		if existing.QuestionID == answer.QuestionID && existing.StudentID == answer.StudentID {
			answer.ID = existing.ID
			r.items[i] = *answer
			return nil
		}
	}
	r.items = append(r.items, *answer)
	return nil
}

func (r *memoryAnswerRepo) ListByQuestion(_ context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Answer
	for _, a := range r.items {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryAnswerRepo) ListByStudent(_ context.Context, studentID uuid.UUID) ([]models.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Answer
	for _, a := range r.items {
		if a.StudentID == studentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryAnswerRepo) all() []models.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Answer(nil), r.items...)
}

type memoryAssignmentRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]models.Assignment
	questions *memoryQuestionRepo
}

func newMemoryAssignmentRepo(questions *memoryQuestionRepo) *memoryAssignmentRepo {
	return &memoryAssignmentRepo{items: make(map[uuid.UUID]models.Assignment), questions: questions}
}

func (r *memoryAssignmentRepo) ListByGroup(_ context.Context, groupID uuid.UUID, _ repository.AssignmentFilter) ([]models.Assignment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Assignment
	for _, a := range r.items {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memoryAssignmentRepo) GetByID(_ context.Context, id uuid.UUID) (models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *memoryAssignmentRepo) GetWithQuestions(ctx context.Context, id uuid.UUID) (models.Assignment, error) {
	assignment, err := r.GetByID(ctx, id)
	if err != nil {
		return models.Assignment{}, err
	}
	if r.questions != nil {
		assignment.Questions, _ = r.questions.ListByAssignment(ctx, id)
	}
	return assignment, nil
}

func (r *memoryAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	r.items[assignment.ID] = *assignment
	return nil
}

func (r *memoryAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[assignment.ID] = *assignment
	return nil
}

func (r *memoryAssignmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type memoryGroupRepo struct {
	mu      sync.Mutex
	groups  map[uuid.UUID]models.StudyGroup
	members []models.GroupMember
}

func newMemoryGroupRepo() *memoryGroupRepo {
	return &memoryGroupRepo{groups: make(map[uuid.UUID]models.StudyGroup)}
}

func (r *memoryGroupRepo) Create(_ context.Context, group *models.StudyGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	r.groups[group.ID] = *group
	return nil
}

func (r *memoryGroupRepo) GetByID(_ context.Context, id uuid.UUID) (models.StudyGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return models.StudyGroup{}, gorm.ErrRecordNotFound
	}
	return g, nil
}

func (r *memoryGroupRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]models.StudyGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.StudyGroup
	for _, m := range r.members {
		if m.UserID == userID {
			if g, ok := r.groups[m.GroupID]; ok {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (r *memoryGroupRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
	return nil
}

func (r *memoryGroupRepo) AddMember(_ context.Context, member *models.GroupMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	r.members = append(r.members, *member)
	return nil
}

func (r *memoryGroupRepo) RemoveMember(_ context.Context, groupID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.members[:0]
	for _, m := range r.members {
		if !(m.GroupID == groupID && m.UserID == userID) {
			kept = append(kept, m)
		}
	}
	r.members = kept
	return nil
}

func (r *memoryGroupRepo) MemberRole(_ context.Context, groupID, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.GroupID == groupID && m.UserID == userID {
			return m.Role, nil
		}
	}
	return "", gorm.ErrRecordNotFound
}

func (r *memoryGroupRepo) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.GroupID == groupID && m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryGroupRepo) ListMembers(_ context.Context, groupID uuid.UUID) ([]models.GroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.GroupMember
	for _, m := range r.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

type memoryChatRepo struct {
	mu            sync.Mutex
	messages      []models.ChatMessage
	conversations map[uuid.UUID]models.Conversation
}

func newMemoryChatRepo() *memoryChatRepo {
	return &memoryChatRepo{conversations: make(map[uuid.UUID]models.Conversation)}
}

func (r *memoryChatRepo) SaveMessage(_ context.Context, message *models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	r.messages = append(r.messages, *message)
	return nil
}

func (r *memoryChatRepo) GetMessage(_ context.Context, id uuid.UUID) (models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return models.ChatMessage{}, gorm.ErrRecordNotFound
}

func (r *memoryChatRepo) ListGroupMessages(_ context.Context, groupID uuid.UUID, limit int, _ *uuid.UUID) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatMessage
	for i := len(r.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.messages[i].GroupID != nil && *r.messages[i].GroupID == groupID {
			out = append(out, r.messages[i])
		}
	}
	return out, nil
}

func (r *memoryChatRepo) ListConversationMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatMessage
	for i := len(r.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.messages[i].ConversationID != nil && *r.messages[i].ConversationID == conversationID {
			out = append(out, r.messages[i])
		}
	}
	return out, nil
}

func (r *memoryChatRepo) GetOrCreateConversation(_ context.Context, userA, userB uuid.UUID) (models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userB.String() < userA.String() {
		userA, userB = userB, userA
	}
	for _, c := range r.conversations {
		if c.UserAID == userA && c.UserBID == userB {
			return c, nil
		}
	}
	conversation := models.Conversation{ID: uuid.New(), UserAID: userA, UserBID: userB}
	r.conversations[conversation.ID] = conversation
	return conversation, nil
}

func (r *memoryChatRepo) GetConversation(_ context.Context, id uuid.UUID) (models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return models.Conversation{}, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *memoryChatRepo) ListConversations(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conversation
	for _, c := range r.conversations {
		if c.Involves(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryChatRepo) TouchConversation(_ context.Context, id uuid.UUID) error {
	return nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	vector := make([]float32, 3)
	for i, r := range text {
		vector[i%3] += float32(r)
	}
	return vector, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	added   []vectorstore.Record
	results []vectorstore.Match
	err     error
}

func (f *fakeVectorStore) Add(_ context.Context, records []vectorstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, records...)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, limit int) ([]vectorstore.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeVectorStore) records() []vectorstore.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vectorstore.Record(nil), f.added...)
}
