package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/rakhadjo/studygroup-api/internal/dto"
	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/observability"
	"github.com/rakhadjo/studygroup-api/internal/repository"
)

const (
	chatRedisTTL       = 30 * time.Minute
	chatSendBufferSize = 32
)

// ErrChatNotAuthorised indicates the sender attempted to post into a room
// they do not belong to.
var ErrChatNotAuthorised = errors.New("sender not authorised for room")

// ErrConversationNotFound indicates the direct thread does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrEmptyMessage indicates the message had no content left after
// sanitization and carried no file.
var ErrEmptyMessage = errors.New("message content empty after sanitization")

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        uuid.UUID
	GroupID       uuid.UUID
	CorrelationID string
	Context       context.Context
}

// ChatService manages websocket chat connections, message delivery and the
// hand-off of group messages into the assignment pipeline.
type ChatService interface {
	AuthorizeGroupAccess(ctx context.Context, groupID, userID uuid.UUID) error
	ServeGroupConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	SendGroupMessage(ctx context.Context, groupID, senderID uuid.UUID, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error)
	GroupHistory(ctx context.Context, groupID, userID uuid.UUID, limit int, before *uuid.UUID) ([]dto.ChatMessageResponse, error)
	SendDirectMessage(ctx context.Context, senderID, recipientID uuid.UUID, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error)
	ConversationHistory(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]dto.ChatMessageResponse, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]dto.ConversationResponse, error)
	Start(ctx context.Context)
}

type chatService struct {
	repo        repository.ChatRepository
	groups      repository.GroupRepository
	assignments AssignmentService
	linker      LinkerService
	runner      *TaskRunner
	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *chatHub
	nodeID      string
}

// chatHub keeps track of active websocket clients and handles broadcasting.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn    *websocket.Conn
	send    chan dto.ChatMessageResponse
	room    string
	options ChatConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

type chatEvent struct {
	Source  string                  `json:"source"`
	Room    string                  `json:"room"`
	Message dto.ChatMessageResponse `json:"message"`
	SentAt  time.Time               `json:"sent_at"`
}

func groupRoom(groupID uuid.UUID) string   { return "group:" + groupID.String() }
func conversationRoom(id uuid.UUID) string { return "dm:" + id.String() }

// NewChatService creates a websocket chat service instance.
func NewChatService(
	repo repository.ChatRepository,
	groups repository.GroupRepository,
	assignments AssignmentService,
	linker LinkerService,
	runner *TaskRunner,
	redisClient *redis.Client,
	channelBase string,
	natsConn *nats.Conn,
	validate *validator.Validate,
	logger zerolog.Logger,
) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	hub := &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	streamChannel := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		repo:        repo,
		groups:      groups,
		assignments: assignments,
		linker:      linker,
		runner:      runner,
		redis:       redisClient,
		redisStream: streamChannel,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/rakhadjo/studygroup-api/internal/service/chat"),
		sanitizer:   sanitizer,
		hub:         hub,
		nodeID:      uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// AuthorizeGroupAccess reports whether the user may join the group's room.
func (s *chatService) AuthorizeGroupAccess(ctx context.Context, groupID, userID uuid.UUID) error {
	member, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrChatNotAuthorised
	}

	return nil
}

func (s *chatService) ServeGroupConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	// The upgrade middleware already vets membership; this covers callers
	// that reach the hub some other way.
	if err := s.AuthorizeGroupAccess(baseCtx, opts.GroupID, opts.UserID); err != nil {
		s.logger.Warn().Err(err).
			Str("group_id", opts.GroupID.String()).
			Str("user_id", opts.UserID.String()).
			Msg("websocket join refused")
		_ = conn.Close()
		return
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatMessageResponse, chatSendBufferSize),
		room:    groupRoom(opts.GroupID),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.ChatConnectionsTotal().Inc()

	if last := s.fetchLastMessage(baseCtx, client.room); last != nil {
		select {
		case client.send <- *last:
		default:
			s.logger.Debug().Str("room", client.room).Msg("dropping cached chat message due to slow consumer")
		}
	}

	go client.writer()
	client.reader()
}

// SendGroupMessage validates, sanitizes and stores a group message, fans it
// out to connected clients and queues detection plus answer linking. The
// sender's request never waits for the pipeline.
func (s *chatService) SendGroupMessage(ctx context.Context, groupID, senderID uuid.UUID, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	member, err := s.groups.IsMember(ctx, groupID, senderID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if !member {
		return dto.ChatMessageResponse{}, ErrChatNotAuthorised
	}

	clean, err := s.cleanContent(payload)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.group_message", trace.WithAttributes(
		attribute.String("chat.group_id", groupID.String()),
		attribute.String("chat.sender_id", senderID.String()),
	))
	defer span.End()

	model := models.ChatMessage{
		GroupID:     &groupID,
		SenderID:    senderID,
		Content:     clean,
		MessageType: messageType(payload),
		FileURL:     payload.FileURL,
		FileName:    payload.FileName,
	}
	if err := s.repo.SaveMessage(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	response := dto.NewChatMessageResponse(model)
	s.deliver(spanCtx, groupRoom(groupID), response)
	observability.ChatMessagesSent().WithLabelValues(model.MessageType).Inc()

	s.submitPipeline(model)

	return response, nil
}

// submitPipeline queues detection and answer linking for a stored group
// message. Both tasks are advisory; failures only log.
func (s *chatService) submitPipeline(message models.ChatMessage) {
	if s.runner == nil || message.Content == "" {
		return
	}

	if s.assignments != nil {
		if err := s.runner.Submit("detect_assignment", func(ctx context.Context) error {
			return s.assignments.ProcessMessage(ctx, message)
		}); err != nil {
			s.logger.Warn().Err(err).Msg("assignment detection not queued")
		}
	}
	if s.linker != nil {
		if err := s.runner.Submit("link_answer", func(ctx context.Context) error {
			return s.linker.LinkAnswer(ctx, message)
		}); err != nil {
			s.logger.Warn().Err(err).Msg("answer linking not queued")
		}
	}
}

func (s *chatService) GroupHistory(ctx context.Context, groupID, userID uuid.UUID, limit int, before *uuid.UUID) ([]dto.ChatMessageResponse, error) {
	member, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrChatNotAuthorised
	}

	messages, err := s.repo.ListGroupMessages(ctx, groupID, limit, before)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) SendDirectMessage(ctx context.Context, senderID, recipientID uuid.UUID, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if senderID == recipientID {
		return dto.ChatMessageResponse{}, ErrChatNotAuthorised
	}

	clean, err := s.cleanContent(payload)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	conversation, err := s.repo.GetOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	conversationID := conversation.ID
	model := models.ChatMessage{
		ConversationID: &conversationID,
		SenderID:       senderID,
		Content:        clean,
		MessageType:    messageType(payload),
		FileURL:        payload.FileURL,
		FileName:       payload.FileName,
	}
	if err := s.repo.SaveMessage(ctx, &model); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if err := s.repo.TouchConversation(ctx, conversationID); err != nil {
		s.logger.Warn().Err(err).Msg("conversation timestamp not updated")
	}

	response := dto.NewChatMessageResponse(model)
	s.deliver(ctx, conversationRoom(conversationID), response)
	observability.ChatMessagesSent().WithLabelValues(model.MessageType).Inc()

	return response, nil
}

func (s *chatService) ConversationHistory(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]dto.ChatMessageResponse, error) {
	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conversation.Involves(userID) {
		return nil, ErrChatNotAuthorised
	}

	messages, err := s.repo.ListConversationMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]dto.ConversationResponse, error) {
	conversations, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		responses = append(responses, dto.NewConversationResponse(conversation))
	}

	return responses, nil
}

func (s *chatService) cleanContent(payload dto.ChatSendRequest) (string, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if clean == "" && payload.FileURL == "" {
		return "", ErrEmptyMessage
	}

	return clean, nil
}

func messageType(payload dto.ChatSendRequest) string {
	if payload.MessageType != "" {
		return payload.MessageType
	}
	if payload.FileURL != "" {
		return models.MessageTypeFile
	}

	return models.MessageTypeText
}

// deliver fans a stored message out locally and to the other nodes.
func (s *chatService) deliver(ctx context.Context, room string, message dto.ChatMessageResponse) {
	s.cacheLastMessage(ctx, room, message)
	s.hub.broadcast(room, message)
	if err := s.publish(ctx, room, message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}
}

func (s *chatService) cacheLastMessage(ctx context.Context, room string, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, room)
	if err := s.redis.Set(ctx, key, payload, chatRedisTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

func (s *chatService) fetchLastMessage(ctx context.Context, room string) *dto.ChatMessageResponse {
	if s.redis == nil || s.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, room)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached chat message")
		return nil
	}

	return &message
}

func (s *chatService) publish(ctx context.Context, room string, message dto.ChatMessageResponse) error {
	event := chatEvent{
		Source:  s.nodeID,
		Room:    room,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "studygroup-chat", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleEvent(data []byte) {
	var event chatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.hub.broadcast(event.Room, event.Message)
}

func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[client.room]; !exists {
		h.rooms[client.room] = make(map[*chatClient]struct{})
	}
	h.rooms[client.room][client] = struct{}{}
	h.log.Debug().Str("room", client.room).Str("user_id", client.options.UserID.String()).Msg("chat client connected")
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[client.room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, client.room)
		}
	}
	h.log.Debug().Str("room", client.room).Str("user_id", client.options.UserID.String()).Msg("chat client disconnected")
}

func (h *chatHub) broadcast(room string, message dto.ChatMessageResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Str("room", room).Str("user_id", client.options.UserID.String()).Msg("dropping chat message for slow client")
		}
	}
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		var payload dto.ChatSendRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		if _, err := c.service.SendGroupMessage(c.baseCtx, c.options.GroupID, c.options.UserID, payload); err != nil {
			c.service.logger.Warn().Err(err).Msg("failed to process chat message")
			continue
		}

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
