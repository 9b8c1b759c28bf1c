package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/internal/dto"
	"github.com/rakhadjo/studygroup-api/internal/middleware"
	"github.com/rakhadjo/studygroup-api/internal/service"
	"github.com/rakhadjo/studygroup-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	service service.ChatService
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// RegisterGroupRoutes binds group chat routes. The router is expected to carry
// a :groupID parameter.
func (h *ChatHandler) RegisterGroupRoutes(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		groupID, err := parseUUIDParam(c, "groupID")
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		if err := h.service.AuthorizeGroupAccess(c.UserContext(), groupID, userIDFromContext(c)); err != nil {
			return h.handleError(c, err)
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
		c.Locals("request_ctx", ctx)
		return c.Next()
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/messages", h.groupHistory)
	router.Post("/messages", h.sendGroupMessage)
}

// RegisterConversationRoutes binds direct message routes.
func (h *ChatHandler) RegisterConversationRoutes(router fiber.Router) {
	router.Get("", h.listConversations)
	router.Get("/:id/messages", h.conversationHistory)
	router.Post("/with/:userID/messages", h.sendDirectMessage)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == uuid.Nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	groupID, err := uuid.Parse(conn.Params("groupID"))
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "invalid group id"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		GroupID:       groupID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID.String()).Str("group_id", groupID.String()).Msg("chat websocket connected")
	h.service.ServeGroupConnection(conn, opts)
	h.logger.Info().Str("user_id", userID.String()).Str("group_id", groupID.String()).Msg("chat websocket disconnected")
}

func (h *ChatHandler) sendGroupMessage(c *fiber.Ctx) error {
	groupID, err := parseUUIDParam(c, "groupID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.SendGroupMessage(c.UserContext(), groupID, userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) groupHistory(c *fiber.Ctx) error {
	groupID, err := parseUUIDParam(c, "groupID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	var before *uuid.UUID
	if raw := c.Query("before"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before cursor")
		}
		before = &parsed
	}

	messages, err := h.service.GroupHistory(c.UserContext(), groupID, userIDFromContext(c), limit, before)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) sendDirectMessage(c *fiber.Ctx) error {
	recipientID, err := parseUUIDParam(c, "userID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.SendDirectMessage(c.UserContext(), userIDFromContext(c), recipientID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) conversationHistory(c *fiber.Ctx) error {
	conversationID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	messages, err := h.service.ConversationHistory(c.UserContext(), conversationID, userIDFromContext(c), limit)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "conversation history", messages)
}

func (h *ChatHandler) listConversations(c *fiber.Ctx) error {
	conversations, err := h.service.ListConversations(c.UserContext(), userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "conversations retrieved", conversations)
}

func (h *ChatHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrChatNotAuthorised):
		return utils.SendError(c, fiber.StatusForbidden, "not authorised for this chat")
	case errors.Is(err, service.ErrConversationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "conversation not found")
	case errors.Is(err, service.ErrEmptyMessage):
		return utils.SendError(c, fiber.StatusBadRequest, "message content required")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func websocketUserID(conn *websocket.Conn) uuid.UUID {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case uuid.UUID:
			return v
		case string:
			if id, err := uuid.Parse(v); err == nil {
				return id
			}
		}
	}
	return uuid.Nil
}
