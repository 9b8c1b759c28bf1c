package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/internal/service"
	"github.com/rakhadjo/studygroup-api/internal/utils"
)

// CodeExecRequest carries a snippet to run in the sandbox.
type CodeExecRequest struct {
	Code     string `json:"code" validate:"required,min=1,max=20000"`
	Language string `json:"language" validate:"omitempty,oneof=python javascript java cpp"`
}

// CodeExecHandler exposes sandboxed snippet execution.
type CodeExecHandler struct {
	service   service.CodeExecService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewCodeExecHandler constructs the handler.
func NewCodeExecHandler(service service.CodeExecService, validate *validator.Validate, logger zerolog.Logger) *CodeExecHandler {
	return &CodeExecHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "code_exec_handler").Logger(),
	}
}

// Register attaches the execution endpoint.
func (h *CodeExecHandler) Register(router fiber.Router) {
	router.Post("/execute", h.execute)
}

func (h *CodeExecHandler) execute(c *fiber.Ctx) error {
	var payload CodeExecRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Execute(c.UserContext(), payload.Code, payload.Language)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownLanguage):
			return utils.SendError(c, fiber.StatusUnprocessableEntity, "could not detect programming language")
		case errors.Is(err, service.ErrUnsupportedLanguage):
			return utils.SendError(c, fiber.StatusUnprocessableEntity, "execution not supported for "+result.Language)
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("code execution failed")
			return utils.SendError(c, fiber.StatusInternalServerError, "code execution failed")
		}
	}

	return utils.SendSuccess(c, "code executed", result)
}
