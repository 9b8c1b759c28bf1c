package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rakhadjo/studygroup-api/internal/config"
	"github.com/rakhadjo/studygroup-api/internal/handler"
	"github.com/rakhadjo/studygroup-api/internal/middleware"
	"github.com/rakhadjo/studygroup-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GroupHandler      *handler.GroupHandler
	AssignmentHandler *handler.AssignmentHandler
	ChatHandler       *handler.ChatHandler
	CodeExecHandler   *handler.CodeExecHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.GroupHandler != nil {
		groups := api.Group("/groups", jwtMiddleware)
		deps.GroupHandler.Register(groups)

		if deps.AssignmentHandler != nil {
			deps.AssignmentHandler.RegisterGroupRoutes(groups.Group("/:groupID/assignments"))
		}
		if deps.ChatHandler != nil {
			deps.ChatHandler.RegisterGroupRoutes(groups.Group("/:groupID/chat"))
		}
	}

	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(api.Group("/assignments", jwtMiddleware))
		deps.AssignmentHandler.RegisterQuestionRoutes(api.Group("/questions", jwtMiddleware))
	}

	if deps.ChatHandler != nil {
		deps.ChatHandler.RegisterConversationRoutes(api.Group("/conversations", jwtMiddleware))
	}

	if deps.CodeExecHandler != nil {
		// Sandbox runs are expensive; keep per-user throughput low.
		code := api.Group("/code", jwtMiddleware, middleware.RateLimit("code_exec", 5, time.Minute))
		deps.CodeExecHandler.Register(code)
	}
}
