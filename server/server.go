// Package server assembles the Fiber application for the chat service
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"rentmail/config"
	"rentmail/handlers/api"
	"rentmail/middleware"
	"rentmail/relay"
	"rentmail/storage"
	"rentmail/utils"
)

const (
	streamPath    = "/api/chat/stream"
	websocketPath = "/api/chat/ws"
)

// Deps are the long-lived collaborators shared by every request
type Deps struct {
	Store  storage.MailStore
	Relay  *relay.Relay
	Mailer api.Mailer
}

// isStreamRequest reports whether the request holds a long-lived connection
func isStreamRequest(c *fiber.Ctx) bool {
	path := c.Path()
	return path == streamPath || path == websocketPath
}

// ErrorHandler renders every error as {"error": "..."} with the right status
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := utils.T(middleware.Localizer(c), "error_internal")

	var appErr *utils.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Public()
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		log := utils.Log
		if appErr != nil && len(appErr.Context) > 0 {
			log = log.WithFields(appErr.Context)
		}
		log.Error("Application error on %s %s: %v", c.Method(), c.Path(), err)
	} else {
		utils.Log.Debug("Request error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

// New builds the application. Background work started here stops with ctx.
func New(ctx context.Context, cfg *config.Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rentmail",
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Next: isStreamRequest,
	}))
	app.Use(compress.New(compress.Config{
		Next: isStreamRequest,
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
	}))

	app.Use(middleware.LocaleMiddleware())

	app.Use(middleware.RateLimiter(ctx, middleware.RateLimiterConfig{
		Requests: cfg.Server.RateLimitRequests,
		Window:   time.Minute,
		Skip:     isStreamRequest,
	}))

	operator := cfg.SMTP.Operator()
	mailHandler := api.NewMailHandler(deps.Store, deps.Relay, deps.Mailer, operator)
	chatHandler := api.NewChatHandler(deps.Store, deps.Relay, operator)
	streamHandler := api.NewStreamHandler(deps.Relay, cfg.Server.KeepAlive())

	apiRoutes := app.Group("/api")
	{
		// Thread list and outgoing mail
		apiRoutes.Get("/mails", mailHandler.HandleList)
		apiRoutes.Get("/mails/:id", mailHandler.HandleGet)
		apiRoutes.Post("/mails/:id/simulate-incoming", mailHandler.HandleSimulateIncoming)
		apiRoutes.Post("/send-mail", mailHandler.HandleSend)

		// Live chat
		apiRoutes.Post("/chat/new", chatHandler.HandleNew)
		apiRoutes.Post("/chat/messages", chatHandler.HandleMessage)
		apiRoutes.Delete("/chat/:id", chatHandler.HandleDelete)
		apiRoutes.Get("/chat/stream", streamHandler.HandleSSE)
		apiRoutes.Get("/chat/ws", streamHandler.UpgradeWebSocket, websocket.New(streamHandler.HandleWebSocket))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"time":        time.Now().Format(time.RFC3339),
			"subscribers": deps.Relay.Total(),
		})
	})

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": utils.T(middleware.Localizer(c), "error_404"),
		})
	})

	return app
}
