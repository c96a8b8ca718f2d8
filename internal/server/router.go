package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/modcache/internal/logging"
	"github.com/any-hub/modcache/internal/version"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
}

const contextKeyRequestID = "_modcache_request_id"

// NewApp builds a Fiber application with request ID middleware, access logging
// and a JSON error envelope. Routes are attached by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		fields := logging.RequestFields(c.Method(), c.Path(), reqID, status)
		fields["action"] = "http"
		logger.WithFields(fields).Debug("request_complete")
		return err
	}
}

// errorHandler 将未处理的错误统一渲染为 {"error": code}。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code := "request_failed"
			if fiberErr.Code == fiber.StatusNotFound {
				code = "route_not_found"
			}
			return WriteError(c, fiberErr.Code, code, fiberErr.Message)
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "http",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error("request_failed")
		return WriteError(c, fiber.StatusInternalServerError, "internal_error", err.Error())
	}
}

// WriteError 输出统一的错误响应体。
func WriteError(c fiber.Ctx, status int, code, message string) error {
	payload := fiber.Map{"error": code}
	if message != "" {
		payload["message"] = message
	}
	return c.Status(status).JSON(payload)
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
