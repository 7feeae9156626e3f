package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestHandler describes the component that answers package requests. It
// allows injecting fake handlers during tests.
type RequestHandler interface {
	Handle(fiber.Ctx) error
}

// RequestHandlerFunc adapts a function to the RequestHandler interface.
type RequestHandlerFunc func(fiber.Ctx) error

// Handle makes RequestHandlerFunc satisfy RequestHandler.
func (f RequestHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    RequestHandler
	ListenPort int
	// Register 在包路由之前挂载 /-/ 诊断路由。
	Register func(app *fiber.App)
}

const contextKeyRequestID = "_pkgcdn_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and a catch-all package route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("request handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		// 包路径中的 %2F 等转义需保持原样交给 handler 解析。
		UnescapePath: false,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	if opts.Register != nil {
		opts.Register(app)
	}

	app.Get("/", func(c fiber.Ctx) error {
		return c.Type("txt").SendString("pkg-cdn: GET /[@scope/]name[@version][/file]\n")
	})
	app.Get("/favicon.ico", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).Type("txt").SendString("Not found: favicon.ico")
	})

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return renderMethodNotAllowed(c, opts.Logger)
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderMethodNotAllowed(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "method_check",
		"method":     c.Method(),
		"path":       string(c.Request().URI().PathOriginal()),
		"request_id": RequestID(c),
	}).Info("method_not_allowed")

	c.Set(fiber.HeaderAllow, "GET, HEAD")
	return c.Status(fiber.StatusMethodNotAllowed).Type("txt").SendString("Method not allowed")
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
