package gateway

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/logging"
	"github.com/any-hub/pkg-cdn/internal/server"
)

const (
	defaultRedirectMaxAge = time.Minute
	defaultFileMaxAge     = 365 * 24 * time.Hour
)

// HandlerOptions 控制响应缓存头。
type HandlerOptions struct {
	RedirectMaxAge time.Duration
	FileMaxAge     time.Duration
}

// Handler 将 Gateway 的结果渲染为 HTTP 响应，并为每个请求记录一条结构化日志。
type Handler struct {
	gateway *Gateway
	logger  *logrus.Logger
	opts    HandlerOptions
}

// NewHandler 构造 Fiber 侧的请求处理器。
func NewHandler(gw *Gateway, logger *logrus.Logger, opts HandlerOptions) *Handler {
	if opts.RedirectMaxAge <= 0 {
		opts.RedirectMaxAge = defaultRedirectMaxAge
	}
	if opts.FileMaxAge <= 0 {
		opts.FileMaxAge = defaultFileMaxAge
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{gateway: gw, logger: logger, opts: opts}
}

// Handle 实现 server.RequestHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	uri := c.Request().URI()
	rawPath := string(uri.PathOriginal())
	rawQuery := string(uri.QueryString())

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.gateway.Resolve(ctx, rawPath, rawQuery)
	if err != nil {
		status := errkind.Status(err)
		h.logResult(c, rawPath, nil, status, started, err)
		return h.writeError(c, status, rawPath, rawQuery, err)
	}

	status, err := h.writeResult(c, result)
	h.logResult(c, rawPath, result, status, started, err)
	if err != nil {
		return h.writeError(c, status, rawPath, rawQuery, err)
	}
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, result *Result) (int, error) {
	switch result.Kind {
	case Redirect:
		body := fmt.Sprintf(`<p>You are being redirected to <a href="%s">%s</a>`,
			html.EscapeString(result.Location), html.EscapeString(result.Location))
		c.Set(fiber.HeaderLocation, result.Location)
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTML)
		c.Set(fiber.HeaderCacheControl, cacheControl(h.opts.RedirectMaxAge))
		return fiber.StatusFound, c.Status(fiber.StatusFound).SendString(body)

	case Directory:
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		c.Set(fiber.HeaderCacheControl, cacheControl(h.opts.FileMaxAge))
		return fiber.StatusOK, c.Status(fiber.StatusOK).Send(result.Body)

	case Tree:
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		c.Set(fiber.HeaderCacheControl, cacheControl(h.opts.FileMaxAge))
		return fiber.StatusOK, c.Status(fiber.StatusOK).Send(result.Body)

	case File:
		return h.sendFile(c, result)
	}
	return fiber.StatusInternalServerError, errors.Newf(errkind.FilesystemError, "unknown result kind %d", result.Kind)
}

func (h *Handler) sendFile(c fiber.Ctx, result *Result) (int, error) {
	file := result.File
	f, err := os.Open(file.AbsolutePath)
	if err != nil {
		return fiber.StatusInternalServerError, errors.Wrapf(err, errkind.FilesystemError, "open %s", file.RelativePath)
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderCacheControl, cacheControl(h.opts.FileMaxAge))
	c.Set(fiber.HeaderLastModified, file.ModTime.Format(http.TimeFormat))
	c.Status(fiber.StatusOK)

	if c.Method() == fiber.MethodHead {
		f.Close()
		c.Response().Header.SetContentLength(int(file.Size))
		return fiber.StatusOK, nil
	}
	// fasthttp 写完响应后会关闭 f。
	if err := c.SendStream(f, int(file.Size)); err != nil {
		return fiber.StatusInternalServerError, errors.Wrap(err, errkind.FilesystemError, "stream file")
	}
	return fiber.StatusOK, nil
}

// writeError 渲染纯文本错误响应，正文包含足够定位问题的上下文。
func (h *Handler) writeError(c fiber.Ctx, status int, rawPath, rawQuery string, err error) error {
	var body string
	switch status {
	case fiber.StatusForbidden:
		target := rawPath
		if rawQuery != "" {
			target += "?" + rawQuery
		}
		body = "Invalid URL: " + target
	case fiber.StatusNotFound:
		body = "Not found: " + errkind.Describe(err)
		c.Set(fiber.HeaderCacheControl, cacheControl(h.opts.RedirectMaxAge))
	default:
		body = "Server error: " + errkind.Describe(err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	return c.Status(status).SendString(body)
}

func (h *Handler) logResult(c fiber.Ctx, rawPath string, result *Result, status int, started time.Time, err error) {
	var fields logrus.Fields
	if result != nil {
		fields = logging.RequestFields(result.Spec.FullName(), result.Version, result.Spec.Filename, result.CacheHit)
		fields["outcome"] = result.Kind.String()
	} else {
		fields = logging.RequestFields(errkind.Field(err, "package"), errkind.Field(err, "version"), errkind.Field(err, "filename"), false)
	}
	fields["action"] = "serve"
	fields["path"] = rawPath
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := h.logger.WithFields(fields)
	switch {
	case err == nil:
		entry.Info("serve_complete")
	case status < fiber.StatusInternalServerError:
		entry.WithField("reason", errkind.Describe(err)).Info("serve_rejected")
	default:
		entry.WithError(err).Error("serve_failed")
	}
}

func cacheControl(maxAge time.Duration) string {
	return fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second))
}
