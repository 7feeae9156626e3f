package server

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterDispatchesPackageRequests(t *testing.T) {
	app, recorder := newTestApp(t, nil)

	req := httptest.NewRequest("GET", "/left-pad@1.3.0/index.js", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.path != "/left-pad@1.3.0/index.js" {
		t.Fatalf("unexpected dispatched path %q", recorder.path)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.requestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("handler saw request id %q, header has %q", recorder.requestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestRouterKeepsEscapedPath(t *testing.T) {
	app, recorder := newTestApp(t, nil)

	req := httptest.NewRequest("GET", "/@scope%2Fpkg@%5E1.0.0/", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if recorder.path != "/@scope%2Fpkg@%5E1.0.0/" {
		t.Fatalf("expected raw path to reach handler, got %q", recorder.path)
	}
}

func TestRouterRejectsUnsupportedMethods(t *testing.T) {
	app, recorder := newTestApp(t, nil)

	req := httptest.NewRequest("POST", "/left-pad", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Fatalf("expected 405 status, got %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "GET, HEAD" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
	if recorder.calls != 0 {
		t.Fatalf("handler should not run for POST")
	}
}

func TestRouterLeavesDiagnosticsToRegisteredRoutes(t *testing.T) {
	app, recorder := newTestApp(t, func(app *fiber.App) {
		app.Get("/-/ping", func(c fiber.Ctx) error {
			return c.SendString("pong")
		})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("expected pong, got %d %s", resp.StatusCode, string(body))
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/unknown", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown diagnostics path, got %d", resp.StatusCode)
	}
	if recorder.calls != 0 {
		t.Fatalf("diagnostics paths must not reach the package handler")
	}
}

func TestRouterRootUsage(t *testing.T) {
	app, recorder := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "pkg-cdn") {
		t.Fatalf("unexpected root response %d %s", resp.StatusCode, string(body))
	}
	if recorder.calls != 0 {
		t.Fatalf("root must not reach the package handler")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	handler := RequestHandlerFunc(func(c fiber.Ctx) error { return nil })

	cases := []struct {
		name string
		opts AppOptions
	}{
		{name: "logger", opts: AppOptions{Handler: handler, ListenPort: 5000}},
		{name: "handler", opts: AppOptions{Logger: logger, ListenPort: 5000}},
		{name: "port", opts: AppOptions{Logger: logger, Handler: handler}},
	}
	for _, tc := range cases {
		if _, err := NewApp(tc.opts); err == nil {
			t.Fatalf("expected error when %s is missing", tc.name)
		}
	}
}

type handlerRecorder struct {
	calls     int
	path      string
	requestID string
}

func newTestApp(t *testing.T, register func(*fiber.App)) (*fiber.App, *handlerRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &handlerRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: 5000,
		Register:   register,
		Handler: RequestHandlerFunc(func(c fiber.Ctx) error {
			recorder.calls++
			recorder.path = string(c.Request().URI().PathOriginal())
			recorder.requestID = RequestID(c)
			return c.SendStatus(fiber.StatusNoContent)
		}),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}
