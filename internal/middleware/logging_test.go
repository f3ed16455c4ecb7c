package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "production", "warn")

	l.Info("hidden")
	l.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNewLogger_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "development", "chatty")

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestLogger_ContextIDs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "production", "info")

	ctx := WithPostID(WithUserID(context.Background(), "user-1"), "post-9")
	l.InfoContext(ctx, "delivered")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "user-1", rec["user_id"])
	assert.Equal(t, "post-9", rec["post_id"])
	assert.NotContains(t, rec, "trace_id")
}

func TestContextMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger
	Logger = NewLogger(&buf, "production", "info")
	t.Cleanup(func() { Logger = prev })

	app := fiber.New()
	app.Use(requestid.New(), ContextMiddleware(), StructuredLogger())
	app.Get("/api/posts/:id", func(c *fiber.Ctx) error {
		Logger.InfoContext(c.UserContext(), "handler ran")
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/api/posts/abc", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var handlerRec, requestRec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &handlerRec))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &requestRec))
	assert.Equal(t, "req-123", handlerRec["request_id"])
	assert.Equal(t, "request processed", requestRec["msg"])
	assert.Equal(t, "/api/posts/:id", requestRec["route"])
	assert.Equal(t, "abc", requestRec["post_id"])
	assert.EqualValues(t, fiber.StatusNoContent, requestRec["status"])
}

func TestTracingMiddleware_ContinuesTrace(t *testing.T) {
	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("traceparent", "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	// The global no-op tracer keeps the remote trace id.
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", resp.Header.Get(TraceHeader))
}
