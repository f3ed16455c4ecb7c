package middleware

import (
	"net/http"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader echoes the trace id to clients.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware continues the caller's trace for every request. Spans are
// renamed to the matched route once routing has run, so /api/posts/:id stays
// one span name for every post.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		carrier := propagation.HeaderCarrier(http.Header(c.GetReqHeaders()))
		span, ctx := observability.NewRemoteSpan(c.UserContext(), c.Method()+" "+c.Path(),
			trace.SpanKindServer, carrier,
			attribute.String("http.method", c.Method()),
			attribute.String("http.target", c.OriginalURL()),
		)
		defer span.End()

		if traceID := span.TraceID(); traceID != "" {
			c.Locals("traceID", traceID)
			c.Set(TraceHeader, traceID)
		}
		if rid, ok := c.Locals("requestid").(string); ok {
			span.AddAttributes(attribute.String("request.id", rid))
		}
		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		span.AddAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)
		if id := c.Params("id"); id != "" {
			span.AddAttributes(attribute.String("post.id", id))
		}
		// Set by AuthRequired further down the chain.
		if userID, ok := c.Locals("userID").(string); ok {
			span.AddAttributes(attribute.String("user.id", userID))
		}
		if err != nil {
			span.SetError(err)
		} else if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			span.SetError(fiber.NewError(c.Response().StatusCode()))
		}
		return err
	}
}
