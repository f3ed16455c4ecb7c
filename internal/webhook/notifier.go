// Package webhook delivers approved posts to the automation webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const (
	// UserAgent identifies deliveries to receivers.
	UserAgent = "engage-webhook/1.0"
	// IdempotencyHeader carries the post id so receivers can drop repeats.
	IdempotencyHeader = "Idempotency-Key"

	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultTimeout     = 15 * time.Second
	maxLoggedBody      = 500
	maxResponseBody    = 64 * 1024
)

// Options tunes delivery behavior.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	AuthToken   string
}

// DeliveryResult describes a successful delivery.
type DeliveryResult struct {
	PostID      string        `json:"post_id"`
	URL         string        `json:"url"`
	StatusCode  int           `json:"status_code"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ns"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

// Notifier posts payloads to webhooks with bounded retries.
type Notifier struct {
	client   *http.Client
	resolver ImageResolver
	recorder *Recorder
	opts     Options
	now      func() time.Time
}

// NewNotifier returns a Notifier. Zero options fall back to 3 attempts, a 2s
// base delay and a 15s per-attempt timeout.
func NewNotifier(client *http.Client, resolver ImageResolver, recorder *Recorder, opts Options) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Notifier{
		client:   client,
		resolver: resolver,
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
	}
}

// ValidateURL checks that raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ConfigurationError{Reason: "no webhook url", Err: ErrNoWebhookURL}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigurationError{URL: raw, Reason: "malformed url", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigurationError{URL: raw, Reason: "url must be absolute http or https"}
	}
	return nil
}

// Deliver posts post to webhookURL. 2xx succeeds; 4xx fails after one attempt
// with *ClientRejectionError; 5xx and network failures are retried with
// doubling delays and end in *ExhaustedError.
func (n *Notifier) Deliver(ctx context.Context, post *models.Post, webhookURL string) (*DeliveryResult, error) {
	return n.deliver(ctx, post, webhookURL, n.opts.MaxAttempts, n.recorder)
}

// deliver runs the attempt loop. Outcomes go to recorder, which may be nil.
func (n *Notifier) deliver(ctx context.Context, post *models.Post, webhookURL string, maxAttempts int, recorder *Recorder) (*DeliveryResult, error) {
	if err := ValidateURL(webhookURL); err != nil {
		observability.WebhookDeliveries.WithLabelValues("misconfigured").Inc()
		return nil, err
	}
	webhookURL = strings.TrimSpace(webhookURL)

	span, ctx := observability.NewClientSpan(ctx, "webhook.Deliver",
		attribute.String("post.id", post.ID),
		attribute.String("webhook.url", webhookURL),
	)
	defer span.End()

	payload := BuildPayload(ctx, n.resolver, post, n.now())
	body, err := json.Marshal(payload)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	start := time.Now()
	attempts := 0
	operation := func() (int, error) {
		attempts++
		return n.attempt(ctx, webhookURL, post.ID, body, attempts)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.opts.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = n.opts.BaseDelay << 10

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			middleware.Logger.WarnContext(ctx, "webhook attempt failed, retrying",
				slog.String("post_id", post.ID),
				slog.Int("attempt", attempts),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	elapsed := time.Since(start)
	observability.WebhookDeliveryDuration.Observe(elapsed.Seconds())
	span.AddAttributes(attribute.Int("webhook.attempts", attempts))

	if err != nil {
		err = n.finalError(ctx, err, attempts)
		span.SetError(err)
		recorder.RecordFailure(ctx, post.ID, attempts, status, err)
		middleware.Logger.ErrorContext(ctx, "webhook delivery failed",
			slog.String("post_id", post.ID),
			slog.String("url", webhookURL),
			slog.Int("attempts", attempts),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := &DeliveryResult{
		PostID:      post.ID,
		URL:         webhookURL,
		StatusCode:  status,
		Attempts:    attempts,
		Duration:    elapsed,
		DeliveredAt: n.now().UTC(),
	}
	observability.WebhookDeliveries.WithLabelValues("delivered").Inc()
	recorder.RecordSuccess(ctx, result)
	middleware.Logger.InfoContext(ctx, "webhook delivered",
		slog.String("post_id", post.ID),
		slog.Int("status", status),
		slog.Int("attempts", attempts),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

// finalError maps the retry loop's error onto the delivery error taxonomy.
func (n *Notifier) finalError(ctx context.Context, err error, attempts int) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		observability.WebhookDeliveries.WithLabelValues("misconfigured").Inc()
		return cfgErr
	}

	var rejection *ClientRejectionError
	if errors.As(err, &rejection) {
		observability.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return rejection
	}

	var transient *TransientDeliveryError
	if ctx.Err() != nil {
		observability.WebhookDeliveries.WithLabelValues("canceled").Inc()
		if errors.As(err, &transient) {
			return fmt.Errorf("webhook delivery interrupted after %d attempts: %w: %w", attempts, ctx.Err(), transient)
		}
		return fmt.Errorf("webhook delivery interrupted after %d attempts: %w", attempts, ctx.Err())
	}

	observability.WebhookDeliveries.WithLabelValues("exhausted").Inc()
	if errors.As(err, &transient) {
		return &ExhaustedError{Attempts: attempts, Last: transient}
	}
	return &ExhaustedError{Attempts: attempts, Last: err}
}

// attempt performs one POST and classifies the outcome.
func (n *Notifier) attempt(ctx context.Context, webhookURL, postID string, body []byte, attempt int) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(&ConfigurationError{URL: webhookURL, Reason: "cannot build request", Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(IdempotencyHeader, postID)
	if n.opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.opts.AuthToken)
	}
	observability.InjectTrace(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		observability.WebhookAttempts.WithLabelValues("network_error").Inc()
		middleware.Logger.WarnContext(ctx, "webhook attempt",
			slog.String("url", webhookURL),
			slog.Int("attempt", attempt),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return 0, &TransientDeliveryError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	respBody := truncate(string(raw), maxLoggedBody)

	middleware.Logger.InfoContext(ctx, "webhook attempt",
		slog.String("url", webhookURL),
		slog.Int("attempt", attempt),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.String("body", respBody),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		observability.WebhookAttempts.WithLabelValues("success").Inc()
		return resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		observability.WebhookAttempts.WithLabelValues("client_error").Inc()
		return resp.StatusCode, backoff.Permanent(&ClientRejectionError{StatusCode: resp.StatusCode, Body: respBody})
	default:
		observability.WebhookAttempts.WithLabelValues("server_error").Inc()
		return resp.StatusCode, &TransientDeliveryError{StatusCode: resp.StatusCode, Body: respBody}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
