package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"github.com/google/uuid"
)

// ProbeResult is the outcome of one diagnostic request.
type ProbeResult struct {
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes a webhook diagnosis.
type Report struct {
	URL          string      `json:"webhook_url"`
	Success      bool        `json:"success"`
	Reachability ProbeResult `json:"reachability"`
	Delivery     ProbeResult `json:"delivery"`
}

// Diagnose checks that url answers at all and then sends a synthetic post
// through the regular delivery path with a single attempt. Diagnostic
// deliveries are not recorded.
func (n *Notifier) Diagnose(ctx context.Context, url string) (*Report, error) {
	if err := ValidateURL(url); err != nil {
		return nil, err
	}

	report := &Report{URL: url}
	report.Reachability = n.probe(ctx, url)

	now := n.now().UTC()
	post := &models.Post{
		ID:          "diagnostic-" + uuid.NewString(),
		UserID:      "diagnostic-user",
		Content:     "Webhook connectivity test. If this arrives, delivery works.",
		Status:      models.PostStatusApproved,
		PublishedAt: &now,
	}

	start := time.Now()
	res, err := n.deliver(ctx, post, url, 1, nil)
	report.Delivery.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		report.Delivery.Error = err.Error()
		report.Delivery.Attempts = 1
		var rejection *ClientRejectionError
		var transient *TransientDeliveryError
		switch {
		case errors.As(err, &rejection):
			report.Delivery.StatusCode = rejection.StatusCode
			report.Delivery.Body = rejection.Body
		case errors.As(err, &transient):
			report.Delivery.StatusCode = transient.StatusCode
			report.Delivery.Body = transient.Body
		}
		return report, nil
	}

	report.Delivery.StatusCode = res.StatusCode
	report.Delivery.Attempts = res.Attempts
	report.Success = true
	return report, nil
}

func (n *Notifier) probe(ctx context.Context, url string) ProbeResult {
	reqCtx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	var out ProbeResult
	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := n.client.Do(req)
	out.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	out.StatusCode = resp.StatusCode
	out.Body = truncate(string(raw), maxLoggedBody)
	return out
}
