package webhook

import (
	"errors"
	"fmt"
)

// ErrNoWebhookURL is returned when a delivery has no target.
var ErrNoWebhookURL = errors.New("webhook url not configured")

// ConfigurationError means the delivery cannot be attempted. No request was made.
type ConfigurationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.URL == "" {
		return "webhook configuration: " + e.Reason
	}
	return fmt.Sprintf("webhook configuration: %s (%q)", e.Reason, e.URL)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ClientRejectionError is a 4xx answer. It is never retried.
type ClientRejectionError struct {
	StatusCode int
	Body       string
}

func (e *ClientRejectionError) Error() string {
	return fmt.Sprintf("webhook rejected the request with status %d", e.StatusCode)
}

// TransientDeliveryError is a 5xx answer, a timeout or a network failure.
type TransientDeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every allowed attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("webhook delivery failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsConfigurationError reports whether err means the delivery was never attempted.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.Is(err, ErrNoWebhookURL) || errors.As(err, &cfgErr)
}
