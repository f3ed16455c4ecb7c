// Package sweeper approves pending posts whose scheduled time has passed.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultBatchLimit bounds the rows handled by one sweep.
const DefaultBatchLimit = 500

// Store is the part of the post store the sweeper needs.
type Store interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	ApproveDue(ctx context.Context, id string, now time.Time) (*models.Post, error)
}

// RowError is a per-row failure that did not stop the sweep.
type RowError struct {
	PostID string `json:"postId"`
	Error  string `json:"error"`
}

// Summary is the outcome of one sweep.
type Summary struct {
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors"`
}

// Sweeper moves due pending posts to approved.
type Sweeper struct {
	store     Store
	publisher events.Publisher
	limit     int
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithBatchLimit sets the maximum rows per sweep.
func WithBatchLimit(limit int) Option {
	return func(s *Sweeper) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// New returns a Sweeper approving through store and announcing through publisher.
func New(store Store, publisher events.Publisher, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		publisher: publisher,
		limit:     DefaultBatchLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep approves every pending post scheduled at or before now. A query
// failure aborts the run; per-row failures are collected in the summary and
// rows approved concurrently by someone else are counted as skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	span, ctx := observability.NewSpan(ctx, "sweeper.Sweep")
	defer span.End()

	now := s.now().UTC()
	summary := Summary{Errors: []RowError{}}

	due, err := s.store.FindDue(ctx, now, s.limit)
	if err != nil {
		span.SetError(err)
		observability.SweepRuns.WithLabelValues("failed").Inc()
		middleware.Logger.ErrorContext(ctx, "scheduled post query failed", slog.String("error", err.Error()))
		return summary, err
	}
	summary.Total = len(due)
	span.AddAttributes(attribute.Int("sweep.due", len(due)))

	for _, post := range due {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, RowError{PostID: post.ID, Error: ctx.Err().Error()})
			observability.SweepRows.WithLabelValues("failed").Inc()
			continue
		}
		s.approve(ctx, post, now, &summary)
	}

	observability.SweepRuns.WithLabelValues("ok").Inc()
	span.AddAttributes(
		attribute.Int("sweep.processed", summary.Processed),
		attribute.Int("sweep.skipped", summary.Skipped),
		attribute.Int("sweep.errors", len(summary.Errors)),
	)
	middleware.Logger.InfoContext(ctx, "scheduled post sweep finished",
		slog.Int("total", summary.Total),
		slog.Int("processed", summary.Processed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

func (s *Sweeper) approve(ctx context.Context, post *models.Post, now time.Time, summary *Summary) {
	ctx = middleware.WithPostID(ctx, post.ID)
	approved, err := s.store.ApproveDue(ctx, post.ID, now)
	switch {
	case errors.Is(err, repository.ErrTransitionConflict):
		summary.Skipped++
		observability.SweepRows.WithLabelValues("skipped").Inc()
		middleware.Logger.InfoContext(ctx, "scheduled post already transitioned, skipping",
			slog.String("post_id", post.ID))
		return
	case err != nil:
		summary.Errors = append(summary.Errors, RowError{PostID: post.ID, Error: err.Error()})
		observability.SweepRows.WithLabelValues("failed").Inc()
		middleware.Logger.ErrorContext(ctx, "failed to approve scheduled post",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	summary.Processed++
	observability.SweepRows.WithLabelValues("approved").Inc()

	// The event carries the committed row; the owner may have edited the post
	// after it was found due.
	prev := approved.Clone()
	prev.Status = post.Status
	if err := s.publisher.Publish(ctx, events.Updated(prev, approved)); err != nil {
		summary.Errors = append(summary.Errors, RowError{PostID: post.ID, Error: "notify: " + err.Error()})
		middleware.Logger.ErrorContext(ctx, "scheduled post approved but change event failed",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}
}
