package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/lifecycle"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/webhook"
)

// ApprovePost moves a pending post to approved. Losing a race against the
// sweeper or another approval yields a CONFLICT error.
func (s *PostService) ApprovePost(ctx context.Context, userID, id string) (*models.Post, error) {
	old, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	return s.transition(ctx, old, models.PostStatusApproved)
}

// MarkPublished records that an external system published the post.
func (s *PostService) MarkPublished(ctx context.Context, id string) (*models.Post, error) {
	old, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	return s.transition(ctx, old, models.PostStatusPublished)
}

func (s *PostService) transition(ctx context.Context, old *models.Post, to models.PostStatus) (*models.Post, error) {
	if err := lifecycle.Validate(old.Status, to); err != nil {
		return nil, models.NewConflictError("Post cannot move from "+string(old.Status)+" to "+string(to), err)
	}

	updated, err := s.repo.Transition(ctx, old.ID, old.Status, to)
	if err != nil {
		return nil, mapStoreError(err, old.ID)
	}

	s.publish(ctx, events.Updated(old, updated))
	s.invalidateStats(ctx, updated.UserID)
	return updated, nil
}

// DeliverPost sends an approved or published post to its webhook right away.
func (s *PostService) DeliverPost(ctx context.Context, id string) (*webhook.DeliveryResult, error) {
	if s.webhooks == nil {
		return nil, models.NewConfigurationError("Webhook delivery is not configured", nil)
	}
	post, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	if !post.HasWebhook() {
		return nil, models.NewConfigurationError("Post has no webhook URL", webhook.ErrNoWebhookURL)
	}
	if post.Status == models.PostStatusPending {
		return nil, models.NewConflictError("Only approved posts can be delivered", lifecycle.ErrInvalidTransition)
	}

	res, err := s.webhooks.Deliver(ctx, post, post.WebhookURL)
	if err != nil {
		return nil, deliveryError(err)
	}
	return res, nil
}

// DeliveryStatus returns the last recorded delivery outcome of a post, or nil.
func (s *PostService) DeliveryStatus(ctx context.Context, userID, id string) (*webhook.DeliveryRecord, error) {
	if _, err := s.repo.GetForUser(ctx, userID, id); err != nil {
		return nil, mapStoreError(err, id)
	}
	if s.deliveries == nil {
		return nil, nil
	}
	rec, err := s.deliveries.Last(ctx, id)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return rec, nil
}

// TestWebhook diagnoses url, or the default webhook when url is empty.
func (s *PostService) TestWebhook(ctx context.Context, url string) (*webhook.Report, error) {
	if s.webhooks == nil {
		return nil, models.NewConfigurationError("Webhook delivery is not configured", nil)
	}
	if url == "" {
		url = s.defaultWebhookURL
	}
	report, err := s.webhooks.Diagnose(ctx, url)
	if err != nil {
		if webhook.IsConfigurationError(err) {
			return nil, models.NewValidationError(err.Error())
		}
		return nil, models.NewInternalError(err)
	}
	return report, nil
}

func (s *PostService) DeletePost(ctx context.Context, userID, id string) (*models.Post, error) {
	deleted, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	s.afterDelete(ctx, userID, []*models.Post{deleted})
	return deleted, nil
}

// DeleteAllPosts removes every post of the user and returns how many were removed.
func (s *PostService) DeleteAllPosts(ctx context.Context, userID string) (int, error) {
	deleted, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, mapStoreError(err, "")
	}
	s.afterDelete(ctx, userID, deleted)
	return len(deleted), nil
}

// DeletePostsByStatus removes the user's posts in status. With scheduledOnly
// only scheduled pending posts match; plain pending matches unscheduled ones.
func (s *PostService) DeletePostsByStatus(ctx context.Context, userID, status string, scheduledOnly bool) (int, error) {
	st, err := lifecycle.ParseStatus(status)
	if err != nil {
		return 0, models.NewValidationError("unknown status")
	}
	if scheduledOnly && st != models.PostStatusPending {
		return 0, models.NewValidationError("scheduled_only applies to pending posts")
	}

	deleted, err := s.repo.DeleteByStatus(ctx, userID, repository.DeleteFilter{Status: st, ScheduledOnly: scheduledOnly})
	if err != nil {
		return 0, mapStoreError(err, "")
	}
	s.afterDelete(ctx, userID, deleted)
	return len(deleted), nil
}

func (s *PostService) afterDelete(ctx context.Context, userID string, deleted []*models.Post) {
	if len(deleted) == 0 {
		return
	}
	var imgs []models.PostImage
	for _, p := range deleted {
		imgs = append(imgs, p.ImageList()...)
		s.publish(ctx, events.Deleted(p))
	}
	s.cleanupImages(ctx, imgs)
	s.invalidateStats(ctx, userID)
}

// cleanupImages removes stored images no remaining post references.
// Failures only leave orphans behind.
func (s *PostService) cleanupImages(ctx context.Context, imgs []models.PostImage) {
	if s.objects == nil {
		return
	}
	seen := make(map[string]struct{})
	for _, img := range imgs {
		if !img.IsStored() {
			continue
		}
		if _, ok := seen[img.StoragePath]; ok {
			continue
		}
		seen[img.StoragePath] = struct{}{}

		refs, err := s.repo.CountImageReferences(ctx, img.StoragePath)
		if err != nil {
			middleware.Logger.WarnContext(ctx, "image reference count failed, keeping object",
				slog.String("storage_path", img.StoragePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := s.objects.Delete(ctx, img.StoragePath); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to delete stored image",
				slog.String("storage_path", img.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}
}

// removedImages returns the stored images of before that after no longer has.
func removedImages(before, after []models.PostImage) []models.PostImage {
	kept := make(map[string]struct{}, len(after))
	for _, img := range after {
		if img.IsStored() {
			kept[img.StoragePath] = struct{}{}
		}
	}
	var removed []models.PostImage
	for _, img := range before {
		if _, ok := kept[img.StoragePath]; img.IsStored() && !ok {
			removed = append(removed, img)
		}
	}
	return removed
}

func deliveryError(err error) error {
	var rejection *webhook.ClientRejectionError
	var exhausted *webhook.ExhaustedError
	switch {
	case webhook.IsConfigurationError(err):
		return models.NewConfigurationError("Webhook is misconfigured", err)
	case errors.As(err, &rejection), errors.As(err, &exhausted):
		return models.NewDeliveryFailedError(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.NewDeliveryFailedError(err)
	default:
		return models.NewInternalError(err)
	}
}
