// Package service implements the post workflows behind the HTTP API and the
// background workers.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/cache"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/lifecycle"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/webhook"

	"github.com/redis/go-redis/v9"
)

const statsTTL = 30 * time.Second

// ImagePreparer normalizes the images of a post before it is stored.
type ImagePreparer interface {
	Prepare(ctx context.Context, userID string, imgs []models.PostImage, importExternal bool) []models.PostImage
}

// ObjectRemover deletes stored images.
type ObjectRemover interface {
	Delete(ctx context.Context, objectPath string) error
}

// WebhookClient delivers posts and diagnoses webhook endpoints.
type WebhookClient interface {
	Deliver(ctx context.Context, post *models.Post, webhookURL string) (*webhook.DeliveryResult, error)
	Diagnose(ctx context.Context, url string) (*webhook.Report, error)
}

// DeliveryLog returns the last recorded delivery outcome of a post.
type DeliveryLog interface {
	Last(ctx context.Context, postID string) (*webhook.DeliveryRecord, error)
}

// PostServiceDeps groups the collaborators of PostService. Only Repo and
// Publisher are required.
type PostServiceDeps struct {
	Repo              repository.PostRepository
	Publisher         events.Publisher
	Images            ImagePreparer
	Objects           ObjectRemover
	Webhooks          WebhookClient
	Deliveries        DeliveryLog
	Redis             *redis.Client
	DefaultWebhookURL string
	Now               func() time.Time
}

type PostService struct {
	repo              repository.PostRepository
	publisher         events.Publisher
	images            ImagePreparer
	objects           ObjectRemover
	webhooks          WebhookClient
	deliveries        DeliveryLog
	rdb               *redis.Client
	defaultWebhookURL string
	now               func() time.Time
}

type CreatePostInput struct {
	UserID       string
	Content      string
	Images       []models.PostImage
	Status       string
	ScheduledFor *time.Time
	WebhookURL   string
	ImportImages bool
}

type UpdatePostInput struct {
	UserID       string
	PostID       string
	Content      *string
	Images       *[]models.PostImage
	ImportImages bool
}

type ListPostsInput struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

func NewPostService(deps PostServiceDeps) *PostService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &PostService{
		repo:              deps.Repo,
		publisher:         deps.Publisher,
		images:            deps.Images,
		objects:           deps.Objects,
		webhooks:          deps.Webhooks,
		deliveries:        deps.Deliveries,
		rdb:               deps.Redis,
		defaultWebhookURL: strings.TrimSpace(deps.DefaultWebhookURL),
		now:               now,
	}
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}

	status := models.PostStatusPending
	if in.Status != "" {
		status, err = lifecycle.ParseStatus(in.Status)
		if err != nil || status == models.PostStatusPublished {
			return nil, models.NewValidationError("status must be pending or approved")
		}
	}

	var scheduledFor *time.Time
	if in.ScheduledFor != nil {
		if status != models.PostStatusPending {
			return nil, models.NewValidationError("Only pending posts can be scheduled")
		}
		if err := lifecycle.ValidateSchedule(status, *in.ScheduledFor, s.now()); err != nil {
			return nil, scheduleError(err)
		}
		at := in.ScheduledFor.UTC()
		scheduledFor = &at
	}

	if err := validateImages(in.UserID, in.Images); err != nil {
		return nil, err
	}

	webhookURL := strings.TrimSpace(in.WebhookURL)
	if webhookURL == "" {
		webhookURL = s.defaultWebhookURL
	}
	if webhookURL != "" {
		if err := webhook.ValidateURL(webhookURL); err != nil {
			return nil, models.NewValidationError("webhook_url must be an absolute http or https URL")
		}
	}

	post := &models.Post{
		UserID:       in.UserID,
		Content:      content,
		Images:       s.prepareImages(ctx, in.UserID, in.Images, in.ImportImages),
		Status:       status,
		ScheduledFor: scheduledFor,
		WebhookURL:   webhookURL,
	}
	if err := s.repo.Create(ctx, post); err != nil {
		return nil, mapStoreError(err, post.ID)
	}

	s.publish(ctx, events.Inserted(post))
	s.invalidateStats(ctx, in.UserID)
	return post, nil
}

func (s *PostService) GetPost(ctx context.Context, userID, id string) (*models.Post, error) {
	post, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	return post, nil
}

func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) ([]*models.Post, error) {
	filter := repository.PostFilter{Limit: in.Limit, Offset: in.Offset}
	if in.Status != "" {
		status, err := lifecycle.ParseStatus(in.Status)
		if err != nil {
			return nil, models.NewValidationError("unknown status filter")
		}
		filter.Status = status
	}
	posts, err := s.repo.ListByUser(ctx, in.UserID, filter)
	if err != nil {
		return nil, mapStoreError(err, "")
	}
	return posts, nil
}

// UpdatePost edits content and images of a pending post.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	old, err := s.repo.GetForUser(ctx, in.UserID, in.PostID)
	if err != nil {
		return nil, mapStoreError(err, in.PostID)
	}
	if !lifecycle.CanEdit(old.Status) {
		return nil, models.NewConflictError("Only pending posts can be edited", lifecycle.ErrNotEditable)
	}

	content := old.Content
	if in.Content != nil {
		if content, err = validateContent(*in.Content); err != nil {
			return nil, err
		}
	}
	imgs := old.ImageList()
	if in.Images != nil {
		if err := validateImages(in.UserID, *in.Images); err != nil {
			return nil, err
		}
		imgs = s.prepareImages(ctx, in.UserID, *in.Images, in.ImportImages)
	}

	updated, err := s.repo.UpdateDraft(ctx, in.UserID, in.PostID, content, imgs)
	if err != nil {
		return nil, mapStoreError(err, in.PostID)
	}

	s.publish(ctx, events.Updated(old, updated))
	s.cleanupImages(ctx, removedImages(old.ImageList(), updated.ImageList()))
	return updated, nil
}

// SchedulePost sets a future scheduled_for on a pending post.
func (s *PostService) SchedulePost(ctx context.Context, userID, id string, at time.Time) (*models.Post, error) {
	old, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	if err := lifecycle.ValidateSchedule(old.Status, at, s.now()); err != nil {
		return nil, scheduleError(err)
	}

	updated, err := s.repo.SetSchedule(ctx, userID, id, &at)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	s.publish(ctx, events.Updated(old, updated))
	return updated, nil
}

// UnschedulePost clears the schedule of a pending post.
func (s *PostService) UnschedulePost(ctx context.Context, userID, id string) (*models.Post, error) {
	old, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	if !lifecycle.CanEdit(old.Status) {
		return nil, models.NewConflictError("Only pending posts can be unscheduled", lifecycle.ErrNotEditable)
	}

	updated, err := s.repo.SetSchedule(ctx, userID, id, nil)
	if err != nil {
		return nil, mapStoreError(err, id)
	}
	s.publish(ctx, events.Updated(old, updated))
	return updated, nil
}

// DuplicatePost copies content, images and webhook into a new pending post.
func (s *PostService) DuplicatePost(ctx context.Context, userID, id string) (*models.Post, error) {
	src, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapStoreError(err, id)
	}

	dup := &models.Post{
		UserID:     userID,
		Content:    src.Content,
		Images:     src.Clone().Images,
		Status:     models.PostStatusPending,
		WebhookURL: src.WebhookURL,
	}
	if err := s.repo.Create(ctx, dup); err != nil {
		return nil, mapStoreError(err, "")
	}

	s.publish(ctx, events.Inserted(dup))
	s.invalidateStats(ctx, userID)
	return dup, nil
}

// Statistics returns dashboard counters for today (UTC), cached briefly.
func (s *PostService) Statistics(ctx context.Context, userID string) (*models.PostStatistics, error) {
	var stats models.PostStatistics
	err := cache.CacheAside(ctx, s.rdb, statsKey(userID), &stats, statsTTL, func() error {
		fresh, err := s.repo.Stats(ctx, userID, startOfDay(s.now()))
		if err != nil {
			return err
		}
		stats = *fresh
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "")
	}
	return &stats, nil
}

func (s *PostService) prepareImages(ctx context.Context, userID string, imgs []models.PostImage, importExternal bool) []models.PostImage {
	if len(imgs) == 0 {
		return []models.PostImage{}
	}
	if s.images != nil {
		return s.images.Prepare(ctx, userID, imgs, importExternal)
	}
	out := make([]models.PostImage, 0, len(imgs))
	for _, img := range imgs {
		if img.URL != "" || img.IsStored() {
			out = append(out, img)
		}
	}
	return out
}

// publish announces a committed change. The change stands even if the
// announcement fails.
func (s *PostService) publish(ctx context.Context, ev events.PostChanged) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to publish post change",
			slog.String("post_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PostService) invalidateStats(ctx context.Context, userID string) {
	if err := cache.Invalidate(ctx, s.rdb, statsKey(userID)); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to invalidate statistics cache",
			slog.String("error", err.Error()))
	}
}

func statsKey(userID string) string {
	return "stats:" + userID
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return "", models.NewValidationError("Content too long (max 3000 characters)")
	}
	return content, nil
}

// validateImages rejects stored images outside the caller's folder.
func validateImages(userID string, imgs []models.PostImage) error {
	for _, img := range imgs {
		if img.IsStored() && !img.OwnedBy(userID) {
			return models.NewValidationError("storage_path must point to one of your own uploads")
		}
	}
	return nil
}

func scheduleError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrNotEditable):
		return models.NewConflictError("Only pending posts can be scheduled", err)
	case errors.Is(err, lifecycle.ErrScheduleInPast):
		return models.NewValidationError("scheduled_for must be in the future")
	default:
		return models.NewValidationError(err.Error())
	}
}

// mapStoreError converts repository errors into API errors.
func mapStoreError(err error, id string) error {
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrNotFound):
		return models.NewNotFoundError("Post", id)
	case errors.Is(err, repository.ErrTransitionConflict):
		return models.NewConflictError("Post changed concurrently", err)
	case repository.IsUnavailable(err):
		return models.NewStoreUnavailableError(err)
	default:
		return models.NewInternalError(err)
	}
}
