// Package repository implements GORM-backed persistence for posts and stored objects.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// PostFilter narrows ListByUser results.
type PostFilter struct {
	Status models.PostStatus
	Limit  int
	Offset int
}

// DeleteFilter selects the rows removed by DeleteByStatus. With ScheduledOnly
// only rows carrying a schedule match; a plain pending filter matches only
// unscheduled rows.
type DeleteFilter struct {
	Status        models.PostStatus
	ScheduledOnly bool
}

// PostRepository defines storage operations for posts. Every status change is
// a conditional write: a zero-row update returns ErrTransitionConflict.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	GetForUser(ctx context.Context, userID, id string) (*models.Post, error)
	ListByUser(ctx context.Context, userID string, filter PostFilter) ([]*models.Post, error)
	UpdateDraft(ctx context.Context, userID, id, content string, images []models.PostImage) (*models.Post, error)
	SetSchedule(ctx context.Context, userID, id string, at *time.Time) (*models.Post, error)
	Transition(ctx context.Context, id string, from, to models.PostStatus) (*models.Post, error)
	ApproveDue(ctx context.Context, id string, now time.Time) (*models.Post, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	Delete(ctx context.Context, userID, id string) (*models.Post, error)
	DeleteByUser(ctx context.Context, userID string) ([]*models.Post, error)
	DeleteByStatus(ctx context.Context, userID string, filter DeleteFilter) ([]*models.Post, error)
	CountImageReferences(ctx context.Context, storagePath string) (int64, error)
	Stats(ctx context.Context, userID string, since time.Time) (*models.PostStatistics, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository returns a repository implementation for posts.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if post.ScheduledFor != nil {
		at := post.ScheduledFor.UTC()
		post.ScheduledFor = &at
	}
	return classify("create post", r.db.WithContext(ctx).Create(post).Error)
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, classify("get post", err)
	}
	return &post, nil
}

func (r *postRepository) GetForUser(ctx context.Context, userID, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&post).Error; err != nil {
		return nil, classify("get post", err)
	}
	return &post, nil
}

func (r *postRepository) ListByUser(ctx context.Context, userID string, filter PostFilter) ([]*models.Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var posts []*models.Post
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error
	return posts, classify("list posts", err)
}

// UpdateDraft rewrites content and images of a pending post.
func (r *postRepository) UpdateDraft(ctx context.Context, userID, id, content string, images []models.PostImage) (*models.Post, error) {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.PostStatusPending).
		Updates(map[string]any{
			"content": content,
			"images":  datatypes.JSONSlice[models.PostImage](images),
		})
	if err := r.conditionalResult(ctx, "update post", res, userID, id); err != nil {
		return nil, err
	}
	return r.GetForUser(ctx, userID, id)
}

// SetSchedule sets or clears scheduled_for on a pending post.
func (r *postRepository) SetSchedule(ctx context.Context, userID, id string, at *time.Time) (*models.Post, error) {
	var value any = gorm.Expr("NULL")
	if at != nil {
		value = at.UTC()
	}

	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.PostStatusPending).
		Update("scheduled_for", value)
	if err := r.conditionalResult(ctx, "schedule post", res, userID, id); err != nil {
		return nil, err
	}
	return r.GetForUser(ctx, userID, id)
}

// Transition moves a post from one status to another if it is still in from.
func (r *postRepository) Transition(ctx context.Context, id string, from, to models.PostStatus) (*models.Post, error) {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if err := r.conditionalResult(ctx, "transition post", res, "", id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ApproveDue approves a pending post whose schedule has elapsed at now and
// returns the row as committed, including edits made after it was found due.
func (r *postRepository) ApproveDue(ctx context.Context, id string, now time.Time) (*models.Post, error) {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?",
			id, models.PostStatusPending, now.UTC()).
		Update("status", models.PostStatusApproved)
	if res.Error != nil {
		return nil, classify("approve due post", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrTransitionConflict
	}
	return r.GetByID(ctx, id)
}

// FindDue returns pending posts scheduled at or before now, oldest first.
func (r *postRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?", models.PostStatusPending, now.UTC()).
		Order("scheduled_for ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var posts []*models.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, classify("find due posts", err)
	}
	return posts, nil
}

func (r *postRepository) Delete(ctx context.Context, userID, id string) (*models.Post, error) {
	var deleted models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&deleted).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Post{}).Error
	})
	if err != nil {
		return nil, classify("delete post", err)
	}
	return &deleted, nil
}

func (r *postRepository) DeleteByUser(ctx context.Context, userID string) ([]*models.Post, error) {
	return r.deleteMatching(ctx, "delete user posts", func(q *gorm.DB) *gorm.DB {
		return q.Where("user_id = ?", userID)
	})
}

func (r *postRepository) DeleteByStatus(ctx context.Context, userID string, filter DeleteFilter) ([]*models.Post, error) {
	return r.deleteMatching(ctx, "delete posts by status", func(q *gorm.DB) *gorm.DB {
		q = q.Where("user_id = ? AND status = ?", userID, filter.Status)
		switch {
		case filter.ScheduledOnly:
			q = q.Where("scheduled_for IS NOT NULL")
		case filter.Status == models.PostStatusPending:
			q = q.Where("scheduled_for IS NULL")
		}
		return q
	})
}

// deleteMatching removes exactly the rows it read, so rows created concurrently survive.
func (r *postRepository) deleteMatching(ctx context.Context, op string, scope func(*gorm.DB) *gorm.DB) ([]*models.Post, error) {
	var deleted []*models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scope(tx.Model(&models.Post{})).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		ids := make([]string, 0, len(deleted))
		for _, p := range deleted {
			ids = append(ids, p.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&models.Post{}).Error
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return deleted, nil
}

// CountImageReferences counts posts holding an image stored at storagePath.
// It matches the encoded storage_path value, spaced as jsonb renders it or
// compact as JSON text keeps it.
func (r *postRepository) CountImageReferences(ctx context.Context, storagePath string) (int64, error) {
	value, err := json.Marshal(storagePath)
	if err != nil {
		return 0, fmt.Errorf("count image references: %w", err)
	}
	needle := likeEscaper.Replace(string(value))

	var n int64
	err = r.db.WithContext(ctx).Model(&models.Post{}).
		Where(`(CAST(images AS TEXT) LIKE ? ESCAPE '\' OR CAST(images AS TEXT) LIKE ? ESCAPE '\')`,
			`%"storage_path":`+needle+`%`,
			`%"storage_path": `+needle+`%`,
		).
		Count(&n).Error
	return n, classify("count image references", err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type statusCount struct {
	Status models.PostStatus
	Count  int64
}

// Stats computes dashboard counters. Approved includes published posts.
func (r *postRepository) Stats(ctx context.Context, userID string, since time.Time) (*models.PostStatistics, error) {
	db := r.db.WithContext(ctx)

	var rows []statusCount
	if err := db.Model(&models.Post{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, classify("post stats", err)
	}

	stats := &models.PostStatistics{}
	for _, row := range rows {
		stats.TotalPosts += row.Count
		if row.Status == models.PostStatusApproved || row.Status == models.PostStatusPublished {
			stats.ApprovedPosts += row.Count
		}
	}
	if stats.TotalPosts > 0 {
		stats.ApprovalRate = math.Round(float64(stats.ApprovedPosts) / float64(stats.TotalPosts) * 100)
	}

	if err := db.Model(&models.Post{}).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Count(&stats.PostsToday).Error; err != nil {
		return nil, classify("post stats", err)
	}

	return stats, nil
}

// conditionalResult maps a zero-row conditional update onto ErrNotFound when
// the row is gone (or not owned by userID) and ErrTransitionConflict otherwise.
func (r *postRepository) conditionalResult(ctx context.Context, op string, res *gorm.DB, userID, id string) error {
	if res.Error != nil {
		return classify(op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	q := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrTransitionConflict
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
