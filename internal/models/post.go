// Package models contains data structures for the application's domain models.
package models

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	// PostStatusPending is the initial state; only pending posts may carry a schedule.
	PostStatusPending PostStatus = "pending"
	// PostStatusApproved marks a post as approved and eligible for webhook delivery.
	PostStatusApproved PostStatus = "approved"
	// PostStatusPublished is asserted by an external system once the post is live.
	PostStatusPublished PostStatus = "published"
)

// MaxContentLength is the longest post body LinkedIn accepts.
const MaxContentLength = 3000

// PostImage references an image attached to a post. Images with a StoragePath
// live in the internal object store; the others are external URLs.
type PostImage struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	StoragePath string `json:"storage_path,omitempty"`
}

// IsStored reports whether the image lives in the internal object store.
func (i PostImage) IsStored() bool {
	return i.StoragePath != ""
}

// OwnedBy reports whether a stored image lies under userID's folder.
func (i PostImage) OwnedBy(userID string) bool {
	if userID == "" || !i.IsStored() {
		return false
	}
	return path.Clean(i.StoragePath) == i.StoragePath && strings.HasPrefix(i.StoragePath, userID+"/")
}

// Post represents a LinkedIn post draft owned by a user.
type Post struct {
	ID           string                        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string                        `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Content      string                        `gorm:"type:text;not null" json:"content"`
	Images       datatypes.JSONSlice[PostImage] `json:"images"`
	Status       PostStatus                    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ScheduledFor *time.Time                    `gorm:"index" json:"scheduled_for"`
	WebhookURL   string                        `gorm:"type:text" json:"webhook_url,omitempty"`
	PublishedAt  *time.Time                    `json:"published_at"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

// BeforeCreate assigns the id, default status and the creation-time published_at stamp.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PostStatusPending
	}
	if p.PublishedAt == nil {
		now := time.Now().UTC()
		p.PublishedAt = &now
	}
	return nil
}

// ImageList returns the images as a plain slice.
func (p *Post) ImageList() []PostImage {
	return []PostImage(p.Images)
}

// HasWebhook reports whether a delivery target was captured for the post.
func (p *Post) HasWebhook() bool {
	return p.WebhookURL != ""
}

// Clone returns a copy of the post that shares no mutable state with p.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Images != nil {
		cp.Images = append(datatypes.JSONSlice[PostImage](nil), p.Images...)
	}
	if p.ScheduledFor != nil {
		t := *p.ScheduledFor
		cp.ScheduledFor = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}

// PostStatistics summarizes a user's posts for the dashboard.
type PostStatistics struct {
	PostsToday    int64   `json:"posts_today"`
	ApprovalRate  float64 `json:"approval_rate"`
	TotalPosts    int64   `json:"total_posts"`
	ApprovedPosts int64   `json:"approved_posts"`
}
