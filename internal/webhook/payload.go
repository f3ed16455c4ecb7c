package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/images"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
)

// Payload is the JSON body posted to the automation webhook.
type Payload struct {
	PostID      string            `json:"post_id"`
	Content     string            `json:"content"`
	Images      []images.Resolved `json:"images"`
	ImagesCount int               `json:"images_count"`
	HasImages   bool              `json:"has_images"`
	FirstImage  *string           `json:"first_image"`
	Timestamp   string            `json:"timestamp"`
	UserID      string            `json:"user_id"`
}

// ImageResolver prepares post images for the payload.
type ImageResolver interface {
	Resolve(ctx context.Context, imgs []models.PostImage) []images.Resolved
}

// BuildPayload assembles the delivery body for post. now stamps posts without published_at.
func BuildPayload(ctx context.Context, resolver ImageResolver, post *models.Post, now time.Time) Payload {
	resolved := []images.Resolved{}
	if resolver != nil {
		resolved = resolver.Resolve(ctx, post.ImageList())
	} else {
		for i, img := range post.ImageList() {
			resolved = append(resolved, images.Resolved{
				ID:    fmt.Sprintf("image_%d", i+1),
				Index: i,
				URL:   img.URL,
				Name:  img.Name,
			})
		}
	}

	ts := now
	if post.PublishedAt != nil {
		ts = *post.PublishedAt
	}

	p := Payload{
		PostID:      post.ID,
		Content:     post.Content,
		Images:      resolved,
		ImagesCount: len(resolved),
		HasImages:   len(resolved) > 0,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		UserID:      post.UserID,
	}
	if len(resolved) > 0 {
		first := resolved[0].URL
		p.FirstImage = &first
	}
	return p
}
