// Package images resolves post images for webhook delivery and imports
// external images into the object store.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultContentType is used when neither metadata nor sniffing yields an image type.
const DefaultContentType = "image/png"

// Source is the read side of the object store used during resolution.
type Source interface {
	Download(ctx context.Context, objectPath string) ([]byte, string, error)
	PublicURL(objectPath string) string
}

// Resolved is one image prepared for a webhook payload.
type Resolved struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Data        string `json:"data,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Inlined     bool   `json:"-"`
	Error       string `json:"-"`
}

// Resolver turns stored post images into inline base64 payload entries.
type Resolver struct {
	source Source
}

// NewResolver returns a Resolver reading from source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve prepares every image in input order. A failed download never fails
// the whole resolution: the entry keeps its URL and records the error.
func (r *Resolver) Resolve(ctx context.Context, imgs []models.PostImage) []Resolved {
	if len(imgs) == 0 {
		return []Resolved{}
	}

	span, ctx := observability.NewSpan(ctx, "images.Resolve")
	defer span.End()
	span.AddAttributes(attribute.Int("images.count", len(imgs)))

	out := make([]Resolved, 0, len(imgs))
	for i, img := range imgs {
		out = append(out, r.resolveOne(ctx, i, img))
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, index int, img models.PostImage) Resolved {
	res := Resolved{
		ID:    fmt.Sprintf("image_%d", index+1),
		Index: index,
		URL:   img.URL,
		Name:  img.Name,
	}

	if !img.IsStored() {
		observability.ImageResolutions.WithLabelValues("url").Inc()
		return res
	}

	if res.URL == "" && r.source != nil {
		res.URL = r.source.PublicURL(img.StoragePath)
	}
	if r.source == nil {
		res.Error = "object store not configured"
		observability.ImageResolutions.WithLabelValues("fallback").Inc()
		return res
	}

	data, contentType, err := r.source.Download(ctx, img.StoragePath)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "image download failed, falling back to url",
			slog.Int("index", index),
			slog.String("storage_path", img.StoragePath),
			slog.String("error", err.Error()),
		)
		res.Error = err.Error()
		observability.ImageResolutions.WithLabelValues("fallback").Inc()
		return res
	}

	contentType = detectContentType(contentType, data)
	res.Data = base64.StdEncoding.EncodeToString(data)
	res.ContentType = contentType
	res.Filename = fmt.Sprintf("image_%d.%s", index+1, Extension(contentType))
	res.Inlined = true
	observability.ImageResolutions.WithLabelValues("inlined").Inc()
	return res
}

// detectContentType prefers recorded metadata, then sniffs the bytes.
func detectContentType(recorded string, data []byte) string {
	if ct := normalizeContentType(recorded); strings.HasPrefix(ct, "image/") {
		return ct
	}
	if ct := normalizeContentType(http.DetectContentType(data)); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return DefaultContentType
}

// Extension maps an image content type to the file extension used in payload filenames.
func Extension(contentType string) string {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
