package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// DefaultMaxImageBytes bounds downloaded and decoded uploads.
	DefaultMaxImageBytes = 10 * 1024 * 1024
	defaultFetchTimeout  = 20 * time.Second
)

var (
	// ErrNotImage is returned when the bytes do not decode as a supported image.
	ErrNotImage = errors.New("content is not a supported image")
	// ErrImageTooLarge is returned when an image exceeds the configured size.
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	// ErrInvalidDataURI is returned for malformed data: URIs.
	ErrInvalidDataURI = errors.New("invalid image data URI")
)

// Sink is the write side of the object store used by the importer.
type Sink interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*models.StoredObject, error)
	PublicURL(objectPath string) string
}

// Importer copies external or inline images into the object store.
type Importer struct {
	sink     Sink
	client   *http.Client
	maxBytes int64
	now      func() time.Time
}

// NewImporter returns an Importer writing to sink. A nil client gets a default
// client with a bounded timeout.
func NewImporter(sink Sink, client *http.Client, maxBytes int64) *Importer {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Importer{sink: sink, client: client, maxBytes: maxBytes, now: time.Now}
}

// IsDataURI reports whether s is an inline data: URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// Prepare normalizes the images of a new post. Stored entries under the
// user's folder are kept and other stored entries dropped,
// data: URIs are uploaded and, with importExternal, external URLs are copied
// into the store. A failed external import keeps the original reference; a
// data: URI that cannot be stored is dropped, leaving the post without it.
func (im *Importer) Prepare(ctx context.Context, userID string, imgs []models.PostImage, importExternal bool) []models.PostImage {
	out := make([]models.PostImage, 0, len(imgs))
	for i, img := range imgs {
		switch {
		case img.IsStored():
			if !img.OwnedBy(userID) {
				middleware.Logger.WarnContext(ctx, "dropping stored image outside the user's folder",
					slog.Int("index", i),
					slog.String("storage_path", img.StoragePath),
				)
				continue
			}
			out = append(out, img)
		case IsDataURI(img.URL):
			stored, err := im.ImportDataURI(ctx, userID, img.Name, img.URL)
			if err != nil {
				middleware.Logger.WarnContext(ctx, "inline image upload failed, continuing without it",
					slog.Int("index", i),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, stored)
		case importExternal && img.URL != "":
			stored, err := im.ImportURL(ctx, userID, img.URL)
			if err != nil {
				middleware.Logger.WarnContext(ctx, "image import failed, keeping external url",
					slog.Int("index", i),
					slog.String("url", img.URL),
					slog.String("error", err.Error()),
				)
				out = append(out, img)
				continue
			}
			if img.Name != "" {
				stored.Name = img.Name
			}
			out = append(out, stored)
		case img.URL != "":
			out = append(out, img)
		}
	}
	return out
}

// ImportURL downloads rawURL and stores it under the user's prefix.
func (im *Importer) ImportURL(ctx context.Context, userID, rawURL string) (models.PostImage, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.PostImage{}, fmt.Errorf("invalid image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.PostImage{}, err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return models.PostImage{}, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PostImage{}, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, im.maxBytes+1))
	if err != nil {
		return models.PostImage{}, fmt.Errorf("read image: %w", err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return im.store(ctx, userID, name, data)
}

// ImportDataURI decodes a data:<mime>;base64,<payload> URI and stores it.
func (im *Importer) ImportDataURI(ctx context.Context, userID, name, dataURI string) (models.PostImage, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURI), "data:")
	if !ok {
		return models.PostImage{}, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return models.PostImage{}, ErrInvalidDataURI
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > im.maxBytes+2 {
		return models.PostImage{}, ErrImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return models.PostImage{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if name == "" {
		name = "image"
	}
	return im.store(ctx, userID, name, data)
}

func (im *Importer) store(ctx context.Context, userID, name string, data []byte) (models.PostImage, error) {
	if int64(len(data)) > im.maxBytes {
		return models.PostImage{}, ErrImageTooLarge
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.PostImage{}, ErrNotImage
	}
	contentType := formatToMime(format)
	if contentType == "" {
		return models.PostImage{}, ErrNotImage
	}

	objectPath := fmt.Sprintf("%s/%d.%s", userID, im.now().UnixNano(), Extension(contentType))
	if _, err := im.sink.Upload(ctx, objectPath, data, contentType); err != nil {
		return models.PostImage{}, fmt.Errorf("upload image: %w", err)
	}
	return models.PostImage{
		URL:         im.sink.PublicURL(objectPath),
		Name:        name,
		StoragePath: objectPath,
	}, nil
}

func formatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}
