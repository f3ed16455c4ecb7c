// Package storage implements the object store holding uploaded post images.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"
)

var (
	// ErrObjectNotFound is returned when no object exists at the requested path.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping object paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// Store is the object store used for post images.
type Store interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*models.StoredObject, error)
	Download(ctx context.Context, objectPath string) ([]byte, string, error)
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

// FileStore keeps object bytes under a root directory and their metadata in
// the stored_objects table. Objects are publicly readable under baseURL.
type FileStore struct {
	root    string
	baseURL string
	objects repository.StoredObjectRepository
}

// NewFileStore returns a FileStore rooted at root. objects may be nil, in which
// case content types are not persisted.
func NewFileStore(root, baseURL string, objects repository.StoredObjectRepository) *FileStore {
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: objects,
	}
}

// Root returns the directory objects are written to.
func (s *FileStore) Root() string {
	return s.root
}

// CleanPath normalizes an object path and rejects paths escaping the store.
func CleanPath(objectPath string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(objectPath, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrInvalidPath
	}
	return p, nil
}

func (s *FileStore) abs(objectPath string) (string, string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	return p, filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// Upload writes data at objectPath, replacing any previous object.
func (s *FileStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*models.StoredObject, error) {
	p, abs, err := s.abs(objectPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o600); err != nil {
		return nil, fmt.Errorf("write object: %w", err)
	}

	obj := &models.StoredObject{
		Path:        p,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if s.objects != nil {
		if err := s.objects.Upsert(ctx, obj); err != nil {
			_ = os.Remove(abs)
			return nil, fmt.Errorf("record object metadata: %w", err)
		}
	}
	return obj, nil
}

// Download returns the object bytes and its recorded content type, which is
// empty when no metadata exists.
func (s *FileStore) Download(ctx context.Context, objectPath string) ([]byte, string, error) {
	p, abs, err := s.abs(objectPath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("read object: %w", err)
	}

	var contentType string
	if s.objects != nil {
		obj, err := s.objects.Get(ctx, p)
		switch {
		case err == nil:
			contentType = obj.ContentType
		case !repository.IsNotFound(err):
			middleware.Logger.WarnContext(ctx, "object metadata lookup failed",
				slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	return data, contentType, nil
}

// Delete removes the object and its metadata. Missing objects are not an error.
func (s *FileStore) Delete(ctx context.Context, objectPath string) error {
	p, abs, err := s.abs(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	if s.objects != nil {
		if err := s.objects.Delete(ctx, p); err != nil {
			return fmt.Errorf("remove object metadata: %w", err)
		}
	}
	return nil
}

// PublicURL returns the URL the object is served at.
func (s *FileStore) PublicURL(objectPath string) string {
	p, err := CleanPath(objectPath)
	if err != nil {
		return ""
	}
	return s.baseURL + "/" + p
}
