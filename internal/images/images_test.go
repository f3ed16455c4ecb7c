package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	DownloadFn func(ctx context.Context, objectPath string) ([]byte, string, error)
	UploadFn   func(ctx context.Context, objectPath string, data []byte, contentType string) (*models.StoredObject, error)
	uploads    map[string][]byte
}

func (s *stubStore) Download(ctx context.Context, objectPath string) ([]byte, string, error) {
	if s.DownloadFn != nil {
		return s.DownloadFn(ctx, objectPath)
	}
	return nil, "", errors.New("not found")
}

func (s *stubStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*models.StoredObject, error) {
	if s.UploadFn != nil {
		return s.UploadFn(ctx, objectPath, data, contentType)
	}
	if s.uploads == nil {
		s.uploads = map[string][]byte{}
	}
	s.uploads[objectPath] = data
	return &models.StoredObject{Path: objectPath, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *stubStore) PublicURL(objectPath string) string {
	return "https://cdn.example.com/" + objectPath
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResolver_Resolve(t *testing.T) {
	data := pngBytes(t)
	store := &stubStore{
		DownloadFn: func(_ context.Context, p string) ([]byte, string, error) {
			switch p {
			case "u/meta.webp":
				return []byte("RIFF....WEBP"), "image/webp", nil
			case "u/sniff":
				return data, "", nil
			case "u/unknown":
				return []byte("plain text"), "", nil
			default:
				return nil, "", errors.New("object not found")
			}
		},
	}
	r := NewResolver(store)

	got := r.Resolve(context.Background(), []models.PostImage{
		{URL: "https://ext.example.com/a.jpg", Name: "a.jpg"},
		{URL: "", Name: "meta", StoragePath: "u/meta.webp"},
		{URL: "https://cdn.example.com/u/sniff", Name: "sniff", StoragePath: "u/sniff"},
		{URL: "https://cdn.example.com/u/missing.png", Name: "missing", StoragePath: "u/missing.png"},
		{Name: "unknown", StoragePath: "u/unknown"},
	})
	require.Len(t, got, 5)

	for i, r := range got {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("image_%d", i+1), r.ID)
	}

	assert.False(t, got[0].Inlined)
	assert.Equal(t, "https://ext.example.com/a.jpg", got[0].URL)
	assert.Empty(t, got[0].Data)

	assert.True(t, got[1].Inlined)
	assert.Equal(t, "https://cdn.example.com/u/meta.webp", got[1].URL)
	assert.Equal(t, "image/webp", got[1].ContentType)
	assert.Equal(t, "image_2.webp", got[1].Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("RIFF....WEBP")), got[1].Data)

	assert.True(t, got[2].Inlined)
	assert.Equal(t, "image/png", got[2].ContentType)
	assert.Equal(t, "image_3.png", got[2].Filename)

	assert.False(t, got[3].Inlined)
	assert.Equal(t, "https://cdn.example.com/u/missing.png", got[3].URL)
	assert.Contains(t, got[3].Error, "object not found")
	assert.Empty(t, got[3].Data)

	assert.True(t, got[4].Inlined)
	assert.Equal(t, DefaultContentType, got[4].ContentType)
}

func TestResolver_Empty(t *testing.T) {
	got := NewResolver(&stubStore{}).Resolve(context.Background(), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtension(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"image/jpeg":               "jpg",
		"image/png":                "png",
		"image/webp":               "webp",
		"image/gif":                "gif",
		"IMAGE/PNG; charset=utf-8": "png",
		"image/bmp":                "jpg",
		"":                         "jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, Extension(in), in)
	}
}

func TestImporter_ImportDataURI(t *testing.T) {
	store := &stubStore{}
	im := NewImporter(store, nil, 0)
	im.now = func() time.Time { return time.Unix(0, 42) }

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
	img, err := im.ImportDataURI(context.Background(), "user-1", "photo.png", uri)
	require.NoError(t, err)
	assert.Equal(t, "user-1/42.png", img.StoragePath)
	assert.Equal(t, "https://cdn.example.com/user-1/42.png", img.URL)
	assert.Equal(t, "photo.png", img.Name)
	assert.Contains(t, store.uploads, "user-1/42.png")
}

func TestImporter_ImportDataURIErrors(t *testing.T) {
	im := NewImporter(&stubStore{}, nil, 1024)

	_, err := im.ImportDataURI(context.Background(), "u", "x", "data:image/png,raw")
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	_, err = im.ImportDataURI(context.Background(), "u", "x", "data:image/png;base64,!!!")
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	text := base64.StdEncoding.EncodeToString([]byte("hello"))
	_, err = im.ImportDataURI(context.Background(), "u", "x", "data:image/png;base64,"+text)
	assert.ErrorIs(t, err, ErrNotImage)

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 4096))
	_, err = im.ImportDataURI(context.Background(), "u", "x", "data:image/png;base64,"+big)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestImporter_ImportURL(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	store := &stubStore{}
	im := NewImporter(store, srv.Client(), 0)

	img, err := im.ImportURL(context.Background(), "user-1", srv.URL+"/pics/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", img.Name)
	assert.True(t, strings.HasPrefix(img.StoragePath, "user-1/"))
	assert.True(t, strings.HasSuffix(img.StoragePath, ".png"))

	_, err = im.ImportURL(context.Background(), "user-1", srv.URL+"/missing.png")
	assert.Error(t, err)

	_, err = im.ImportURL(context.Background(), "user-1", "ftp://example.com/a.png")
	assert.Error(t, err)
}

func TestImporter_Prepare(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	im := NewImporter(&stubStore{}, srv.Client(), 0)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	in := []models.PostImage{
		{URL: "https://cdn.example.com/u/1.png", Name: "kept", StoragePath: "user-1/1.png"},
		{URL: uri, Name: "inline.png"},
		{URL: srv.URL + "/ok.png", Name: "remote"},
		{URL: srv.URL + "/broken.png", Name: "broken"},
	}

	out := im.Prepare(context.Background(), "user-1", in, true)
	require.Len(t, out, 4)
	assert.Equal(t, in[0], out[0])
	assert.True(t, out[1].IsStored())
	assert.Equal(t, "inline.png", out[1].Name)
	assert.True(t, out[2].IsStored())
	assert.Equal(t, "remote", out[2].Name)
	assert.Equal(t, in[3], out[3])

	out = im.Prepare(context.Background(), "user-1", in[2:3], false)
	require.Len(t, out, 1)
	assert.False(t, out[0].IsStored())

	out = im.Prepare(context.Background(), "user-1", []models.PostImage{
		{URL: "data:image/png;base64,@@", Name: "broken"},
		{URL: "", Name: "empty"},
	}, false)
	assert.Empty(t, out)

	out = im.Prepare(context.Background(), "user-1", []models.PostImage{
		{URL: "https://cdn.example.com/user-2/a.png", StoragePath: "user-2/a.png"},
		{URL: "https://cdn.example.com/user-1/../user-2/a.png", StoragePath: "user-1/../user-2/a.png"},
		{URL: "https://cdn.example.com/user-10/a.png", StoragePath: "user-10/a.png"},
	}, false)
	assert.Empty(t, out)
}
