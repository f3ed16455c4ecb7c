package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/database"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/notifications"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/service"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/sweeper"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/webhook"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testSecret        = "test-secret"
	testInternalToken = "internal-token"
	testHookURL       = "https://hooks.example.com/linkedin"
)

type webhookStub struct {
	deliverFn  func(ctx context.Context, post *models.Post, url string) (*webhook.DeliveryResult, error)
	diagnoseFn func(ctx context.Context, url string) (*webhook.Report, error)
}

func (s *webhookStub) Deliver(ctx context.Context, post *models.Post, url string) (*webhook.DeliveryResult, error) {
	if s.deliverFn == nil {
		return &webhook.DeliveryResult{PostID: post.ID, URL: url, StatusCode: http.StatusOK, Attempts: 1}, nil
	}
	return s.deliverFn(ctx, post, url)
}

func (s *webhookStub) Diagnose(ctx context.Context, url string) (*webhook.Report, error) {
	if s.diagnoseFn == nil {
		return &webhook.Report{URL: url, Success: true}, nil
	}
	return s.diagnoseFn(ctx, url)
}

type dueStoreStub struct {
	findDueFn func(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
}

func (s *dueStoreStub) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	return s.findDueFn(ctx, now, limit)
}

func (s *dueStoreStub) ApproveDue(_ context.Context, id string, _ time.Time) (*models.Post, error) {
	return &models.Post{ID: id, Status: models.PostStatusApproved}, nil
}

type testEnv struct {
	server   *Server
	app      *fiber.App
	db       *gorm.DB
	repo     repository.PostRepository
	bus      *events.MemoryBus
	webhooks *webhookStub
}

type envOption func(*Deps)

func withSweeper(sw *sweeper.Sweeper) envOption {
	return func(d *Deps) { d.Sweeper = sw }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	repo := repository.NewPostRepository(db)
	hooks := &webhookStub{}
	posts := service.NewPostService(service.PostServiceDeps{
		Repo:      repo,
		Publisher: bus,
		Webhooks:  hooks,
	})

	deps := Deps{DB: db, Posts: posts, Sweeper: sweeper.New(repo, bus), Bus: bus}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := &config.Config{
		Port:          "0",
		JWTSecret:     testSecret,
		InternalToken: testInternalToken,
	}
	s, err := NewServerWithDeps(cfg, deps)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = bus.Close()
	})

	return &testEnv{server: s, app: s.App(), db: db, repo: repo, bus: bus, webhooks: hooks}
}

func userToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.SignUserToken(testSecret, userID, nil)
	require.NoError(t, err)
	return token
}

// do sends a request as userID ("" for anonymous) and decodes a JSON response into out.
func (e *testEnv) do(t *testing.T, method, path, userID string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+userToken(t, userID))
	}
	if strings.HasPrefix(path, "/api/internal") {
		req.Header.Set("X-Internal-Token", testInternalToken)
	}

	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) createPost(t *testing.T, userID string, body map[string]any) *models.Post {
	t.Helper()
	var post models.Post
	status := e.do(t, http.MethodPost, "/api/posts", userID, body, &post)
	require.Equal(t, http.StatusCreated, status)
	return &post
}

func TestHealthChecks(t *testing.T) {
	env := newTestEnv(t)

	var live map[string]any
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "", nil, &live))
	assert.Equal(t, "up", live["status"])

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "healthy", ready.Status)
	assert.Equal(t, "healthy", ready.Checks["database"])
	assert.Equal(t, "disabled", ready.Checks["redis"])
}

func TestOwnerRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	var body models.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/posts", "", nil, &body))
	assert.Equal(t, models.CodeUnauthorized, body.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePost(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		body           map[string]any
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Pending draft",
			body:           map[string]any{"content": "Shipping the new scheduler today"},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Scheduled draft",
			body: map[string]any{
				"content":       "Later",
				"scheduled_for": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
				"webhook_url":   testHookURL,
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Empty content",
			body:           map[string]any{"content": "   "},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name: "Past schedule",
			body: map[string]any{
				"content":       "Too late",
				"scheduled_for": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Bad webhook",
			body:           map[string]any{"content": "x", "webhook_url": "ftp://nope"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]any
			status := env.do(t, http.MethodPost, "/api/posts", "user-1", tt.body, &raw)
			assert.Equal(t, tt.expectedStatus, status)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, raw["code"])
			} else {
				assert.Equal(t, string(models.PostStatusPending), raw["status"])
				assert.Equal(t, "user-1", raw["user_id"])
			}
		})
	}
}

func TestCreatePost_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1"))
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPost_ScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "mine"})

	var got models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts/"+post.ID, "user-1", nil, &got))
	assert.Equal(t, "mine", got.Content)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/"+post.ID, "user-2", nil, &errBody))
	assert.Equal(t, models.CodeNotFound, errBody.Code)

	var list []models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts", "user-2", nil, &list))
	assert.Empty(t, list)
}

func TestListPosts_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createPost(t, "user-1", map[string]any{"content": "a"})
	env.createPost(t, "user-1", map[string]any{"content": "b", "status": "approved"})

	var approved []models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/posts?status=approved", "user-1", nil, &approved))
	require.Len(t, approved, 1)
	assert.Equal(t, "b", approved[0].Content)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/posts?status=draft", "user-1", nil, &errBody))
}

func TestUpdatePost(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "before"})

	var updated models.Post
	status := env.do(t, http.MethodPut, "/api/posts/"+post.ID, "user-1", map[string]any{"content": "after"}, &updated)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "after", updated.Content)

	approved := env.createPost(t, "user-1", map[string]any{"content": "done", "status": "approved"})
	var errBody models.ErrorResponse
	status = env.do(t, http.MethodPut, "/api/posts/"+approved.ID, "user-1", map[string]any{"content": "edit"}, &errBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.CodeConflict, errBody.Code)
}

func TestApprovePost(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "approve me"})

	var approved models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/approve", "user-1", nil, &approved))
	assert.Equal(t, models.PostStatusApproved, approved.Status)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/approve", "user-1", nil, &errBody))
	assert.Equal(t, models.CodeConflict, errBody.Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/posts/missing/approve", "user-1", nil, &errBody))
}

func TestScheduleAndUnschedule(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "later"})
	path := "/api/posts/" + post.ID + "/schedule"

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, "user-1", map[string]any{}, &errBody))

	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	var scheduled models.Post
	status := env.do(t, http.MethodPost, path, "user-1", map[string]any{"scheduled_for": at.Format(time.RFC3339)}, &scheduled)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, scheduled.ScheduledFor)
	assert.True(t, at.Equal(*scheduled.ScheduledFor))

	var cleared models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, path, "user-1", nil, &cleared))
	assert.Nil(t, cleared.ScheduledFor)
}

func TestDuplicateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "copy me", "status": "approved"})

	var dup models.Post
	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/posts/"+post.ID+"/duplicate", "user-1", nil, &dup))
	assert.NotEqual(t, post.ID, dup.ID)
	assert.Equal(t, models.PostStatusPending, dup.Status)
	assert.Equal(t, "copy me", dup.Content)

	var deleted map[string]any
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/posts/"+post.ID, "user-1", nil, &deleted))
	assert.Equal(t, post.ID, deleted["id"])

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/posts/"+post.ID, "user-1", nil, &errBody))
}

func TestDeletePosts_ByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.createPost(t, "user-1", map[string]any{"content": "draft 1"})
	env.createPost(t, "user-1", map[string]any{"content": "draft 2"})
	env.createPost(t, "user-1", map[string]any{
		"content":       "scheduled",
		"scheduled_for": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	env.createPost(t, "user-1", map[string]any{"content": "approved", "status": "approved"})

	var res struct {
		Deleted int `json:"deleted"`
	}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/posts?status=pending&scheduled_only=true", "user-1", nil, &res))
	assert.Equal(t, 1, res.Deleted)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/posts?status=pending", "user-1", nil, &res))
	assert.Equal(t, 2, res.Deleted)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/api/posts?status=approved&scheduled_only=true", "user-1", nil, &errBody))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/posts", "user-1", nil, &res))
	assert.Equal(t, 1, res.Deleted)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	env.createPost(t, "user-1", map[string]any{"content": "a"})
	env.createPost(t, "user-1", map[string]any{"content": "b", "status": "approved"})

	var stats models.PostStatistics
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/stats", "user-1", nil, &stats))
	assert.EqualValues(t, 2, stats.TotalPosts)
	assert.EqualValues(t, 1, stats.ApprovedPosts)
	assert.EqualValues(t, 50, stats.ApprovalRate)
	assert.EqualValues(t, 2, stats.PostsToday)
}

func TestTestWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.webhooks.diagnoseFn = func(_ context.Context, url string) (*webhook.Report, error) {
		if url == "" {
			return nil, &webhook.ConfigurationError{Reason: "empty url", Err: webhook.ErrNoWebhookURL}
		}
		return &webhook.Report{URL: url, Success: true}, nil
	}

	var report webhook.Report
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/webhooks/test", "user-1", map[string]any{"url": testHookURL}, &report))
	assert.True(t, report.Success)
	assert.Equal(t, testHookURL, report.URL)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/webhooks/test", "user-1", nil, &errBody))
}

func TestInternalRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/internal/sweep", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A user token is not an internal token.
	req = httptest.NewRequest(http.MethodPost, "/api/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user-1"))
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRunSweep_ApprovesDuePosts(t *testing.T) {
	env := newTestEnv(t)
	due := env.createPost(t, "user-1", map[string]any{
		"content":       "due",
		"scheduled_for": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	future := env.createPost(t, "user-1", map[string]any{
		"content":       "future",
		"scheduled_for": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", due.ID).
		Update("scheduled_for", time.Now().Add(-time.Minute).UTC()).Error)

	var summary sweeper.Summary
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/internal/sweep", "", nil, &summary))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, summary.Errors)

	got, err := env.repo.GetByID(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusApproved, got.Status)

	got, err = env.repo.GetByID(context.Background(), future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPending, got.Status)

	// Second run finds nothing.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/internal/sweep", "", nil, &summary))
	assert.Equal(t, 0, summary.Total)
}

func TestRunSweep_FatalErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"Store unavailable", repository.ErrStoreUnavailable, http.StatusServiceUnavailable, models.CodeStoreUnavailable},
		{"Other failure", errors.New("syntax error"), http.StatusInternalServerError, models.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &dueStoreStub{findDueFn: func(context.Context, time.Time, int) ([]*models.Post, error) {
				return nil, tt.err
			}}
			env := newTestEnv(t, withSweeper(sweeper.New(store, events.NewMemoryBus())))

			var errBody models.ErrorResponse
			assert.Equal(t, tt.expectedStatus, env.do(t, http.MethodPost, "/api/internal/sweep", "", nil, &errBody))
			assert.Equal(t, tt.expectedCode, errBody.Code)
		})
	}
}

func TestDeliverPost(t *testing.T) {
	env := newTestEnv(t)
	withHook := env.createPost(t, "user-1", map[string]any{"content": "hook", "webhook_url": testHookURL})
	noHook := env.createPost(t, "user-1", map[string]any{"content": "no hook"})
	_, err := env.repo.Transition(context.Background(), withHook.ID, models.PostStatusPending, models.PostStatusApproved)
	require.NoError(t, err)
	_, err = env.repo.Transition(context.Background(), noHook.ID, models.PostStatusPending, models.PostStatusApproved)
	require.NoError(t, err)

	var res webhook.DeliveryResult
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/internal/posts/"+withHook.ID+"/deliver", "", nil, &res))
	assert.Equal(t, withHook.ID, res.PostID)
	assert.Equal(t, testHookURL, res.URL)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/api/internal/posts/"+noHook.ID+"/deliver", "", nil, &errBody))
	assert.Equal(t, models.CodeConfiguration, errBody.Code)

	env.webhooks.deliverFn = func(context.Context, *models.Post, string) (*webhook.DeliveryResult, error) {
		return nil, &webhook.ClientRejectionError{StatusCode: http.StatusBadRequest, Body: "bad payload"}
	}
	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodPost, "/api/internal/posts/"+withHook.ID+"/deliver", "", nil, &errBody))
	assert.Equal(t, models.CodeDeliveryFailed, errBody.Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/internal/posts/missing/deliver", "", nil, &errBody))
}

func TestMarkPublished(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, "user-1", map[string]any{"content": "live", "status": "approved"})
	pending := env.createPost(t, "user-1", map[string]any{"content": "not yet"})

	var published models.Post
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/internal/posts/"+post.ID+"/published", "", nil, &published))
	assert.Equal(t, models.PostStatusPublished, published.Status)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/internal/posts/"+pending.ID+"/published", "", nil, &errBody))
}

func TestPostStream(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = env.app.Listener(ln) }()

	base := "ws://" + ln.Addr().String() + "/api/ws/posts"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+userToken(t, "user-1"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg notifications.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notifications.TypeSubscribed, msg.Type)

	// Another user's change is not forwarded; the owner's is.
	require.NoError(t, env.bus.Publish(context.Background(), events.Inserted(&models.Post{ID: "other", UserID: "user-2"})))
	require.NoError(t, env.bus.Publish(context.Background(), events.Inserted(&models.Post{ID: "mine", UserID: "user-1"})))

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notifications.TypePostChanged, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "mine", msg.Event.ID)
	assert.Equal(t, events.KindInserted, msg.Event.Kind)
}
