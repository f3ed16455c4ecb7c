package server

import (
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Content      string             `json:"content"`
	Images       []models.PostImage `json:"images"`
	Status       string             `json:"status"`
	ScheduledFor *time.Time         `json:"scheduled_for"`
	WebhookURL   string             `json:"webhook_url"`
	ImportImages bool               `json:"import_images"`
}

type updatePostRequest struct {
	Content      *string             `json:"content"`
	Images       *[]models.PostImage `json:"images"`
	ImportImages bool                `json:"import_images"`
}

type scheduleRequest struct {
	ScheduledFor *time.Time `json:"scheduled_for"`
}

type testWebhookRequest struct {
	URL string `json:"url"`
}

// CreatePost handles POST /api/posts
// @Summary Create post
// @Description Create a pending, scheduled or immediately approved post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostRequest true "Post"
// @Success 201 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	post, err := s.posts.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:       currentUserID(c),
		Content:      req.Content,
		Images:       req.Images,
		Status:       req.Status,
		ScheduledFor: req.ScheduledFor,
		WebhookURL:   req.WebhookURL,
		ImportImages: req.ImportImages,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// ListPosts handles GET /api/posts?status=&limit=&offset=
func (s *Server) ListPosts(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPageSize)
	posts, err := s.posts.ListPosts(c.UserContext(), service.ListPostsInput{
		UserID: currentUserID(c),
		Status: c.Query("status"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondError(c, err)
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return c.JSON(posts)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.posts.GetPost(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var req updatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	post, err := s.posts.UpdatePost(c.UserContext(), service.UpdatePostInput{
		UserID:       currentUserID(c),
		PostID:       c.Params("id"),
		Content:      req.Content,
		Images:       req.Images,
		ImportImages: req.ImportImages,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	post, err := s.posts.DeletePost(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Post deleted successfully",
		"id":      post.ID,
	})
}

// DeletePosts handles DELETE /api/posts. Without a status every post of the
// caller is removed.
func (s *Server) DeletePosts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var (
		n   int
		err error
	)
	if status := c.Query("status"); status != "" {
		n, err = s.posts.DeletePostsByStatus(ctx, userID, status, c.QueryBool("scheduled_only", false))
	} else {
		n, err = s.posts.DeleteAllPosts(ctx, userID)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}

// ApprovePost handles POST /api/posts/:id/approve
// @Summary Approve post
// @Description Move a pending post to approved, which triggers webhook delivery
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /posts/{id}/approve [post]
func (s *Server) ApprovePost(c *fiber.Ctx) error {
	post, err := s.posts.ApprovePost(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// SchedulePost handles POST /api/posts/:id/schedule
func (s *Server) SchedulePost(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if req.ScheduledFor == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("scheduled_for is required"))
	}

	post, err := s.posts.SchedulePost(c.UserContext(), currentUserID(c), c.Params("id"), *req.ScheduledFor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// UnschedulePost handles DELETE /api/posts/:id/schedule
func (s *Server) UnschedulePost(c *fiber.Ctx) error {
	post, err := s.posts.UnschedulePost(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DuplicatePost handles POST /api/posts/:id/duplicate
func (s *Server) DuplicatePost(c *fiber.Ctx) error {
	post, err := s.posts.DuplicatePost(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetDeliveryStatus handles GET /api/posts/:id/delivery
func (s *Server) GetDeliveryStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := s.posts.DeliveryStatus(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"post_id":  id,
		"delivery": rec,
	})
}

// GetStatistics handles GET /api/stats
func (s *Server) GetStatistics(c *fiber.Ctx) error {
	stats, err := s.posts.Statistics(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// TestWebhook handles POST /api/webhooks/test. An empty url tests the
// default webhook.
func (s *Server) TestWebhook(c *fiber.Ctx) error {
	var req testWebhookRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c)
		}
	}

	report, err := s.posts.TestWebhook(c.UserContext(), req.URL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
