package server

import (
	"log/slog"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// RunSweep handles POST /api/internal/sweep. A store outage answers 503 and
// any other fatal error 500; per-row failures are part of the 200 summary.
// @Summary Run scheduled-post sweep
// @Tags internal
// @Produce json
// @Param X-Internal-Token header string true "Internal token"
// @Success 200 {object} sweeper.Summary
// @Failure 500 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /internal/sweep [post]
func (s *Server) RunSweep(c *fiber.Ctx) error {
	if s.sweeper == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewConfigurationError("Sweeper is not configured", nil))
	}

	summary, err := s.sweeper.Sweep(c.UserContext())
	if err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "sweep failed", slog.String("error", err.Error()))
		if repository.IsUnavailable(err) {
			return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewStoreUnavailableError(err))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(summary)
}

// DeliverPost handles POST /api/internal/posts/:id/deliver
func (s *Server) DeliverPost(c *fiber.Ctx) error {
	res, err := s.posts.DeliverPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// MarkPublished handles POST /api/internal/posts/:id/published
func (s *Server) MarkPublished(c *fiber.Ctx) error {
	post, err := s.posts.MarkPublished(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}
