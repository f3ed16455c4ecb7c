// Package server contains the HTTP and WebSocket handlers of the post API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/inaciofernandocosta/engage-linked-in-now/docs" // swagger docs
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/notifications"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/service"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/sweeper"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators of a Server.
type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Posts   *service.PostService
	Sweeper *sweeper.Sweeper
	// Bus feeds the live post stream. Optional.
	Bus events.Bus
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	posts          *service.PostService
	sweeper        *sweeper.Sweeper
	hub            *notifications.Hub
}

// NewServerWithDeps creates a Server using already-initialized dependencies
// and subscribes the live stream hub to the bus.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil || deps.Posts == nil {
		return nil, errors.New("server requires a database and a post service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.InitMetrics("engage-api"),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		posts:          deps.Posts,
		sweeper:        deps.Sweeper,
	}

	if deps.Bus != nil {
		s.hub = notifications.NewHub()
		if err := deps.Bus.Subscribe(ctx, s.hub.HandleEvent); err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe post stream: %w", err)
		}
	}

	return s, nil
}

// App returns the Fiber app with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName:   "Engage Post API",
		BodyLimit: 16 * 1024 * 1024, // inline data URI images
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Internal-Token, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Preflight and probes are never limited.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Path() == "/health/live" || c.Path() == "/health/ready"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Stored images behind PUBLIC_BASE_URL
	if s.config.MediaDir != "" {
		app.Static("/media", s.config.MediaDir)
	}

	api := app.Group("/api")

	// Operator routes
	internal := api.Group("/internal", middleware.InternalTokenRequired(s.config.InternalToken))
	internal.Post("/sweep", s.RunSweep)
	internal.Post("/posts/:id/deliver", s.DeliverPost)
	internal.Post("/posts/:id/published", s.MarkPublished)

	// Owner routes
	auth := middleware.AuthRequired(s.config.JWTSecret)

	posts := api.Group("/posts", auth)
	posts.Get("/", s.ListPosts)
	posts.Post("/", s.CreatePost)
	posts.Delete("/", s.DeletePosts)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Post("/:id/approve", s.ApprovePost)
	posts.Post("/:id/schedule", s.SchedulePost)
	posts.Delete("/:id/schedule", s.UnschedulePost)
	posts.Post("/:id/duplicate", s.DuplicatePost)
	posts.Get("/:id/delivery", s.GetDeliveryStatus)
	posts.Get("/:id", s.GetPost)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	api.Get("/stats", auth, s.GetStatistics)
	api.Post("/webhooks/test", auth, s.TestWebhook)

	// Live post changes, authenticated with ?token=
	api.Get("/ws/posts", auth, s.PostStreamHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional; it is
// only checked when configured.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server. The database, Redis and bus are
// owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop the stream subscription
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Close WebSocket connections gracefully
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			middleware.Logger.Warn("error shutting down post stream", slog.String("error", err.Error()))
		}
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
