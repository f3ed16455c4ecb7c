// Package bootstrap wires configuration, storage, the event bus and the post
// services into a runtime shared by every command.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/cache"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/database"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/images"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/repository"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/service"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/storage"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/sweeper"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/webhook"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ServiceName labels traces and metrics.
	ServiceName string
	// Deliver subscribes the webhook approval handler to the bus. Exactly one
	// kind of process should deliver for a shared bus.
	Deliver bool
}

// Runtime holds the initialized dependencies of a process.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Bus      events.Bus
	Store    *storage.FileStore
	Notifier *webhook.Notifier
	Posts    *service.PostService
	Sweeper  *sweeper.Sweeper

	cancel          context.CancelFunc
	shutdownTracing func(context.Context) error
}

// InitRuntime connects to the database, Redis and the bus and builds the services.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "engage-api"
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    opts.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional unless the bus runs on it.
	rdb := cache.Connect(cfg.RedisURL)

	bus, err := events.Open(cfg.EventBus, rdb, cfg.NATSURL)
	if err != nil {
		closeDB(db)
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		Config:          cfg,
		DB:              db,
		Redis:           rdb,
		Bus:             bus,
		cancel:          cancel,
		shutdownTracing: shutdownTracing,
	}
	rt.build()

	if opts.Deliver {
		handler := webhook.ApprovalHandler(rt.Notifier, cfg.WebhookDeliveryDeadline)
		if err := bus.SubscribeQueue(ctx, webhook.DeliveryGroup, handler); err != nil {
			_ = rt.Close(context.Background())
			return nil, fmt.Errorf("subscribe webhook delivery: %w", err)
		}
		middleware.Logger.Info("webhook delivery subscribed", slog.String("bus", cfg.EventBus))
	}

	return rt, nil
}

// build creates the storage, delivery and service layers over the connections.
func (rt *Runtime) build() {
	cfg := rt.Config
	posts := repository.NewPostRepository(rt.DB)

	rt.Store = storage.NewFileStore(cfg.MediaDir, cfg.PublicBaseURL, repository.NewStoredObjectRepository(rt.DB))
	recorder := webhook.NewRecorder(rt.Redis)
	rt.Notifier = webhook.NewNotifier(&http.Client{}, images.NewResolver(rt.Store), recorder, webhook.Options{
		MaxAttempts: cfg.WebhookMaxAttempts,
		BaseDelay:   cfg.WebhookBaseDelay,
		Timeout:     cfg.WebhookTimeout,
		AuthToken:   cfg.WebhookAuthToken,
	})

	rt.Posts = service.NewPostService(service.PostServiceDeps{
		Repo:              posts,
		Publisher:         rt.Bus,
		Images:            images.NewImporter(rt.Store, nil, cfg.MaxImageBytes),
		Objects:           rt.Store,
		Webhooks:          rt.Notifier,
		Deliveries:        recorder,
		Redis:             rt.Redis,
		DefaultWebhookURL: cfg.DefaultWebhookURL,
	})
	rt.Sweeper = sweeper.New(posts, rt.Bus, sweeper.WithBatchLimit(cfg.SweepBatchLimit))
}

// Close stops subscriptions, waits for in-flight deliveries and releases
// connections.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.Bus != nil {
		if err := rt.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	closeDB(rt.DB)
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Warn("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
}
