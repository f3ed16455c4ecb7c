// Command server runs the post API, the live post stream and webhook delivery.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/bootstrap"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/server"
)

// @title Engage Post API
// @version 1.0
// @description Scheduled LinkedIn post drafts, approval and webhook delivery
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@engage.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// The API process always delivers webhooks for approvals it observes.
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{ServiceName: "engage-api", Deliver: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	srv, err := server.NewServerWithDeps(cfg, server.Deps{
		DB:      rt.DB,
		Redis:   rt.Redis,
		Posts:   rt.Posts,
		Sweeper: rt.Sweeper,
		Bus:     rt.Bus,
	})
	if err != nil {
		_ = rt.Close(context.Background())
		log.Fatalf("Failed to create server: %v", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		// Waits for in-flight webhook deliveries before closing connections.
		if err := rt.Close(ctx); err != nil {
			log.Printf("Runtime shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	<-done
}
