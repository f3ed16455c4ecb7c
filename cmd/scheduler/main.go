// Command scheduler approves due scheduled posts on SWEEP_SCHEDULE.
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
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/sweeper"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// On a shared bus the API process delivers; in-process events have no
	// other subscriber.
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{
		ServiceName: "engage-scheduler",
		Deliver:     cfg.EventBus == config.EventBusMemory,
	})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	sched, err := sweeper.NewScheduler(rt.Sweeper, cfg.SweepSchedule, time.Minute)
	if err != nil {
		_ = rt.Close(context.Background())
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		_ = rt.Close(context.Background())
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Printf("Sweeping on schedule %q", cfg.SweepSchedule)

	<-ctx.Done()
	log.Println("Shutting down scheduler...")

	if err := sched.Stop(); err != nil {
		log.Printf("Scheduler stop error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		log.Printf("Runtime shutdown error: %v", err)
	}
}
