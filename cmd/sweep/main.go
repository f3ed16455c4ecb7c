// Command sweep runs a single sweep and prints its summary as JSON. It exits
// non-zero when the sweep could not run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/bootstrap"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Maximum time for the sweep and its deliveries")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{
		ServiceName: "engage-sweep",
		Deliver:     cfg.EventBus == config.EventBusMemory,
	})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, sweepErr := rt.Sweeper.Sweep(ctx)

	// Close waits for deliveries triggered by this sweep.
	if err := rt.Close(ctx); err != nil {
		log.Printf("Runtime shutdown error: %v", err)
	}

	if sweepErr != nil {
		log.Printf("Sweep failed: %v", sweepErr)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}
}
