// Command seed fills the database with demo posts.
package main

import (
	"flag"
	"log"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/database"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/seed"
)

func main() {
	userID := flag.String("user", "demo-user", "Owner of the generated posts")
	numPosts := flag.Int("posts", 50, "Number of posts to create")
	shouldClean := flag.Bool("clean", true, "Delete the user's posts before seeding")
	webhookURL := flag.String("webhook", "", "Webhook URL captured on every post")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d posts for %s, clean=%v\n", *numPosts, *userID, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{WebhookURL: *webhookURL})

	if *shouldClean {
		n, err := s.ClearUser(*userID)
		if err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
		log.Printf("Removed %d existing posts", n)
	}

	if _, err := s.SeedPosts(*userID, *numPosts); err != nil {
		log.Fatalf("❌ Post seeding failed: %v", err)
	}

	log.Println("✨ All done! Your database is now populated with test data.")
}
