// Package seed creates demo posts for development databases. It is not used
// by the API at runtime.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Distribution is the share of each kind of post, in percent.
type Distribution struct {
	Pending   int
	Scheduled int
	Overdue   int
	Approved  int
	Published int
}

var defaultDistribution = Distribution{Pending: 40, Scheduled: 20, Overdue: 10, Approved: 20, Published: 10}

// Options tune generated data.
type Options struct {
	// MaxDays bounds how far back created_at is spread.
	MaxDays int
	// WebhookURL is captured on every generated post when set.
	WebhookURL string
	// Seed makes output reproducible when non-zero.
	Seed      int64
	BatchSize int
}

// Seeder writes generated posts through GORM.
type Seeder struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
}

// NewSeeder returns a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	gofakeit.Seed(seed)
	return &Seeder{db: db, opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// computeCounts splits n posts across the distribution; rounding leftovers go
// to pending.
func computeCounts(n int, d Distribution) (pending, scheduled, overdue, approved, published int) {
	scheduled = n * d.Scheduled / 100
	overdue = n * d.Overdue / 100
	approved = n * d.Approved / 100
	published = n * d.Published / 100
	pending = n - scheduled - overdue - approved - published
	return
}

// BuildPost constructs an unsaved post for userID in the given status.
func (s *Seeder) BuildPost(userID string, status models.PostStatus, overrides ...func(*models.Post)) *models.Post {
	content := gofakeit.Paragraph(1, 3, 8, "\n\n")
	if len(content) > models.MaxContentLength {
		content = strings.TrimSpace(content[:models.MaxContentLength])
	}

	post := &models.Post{
		UserID:     userID,
		Content:    content,
		Status:     status,
		WebhookURL: s.opts.WebhookURL,
		Images:     datatypes.JSONSlice[models.PostImage]{},
	}

	daysBack := s.rng.Intn(s.opts.MaxDays)
	hoursBack := s.rng.Intn(24)
	post.CreatedAt = time.Now().UTC().Add(-time.Duration(daysBack)*24*time.Hour - time.Duration(hoursBack)*time.Hour)

	for i := 0; i < s.rng.Intn(3); i++ {
		post.Images = append(post.Images, models.PostImage{
			URL:  fmt.Sprintf("https://picsum.photos/seed/%s/1200/627", gofakeit.UUID()),
			Name: fmt.Sprintf("image-%d.jpg", i+1),
		})
	}

	for _, override := range overrides {
		override(post)
	}
	return post
}

// SeedPosts creates n posts for userID spread across the lifecycle: drafts,
// future schedules, schedules already due for the sweeper, approved and
// published posts.
func (s *Seeder) SeedPosts(userID string, n int) ([]*models.Post, error) {
	if userID == "" {
		return nil, fmt.Errorf("seed: user id is required")
	}
	pending, scheduled, overdue, approved, published := computeCounts(n, defaultDistribution)
	now := time.Now().UTC()

	posts := make([]*models.Post, 0, n)
	for i := 0; i < pending; i++ {
		posts = append(posts, s.BuildPost(userID, models.PostStatusPending))
	}
	for i := 0; i < scheduled; i++ {
		at := now.Add(time.Duration(1+s.rng.Intn(14*24)) * time.Hour)
		posts = append(posts, s.BuildPost(userID, models.PostStatusPending, func(p *models.Post) { p.ScheduledFor = &at }))
	}
	for i := 0; i < overdue; i++ {
		at := now.Add(-time.Duration(1+s.rng.Intn(120)) * time.Minute)
		posts = append(posts, s.BuildPost(userID, models.PostStatusPending, func(p *models.Post) { p.ScheduledFor = &at }))
	}
	for i := 0; i < approved; i++ {
		posts = append(posts, s.BuildPost(userID, models.PostStatusApproved))
	}
	for i := 0; i < published; i++ {
		posts = append(posts, s.BuildPost(userID, models.PostStatusPublished))
	}

	if len(posts) == 0 {
		return posts, nil
	}
	if err := s.db.CreateInBatches(posts, s.opts.BatchSize).Error; err != nil {
		return nil, fmt.Errorf("seed posts: %w", err)
	}
	log.Printf("✅ Created %d posts for %s (%d pending, %d scheduled, %d overdue, %d approved, %d published)",
		len(posts), userID, pending, scheduled, overdue, approved, published)
	return posts, nil
}

// ClearUser deletes every post owned by userID.
func (s *Seeder) ClearUser(userID string) (int64, error) {
	res := s.db.Where("user_id = ?", userID).Delete(&models.Post{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear posts for %s: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}
