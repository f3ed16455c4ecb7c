package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("sweep scheduler already running")

// ErrNotRunning is returned when stopping an idle scheduler.
var ErrNotRunning = errors.New("sweep scheduler not running")

// Scheduler runs sweeps on a cron schedule. Overlapping runs are skipped and
// a panicking run does not stop the schedule.
type Scheduler struct {
	sweeper *Sweeper
	spec    string
	timeout time.Duration
	cron    *cron.Cron

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler validates spec ("@every 1m", "*/5 * * * *") and returns a
// stopped scheduler. Each run is bounded by timeout when positive.
func NewScheduler(sw *Sweeper, spec string, timeout time.Duration) (*Scheduler, error) {
	logger := cronLogger{l: middleware.Logger}
	s := &Scheduler{
		sweeper: sw,
		spec:    spec,
		timeout: timeout,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. Runs stop when ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	middleware.Logger.Info("sweep scheduler started", slog.String("schedule", s.spec))
	return nil
}

// Stop cancels in-flight sweeps and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	middleware.Logger.Info("sweep scheduler stopped")
	return nil
}

// IsRunning reports the scheduler state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce performs a sweep immediately, outside the schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.sweeper.Sweep(ctx)
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Sweep logs its own summary.
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		middleware.Logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
