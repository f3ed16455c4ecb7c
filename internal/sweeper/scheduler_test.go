package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	sw := New(&stubStore{}, &recordingPublisher{})
	_, err := NewScheduler(sw, "every minute please", 0)
	assert.Error(t, err)
}

func TestScheduler_RunsSweeps(t *testing.T) {
	var calls atomic.Int32
	store := &stubStore{
		FindDueFn: func(context.Context, time.Time, int) ([]*models.Post, error) {
			calls.Add(1)
			return []*models.Post{duePost("a")}, nil
		},
		ApproveDueFn: approveAll,
	}
	pub := &recordingPublisher{}

	s, err := NewScheduler(New(store, pub), "@every 1s", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.NotEmpty(t, pub.events)
}

func TestScheduler_RunOnce(t *testing.T) {
	store := &stubStore{
		FindDueFn: func(ctx context.Context, _ time.Time, _ int) ([]*models.Post, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil, nil
		},
		ApproveDueFn: approveAll,
	}

	s, err := NewScheduler(New(store, &recordingPublisher{}), "@every 1m", time.Second)
	require.NoError(t, err)

	sum, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.NotNil(t, sum.Errors)
}
