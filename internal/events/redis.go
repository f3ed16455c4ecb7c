package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RedisChannel is the pub/sub channel carrying post changes.
	RedisChannel = "posts:changes"
	// ClaimTTL is how long a queue group's claim on an event is kept.
	ClaimTTL = 24 * time.Hour
)

// envelope carries the trace context next to the event on Redis.
type envelope struct {
	Event PostChanged       `json:"event"`
	Trace map[string]string `json:"trace,omitempty"`
}

// RedisBus fans events out through Redis pub/sub so every instance sees them.
// Queue group members all receive each message and race on a SETNX claim, so
// exactly one of them runs its handler.
type RedisBus struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	cancel []context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewRedisBus returns a bus on rdb. A nil client makes Publish a no-op.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// Publish encodes event and publishes it on RedisChannel.
func (b *RedisBus) Publish(ctx context.Context, event PostChanged) error {
	if b.rdb == nil {
		return nil
	}

	env := envelope{Event: event, Trace: map[string]string{}}
	observability.InjectTrace(ctx, propagation.MapCarrier(env.Trace))
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode post event: %w", err)
	}
	if err := b.rdb.Publish(ctx, RedisChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish post event: %w", err)
	}
	observability.EventsPublished.WithLabelValues(BusRedis, string(event.Kind)).Inc()
	return nil
}

// Subscribe starts a subscriber goroutine calling handler for every event.
// It returns once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	return b.subscribe(ctx, "", handler)
}

// SubscribeQueue is Subscribe for a member of group.
func (b *RedisBus) SubscribeQueue(ctx context.Context, group string, handler Handler) error {
	return b.subscribe(ctx, group, handler)
}

func (b *RedisBus) subscribe(ctx context.Context, group string, handler Handler) error {
	if b.rdb == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := b.rdb.Subscribe(subCtx, RedisChannel)
	if _, err := sub.Receive(subCtx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", RedisChannel, err)
	}
	b.subs = append(b.subs, sub)
	b.cancel = append(b.cancel, cancel)

	ch := sub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleMessage(subCtx, group, handler, msg.Payload)
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-subCtx.Done():
		}
	}()

	return nil
}

func (b *RedisBus) handleMessage(ctx context.Context, group string, handler Handler, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		middleware.Logger.WarnContext(ctx, "dropping malformed post event",
			slog.String("channel", RedisChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	span, msgCtx := observability.NewRemoteSpan(ctx, "events.redis.consume",
		trace.SpanKindConsumer, propagation.MapCarrier(env.Trace))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer span.End()
		if group != "" && !b.claim(msgCtx, group, env.Event) {
			return
		}
		dispatch(msgCtx, BusRedis, handler, env.Event)
	}()
}

// claim reports whether this subscriber won group's claim on event. When
// Redis cannot answer the event is handled anyway.
func (b *RedisBus) claim(ctx context.Context, group string, event PostChanged) bool {
	won, err := b.rdb.SetNX(ctx, claimKey(group, event), 1, ClaimTTL).Result()
	if err != nil {
		middleware.Logger.WarnContext(ctx, "event claim failed, handling anyway",
			slog.String("group", group),
			slog.String("post_id", event.ID),
			slog.String("error", err.Error()),
		)
		return true
	}
	return won
}

func claimKey(group string, event PostChanged) string {
	id := event.EventID
	if id == "" {
		id = event.ID + ":" + string(event.Kind) + ":" + strconv.FormatInt(event.OccurredAt.UnixNano(), 10)
	}
	return "events:claim:" + group + ":" + id
}

// Close stops all subscribers and waits for running handlers.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, cancel := range b.cancel {
		cancel()
	}
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs, b.cancel = nil, nil
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
