// Package events carries post change notifications between the store writers
// and the components reacting to them (webhook delivery, live streams).
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Kind is the type of row change.
type Kind string

const (
	KindInserted Kind = "inserted"
	KindUpdated  Kind = "updated"
	KindDeleted  Kind = "deleted"
)

// Bus implementation names accepted by Open.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// PostChanged describes a committed change to a post row. Old is nil for
// inserts and New is nil for deletes. EventID is unique per change.
type PostChanged struct {
	EventID    string       `json:"event_id"`
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Old        *models.Post `json:"old,omitempty"`
	New        *models.Post `json:"new,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Inserted builds the event for a created post.
func Inserted(post *models.Post) PostChanged {
	return PostChanged{EventID: uuid.NewString(), ID: post.ID, Kind: KindInserted, New: post.Clone(), OccurredAt: time.Now().UTC()}
}

// Updated builds the event for a post changed from old to updated.
func Updated(old, updated *models.Post) PostChanged {
	return PostChanged{EventID: uuid.NewString(), ID: updated.ID, Kind: KindUpdated, Old: old.Clone(), New: updated.Clone(), OccurredAt: time.Now().UTC()}
}

// Deleted builds the event for a removed post.
func Deleted(post *models.Post) PostChanged {
	return PostChanged{EventID: uuid.NewString(), ID: post.ID, Kind: KindDeleted, Old: post.Clone(), OccurredAt: time.Now().UTC()}
}

// UserID returns the owner of the changed post.
func (e PostChanged) UserID() string {
	if e.New != nil {
		return e.New.UserID
	}
	if e.Old != nil {
		return e.Old.UserID
	}
	return ""
}

// Handler reacts to a change. Returned errors are logged by the bus.
type Handler func(ctx context.Context, event PostChanged) error

// Publisher emits post change events.
type Publisher interface {
	Publish(ctx context.Context, event PostChanged) error
}

// Bus is a Publisher that also fans events out to subscribed handlers.
//
// Subscribe handlers see every event in every process. SubscribeQueue handlers
// sharing a group split the events: each one is handled by a single member of
// the group across all processes on the bus.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, handler Handler) error
	SubscribeQueue(ctx context.Context, group string, handler Handler) error
	Close() error
}

// Open builds the bus named by kind.
func Open(kind string, rdb *redis.Client, natsURL string) (Bus, error) {
	switch kind {
	case "", BusMemory:
		return NewMemoryBus(), nil
	case BusRedis:
		if rdb == nil {
			return nil, fmt.Errorf("event bus %q requires redis", kind)
		}
		return NewRedisBus(rdb), nil
	case BusNATS:
		nc, err := nats.Connect(natsURL, nats.Name("engage-events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return NewNatsBus(nc, true), nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", kind)
	}
}

// dispatch runs handler with panic recovery and error accounting.
func dispatch(ctx context.Context, bus string, handler Handler, event PostChanged) {
	defer func() {
		if r := recover(); r != nil {
			observability.EventHandlerErrors.WithLabelValues(bus).Inc()
			middleware.Logger.ErrorContext(ctx, "panic in post event handler",
				slog.String("bus", bus),
				slog.String("post_id", event.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := handler(ctx, event); err != nil {
		observability.EventHandlerErrors.WithLabelValues(bus).Inc()
		middleware.Logger.ErrorContext(ctx, "post event handler failed",
			slog.String("bus", bus),
			slog.String("post_id", event.ID),
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
