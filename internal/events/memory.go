package events

import (
	"context"
	"sync"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"
)

// MemoryBus delivers events to in-process handlers. Each handler runs on its
// own goroutine detached from the publisher's cancellation.
type MemoryBus struct {
	mu       sync.Mutex
	handlers []Handler
	groups   map[string]*memoryGroup
	order    []string
	closed   bool
	wg       sync.WaitGroup
}

// memoryGroup hands events to its members in turn.
type memoryGroup struct {
	handlers []Handler
	next     int
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{groups: map[string]*memoryGroup{}}
}

// Publish schedules every subscribed handler and one member of each queue
// group for event.
func (b *MemoryBus) Publish(ctx context.Context, event PostChanged) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	observability.EventsPublished.WithLabelValues(BusMemory, string(event.Kind)).Inc()
	detached := context.WithoutCancel(ctx)
	targets := append([]Handler(nil), b.handlers...)
	for _, name := range b.order {
		g := b.groups[name]
		targets = append(targets, g.handlers[g.next%len(g.handlers)])
		g.next++
	}
	for _, h := range targets {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			dispatch(detached, BusMemory, h, event)
		}(h)
	}
	return nil
}

// Subscribe registers handler for all future events.
func (b *MemoryBus) Subscribe(_ context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

// SubscribeQueue adds handler to group.
func (b *MemoryBus) SubscribeQueue(_ context.Context, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	g, ok := b.groups[group]
	if !ok {
		g = &memoryGroup{}
		b.groups[group] = g
		b.order = append(b.order, group)
	}
	g.handlers = append(g.handlers, handler)
	return nil
}

// Close rejects new events and waits for running handlers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
