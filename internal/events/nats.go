package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NatsSubject is the subject carrying post changes.
const NatsSubject = "posts.changes"

// NatsBus publishes post changes on NATS with the trace context in the
// message headers.
type NatsBus struct {
	nc       *nats.Conn
	ownsConn bool

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	wg     sync.WaitGroup
}

// NewNatsBus returns a bus on nc. When ownsConn is set Close drains the connection.
func NewNatsBus(nc *nats.Conn, ownsConn bool) *NatsBus {
	return &NatsBus{nc: nc, ownsConn: ownsConn}
}

// Publish encodes event and publishes it on NatsSubject.
func (b *NatsBus) Publish(ctx context.Context, event PostChanged) error {
	if b.nc == nil {
		return nil
	}
	msg, err := newNatsMsg(ctx, event)
	if err != nil {
		return err
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish post event: %w", err)
	}
	observability.EventsPublished.WithLabelValues(BusNATS, string(event.Kind)).Inc()
	return nil
}

func newNatsMsg(ctx context.Context, event PostChanged) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode post event: %w", err)
	}
	msg := &nats.Msg{
		Subject: NatsSubject,
		Data:    data,
		Header:  nats.Header{},
	}
	observability.InjectTrace(ctx, propagation.HeaderCarrier(msg.Header))
	return msg, nil
}

// Subscribe registers handler on NatsSubject.
func (b *NatsBus) Subscribe(_ context.Context, handler Handler) error {
	return b.subscribe("", handler)
}

// SubscribeQueue registers handler in the NATS queue group named group.
func (b *NatsBus) SubscribeQueue(_ context.Context, group string, handler Handler) error {
	return b.subscribe(group, handler)
}

func (b *NatsBus) subscribe(group string, handler Handler) error {
	if b.nc == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	cb := func(msg *nats.Msg) { b.handleMsg(handler, msg) }
	var (
		sub *nats.Subscription
		err error
	)
	if group == "" {
		sub, err = b.nc.Subscribe(NatsSubject, cb)
	} else {
		sub, err = b.nc.QueueSubscribe(NatsSubject, group, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", NatsSubject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *NatsBus) handleMsg(handler Handler, msg *nats.Msg) {
	span, ctx := observability.NewRemoteSpan(context.Background(), "events.nats.consume",
		trace.SpanKindConsumer, propagation.HeaderCarrier(msg.Header))

	var event PostChanged
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.SetError(err)
		span.End()
		middleware.Logger.WarnContext(ctx, "dropping malformed post event",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer span.End()
		dispatch(ctx, BusNATS, handler, event)
	}()
}

// Close unsubscribes, waits for running handlers and drains an owned connection.
func (b *NatsBus) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	if b.ownsConn && b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
