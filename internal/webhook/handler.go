package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/events"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/lifecycle"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"
)

// DeliveryGroup is the queue group delivery handlers join, so replicas split
// approvals instead of each posting every one.
const DeliveryGroup = "webhook-delivery"

// Deliverer delivers one post to one webhook.
type Deliverer interface {
	Deliver(ctx context.Context, post *models.Post, webhookURL string) (*DeliveryResult, error)
}

// ApprovalHandler returns a bus handler delivering every post that changes
// into approved. Posts without a webhook URL are skipped. deadline bounds a
// single delivery including retries; zero means no extra bound.
func ApprovalHandler(d Deliverer, deadline time.Duration) events.Handler {
	return func(ctx context.Context, ev events.PostChanged) error {
		if ev.Kind == events.KindDeleted || !lifecycle.TriggersDelivery(ev.Old, ev.New) {
			return nil
		}
		ctx = middleware.WithPostID(ctx, ev.ID)
		if !ev.New.HasWebhook() {
			middleware.Logger.InfoContext(ctx, "approved post has no webhook url, skipping delivery",
				slog.String("post_id", ev.ID))
			return nil
		}

		if deadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deadline)
			defer cancel()
		}
		_, err := d.Deliver(ctx, ev.New, ev.New.WebhookURL)
		return err
	}
}
