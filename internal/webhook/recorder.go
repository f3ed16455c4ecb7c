package webhook

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// DeliveryRecordTTL is how long delivery outcomes are kept in Redis.
const DeliveryRecordTTL = 7 * 24 * time.Hour

// DeliveryKey returns the Redis hash holding the last delivery outcome of a post.
func DeliveryKey(postID string) string {
	return "webhook:delivery:" + postID
}

// Recorder keeps the last delivery outcome per post in Redis. A nil Recorder
// or a Recorder without a client records nothing.
type Recorder struct {
	rdb *redis.Client
}

// NewRecorder returns a Recorder on rdb.
func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb}
}

// RecordSuccess stores a delivered outcome.
func (r *Recorder) RecordSuccess(ctx context.Context, res *DeliveryResult) {
	r.write(ctx, res.PostID, map[string]any{
		"status":       "delivered",
		"attempts":     res.Attempts,
		"status_code":  res.StatusCode,
		"delivered_at": res.DeliveredAt.Format(time.RFC3339Nano),
		"error":        "",
	})
}

// RecordFailure stores a failed outcome.
func (r *Recorder) RecordFailure(ctx context.Context, postID string, attempts, statusCode int, err error) {
	r.write(ctx, postID, map[string]any{
		"status":       "failed",
		"attempts":     attempts,
		"status_code":  statusCode,
		"delivered_at": "",
		"error":        err.Error(),
	})
}

func (r *Recorder) write(ctx context.Context, postID string, fields map[string]any) {
	if r == nil || r.rdb == nil {
		return
	}
	key := DeliveryKey(postID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, DeliveryRecordTTL)
		return nil
	})
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to record webhook delivery",
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
}

// DeliveryRecord is the stored outcome of the last delivery of a post.
type DeliveryRecord struct {
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	StatusCode  int    `json:"status_code"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Last returns the recorded outcome for postID, or nil when none exists.
func (r *Recorder) Last(ctx context.Context, postID string) (*DeliveryRecord, error) {
	if r == nil || r.rdb == nil {
		return nil, nil
	}
	vals, err := r.rdb.HGetAll(ctx, DeliveryKey(postID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	statusCode, _ := strconv.Atoi(vals["status_code"])
	return &DeliveryRecord{
		Status:      vals["status"],
		Attempts:    attempts,
		StatusCode:  statusCode,
		DeliveredAt: vals["delivered_at"],
		Error:       vals["error"],
	}, nil
}
