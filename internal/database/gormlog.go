package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SlowQueryThreshold marks a query as slow in logs and metrics.
const SlowQueryThreshold = 200 * time.Millisecond

// GormLogger sends GORM output through slog and times every query into
// observability.DBQueryDuration, whatever the log level.
type GormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

// NewGormLogger logs warnings, errors and slow queries through l.
func NewGormLogger(l *slog.Logger) *GormLogger {
	return &GormLogger{log: l, level: logger.Warn, slow: SlowQueryThreshold}
}

// LogMode returns a copy logging at level.
func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		g.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		g.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		g.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace is called by GORM after every statement.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := g.slow > 0 && elapsed > g.slow

	outcome := "ok"
	switch {
	case failed:
		outcome = "error"
	case slow:
		outcome = "slow"
	}
	observability.DBQueryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if g.level <= logger.Silent {
		return
	}

	var (
		level slog.Level
		msg   string
	)
	switch {
	case failed && g.level >= logger.Error:
		level, msg = slog.LevelError, "database query failed"
	case slow && g.level >= logger.Warn:
		level, msg = slog.LevelWarn, "slow database query"
	case g.level >= logger.Info:
		level, msg = slog.LevelDebug, "database query"
	default:
		return
	}

	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if failed {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	g.log.LogAttrs(ctx, level, msg, attrs...)
}
