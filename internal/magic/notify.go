package magic

import (
	"context"
	"log/slog"

	"github.com/starford/magic/internal/models"
)

// Notifier delivers user-visible notifications.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n models.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n models.Notification) { f(ctx, n) }

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n models.Notification) {
	level := slog.LevelInfo
	if n.Level == models.LevelError {
		level = slog.LevelError
	}
	l.Logger.Log(ctx, level, "notify",
		slog.String("level", n.Level),
		slog.String("message", n.Message),
		slog.String("invocation_id", n.InvocationID))
}

// Fanout delivers every notification to each of its notifiers in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, n models.Notification) {
	for _, nt := range f {
		nt.Notify(ctx, n)
	}
}
