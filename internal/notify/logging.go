package notify

import (
	"context"
	"log/slog"
)

// LoggingDispatcher stands in for push delivery when no broker is configured.
type LoggingDispatcher struct {
	logger *slog.Logger
}

func NewLoggingDispatcher(logger *slog.Logger) *LoggingDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingDispatcher{logger: logger}
}

func (d *LoggingDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.InfoContext(ctx, "notification dispatched",
		"kind", n.Kind,
		"user_id", n.UserID,
		"title", n.Title,
	)
	return nil
}
