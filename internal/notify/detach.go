package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Detach runs fn in its own goroutine with a fresh timeout that ignores the
// caller's cancellation. Errors and panics are logged at the boundary.
func Detach(ctx context.Context, logger *slog.Logger, operation string, timeout time.Duration, fn func(context.Context) error) {
	base := context.WithoutCancel(ctx)
	go func() {
		taskCtx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(taskCtx, "detached task panicked",
					"operation", operation,
					"outcome", "failure",
					"panic", fmt.Sprint(rec),
				)
			}
		}()
		if err := fn(taskCtx); err != nil {
			logger.WarnContext(taskCtx, "detached task failed",
				"operation", operation,
				"outcome", "failure",
				"error", err.Error(),
			)
		}
	}()
}
