package media

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// synthesized audio older than maxAge. If maxAge is 0 no cleanup is
// performed. The goroutine stops when the provided context is cancelled.
func StartCleanupTicker(ctx context.Context, store *Store, interval, maxAge time.Duration) {
	if maxAge <= 0 {
		slog.Info("media retention disabled", "dir", store.Dir())
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				names, err := store.DeleteOlderThan(maxAge)
				if err != nil {
					slog.Error("media retention cleanup failed", "error", err)
				}
				if len(names) == 0 {
					continue
				}
				slog.Info("media retention cleanup", "deleted", len(names), "max_age", maxAge.String())
			}
		}
	}()
}
