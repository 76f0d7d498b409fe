package locks

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper expires stale locks every interval until ctx is done. A
// non-positive interval returns immediately.
func RunSweeper(ctx context.Context, service LockService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.Sweep(ctx); err != nil {
				slog.Error("lock sweep failed", slog.Any("error", err))
			}
		}
	}
}
