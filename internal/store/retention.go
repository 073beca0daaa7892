package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically
// removes sessions past the retention cutoff from the audit store.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := repo.CleanupSessions(ctx, retention)
				if err != nil {
					slog.Error("Audit retention pass failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Audit retention pass complete", "removed", removed)
				}
			case <-ctx.Done():
				slog.Debug("Audit retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
