package store

import (
	"context"
	"log/slog"
	"time"
)

// ExpireCallback is called for every learner whose session the sweeper evicted.
type ExpireCallback func(learnerID string)

// StartSweeper runs a background goroutine that periodically evicts expired
// sessions. It stops when ctx is cancelled. The returned channel is closed
// once the goroutine has exited.
func StartSweeper(ctx context.Context, sweeper SessionSweeper, interval time.Duration, onExpire ExpireCallback) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, sweeper, onExpire)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepOnce(ctx context.Context, sweeper SessionSweeper, onExpire ExpireCallback) {
	expired, err := sweeper.SweepSessions(ctx)
	if err != nil {
		slog.Error("Session sweeper failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, learnerID := range expired {
		if onExpire != nil {
			onExpire(learnerID)
		}
	}
	slog.Info("Session sweeper evicted sessions", "count", len(expired))
}
