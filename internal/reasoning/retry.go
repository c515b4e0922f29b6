package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig tunes Retrying.
type RetryConfig struct {
	MaxAttempts int
	Timeout     time.Duration // per attempt
	Backoff     time.Duration // base delay, doubled per retry
}

// Retrying retries a backend with a per-attempt timeout and exponential
// backoff. Exhaustion yields ErrReasoningTimeout or ErrReasoningFailed.
type Retrying struct {
	next   Reasoner
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Reasoner, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Generate implements Reasoner. Caller cancellation is returned as ctx.Err().
func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	timedOut := false

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.cfg.Backoff << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, err := r.attempt(ctx, req)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		timedOut = errors.Is(err, context.DeadlineExceeded)
		r.logger.Warn("Reasoning attempt failed",
			"learner_id", req.Context.LearnerID,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"error", err,
		)
	}

	if timedOut {
		return "", fmt.Errorf("%w after %d attempts: %w", ErrReasoningTimeout, r.cfg.MaxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrReasoningFailed, r.cfg.MaxAttempts, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, req Request) (string, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type result struct {
		reply string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := r.next.Generate(actx, req)
		if err == nil {
			reply, err = checkReply(reply)
		}
		ch <- result{reply, err}
	}()

	select {
	case res := <-ch:
		// Backends report deadlines in their own error types.
		if res.err != nil && !errors.Is(res.err, context.DeadlineExceeded) && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", context.DeadlineExceeded, res.err)
		}
		return res.reply, res.err
	case <-actx.Done():
		return "", actx.Err()
	}
}

// Health delegates to the wrapped backend when it supports health checks.
func (r *Retrying) Health(ctx context.Context) error {
	if hc, ok := r.next.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Close closes the wrapped backend when it holds resources.
func (r *Retrying) Close() error {
	if c, ok := r.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
