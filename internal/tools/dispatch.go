package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Tool failure classes.
var (
	ErrToolTimeout = errors.New("tool timed out")
	ErrToolError   = errors.New("tool failed")
)

// DefaultTimeout is the per-call tool deadline.
const DefaultTimeout = 5 * time.Second

// Outcome is the joined result of one dispatch.
type Outcome struct {
	// Invocations holds one entry per awaited tool, in request order.
	Invocations []domain.ToolInvocation
	// Skipped lists requests that were not run.
	Skipped []Name
	// Degraded is set when at least one awaited tool failed or timed out.
	Degraded bool
}

// Succeeded returns the names of awaited tools that produced a result.
func (o Outcome) Succeeded() []string {
	var out []string
	for _, inv := range o.Invocations {
		if inv.OK() {
			out = append(out, inv.Tool)
		}
	}
	return out
}

// Dispatcher runs tool requests concurrently, each under its own deadline.
type Dispatcher struct {
	registry   *Registry
	timeout    time.Duration
	maxPerTurn int
	logger     *slog.Logger
	now        func() time.Time
	background sync.WaitGroup
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Timeout    time.Duration
	MaxPerTurn int // awaited tools per turn; <= 0 means unlimited
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry:   registry,
		timeout:    cfg.Timeout,
		maxPerTurn: cfg.MaxPerTurn,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch runs reqs. Awaited requests are joined; fire-and-forget requests
// run in the background and are never reported. Tool calls do not inherit
// cancellation from ctx: if ctx is cancelled while waiting, Dispatch returns
// ctx.Err() and the in-flight calls finish on their own deadlines.
func (d *Dispatcher) Dispatch(ctx context.Context, learnerID string, reqs []Request) (Outcome, error) {
	var out Outcome
	detached := context.WithoutCancel(ctx)

	type pending struct {
		req  Request
		tool Tool
	}
	var awaited []pending

	for _, req := range reqs {
		tool, ok := d.registry.Get(req.Tool)
		if !ok {
			out.Skipped = append(out.Skipped, req.Tool)
			continue
		}
		if req.FireAndForget {
			d.runBackground(detached, learnerID, tool, req.Params)
			continue
		}
		if d.maxPerTurn > 0 && len(awaited) >= d.maxPerTurn {
			d.logger.Debug("Tool skipped over per-turn budget", "learner_id", learnerID, "tool", req.Tool)
			out.Skipped = append(out.Skipped, req.Tool)
			continue
		}
		awaited = append(awaited, pending{req: req, tool: tool})
	}

	if len(awaited) == 0 {
		return out, nil
	}

	results := make([]domain.ToolInvocation, len(awaited))
	var g errgroup.Group
	for i, p := range awaited {
		g.Go(func() error {
			results[i] = d.invoke(detached, learnerID, p.tool, p.req.Params)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	for _, inv := range results {
		if inv.Err != nil {
			out.Degraded = true
		}
	}
	out.Invocations = results
	return out, nil
}

// Wait blocks until background tool calls have finished.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

func (d *Dispatcher) runBackground(ctx context.Context, learnerID string, tool Tool, params map[string]any) {
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		inv := d.invoke(ctx, learnerID, tool, params)
		if inv.Err != nil {
			d.logger.Debug("Background tool failed", "learner_id", learnerID, "tool", inv.Tool, "error", inv.Err)
		}
	}()
}

type invokeResult struct {
	out string
	err error
}

// invoke runs one tool under the dispatcher timeout. The join never waits
// past the deadline even if the tool ignores ctx.
func (d *Dispatcher) invoke(ctx context.Context, learnerID string, tool Tool, params map[string]any) domain.ToolInvocation {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	inv := domain.ToolInvocation{
		Tool:      string(tool.Name()),
		Params:    params,
		StartedAt: d.now(),
	}

	ch := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- invokeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := tool.Invoke(tctx, params)
		ch <- invokeResult{out: out, err: err}
	}()

	select {
	case res := <-ch:
		inv.Result = res.out
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				inv.Err = fmt.Errorf("%w: %s: %w", ErrToolTimeout, inv.Tool, res.err)
			} else {
				inv.Err = fmt.Errorf("%w: %s: %w", ErrToolError, inv.Tool, res.err)
			}
		}
	case <-tctx.Done():
		inv.Err = fmt.Errorf("%w: %s after %s", ErrToolTimeout, inv.Tool, d.timeout)
	}
	inv.Latency = d.now().Sub(inv.StartedAt)

	if inv.Err != nil && tool.Name() != AnalyticsRecord {
		d.logger.Warn("Tool call degraded", "learner_id", learnerID, "tool", inv.Tool, "latency", inv.Latency, "error", inv.Err)
	}
	return inv
}
