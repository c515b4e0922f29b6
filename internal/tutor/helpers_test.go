package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/tools"
	"github.com/ashureev/shsh-tutor/internal/topic"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeReasoner answers with fn, or echoes the topics it was given.
type fakeReasoner struct {
	mu       sync.Mutex
	calls    int
	requests []reasoning.Request
	fn       func(ctx context.Context, req reasoning.Request) (string, error)
}

func (f *fakeReasoner) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "Here is an explanation.", nil
}

func (f *fakeReasoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeReasoner) LastRequest() reasoning.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeTool struct {
	name tools.Name
	out  string
	err  error
}

func (f fakeTool) Name() tools.Name { return f.name }

func (f fakeTool) Invoke(ctx context.Context, _ map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.out, f.err
}

// flakyStore injects failures into a MemoryStore.
type flakyStore struct {
	*store.MemoryStore

	mu                 sync.Mutex
	getProfileErr      error
	putProfileFailures int
	putProfileCalls    int
	putSessionErr      error
}

func (f *flakyStore) GetProfile(ctx context.Context, learnerID string) (*domain.Profile, error) {
	f.mu.Lock()
	err := f.getProfileErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryStore.GetProfile(ctx, learnerID)
}

func (f *flakyStore) PutProfile(ctx context.Context, learnerID string, p *domain.Profile) error {
	f.mu.Lock()
	f.putProfileCalls++
	fail := f.putProfileFailures > 0
	if fail {
		f.putProfileFailures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return f.MemoryStore.PutProfile(ctx, learnerID, p)
}

func (f *flakyStore) PutSession(ctx context.Context, learnerID string, s *domain.Session, ttl time.Duration) error {
	f.mu.Lock()
	err := f.putSessionErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.PutSession(ctx, learnerID, s, ttl)
}

type harness struct {
	orch       *Orchestrator
	store      *flakyStore
	clock      *fakeClock
	reasoner   *fakeReasoner
	dispatcher *tools.Dispatcher
	graph      *graph.Aggregator

	mu          sync.Mutex
	transitions []State
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg   Config
	tools []tools.Tool
}

func withTools(ts ...tools.Tool) harnessOption {
	return func(c *harnessConfig) { c.tools = ts }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(c *harnessConfig) { fn(&c.cfg) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{
		cfg: DefaultConfig(),
		tools: []tools.Tool{
			fakeTool{name: tools.KnowledgeLookup, out: "Curated material."},
			fakeTool{name: tools.WebLookup, out: "Recent information."},
			fakeTool{name: tools.AnalyticsRecord, out: "ok"},
		},
	}
	for _, opt := range opts {
		opt(&hc)
	}

	clock := newFakeClock()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(store.WithClock(clock.Now))}
	h := &harness{
		store:    st,
		clock:    clock,
		reasoner: &fakeReasoner{},
		graph:    graph.NewAggregator(st, time.UTC, nil),
		dispatcher: tools.NewDispatcher(tools.NewRegistry(hc.tools...), tools.DispatcherConfig{
			Timeout: 200 * time.Millisecond,
		}, nil),
	}

	var ids atomic.Int64
	orch, err := New(hc.cfg, Deps{
		Sessions:   st,
		Profiles:   st,
		Graph:      h.graph,
		Detector:   topic.NewKeywordDetector(topic.DefaultTopics()),
		Dispatcher: h.dispatcher,
		Reasoner:   h.reasoner,
	},
		WithClock(clock.Now),
		WithSessionIDs(func() string {
			return fmt.Sprintf("session-%d", ids.Add(1))
		}),
		WithObserver(func(_ string, _, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		}),
	)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(h.dispatcher.Wait)
	return h
}

func (h *harness) send(t *testing.T, learnerID, text string) *Result {
	t.Helper()
	res, err := h.orch.HandleMessage(context.Background(), Message{LearnerID: learnerID, Text: text})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h *harness) profile(t *testing.T, learnerID string) *domain.Profile {
	t.Helper()
	p, err := h.store.MemoryStore.GetProfile(context.Background(), learnerID)
	require.NoError(t, err)
	return p
}

func (h *harness) session(t *testing.T, learnerID string) *domain.Session {
	t.Helper()
	s, err := h.store.MemoryStore.GetSession(context.Background(), learnerID)
	require.NoError(t, err)
	return s
}

func (h *harness) takeTransitions() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.transitions
	h.transitions = nil
	return out
}

// blockingReply signals entered and waits for release before answering.
func blockingReply(entered, release chan struct{}) func(context.Context, reasoning.Request) (string, error) {
	var once sync.Once
	return func(ctx context.Context, _ reasoning.Request) (string, error) {
		once.Do(func() { close(entered) })
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
