//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/topic"
	"github.com/ashureev/shsh-tutor/internal/tutor"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type testServer struct {
	router http.Handler
	mem    *store.MemoryStore
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore()
	agg := graph.NewAggregator(mem, time.UTC, logger)
	det := topic.NewKeywordDetector(topic.DefaultTopics())

	orch, err := tutor.New(tutor.DefaultConfig(), tutor.Deps{
		Sessions: mem,
		Profiles: mem,
		Graph:    agg,
		Detector: det,
		Reasoner: reasoning.NewOffline(),
		Logger:   logger,
	})
	require.NoError(t, err)

	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewTutorHandler(orch, agg, det, limiter).RegisterRoutes(r)
	return &testServer{router: r, mem: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestMessageUpdatesProfile(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-1", Text: "What is machine learning?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeBody[tutor.Result](t, w)
	assert.NotEmpty(t, res.Reply)
	assert.Equal(t, 15, res.Progress)
	assert.Equal(t, domain.LevelBeginner, res.Level)
	assert.Equal(t, []domain.TopicID{domain.TopicMachineLearning}, res.TopicsDetected)

	w = s.do(t, http.MethodGet, "/api/profile/learner-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decodeBody[ProfileResponse](t, w)
	assert.Equal(t, 15, p.Progress)
	assert.Equal(t, 1, p.TotalQuestions)
	assert.Equal(t, []domain.TopicID{domain.TopicMachineLearning}, p.Topics)
	assert.Contains(t, p.TopicMastery, domain.TopicMachineLearning)
	assert.Zero(t, p.TopicMastery[domain.TopicMachineLearning], "first sighting records the topic without mastery")
}

func TestMessageFallsBackToAnonymousIdentity(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodPost, "/api/message", MessageRequest{Text: "Tell me about neural networks"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	learnerID := cookies[0].Value

	w = s.do(t, http.MethodGet, "/api/profile/"+learnerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 15, decodeBody[ProfileResponse](t, w).Progress)
}

func TestProfileOfUnknownLearnerIsDefault(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodGet, "/api/profile/nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decodeBody[ProfileResponse](t, w)
	assert.Equal(t, domain.LevelBeginner, p.Level)
	assert.Zero(t, p.Progress)
	assert.Empty(t, p.Topics)

	stored, err := s.mem.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, stored, "reading a profile must not create one")
}

func TestMessageValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"learnerId":`},
		{"empty text", MessageRequest{LearnerID: "learner-1", Text: "   "}},
		{"oversized body", MessageRequest{LearnerID: "learner-1", Text: strings.Repeat("a", maxBodyBytes+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/message", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestMessageRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 2)

	for i := range 2 {
		w := s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-1", Text: fmt.Sprintf("question %d", i)})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-1", Text: "one more"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-2", Text: "hello"})
	assert.Equal(t, http.StatusOK, w.Code, "limits are per learner")
}

func TestOverride(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	progress := 70
	level := "expert"
	w := s.do(t, http.MethodPost, "/api/teacher/override", OverrideBody{
		LearnerID:         "learner-1",
		CorrectedProgress: &progress,
		CorrectedLevel:    &level,
		Message:           "Great work on the project.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decodeBody[ProfileResponse](t, w)
	assert.Equal(t, 70, p.Progress)
	assert.Equal(t, domain.LevelExpert, p.Level)

	bad := 150
	unknown := "wizard"
	tests := []struct {
		name string
		body interface{}
	}{
		{"progress out of range", OverrideBody{LearnerID: "learner-1", CorrectedProgress: &bad}},
		{"unknown level", OverrideBody{LearnerID: "learner-1", CorrectedLevel: &unknown}},
		{"missing learner", OverrideBody{CorrectedProgress: &progress}},
		{"nothing to change", OverrideBody{LearnerID: "learner-1"}},
		{"malformed json", `[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/teacher/override", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

type failingTutor struct {
	Tutor
	err error
}

func (f failingTutor) Override(context.Context, tutor.OverrideRequest) (*domain.Profile, error) {
	return nil, f.err
}

func (f failingTutor) Profile(context.Context, string) (*domain.Profile, error) {
	return nil, f.err
}

func TestStoreFailuresAreNotLeaked(t *testing.T) {
	t.Parallel()

	leak := fmt.Errorf("%w: put profile: %w", tutor.ErrStoreUnavailable, errors.New("sqlite: disk I/O error at /var/lib/tutor.db"))
	r := chi.NewRouter()
	NewTutorHandler(failingTutor{err: leak}, nil, nil, nil).RegisterRoutes(r)

	progress := 10
	raw, err := json.Marshal(OverrideBody{LearnerID: "learner-1", CorrectedProgress: &progress})
	require.NoError(t, err)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/teacher/override", bytes.NewReader(raw)),
		httptest.NewRequest(http.MethodGet, "/api/profile/learner-1", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "sqlite")
		assert.NotContains(t, w.Body.String(), "/var/lib")
	}
}

func TestGraphEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-1", Text: "How does machine learning use neural networks?"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/learners/learner-1/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[struct {
		Timeline []graph.TimelineDay `json:"timeline"`
		Summary  graph.Summary       `json:"summary"`
	}](t, w)
	require.Len(t, body.Timeline, 1)
	assert.Equal(t, 2, body.Timeline[0].CumulativeTopics)
	assert.Equal(t, 1, body.Summary.DaysActive)
	assert.Equal(t, 15, body.Summary.LatestProgress)

	w = s.do(t, http.MethodGet, "/api/learners/learner-1/graph/NeuralNetworks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trend := decodeBody[struct {
		Trend []graph.TrendPoint `json:"trend"`
	}](t, w)
	require.Len(t, trend.Trend, 1)
	assert.Zero(t, trend.Trend[0].Mastery)

	w = s.do(t, http.MethodGet, "/api/learners/learner-1/graph/Astrology", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/learners/nobody/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"timeline":[]`)
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodGet, "/api/session/learner-1/summary", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/message", MessageRequest{LearnerID: "learner-1", Text: "What is reinforcement learning?"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/session/learner-1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[tutor.SessionSummary](t, w)
	assert.Equal(t, 2, summary.TurnCount)
	assert.Equal(t, 1, summary.QuestionsAsked)
	assert.Equal(t, []domain.TopicID{domain.TopicReinforcementLearning}, summary.TopicsExplored)

	w = s.do(t, http.MethodPost, "/api/session/learner-1/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/session/learner-1/summary", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTopics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 10)

	w := s.do(t, http.MethodGet, "/api/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[struct {
		Topics []topic.Topic `json:"topics"`
	}](t, w)
	assert.Len(t, body.Topics, len(topic.DefaultTopics()))
	assert.NotContains(t, w.Body.String(), "keywords")
}
