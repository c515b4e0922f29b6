package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/topic"
	"github.com/ashureev/shsh-tutor/internal/tutor"
	"github.com/go-chi/chi/v5"
)

// Tutor is the orchestrator surface used by the HTTP layer.
type Tutor interface {
	HandleMessage(ctx context.Context, msg tutor.Message) (*tutor.Result, error)
	Profile(ctx context.Context, learnerID string) (*domain.Profile, error)
	Override(ctx context.Context, req tutor.OverrideRequest) (*domain.Profile, error)
	SessionSummary(ctx context.Context, learnerID string) (*tutor.SessionSummary, error)
	EndSession(ctx context.Context, learnerID string) (*tutor.SessionSummary, error)
}

// Graph serves learning graph queries.
type Graph interface {
	Timeline(ctx context.Context, learnerID string) ([]graph.TimelineDay, error)
	MasteryTrend(ctx context.Context, learnerID string, topic domain.TopicID) ([]graph.TrendPoint, error)
	Summary(ctx context.Context, learnerID string) (graph.Summary, error)
}

// Catalogue lists the known topics.
type Catalogue interface {
	Topics() []topic.Topic
	Lookup(id domain.TopicID) (topic.Topic, bool)
}

// TutorHandler handles tutoring endpoints.
type TutorHandler struct {
	tutor     Tutor
	graph     Graph
	catalogue Catalogue
	limiter   *RateLimiter
}

// NewTutorHandler creates a tutoring handler. limiter may be nil to disable
// rate limiting.
func NewTutorHandler(t Tutor, g Graph, c Catalogue, limiter *RateLimiter) *TutorHandler {
	return &TutorHandler{tutor: t, graph: g, catalogue: c, limiter: limiter}
}

// RegisterRoutes registers tutoring routes.
func (h *TutorHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/message", h.Message)
		r.Get("/profile/{learnerID}", h.GetProfile)
		r.Post("/teacher/override", h.Override)
		r.Get("/learners/{learnerID}/graph", h.GetGraph)
		r.Get("/learners/{learnerID}/graph/{topic}", h.GetTopicTrend)
		r.Get("/session/{learnerID}/summary", h.GetSessionSummary)
		r.Post("/session/{learnerID}/end", h.EndSession)
		r.Get("/topics", h.ListTopics)
	})
}

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	LearnerID      string `json:"learnerId"`
	Text           string `json:"text"`
	AllowWebLookup *bool  `json:"allowWebLookup,omitempty"`
}

// ProfileResponse is the public view of a profile.
type ProfileResponse struct {
	LearnerID      string                     `json:"learnerId"`
	Level          domain.Level               `json:"level"`
	Progress       int                        `json:"progress"`
	Topics         []domain.TopicID           `json:"topics"`
	TopicMastery   map[domain.TopicID]float64 `json:"topicMastery"`
	TotalQuestions int                        `json:"totalQuestions"`
}

func profileResponse(p *domain.Profile) ProfileResponse {
	mastery := p.TopicMastery
	if mastery == nil {
		mastery = map[domain.TopicID]float64{}
	}
	return ProfileResponse{
		LearnerID:      p.LearnerID,
		Level:          p.Level,
		Progress:       p.Progress,
		Topics:         p.Topics(),
		TopicMastery:   mastery,
		TotalQuestions: p.TotalQuestions,
	}
}

// Message runs one learner turn.
func (h *TutorHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	learnerID := strings.TrimSpace(req.LearnerID)
	if learnerID == "" {
		learnerID = identity.LearnerIDFromContext(r.Context())
	}
	if learnerID == "" {
		Error(w, http.StatusBadRequest, "learnerId is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(learnerID) {
		slog.Warn("Rate limit exceeded", "learner_id", learnerID)
		Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
		return
	}

	res, err := h.tutor.HandleMessage(r.Context(), tutor.Message{
		LearnerID:      learnerID,
		Text:           req.Text,
		AllowWebLookup: req.AllowWebLookup,
	})
	if err != nil {
		respondError(w, "message", learnerID, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// GetProfile returns a learner's profile.
func (h *TutorHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	p, err := h.tutor.Profile(r.Context(), learnerID)
	if err != nil {
		respondError(w, "profile", learnerID, err)
		return
	}
	JSON(w, http.StatusOK, profileResponse(p))
}

// OverrideBody is the body of POST /api/teacher/override.
type OverrideBody struct {
	LearnerID         string  `json:"learnerId"`
	CorrectedProgress *int    `json:"correctedProgress,omitempty"`
	CorrectedLevel    *string `json:"correctedLevel,omitempty"`
	Message           string  `json:"message,omitempty"`
}

// Override applies a teacher correction.
func (h *TutorHandler) Override(w http.ResponseWriter, r *http.Request) {
	var body OverrideBody
	if err := decode(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := tutor.OverrideRequest{
		LearnerID:         body.LearnerID,
		CorrectedProgress: body.CorrectedProgress,
		Message:           body.Message,
	}
	if body.CorrectedLevel != nil {
		level, err := domain.ParseLevel(*body.CorrectedLevel)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid override: unknown level")
			return
		}
		req.CorrectedLevel = &level
	}

	p, err := h.tutor.Override(r.Context(), req)
	if err != nil {
		respondError(w, "override", body.LearnerID, err)
		return
	}
	JSON(w, http.StatusOK, profileResponse(p))
}

// GetGraph returns the learner's daily timeline and summary.
func (h *TutorHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	timeline, err := h.graph.Timeline(r.Context(), learnerID)
	if err != nil {
		respondError(w, "graph", learnerID, err)
		return
	}
	summary, err := h.graph.Summary(r.Context(), learnerID)
	if err != nil {
		respondError(w, "graph", learnerID, err)
		return
	}
	if timeline == nil {
		timeline = []graph.TimelineDay{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"learnerId": learnerID,
		"timeline":  timeline,
		"summary":   summary,
	})
}

// GetTopicTrend returns the mastery trend of one topic.
func (h *TutorHandler) GetTopicTrend(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	id := domain.TopicID(chi.URLParam(r, "topic"))
	if h.catalogue != nil {
		if _, ok := h.catalogue.Lookup(id); !ok {
			Error(w, http.StatusNotFound, "unknown topic")
			return
		}
	}
	trend, err := h.graph.MasteryTrend(r.Context(), learnerID, id)
	if err != nil {
		respondError(w, "topic trend", learnerID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"learnerId": learnerID,
		"topic":     id,
		"trend":     trend,
	})
}

// GetSessionSummary summarises the learner's live session.
func (h *TutorHandler) GetSessionSummary(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	s, err := h.tutor.SessionSummary(r.Context(), learnerID)
	if err != nil {
		respondError(w, "session summary", learnerID, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// EndSession ends the learner's live session.
func (h *TutorHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	s, err := h.tutor.EndSession(r.Context(), learnerID)
	if err != nil {
		respondError(w, "end session", learnerID, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// ListTopics returns the topic catalogue.
func (h *TutorHandler) ListTopics(w http.ResponseWriter, _ *http.Request) {
	topics := []topic.Topic{}
	if h.catalogue != nil {
		topics = append(topics, h.catalogue.Topics()...)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

// respondError maps domain errors to status codes. Only validation errors
// carry their message to the client.
func respondError(w http.ResponseWriter, op, learnerID string, err error) {
	switch {
	case errors.Is(err, tutor.ErrInvalidMessage), errors.Is(err, tutor.ErrInvalidOverride):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tutor.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "no active session")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("Request ended before completion", "op", op, "learner_id", learnerID, "error", err)
		Error(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("Request failed", "op", op, "learner_id", learnerID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
