// Package reasoning turns a bounded learner context into a tutor reply.
// Backends are interchangeable behind Reasoner.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Reasoning failure classes returned once retries are exhausted.
var (
	ErrReasoningTimeout = errors.New("reasoning timed out")
	ErrReasoningFailed  = errors.New("reasoning failed")
)

var errEmptyReply = errors.New("empty reply")

// Request is the input of one generation.
type Request struct {
	Context        domain.BoundedContext
	LearnerMessage string
}

// Reasoner generates a reply for a learner turn.
type Reasoner interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config selects and tunes a backend.
type Config struct {
	Provider string
	Addr     string
	Model    string
	APIKey   string
	BaseURL  string
}

// Default models per provider, used when Config.Model is empty.
const (
	defaultOllamaModel = "llama3.2"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-2.5-flash"
)

// New creates the backend named by cfg.Provider. Callers wrap it with
// NewRetrying. Backends holding connections implement io.Closer.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Reasoner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "offline":
		return NewOffline(), nil
	case "grpc":
		return NewGRPC(cfg.Addr, logger)
	case "ollama":
		return NewOllama(cfg.BaseURL, modelOr(cfg.Model, defaultOllamaModel), nil)
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires REASONING_API_KEY or REASONING_BASE_URL")
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, modelOr(cfg.Model, defaultOpenAIModel)), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires REASONING_API_KEY")
		}
		return NewGemini(ctx, cfg.APIKey, modelOr(cfg.Model, defaultGeminiModel))
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Provider)
	}
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

func learnerMessage(req Request) string {
	if req.LearnerMessage != "" {
		return req.LearnerMessage
	}
	return req.Context.LearnerMessage
}

func checkReply(reply string) (string, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}
