package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db       store.Pinger
	reasoner reasoning.HealthChecker
	timeout  time.Duration
}

// NewHealthHandler creates a health handler. reasoner may be nil when the
// backend cannot report health.
func NewHealthHandler(db store.Pinger, reasoner reasoning.HealthChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{db: db, reasoner: reasoner, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			slog.Error("Health check failed", "component", "database", "error", err)
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.reasoner != nil {
		if err := h.reasoner.Health(ctx); err != nil {
			slog.Error("Health check failed", "component", "reasoning", "error", err)
			checks["reasoning"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["reasoning"] = "ok"
		}
	}

	if statusCode != http.StatusOK {
		status["status"] = "degraded"
	}
	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
