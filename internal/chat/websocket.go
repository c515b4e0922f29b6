package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/tutor"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/lithammer/shortuuid/v4"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameBytes bounds inbound frames.
const maxFrameBytes = 64 * 1024

// Frame types.
const (
	FrameMessage  = "message"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameProgress = "progress"
	FrameError    = "error"
)

// MessageHandler runs one learner turn.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg tutor.Message) (*tutor.Result, error)
}

// ClientFrame is a frame sent by the browser.
type ClientFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	AllowWebLookup *bool  `json:"allowWebLookup,omitempty"`
}

// ServerFrame is a frame sent to the browser.
type ServerFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Progress is the payload of a progress frame.
type Progress struct {
	Level    domain.Level     `json:"level"`
	Progress int              `json:"progress"`
	Topics   []domain.TopicID `json:"topics"`
}

// Handler serves GET /ws/chat/{learnerID}.
type Handler struct {
	tutor         MessageHandler
	cm            *ConnManager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a chat WebSocket handler.
func NewHandler(t MessageHandler, cm *ConnManager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{tutor: t, cm: cm, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers the chat route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{learnerID}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	learnerID := strings.TrimSpace(chi.URLParam(r, "learnerID"))
	if learnerID == "" {
		learnerID = identity.LearnerIDFromContext(r.Context())
	}
	if learnerID == "" {
		http.Error(w, "learner id required", http.StatusBadRequest)
		return
	}
	slog.Info("Chat connection request", "learner_id", learnerID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "learner_id", learnerID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "learner_id", learnerID)
		}
	}()

	connID := shortuuid.New()
	h.cm.Register(learnerID, connID, ws)
	defer h.cm.Unregister(learnerID, connID, ws)

	h.readLoop(r.Context(), ws, learnerID)
	slog.Info("Chat connection ended", "learner_id", learnerID, "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, learnerID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "learner_id", learnerID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "learner_id", learnerID)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(ctx, ws, learnerID, "malformed frame")
			continue
		}

		switch frame.Type {
		case FramePing:
			if err := writeFrame(ctx, ws, ServerFrame{Type: FramePong}); err != nil {
				return
			}
		case FrameMessage:
			if strings.TrimSpace(frame.Text) == "" {
				continue
			}
			if !h.handleMessage(ctx, ws, learnerID, frame) {
				return
			}
		default:
			h.sendError(ctx, ws, learnerID, "unknown frame type")
		}
	}
}

// handleMessage runs a turn and writes its frames. It returns false when the
// connection should end.
func (h *Handler) handleMessage(ctx context.Context, ws *websocket.Conn, learnerID string, frame ClientFrame) bool {
	res, err := h.tutor.HandleMessage(ctx, tutor.Message{
		LearnerID:      learnerID,
		Text:           frame.Text,
		AllowWebLookup: frame.AllowWebLookup,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("Chat turn failed", "learner_id", learnerID, "error", err)
		msg := "failed to process message"
		if errors.Is(err, tutor.ErrInvalidMessage) {
			msg = "invalid message"
		}
		return h.sendError(ctx, ws, learnerID, msg)
	}

	if err := writeFrame(ctx, ws, ServerFrame{Type: FrameMessage, Data: res}); err != nil {
		return false
	}
	if res.ProfileUnavailable {
		return true
	}
	err = writeFrame(ctx, ws, ServerFrame{Type: FrameProgress, Data: Progress{
		Level:    res.Level,
		Progress: res.Progress,
		Topics:   res.TopicsDetected,
	}})
	return err == nil
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, learnerID, message string) bool {
	err := writeFrame(ctx, ws, ServerFrame{Type: FrameError, Data: map[string]string{"message": message}})
	if err != nil {
		slog.Debug("Failed to send error frame", "error", err, "learner_id", learnerID)
		return false
	}
	return true
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f ServerFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
