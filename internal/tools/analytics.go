package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lithammer/shortuuid/v4"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrAnalyticsDropped is returned when an event could not be queued.
var ErrAnalyticsDropped = errors.New("analytics event dropped")

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// AnalyticsEvent is one NDJSON analytics line.
type AnalyticsEvent struct {
	ID        string         `json:"id"`
	LearnerID string         `json:"learner_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// AnalyticsLogConfig controls where analytics events are written.
type AnalyticsLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// AnalyticsLog appends events to per-learner NDJSON files from a single
// background writer. Log never blocks; a full queue drops the event.
type AnalyticsLog struct {
	cfg    AnalyticsLogConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan AnalyticsEvent
	done   chan struct{}
}

// NewAnalyticsLog creates the log and starts its writer.
func NewAnalyticsLog(cfg AnalyticsLogConfig, logger *slog.Logger) (*AnalyticsLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create analytics dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create analytics global dir: %w", err)
		}
	}

	l := &AnalyticsLog{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		queue:  make(chan AnalyticsEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. It reports false if the event was dropped.
func (l *AnalyticsLog) Log(ev AnalyticsEvent) bool {
	if !l.cfg.Enabled && !l.cfg.GlobalEnabled {
		return true
	}
	if ev.ID == "" {
		ev.ID = shortuuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- ev:
		return true
	default:
		l.logger.Warn("Analytics queue full, dropping event", "learner_id", ev.LearnerID, "event_type", ev.EventType)
		return false
	}
}

// Close flushes queued events and stops the writer.
func (l *AnalyticsLog) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *AnalyticsLog) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode analytics event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			path := filepath.Join(l.cfg.Dir, learnerFileName(ev.LearnerID))
			if err := appendLine(path, line); err != nil {
				l.logger.Warn("Failed to write analytics event", "path", path, "error", err)
			}
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global analytics event", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

// Name implements Tool.
func (l *AnalyticsLog) Name() Name { return AnalyticsRecord }

// Invoke implements Tool. Params become the event data; learner_id and
// event_type are lifted onto the event.
func (l *AnalyticsLog) Invoke(_ context.Context, params map[string]any) (string, error) {
	data := make(map[string]any, len(params))
	for k, v := range params {
		data[k] = v
	}
	learnerID, _ := data["learner_id"].(string)
	delete(data, "learner_id")
	eventType, _ := data["event_type"].(string)
	delete(data, "event_type")
	if eventType == "" {
		eventType = "turn"
	}

	if !l.Log(AnalyticsEvent{LearnerID: learnerID, EventType: eventType, Data: data}) {
		return "", ErrAnalyticsDropped
	}
	return "ok", nil
}

func learnerFileName(learnerID string) string {
	if learnerID == "" {
		learnerID = "unknown"
	}
	return unsafeFileChars.ReplaceAllString(learnerID, "_") + ".ndjson"
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
