package domain

import "time"

// ToolInvocation describes one tool call made during a turn.
type ToolInvocation struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	Result    string         `json:"result,omitempty"`
	Err       error          `json:"-"`
	StartedAt time.Time      `json:"started_at"`
	Latency   time.Duration  `json:"latency"`
}

// OK reports whether the invocation produced a usable result.
func (ti ToolInvocation) OK() bool {
	return ti.Err == nil && ti.Result != ""
}

// ProfileSummary is the part of a profile shown to the reasoning backend.
type ProfileSummary struct {
	Level          Level               `json:"level"`
	Progress       int                 `json:"progress"`
	TopicMastery   map[TopicID]float64 `json:"topic_mastery,omitempty"`
	MasteredTopics []TopicID           `json:"mastered_topics,omitempty"`
}

// ToolResult is a successful tool output tagged with its provenance.
type ToolResult struct {
	Tool    string    `json:"tool"`
	At      time.Time `json:"at"`
	Content string    `json:"content"`
}

// BoundedContext is the size-limited input handed to the reasoning backend.
type BoundedContext struct {
	LearnerID      string         `json:"learner_id"`
	Profile        ProfileSummary `json:"profile"`
	Turns          []Turn         `json:"turns"`
	ToolResults    []ToolResult   `json:"tool_results,omitempty"`
	Topics         []TopicID      `json:"topics,omitempty"`
	LearnerMessage string         `json:"learner_message"`
	DroppedTurns   int            `json:"dropped_turns,omitempty"`
}
