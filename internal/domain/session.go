package domain

import (
	"time"
)

// Role identifies who authored a turn.
type Role string

// Turn roles.
const (
	RoleLearner Role = "learner"
	RoleAgent   Role = "agent"
)

// SourceTeacher marks agent turns written by a teacher override.
const SourceTeacher = "teacher"

// Turn is one message within a session. Turns are never modified after
// they are appended.
type Turn struct {
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	DetectedTopics []TopicID `json:"detected_topics,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// Session holds the short-lived conversation window for a learner.
type Session struct {
	ID             string    `json:"id"`
	LearnerID      string    `json:"learner_id"`
	Turns          []Turn    `json:"turns"`
	QuestionsAsked int       `json:"questions_asked"`
	TopicsExplored []TopicID `json:"topics_explored"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// NewSession creates an empty session started at now.
func NewSession(id, learnerID string, now time.Time) *Session {
	return &Session{
		ID:             id,
		LearnerID:      learnerID,
		Turns:          []Turn{},
		TopicsExplored: []TopicID{},
		StartedAt:      now,
		LastActivity:   now,
	}
}

// AppendTurn adds a turn and evicts the oldest turns so that at most
// window turns remain. A window <= 0 disables eviction.
func (s *Session) AppendTurn(t Turn, window int) {
	s.Turns = append(s.Turns, t)
	if window > 0 && len(s.Turns) > window {
		s.Turns = append([]Turn(nil), s.Turns[len(s.Turns)-window:]...)
	}
	if t.Timestamp.After(s.LastActivity) {
		s.LastActivity = t.Timestamp
	}
}

// RecentTurns returns the last n turns, oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// ExploreTopics unions topics into TopicsExplored.
func (s *Session) ExploreTopics(topics []TopicID) {
	s.TopicsExplored = UnionTopics(s.TopicsExplored, topics)
}

// Expired reports whether the session has been inactive for longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.LastActivity) > ttl
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.DetectedTopics = append([]TopicID(nil), t.DetectedTopics...)
		c.Turns[i] = t
	}
	c.TopicsExplored = append([]TopicID{}, s.TopicsExplored...)
	return &c
}
