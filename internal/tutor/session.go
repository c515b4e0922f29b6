package tutor

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// SessionSummary describes a live session.
type SessionSummary struct {
	SessionID      string           `json:"sessionId"`
	LearnerID      string           `json:"learnerId"`
	StartedAt      time.Time        `json:"startedAt"`
	LastActivity   time.Time        `json:"lastActivity"`
	Duration       time.Duration    `json:"duration"`
	TurnCount      int              `json:"turnCount"`
	QuestionsAsked int              `json:"questionsAsked"`
	TopicsExplored []domain.TopicID `json:"topicsExplored"`
	Level          domain.Level     `json:"level"`
	Progress       int              `json:"progress"`
}

// Profile returns the learner's profile, or the default profile when none
// has been stored. It takes no lock and may trail an in-flight turn.
func (o *Orchestrator) Profile(ctx context.Context, learnerID string) (*domain.Profile, error) {
	p, err := o.deps.Profiles.GetProfile(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load profile: %w", ErrStoreUnavailable, err)
	}
	if p == nil {
		return domain.NewProfile(learnerID, o.now()), nil
	}
	return p, nil
}

// SessionSummary summarises the learner's live session.
func (o *Orchestrator) SessionSummary(ctx context.Context, learnerID string) (*SessionSummary, error) {
	return o.summarize(ctx, learnerID)
}

// EndSession summarises and deletes the learner's session.
func (o *Orchestrator) EndSession(ctx context.Context, learnerID string) (*SessionSummary, error) {
	unlock, err := o.locks.Lock(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	summary, err := o.summarize(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Sessions.DeleteSession(ctx, learnerID); err != nil {
		return nil, fmt.Errorf("%w: delete session: %w", ErrStoreUnavailable, err)
	}
	o.logger.Info("Session ended",
		"learner_id", learnerID,
		"session_id", summary.SessionID,
		"turns", summary.TurnCount,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (o *Orchestrator) summarize(ctx context.Context, learnerID string) (*SessionSummary, error) {
	s, err := o.deps.Sessions.GetSession(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %w", ErrStoreUnavailable, err)
	}
	if s == nil || s.Expired(o.now(), o.cfg.SessionTTL) {
		return nil, ErrSessionNotFound
	}
	p, err := o.Profile(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	topics := s.TopicsExplored
	if topics == nil {
		topics = []domain.TopicID{}
	}
	return &SessionSummary{
		SessionID:      s.ID,
		LearnerID:      learnerID,
		StartedAt:      s.StartedAt,
		LastActivity:   s.LastActivity,
		Duration:       s.LastActivity.Sub(s.StartedAt),
		TurnCount:      len(s.Turns),
		QuestionsAsked: s.QuestionsAsked,
		TopicsExplored: topics,
		Level:          p.Level,
		Progress:       p.Progress,
	}, nil
}
