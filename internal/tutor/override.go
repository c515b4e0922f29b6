package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// OverrideRequest is a teacher correction of a learner's profile.
type OverrideRequest struct {
	LearnerID         string
	CorrectedProgress *int
	CorrectedLevel    *domain.Level
	// Message is appended to the session as a teacher-authored agent turn.
	Message string
}

func (r OverrideRequest) validate() error {
	if strings.TrimSpace(r.LearnerID) == "" {
		return fmt.Errorf("%w: learner id is required", ErrInvalidOverride)
	}
	if r.CorrectedProgress == nil && r.CorrectedLevel == nil && strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: nothing to change", ErrInvalidOverride)
	}
	if p := r.CorrectedProgress; p != nil && (*p < 0 || *p > domain.MaxProgress) {
		return fmt.Errorf("%w: progress %d outside [0,%d]", ErrInvalidOverride, *p, domain.MaxProgress)
	}
	if l := r.CorrectedLevel; l != nil && !l.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidOverride, *l)
	}
	return nil
}

// Override writes a teacher correction directly, bypassing the progress
// rule. It holds the learner's lock, so it is ordered with in-flight turns
// and the later commit wins. Store failures are returned.
func (o *Orchestrator) Override(ctx context.Context, req OverrideRequest) (*domain.Profile, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	learnerID := strings.TrimSpace(req.LearnerID)

	unlock, err := o.locks.Lock(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := o.now()
	profile, err := o.deps.Profiles.GetProfile(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load profile: %w", ErrStoreUnavailable, err)
	}
	if profile == nil {
		profile = domain.NewProfile(learnerID, now)
	}

	changed := false
	if req.CorrectedProgress != nil {
		profile.Progress = *req.CorrectedProgress
		changed = true
	}
	if req.CorrectedLevel != nil {
		profile.Level = *req.CorrectedLevel
		changed = true
	}
	if changed {
		if err := o.deps.Profiles.PutProfile(ctx, learnerID, profile); err != nil {
			return nil, fmt.Errorf("%w: save profile: %w", ErrStoreUnavailable, err)
		}
		o.logger.Info("Teacher override applied",
			"learner_id", learnerID,
			"progress", profile.Progress,
			"level", string(profile.Level),
		)
	}

	if msg := strings.TrimSpace(req.Message); msg != "" {
		if err := o.appendTeacherTurn(ctx, learnerID, msg, now); err != nil {
			return nil, err
		}
	}
	return profile.Clone(), nil
}

func (o *Orchestrator) appendTeacherTurn(ctx context.Context, learnerID, text string, now time.Time) error {
	session, err := o.deps.Sessions.GetSession(ctx, learnerID)
	if err != nil {
		return fmt.Errorf("%w: load session: %w", ErrStoreUnavailable, err)
	}
	if session == nil || session.Expired(now, o.cfg.SessionTTL) {
		session = domain.NewSession(o.newID(), learnerID, now)
	}
	session.AppendTurn(domain.Turn{
		Role:      domain.RoleAgent,
		Text:      text,
		Timestamp: now,
		Source:    domain.SourceTeacher,
	}, o.cfg.SessionWindow)
	if err := o.deps.Sessions.PutSession(ctx, learnerID, session, o.cfg.SessionTTL); err != nil {
		return fmt.Errorf("%w: save session: %w", ErrStoreUnavailable, err)
	}
	return nil
}
