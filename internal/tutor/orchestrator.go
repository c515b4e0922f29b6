// Package tutor runs learner turns through a small state machine: load
// state, dispatch tools, ask the reasoning backend and commit the outcome.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/reasoning"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/tools"
	"github.com/ashureev/shsh-tutor/internal/topic"
	"github.com/google/uuid"
)

// State is a step of the turn state machine.
type State int

// Turn states.
const (
	StateIdle State = iota
	StateAssembling
	StateToolDispatch
	StateReasoning
	StateCommitting
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssembling:
		return "assembling"
	case StateToolDispatch:
		return "tool_dispatch"
	case StateReasoning:
		return "reasoning"
	case StateCommitting:
		return "committing"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionObserver is notified of every state change.
type TransitionObserver func(learnerID string, from, to State)

// Config tunes the orchestrator.
type Config struct {
	SessionWindow      int
	SessionTTL         time.Duration
	RecentTurns        int
	ContextBudgetChars int
	ProgressIncrement  int
	MasteryRate        float64
	LowMastery         float64
	MasteredThreshold  float64
	AllowWebLookup     bool
	Location           *time.Location
}

// DefaultConfig returns the standard tutoring parameters.
func DefaultConfig() Config {
	return Config{
		SessionWindow:      50,
		SessionTTL:         60 * time.Minute,
		RecentTurns:        10,
		ContextBudgetChars: 16000,
		ProgressIncrement:  15,
		MasteryRate:        0.1,
		LowMastery:         0.5,
		MasteredThreshold:  0.7,
		AllowWebLookup:     true,
		Location:           time.UTC,
	}
}

// Deps are the collaborators of the orchestrator. Dispatcher and Graph are optional.
type Deps struct {
	Sessions   store.SessionStore
	Profiles   store.ProfileStore
	Graph      *graph.Aggregator
	Detector   topic.Detector
	Dispatcher *tools.Dispatcher
	Reasoner   reasoning.Reasoner
	Logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver attaches a transition observer.
func WithObserver(obs TransitionObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithSessionIDs overrides session ID generation.
func WithSessionIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// Orchestrator processes learner messages. Turns for different learners run
// in parallel; turns for the same learner are serialised.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	assembler *Assembler
	locks     *keyedLock
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	observer  TransitionObserver
	handlers  map[State]stateFn
}

// New creates an orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("session and profile stores are required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("topic detector is required")
	}
	if deps.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 50
	}
	if cfg.MasteryRate <= 0 || cfg.MasteryRate > 1 {
		cfg.MasteryRate = 0.1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		assembler: NewAssembler(AssemblerConfig{
			RecentTurns:       cfg.RecentTurns,
			BudgetChars:       cfg.ContextBudgetChars,
			MasteredThreshold: cfg.MasteredThreshold,
		}),
		locks:  newKeyedLock(),
		logger: deps.Logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.handlers = map[State]stateFn{
		StateAssembling:   o.assemble,
		StateToolDispatch: o.dispatch,
		StateReasoning:    o.reason,
		StateCommitting:   o.commit,
		StateErrored:      o.errored,
	}
	return o, nil
}

// Message is one learner input.
type Message struct {
	LearnerID string
	Text      string
	// AllowWebLookup disables web lookup for this turn when false.
	AllowWebLookup *bool
}

// Result is the outcome of a turn.
type Result struct {
	Reply          string           `json:"replyText"`
	Level          domain.Level     `json:"level"`
	Progress       int              `json:"progress"`
	TopicsDetected []domain.TopicID `json:"topicsDetected"`
	ToolsUsed      []string         `json:"toolsUsed"`
	Degraded       bool             `json:"degraded"`
	Fallback       bool             `json:"fallback,omitempty"`
	SessionID      string           `json:"sessionId,omitempty"`
	// ProfileUnavailable is set when the profile could not be read; Level
	// and Progress are then empty rather than the learner's state.
	ProfileUnavailable bool `json:"profileUnavailable,omitempty"`
}

// turn carries state between handlers.
type turn struct {
	msg      Message
	started  time.Time
	session  *domain.Session
	profile  *domain.Profile
	// profileReadFailed keeps a default profile from overwriting the stored one.
	profileReadFailed bool
	topics            []domain.TopicID
	outcome           tools.Outcome
	reply             string
	cause             error
	result            *Result
}

type stateFn func(ctx context.Context, t *turn) (State, error)

// HandleMessage runs one learner turn. It returns an error only for invalid
// input or when ctx ends before the turn commits; in that case nothing is
// written. Reasoning failures produce a fallback Result instead.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) (*Result, error) {
	msg.LearnerID = strings.TrimSpace(msg.LearnerID)
	if msg.LearnerID == "" {
		return nil, fmt.Errorf("%w: learner id is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidMessage)
	}

	unlock, err := o.locks.Lock(ctx, msg.LearnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t := &turn{msg: msg, started: o.now()}
	state := StateIdle
	next := StateAssembling
	for {
		o.transition(msg.LearnerID, state, next)
		state = next
		if state == StateIdle {
			return t.result, nil
		}
		next, err = o.step(ctx, state, t)
		if err != nil {
			o.transition(msg.LearnerID, state, StateIdle)
			return nil, err
		}
	}
}

// step runs one handler. A panic becomes an invariant violation and moves
// the turn to Errored; a panic inside Errored ends the turn with a bare fallback.
func (o *Orchestrator) step(ctx context.Context, state State, t *turn) (next State, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		o.logger.Error("State handler panicked",
			"learner_id", t.msg.LearnerID,
			"state", state.String(),
			"panic", r,
		)
		t.cause = fmt.Errorf("%w: panic in %s: %v", ErrInvariantViolation, state, r)
		if state == StateErrored {
			t.result = o.fallbackResult(t)
			next, err = StateIdle, nil
			return
		}
		next, err = StateErrored, nil
	}()
	return o.handlers[state](ctx, t)
}

func (o *Orchestrator) transition(learnerID string, from, to State) {
	if from == to {
		return
	}
	o.logger.Debug("Turn state transition", "learner_id", learnerID, "from", from.String(), "to", to.String())
	if o.observer != nil {
		o.observer(learnerID, from, to)
	}
}

// assemble loads the session and profile and detects topics.
func (o *Orchestrator) assemble(ctx context.Context, t *turn) (State, error) {
	learnerID := t.msg.LearnerID

	session, err := o.deps.Sessions.GetSession(ctx, learnerID)
	if err != nil {
		if ctx.Err() != nil {
			return StateIdle, ctx.Err()
		}
		o.logger.Warn("Failed to load session, starting fresh", "learner_id", learnerID, "error", err)
		session = nil
	}
	if session != nil && session.Expired(t.started, o.cfg.SessionTTL) {
		o.logger.Info("Session expired, starting fresh", "learner_id", learnerID, "session_id", session.ID)
		session = nil
	}
	if session == nil {
		session = domain.NewSession(o.newID(), learnerID, t.started)
	}
	t.session = session

	profile, err := o.deps.Profiles.GetProfile(ctx, learnerID)
	if err != nil {
		if ctx.Err() != nil {
			return StateIdle, ctx.Err()
		}
		o.logger.Warn("Failed to load profile, using defaults", "learner_id", learnerID, "error", err)
		t.profileReadFailed = true
		profile = nil
	}
	if profile == nil {
		profile = domain.NewProfile(learnerID, t.started)
	}
	if profile.TopicMastery == nil {
		profile.TopicMastery = make(map[domain.TopicID]float64)
	}
	t.profile = profile

	t.topics = o.deps.Detector.Detect(t.msg.Text)
	if t.topics == nil {
		t.topics = []domain.TopicID{}
	}
	return StateToolDispatch, nil
}

// dispatch selects and runs tools for the turn.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn) (State, error) {
	if o.deps.Dispatcher == nil {
		return StateReasoning, nil
	}

	allowWeb := o.cfg.AllowWebLookup
	if t.msg.AllowWebLookup != nil && !*t.msg.AllowWebLookup {
		allowWeb = false
	}
	reqs := tools.Select(t.msg.Text, t.topics, tools.Policy{
		AllowWebLookup: allowWeb,
		LowMastery:     o.cfg.LowMastery,
		Level:          t.profile.Level,
		Mastery:        t.profile.TopicMastery,
		Metadata: map[string]any{
			"learner_id": t.msg.LearnerID,
			"session_id": t.session.ID,
			"level":      string(t.profile.Level),
			"progress":   t.profile.Progress,
		},
	})

	outcome, err := o.deps.Dispatcher.Dispatch(ctx, t.msg.LearnerID, reqs)
	if err != nil {
		return StateIdle, err
	}
	t.outcome = outcome
	return StateReasoning, nil
}

// reason assembles the bounded context and asks the backend for a reply.
func (o *Orchestrator) reason(ctx context.Context, t *turn) (State, error) {
	bc := o.assembler.Assemble(t.session, t.profile, t.topics, t.outcome.Invocations, t.msg.Text)
	if bc.DroppedTurns > 0 {
		o.logger.Debug("Context trimmed to budget", "learner_id", t.msg.LearnerID, "dropped_turns", bc.DroppedTurns)
	}

	reply, err := o.deps.Reasoner.Generate(ctx, reasoning.Request{Context: bc, LearnerMessage: t.msg.Text})
	if err != nil {
		if ctx.Err() != nil {
			return StateIdle, ctx.Err()
		}
		t.cause = err
		return StateErrored, nil
	}
	t.reply = reply
	return StateCommitting, nil
}

// commit applies the turn to session, profile and graph. Writes run on a
// context detached from the caller so they land together.
func (o *Orchestrator) commit(ctx context.Context, t *turn) (State, error) {
	cctx := context.WithoutCancel(ctx)
	now := o.now()
	learnerID := t.msg.LearnerID

	t.session.AppendTurn(domain.Turn{
		Role:           domain.RoleLearner,
		Text:           t.msg.Text,
		Timestamp:      t.started,
		DetectedTopics: t.topics,
	}, o.cfg.SessionWindow)
	t.session.AppendTurn(domain.Turn{
		Role:      domain.RoleAgent,
		Text:      t.reply,
		Timestamp: now,
	}, o.cfg.SessionWindow)
	t.session.QuestionsAsked++
	t.session.ExploreTopics(t.topics)

	o.applyTurn(t.profile, t.topics, now)

	o.saveSession(cctx, t.session)
	if t.profileReadFailed {
		o.logger.Warn("Skipping profile write after failed read", "learner_id", learnerID)
	} else {
		o.retryWrite(learnerID, "profile", func() error {
			return o.deps.Profiles.PutProfile(cctx, learnerID, t.profile)
		})
	}
	if o.deps.Graph != nil {
		o.retryWrite(learnerID, "graph", func() error {
			_, err := o.deps.Graph.Record(cctx, learnerID, graph.Activity{
				At:           now,
				Topics:       t.topics,
				Interactions: 1,
				Progress:     t.profile.Progress,
				Mastery:      t.profile.TopicMastery,
				KeepSnapshot: t.profileReadFailed,
			})
			return err
		})
	}

	used := t.outcome.Succeeded()
	if used == nil {
		used = []string{}
	}
	t.result = &Result{
		Reply:          t.reply,
		Level:          t.profile.Level,
		Progress:       t.profile.Progress,
		TopicsDetected: t.topics,
		ToolsUsed:      used,
		Degraded:       t.outcome.Degraded,
		SessionID:      t.session.ID,
	}
	if t.profileReadFailed {
		t.result.Degraded = true
		t.result.ProfileUnavailable = true
		t.result.Level = ""
		t.result.Progress = 0
	}

	o.logger.Info("Turn committed",
		"learner_id", learnerID,
		"session_id", t.session.ID,
		"topics", len(t.topics),
		"progress", t.profile.Progress,
		"level", string(t.profile.Level),
		"degraded", t.outcome.Degraded,
		"duration", now.Sub(t.started),
	)
	return StateIdle, nil
}

// errored records the learner turn and answers with the fallback reply.
// The profile and session counters are left untouched.
func (o *Orchestrator) errored(ctx context.Context, t *turn) (State, error) {
	o.logger.Error("Turn failed, sending fallback reply", "learner_id", t.msg.LearnerID, "error", t.cause)

	if t.session != nil {
		t.session.AppendTurn(domain.Turn{
			Role:           domain.RoleLearner,
			Text:           t.msg.Text,
			Timestamp:      t.started,
			DetectedTopics: t.topics,
		}, o.cfg.SessionWindow)
		o.saveSession(context.WithoutCancel(ctx), t.session)
	}
	t.result = o.fallbackResult(t)
	return StateIdle, nil
}

func (o *Orchestrator) fallbackResult(t *turn) *Result {
	res := &Result{
		Reply:          FallbackReply,
		Level:          domain.LevelBeginner,
		TopicsDetected: t.topics,
		ToolsUsed:      []string{},
		Degraded:       true,
		Fallback:       true,
	}
	if res.TopicsDetected == nil {
		res.TopicsDetected = []domain.TopicID{}
	}
	switch {
	case t.profileReadFailed:
		res.Level = ""
		res.ProfileUnavailable = true
	case t.profile != nil:
		res.Level = t.profile.Level
		res.Progress = t.profile.Progress
	}
	if t.session != nil {
		res.SessionID = t.session.ID
	}
	return res
}

// applyTurn updates profile for topics seen in one committed turn. Progress
// rises at most once per turn and only when a new topic appears.
func (o *Orchestrator) applyTurn(p *domain.Profile, topics []domain.TopicID, now time.Time) {
	sawNew := false
	for _, tp := range topics {
		m, known := p.TopicMastery[tp]
		if !known {
			p.TopicMastery[tp] = 0
			sawNew = true
			continue
		}
		p.TopicMastery[tp] = m + (1-m)*o.cfg.MasteryRate
	}
	if sawNew {
		p.Progress = min(p.Progress+o.cfg.ProgressIncrement, domain.MaxProgress)
	}
	p.TotalQuestions++
	p.LastActive = now

	o.enforceInvariants(p)
	p.Level = domain.MaxLevel(p.Level, domain.LevelFor(p.Progress, len(p.TopicMastery)))
}

// enforceInvariants clamps out-of-range values and logs the violation.
func (o *Orchestrator) enforceInvariants(p *domain.Profile) {
	if p.Progress < 0 || p.Progress > domain.MaxProgress {
		o.logger.Warn("Clamping progress", "learner_id", p.LearnerID, "progress", p.Progress, "error", ErrInvariantViolation)
		p.Progress = min(max(p.Progress, 0), domain.MaxProgress)
	}
	for tp, m := range p.TopicMastery {
		if m < 0 || m > 1 {
			o.logger.Warn("Clamping mastery", "learner_id", p.LearnerID, "topic", string(tp), "mastery", m, "error", ErrInvariantViolation)
			p.TopicMastery[tp] = min(max(m, 0), 1)
		}
	}
	if !p.Level.Valid() {
		o.logger.Warn("Resetting invalid level", "learner_id", p.LearnerID, "level", string(p.Level), "error", ErrInvariantViolation)
		p.Level = domain.LevelBeginner
	}
}

func (o *Orchestrator) saveSession(ctx context.Context, s *domain.Session) {
	o.retryWrite(s.LearnerID, "session", func() error {
		return o.deps.Sessions.PutSession(ctx, s.LearnerID, s, o.cfg.SessionTTL)
	})
}

// retryWrite tries write twice and drops it with a warning after that.
func (o *Orchestrator) retryWrite(learnerID, what string, write func() error) {
	err := write()
	if err == nil {
		return
	}
	o.logger.Warn("Store write failed, retrying", "learner_id", learnerID, "record", what, "error", err)
	if err = write(); err == nil {
		return
	}
	o.logger.Warn("Store write dropped", "learner_id", learnerID, "record", what,
		"error", errors.Join(ErrStoreUnavailable, err))
}
