package tutor

import (
	"maps"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// AssemblerConfig bounds the context handed to the reasoning backend.
type AssemblerConfig struct {
	RecentTurns       int
	BudgetChars       int
	MasteredThreshold float64
}

// Assembler builds the bounded context for a turn. It is pure.
type Assembler struct {
	cfg AssemblerConfig
}

// NewAssembler creates an assembler. Zero values take the defaults.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.RecentTurns <= 0 {
		cfg.RecentTurns = 10
	}
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = 16000
	}
	if cfg.MasteredThreshold <= 0 {
		cfg.MasteredThreshold = 0.7
	}
	return &Assembler{cfg: cfg}
}

// Assemble builds the context. Over budget, the oldest turns go first, then
// tool results from the last one backwards. The learner message is kept whole.
func (a *Assembler) Assemble(session *domain.Session, profile *domain.Profile, topics []domain.TopicID, invocations []domain.ToolInvocation, message string) domain.BoundedContext {
	bc := domain.BoundedContext{
		LearnerMessage: message,
		Topics:         append([]domain.TopicID{}, topics...),
		Turns:          []domain.Turn{},
		ToolResults:    []domain.ToolResult{},
	}

	if profile != nil {
		bc.LearnerID = profile.LearnerID
		bc.Profile = domain.ProfileSummary{
			Level:          profile.Level,
			Progress:       profile.Progress,
			TopicMastery:   maps.Clone(profile.TopicMastery),
			MasteredTopics: profile.MasteredTopics(a.cfg.MasteredThreshold),
		}
	}
	if session != nil {
		if bc.LearnerID == "" {
			bc.LearnerID = session.LearnerID
		}
		bc.Turns = append(bc.Turns, session.RecentTurns(a.cfg.RecentTurns)...)
	}
	for _, inv := range invocations {
		if !inv.OK() {
			continue
		}
		bc.ToolResults = append(bc.ToolResults, domain.ToolResult{
			Tool:    inv.Tool,
			At:      inv.StartedAt,
			Content: inv.Result,
		})
	}

	size := contextSize(bc)
	for size > a.cfg.BudgetChars && len(bc.Turns) > 0 {
		size -= len(bc.Turns[0].Text)
		bc.Turns = bc.Turns[1:]
		bc.DroppedTurns++
	}
	for size > a.cfg.BudgetChars && len(bc.ToolResults) > 0 {
		last := len(bc.ToolResults) - 1
		size -= len(bc.ToolResults[last].Content)
		bc.ToolResults = bc.ToolResults[:last]
	}
	return bc
}

// contextSize approximates the rendered size of bc in characters.
func contextSize(bc domain.BoundedContext) int {
	n := len(bc.LearnerMessage)
	for _, t := range bc.Turns {
		n += len(t.Text)
	}
	for _, r := range bc.ToolResults {
		n += len(r.Content)
	}
	return n
}
