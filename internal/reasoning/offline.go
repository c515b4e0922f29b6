package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Offline builds a deterministic reply from the context alone. It needs no
// model and is the default backend.
type Offline struct{}

// NewOffline creates the offline backend.
func NewOffline() *Offline { return &Offline{} }

var levelOpeners = map[domain.Level]string{
	domain.LevelBeginner:     "Let's start with the basics.",
	domain.LevelIntermediate: "Building on what you already know,",
	domain.LevelAdvanced:     "Let's look at this in more depth.",
	domain.LevelExpert:       "Let's get into the finer points.",
}

// Generate implements Reasoner.
func (o *Offline) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bc := req.Context
	level := levelOrDefault(bc.Profile.Level)

	var b strings.Builder
	b.WriteString(levelOpeners[level])

	if len(bc.Topics) > 0 {
		fmt.Fprintf(&b, " Your question touches on %s.", joinTopics(bc.Topics))
	} else {
		b.WriteString(" That's a good question to explore.")
	}

	if material := firstMaterial(bc.ToolResults); material != "" {
		fmt.Fprintf(&b, "\n\n%s", material)
	}

	if len(bc.Topics) > 0 {
		fmt.Fprintf(&b, "\n\nWhat part of %s would you like to go deeper on?", bc.Topics[0])
	} else {
		b.WriteString("\n\nCould you tell me a bit more about what you'd like to learn?")
	}
	return b.String(), nil
}

// firstMaterial returns the first non-empty tool result line block.
func firstMaterial(results []domain.ToolResult) string {
	for _, r := range results {
		if c := strings.TrimSpace(r.Content); c != "" {
			return c
		}
	}
	return ""
}
