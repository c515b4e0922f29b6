package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Chat roles used by the chat-style backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message of a rendered prompt.
type Message struct {
	Role    string
	Content string
}

// Prompt is a backend-neutral rendering of a Request.
type Prompt struct {
	System string
	// History holds earlier turns, oldest first. The learner message is not included.
	History []Message
	User    string
}

const tutorInstructions = `You are a patient tutor helping someone learn about artificial intelligence.
Match your explanation to the learner's level: plain language and everyday analogies for beginners,
more precise terminology and trade-offs for advanced learners. Build on what the learner already knows,
check understanding with a short follow-up question, and keep answers focused and encouraging.
Use the reference material below when it is relevant and say so when information may be out of date.`

// BuildPrompt renders req into a system prompt, history and the learner message.
func BuildPrompt(req Request) Prompt {
	bc := req.Context

	var b strings.Builder
	b.WriteString(tutorInstructions)
	b.WriteString("\n\nLearner profile:\n")
	fmt.Fprintf(&b, "- Level: %s\n", levelOrDefault(bc.Profile.Level))
	fmt.Fprintf(&b, "- Progress: %d/100\n", bc.Profile.Progress)
	if len(bc.Profile.TopicMastery) > 0 {
		fmt.Fprintf(&b, "- Topics studied: %s\n", formatMastery(bc.Profile.TopicMastery))
	}
	if len(bc.Profile.MasteredTopics) > 0 {
		fmt.Fprintf(&b, "- Comfortable with: %s\n", joinTopics(bc.Profile.MasteredTopics))
	}
	if len(bc.Topics) > 0 {
		fmt.Fprintf(&b, "\nThis message is about: %s\n", joinTopics(bc.Topics))
	}

	if len(bc.ToolResults) > 0 {
		b.WriteString("\nReference material:\n")
		for _, r := range bc.ToolResults {
			fmt.Fprintf(&b, "\n[%s at %s]\n%s\n", r.Tool, r.At.UTC().Format("2006-01-02 15:04"), r.Content)
		}
	}

	history := make([]Message, 0, len(bc.Turns))
	for _, t := range bc.Turns {
		role := RoleUser
		if t.Role == domain.RoleAgent {
			role = RoleAssistant
		}
		history = append(history, Message{Role: role, Content: t.Text})
	}

	return Prompt{
		System:  strings.TrimRight(b.String(), "\n"),
		History: history,
		User:    learnerMessage(req),
	}
}

// Messages flattens the prompt into a chat transcript.
func (p Prompt) Messages() []Message {
	out := make([]Message, 0, len(p.History)+2)
	out = append(out, Message{Role: RoleSystem, Content: p.System})
	out = append(out, p.History...)
	out = append(out, Message{Role: RoleUser, Content: p.User})
	return out
}

func levelOrDefault(l domain.Level) domain.Level {
	if l == "" {
		return domain.LevelBeginner
	}
	return l
}

func formatMastery(m map[domain.TopicID]float64) string {
	topics := make([]string, 0, len(m))
	for t := range m {
		topics = append(topics, string(t))
	}
	sort.Strings(topics)
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", t, m[domain.TopicID(t)]*100)
	}
	return strings.Join(parts, ", ")
}

func joinTopics(topics []domain.TopicID) string {
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
