package tools

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

var recencyCues = map[string]struct{}{
	"latest":       {},
	"recent":       {},
	"recently":     {},
	"new":          {},
	"current":      {},
	"today":        {},
	"breakthrough": {},
	"announcement": {},
	"news":         {},
}

var yearToken = regexp.MustCompile(`^(19|20)\d{2}$`)

// Policy tunes tool selection for one turn.
type Policy struct {
	AllowWebLookup bool
	LowMastery     float64
	Level          domain.Level
	Mastery        map[domain.TopicID]float64
	// Metadata is attached to the analytics request.
	Metadata map[string]any
}

// Select returns the tool requests for a turn: web lookup for recency cues,
// knowledge lookup for each weakly known topic and analytics always, in
// that order. Select is pure.
func Select(text string, topics []domain.TopicID, policy Policy) []Request {
	var reqs []Request

	if policy.AllowWebLookup && HasRecencyCue(text) {
		reqs = append(reqs, Request{
			Tool:   WebLookup,
			Params: map[string]any{"query": text},
		})
	}

	level := policy.Level
	if level == "" {
		level = domain.LevelBeginner
	}
	for _, t := range topics {
		m, known := policy.Mastery[t]
		if known && m >= policy.LowMastery {
			continue
		}
		reqs = append(reqs, Request{
			Tool: KnowledgeLookup,
			Params: map[string]any{
				"topic": string(t),
				"level": string(level),
				"query": text,
			},
		})
	}

	analytics := map[string]any{
		"message_chars": len(text),
		"topics":        topicStrings(topics),
	}
	for k, v := range policy.Metadata {
		analytics[k] = v
	}
	reqs = append(reqs, Request{
		Tool:          AnalyticsRecord,
		Params:        analytics,
		FireAndForget: true,
	})

	return reqs
}

// HasRecencyCue reports whether text asks for current information.
func HasRecencyCue(text string) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := recencyCues[w]; ok {
			return true
		}
		if yearToken.MatchString(w) {
			return true
		}
	}
	return false
}

func topicStrings(topics []domain.TopicID) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}
