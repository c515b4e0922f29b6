package domain

import (
	"fmt"
	"strings"
)

// Level is the coarse proficiency band of a learner.
type Level string

// Levels in ascending order.
const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
	LevelExpert       Level = "Expert"
)

var levelRank = map[Level]int{
	LevelBeginner:     0,
	LevelIntermediate: 1,
	LevelAdvanced:     2,
	LevelExpert:       3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	for l := range levelRank {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Rank returns the ordinal of l, or -1 for unknown levels.
func (l Level) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return -1
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LevelFor derives a level from overall progress and the number of known topics.
func LevelFor(progress, topicCount int) Level {
	switch {
	case progress < 20 || topicCount < 2:
		return LevelBeginner
	case progress < 50 || topicCount < 5:
		return LevelIntermediate
	case progress < 80 || topicCount < 8:
		return LevelAdvanced
	default:
		return LevelExpert
	}
}
