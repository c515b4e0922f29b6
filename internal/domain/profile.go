package domain

import (
	"maps"
	"slices"
	"time"
)

// MaxProgress is the upper bound of Profile.Progress.
const MaxProgress = 100

// Profile is the durable learning record of a learner.
type Profile struct {
	LearnerID      string              `json:"learner_id"`
	Level          Level               `json:"level"`
	Progress       int                 `json:"progress"`
	TopicMastery   map[TopicID]float64 `json:"topic_mastery"`
	TotalQuestions int                 `json:"total_questions"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActive     time.Time           `json:"last_active"`
}

// NewProfile returns the profile given to a learner on first contact.
func NewProfile(learnerID string, now time.Time) *Profile {
	return &Profile{
		LearnerID:    learnerID,
		Level:        LevelBeginner,
		TopicMastery: make(map[TopicID]float64),
		CreatedAt:    now,
		LastActive:   now,
	}
}

// Topics returns the known topics in sorted order.
func (p *Profile) Topics() []TopicID {
	return SortTopics(slices.Collect(maps.Keys(p.TopicMastery)))
}

// Knows reports whether topic has a mastery entry.
func (p *Profile) Knows(topic TopicID) bool {
	_, ok := p.TopicMastery[topic]
	return ok
}

// MasteredTopics returns the sorted topics with mastery at or above threshold.
func (p *Profile) MasteredTopics(threshold float64) []TopicID {
	var out []TopicID
	for t, m := range p.TopicMastery {
		if m >= threshold {
			out = append(out, t)
		}
	}
	return SortTopics(out)
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.TopicMastery = make(map[TopicID]float64, len(p.TopicMastery))
	maps.Copy(c.TopicMastery, p.TopicMastery)
	return &c
}
