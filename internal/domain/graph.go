package domain

import "time"

// DateLayout is the calendar-day key format of learning graph entries.
const DateLayout = "2006-01-02"

// GraphEntry aggregates one calendar day of learning activity.
type GraphEntry struct {
	Date             string              `json:"date"`
	TopicsTouched    []TopicID           `json:"topics_touched"`
	InteractionCount int                 `json:"interaction_count"`
	ProgressSnapshot int                 `json:"progress_snapshot"`
	Mastery          map[TopicID]float64 `json:"mastery,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// DateKey formats t as a graph entry date in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
