// Package graph aggregates learner activity into one entry per calendar day.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/store"
)

// Activity is what one committed turn contributes to the graph.
type Activity struct {
	At           time.Time
	Topics       []domain.TopicID
	Interactions int
	Progress     int
	// Mastery holds the learner's current mastery; only touched topics are recorded.
	Mastery map[domain.TopicID]float64
	// KeepSnapshot leaves the day's progress snapshot and mastery unchanged,
	// for turns whose profile values are not the learner's.
	KeepSnapshot bool
}

// TimelineDay is a graph entry plus running totals up to that day.
type TimelineDay struct {
	domain.GraphEntry
	NewTopics        []domain.TopicID `json:"new_topics"`
	CumulativeTopics int              `json:"cumulative_topics"`
}

// TrendPoint is a topic's mastery on one day.
type TrendPoint struct {
	Date    string  `json:"date"`
	Mastery float64 `json:"mastery"`
}

// Summary condenses a learner's whole graph.
type Summary struct {
	DaysActive        int              `json:"days_active"`
	TotalInteractions int              `json:"total_interactions"`
	UniqueTopics      []domain.TopicID `json:"unique_topics"`
	LatestProgress    int              `json:"latest_progress"`
	FirstDay          string           `json:"first_day,omitempty"`
	LastDay           string           `json:"last_day,omitempty"`
}

// Aggregator records and reads the learning graph.
type Aggregator struct {
	store  store.GraphStore
	loc    *time.Location
	logger *slog.Logger

	// mu serialises read-modify-write of day entries.
	mu sync.Mutex
}

// NewAggregator creates an aggregator that buckets days in loc.
func NewAggregator(s store.GraphStore, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, loc: loc, logger: logger}
}

// Record merges a into the entry for its day: topics are unioned,
// interactions added, progress and touched-topic mastery overwritten
// unless a.KeepSnapshot is set.
func (a *Aggregator) Record(ctx context.Context, learnerID string, act Activity) (*domain.GraphEntry, error) {
	date := domain.DateKey(act.At, a.loc)

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.store.GetGraphEntry(ctx, learnerID, date)
	if err != nil {
		return nil, fmt.Errorf("load graph entry %s: %w", date, err)
	}
	if entry == nil {
		entry = &domain.GraphEntry{Date: date, TopicsTouched: []domain.TopicID{}}
	}

	entry.TopicsTouched = domain.UnionTopics(entry.TopicsTouched, act.Topics)
	entry.InteractionCount += act.Interactions
	if !act.KeepSnapshot {
		entry.ProgressSnapshot = act.Progress
		for _, t := range act.Topics {
			m, ok := act.Mastery[t]
			if !ok {
				continue
			}
			if entry.Mastery == nil {
				entry.Mastery = make(map[domain.TopicID]float64)
			}
			entry.Mastery[t] = m
		}
	}
	entry.UpdatedAt = act.At

	if err := a.store.PutGraphEntry(ctx, learnerID, entry); err != nil {
		return nil, fmt.Errorf("save graph entry %s: %w", date, err)
	}

	a.logger.Debug("Learning graph updated",
		"learner_id", learnerID,
		"date", date,
		"interactions", entry.InteractionCount,
		"topics", len(entry.TopicsTouched),
	)
	return entry, nil
}

// Timeline returns the learner's days in order with cumulative topic counts.
func (a *Aggregator) Timeline(ctx context.Context, learnerID string) ([]TimelineDay, error) {
	entries, err := a.store.ListGraphEntries(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list graph entries: %w", err)
	}

	seen := make(map[domain.TopicID]struct{})
	days := make([]TimelineDay, 0, len(entries))
	for _, e := range entries {
		fresh := []domain.TopicID{}
		for _, t := range e.TopicsTouched {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				fresh = append(fresh, t)
			}
		}
		days = append(days, TimelineDay{
			GraphEntry:       e,
			NewTopics:        fresh,
			CumulativeTopics: len(seen),
		})
	}
	return days, nil
}

// MasteryTrend returns topic mastery for each day the topic was touched.
func (a *Aggregator) MasteryTrend(ctx context.Context, learnerID string, topic domain.TopicID) ([]TrendPoint, error) {
	entries, err := a.store.ListGraphEntries(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list graph entries: %w", err)
	}

	points := []TrendPoint{}
	for _, e := range entries {
		if !domain.ContainsTopic(e.TopicsTouched, topic) {
			continue
		}
		points = append(points, TrendPoint{Date: e.Date, Mastery: e.Mastery[topic]})
	}
	return points, nil
}

// Summary condenses the learner's graph.
func (a *Aggregator) Summary(ctx context.Context, learnerID string) (Summary, error) {
	entries, err := a.store.ListGraphEntries(ctx, learnerID)
	if err != nil {
		return Summary{}, fmt.Errorf("list graph entries: %w", err)
	}

	s := Summary{UniqueTopics: []domain.TopicID{}}
	for _, e := range entries {
		s.TotalInteractions += e.InteractionCount
		s.UniqueTopics = domain.UnionTopics(s.UniqueTopics, e.TopicsTouched)
	}
	s.DaysActive = len(entries)
	if n := len(entries); n > 0 {
		s.FirstDay = entries[0].Date
		s.LastDay = entries[n-1].Date
		s.LatestProgress = entries[n-1].ProgressSnapshot
	}
	return s, nil
}
