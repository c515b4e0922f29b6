package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

var (
	_ SessionStore   = (*MemoryStore)(nil)
	_ SessionSweeper = (*MemoryStore)(nil)
	_ ProfileStore   = (*MemoryStore)(nil)
	_ GraphStore     = (*MemoryStore)(nil)
)

type sessionEntry struct {
	session   *domain.Session
	expiresAt time.Time
}

// MemoryStore implements SessionStore, ProfileStore and GraphStore in memory.
// Values are copied on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]sessionEntry
	profiles map[string]*domain.Profile
	graph    map[string]map[string]domain.GraphEntry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for session expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		sessions: make(map[string]sessionEntry),
		profiles: make(map[string]*domain.Profile),
		graph:    make(map[string]map[string]domain.GraphEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSession returns the session for a learner, evicting it if expired.
func (s *MemoryStore) GetSession(_ context.Context, learnerID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[learnerID]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.sessions, learnerID)
		return nil, nil
	}
	return entry.session.Clone(), nil
}

// PutSession stores a copy of the session.
func (s *MemoryStore) PutSession(_ context.Context, learnerID string, session *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.sessions[learnerID] = sessionEntry{session: session.Clone(), expiresAt: expiresAt}
	return nil
}

// DeleteSession removes a learner's session.
func (s *MemoryStore) DeleteSession(_ context.Context, learnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, learnerID)
	return nil
}

// SweepSessions deletes all expired sessions.
func (s *MemoryStore) SweepSessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []string
	for id, entry := range s.sessions {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

// GetProfile returns a copy of the stored profile.
func (s *MemoryStore) GetProfile(_ context.Context, learnerID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[learnerID].Clone(), nil
}

// PutProfile stores a copy of the profile.
func (s *MemoryStore) PutProfile(_ context.Context, learnerID string, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[learnerID] = profile.Clone()
	return nil
}

// GetGraphEntry returns the entry for a learner and date.
func (s *MemoryStore) GetGraphEntry(_ context.Context, learnerID, date string) (*domain.GraphEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.graph[learnerID][date]
	if !ok {
		return nil, nil
	}
	c := cloneEntry(entry)
	return &c, nil
}

// PutGraphEntry creates or replaces the entry for entry.Date.
func (s *MemoryStore) PutGraphEntry(_ context.Context, learnerID string, entry *domain.GraphEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, ok := s.graph[learnerID]
	if !ok {
		days = make(map[string]domain.GraphEntry)
		s.graph[learnerID] = days
	}
	days[entry.Date] = cloneEntry(*entry)
	return nil
}

// ListGraphEntries returns all entries for a learner ordered by date.
func (s *MemoryStore) ListGraphEntries(_ context.Context, learnerID string) ([]domain.GraphEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.graph[learnerID]
	out := make([]domain.GraphEntry, 0, len(days))
	for _, date := range slices.Sorted(maps.Keys(days)) {
		out = append(out, cloneEntry(days[date]))
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneEntry(e domain.GraphEntry) domain.GraphEntry {
	e.TopicsTouched = append([]domain.TopicID{}, e.TopicsTouched...)
	if e.Mastery != nil {
		e.Mastery = maps.Clone(e.Mastery)
	}
	return e
}
