// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// SessionStore persists ephemeral, TTL-bearing learner sessions.
// Get returns (nil, nil) when the session is absent or expired.
type SessionStore interface {
	// GetSession retrieves the live session for a learner.
	GetSession(ctx context.Context, learnerID string) (*domain.Session, error)

	// PutSession stores a session that expires after ttl of inactivity.
	// A ttl <= 0 stores the session without expiry.
	PutSession(ctx context.Context, learnerID string, session *domain.Session, ttl time.Duration) error

	// DeleteSession removes a learner's session.
	DeleteSession(ctx context.Context, learnerID string) error
}

// SessionSweeper removes expired sessions in bulk.
type SessionSweeper interface {
	// SweepSessions deletes expired sessions and returns the affected learner IDs.
	SweepSessions(ctx context.Context) ([]string, error)
}

// ProfileStore persists durable learner profiles.
// Get returns (nil, nil) when no profile exists yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, learnerID string) (*domain.Profile, error)
	PutProfile(ctx context.Context, learnerID string, profile *domain.Profile) error
}

// GraphStore persists per-day learning graph entries.
type GraphStore interface {
	// GetGraphEntry returns (nil, nil) when the day has no entry.
	GetGraphEntry(ctx context.Context, learnerID, date string) (*domain.GraphEntry, error)

	// PutGraphEntry creates or replaces the entry for entry.Date.
	PutGraphEntry(ctx context.Context, learnerID string, entry *domain.GraphEntry) error

	// ListGraphEntries returns all entries for a learner ordered by date.
	ListGraphEntries(ctx context.Context, learnerID string) ([]domain.GraphEntry, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
