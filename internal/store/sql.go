package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/shared"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq" // postgres driver
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dialect names a supported SQL engine.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var (
	_ SessionStore   = (*SQLStore)(nil)
	_ SessionSweeper = (*SQLStore)(nil)
	_ ProfileStore   = (*SQLStore)(nil)
	_ GraphStore     = (*SQLStore)(nil)
)

// SQLStore implements the tutor stores on top of database/sql.
// Queries are written with "?" placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during turn commits.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, DialectSQLite)
}

// NewPostgres creates a new Postgres-backed store.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(db, DialectPostgres)
}

func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS learner_sessions (
		learner_id TEXT PRIMARY KEY,
		session_json TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learner_sessions_expires ON learner_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS learner_profiles (
		learner_id TEXT PRIMARY KEY,
		level TEXT NOT NULL,
		progress INTEGER NOT NULL,
		topic_mastery_json TEXT NOT NULL,
		total_questions INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		last_active BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_graph (
		learner_id TEXT NOT NULL,
		day TEXT NOT NULL,
		topics_json TEXT NOT NULL,
		interaction_count INTEGER NOT NULL,
		progress_snapshot INTEGER NOT NULL,
		mastery_json TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (learner_id, day)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Dialect returns the SQL engine backing the store.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// rebind converts "?" placeholders to "$n" for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, op string, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withConflictRetry(ctx, op, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, s.rebind(query), args...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetSession retrieves the live session for a learner.
func (s *SQLStore) GetSession(ctx context.Context, learnerID string) (*domain.Session, error) {
	query := `SELECT session_json, expires_at FROM learner_sessions WHERE learner_id = ?`

	var sessionJSON string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), learnerID).Scan(&sessionJSON, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if expiresAt > 0 && expiresAt < s.now().Unix() {
		if delErr := s.DeleteSession(ctx, learnerID); delErr != nil {
			slog.Warn("Failed to evict expired session", "learner_id", learnerID, "error", delErr)
		}
		return nil, nil
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// PutSession creates or replaces a learner's session.
func (s *SQLStore) PutSession(ctx context.Context, learnerID string, session *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	now := s.now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}

	query := `
	INSERT INTO learner_sessions (learner_id, session_json, expires_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(learner_id) DO UPDATE SET
		session_json = excluded.session_json,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

	_, err = s.exec(ctx, "upsert session", query, learnerID, string(data), expiresAt, now.Unix())
	return err
}

// DeleteSession removes a learner's session.
func (s *SQLStore) DeleteSession(ctx context.Context, learnerID string) error {
	_, err := s.exec(ctx, "delete session", `DELETE FROM learner_sessions WHERE learner_id = ?`, learnerID)
	return err
}

// SweepSessions deletes expired sessions and returns their learner IDs.
func (s *SQLStore) SweepSessions(ctx context.Context) ([]string, error) {
	threshold := s.now().Unix()

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT learner_id FROM learner_sessions WHERE expires_at > 0 AND expires_at < ?`), threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}

	if _, err := s.exec(ctx, "sweep sessions",
		`DELETE FROM learner_sessions WHERE expires_at > 0 AND expires_at < ?`, threshold); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetProfile retrieves a learner profile.
func (s *SQLStore) GetProfile(ctx context.Context, learnerID string) (*domain.Profile, error) {
	query := `
		SELECT learner_id, level, progress, topic_mastery_json,
		       total_questions, created_at, last_active
		FROM learner_profiles WHERE learner_id = ?`

	var p domain.Profile
	var level, masteryJSON string
	var createdAt, lastActive int64

	err := s.db.QueryRowContext(ctx, s.rebind(query), learnerID).Scan(
		&p.LearnerID, &level, &p.Progress, &masteryJSON,
		&p.TotalQuestions, &createdAt, &lastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.Level = domain.Level(level)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.LastActive = time.Unix(lastActive, 0)
	p.TopicMastery = make(map[domain.TopicID]float64)
	if err := json.Unmarshal([]byte(masteryJSON), &p.TopicMastery); err != nil {
		return nil, fmt.Errorf("decode topic mastery: %w", err)
	}
	return &p, nil
}

// PutProfile creates or updates a learner profile.
func (s *SQLStore) PutProfile(ctx context.Context, learnerID string, profile *domain.Profile) error {
	mastery := profile.TopicMastery
	if mastery == nil {
		mastery = map[domain.TopicID]float64{}
	}
	masteryJSON, err := json.Marshal(mastery)
	if err != nil {
		return fmt.Errorf("encode topic mastery: %w", err)
	}

	query := `
	INSERT INTO learner_profiles (
		learner_id, level, progress, topic_mastery_json,
		total_questions, created_at, last_active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(learner_id) DO UPDATE SET
		level = excluded.level,
		progress = excluded.progress,
		topic_mastery_json = excluded.topic_mastery_json,
		total_questions = excluded.total_questions,
		last_active = excluded.last_active,
		updated_at = excluded.updated_at`

	_, err = s.exec(ctx, "upsert profile", query,
		learnerID, string(profile.Level), profile.Progress, string(masteryJSON),
		profile.TotalQuestions, profile.CreatedAt.Unix(), profile.LastActive.Unix(), s.now().Unix(),
	)
	return err
}

// GetGraphEntry returns the learning graph entry for one day.
func (s *SQLStore) GetGraphEntry(ctx context.Context, learnerID, date string) (*domain.GraphEntry, error) {
	query := `
		SELECT day, topics_json, interaction_count, progress_snapshot, mastery_json, updated_at
		FROM learning_graph WHERE learner_id = ? AND day = ?`

	entry, err := scanGraphEntry(s.db.QueryRowContext(ctx, s.rebind(query), learnerID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PutGraphEntry creates or replaces the entry for entry.Date.
func (s *SQLStore) PutGraphEntry(ctx context.Context, learnerID string, entry *domain.GraphEntry) error {
	topics := entry.TopicsTouched
	if topics == nil {
		topics = []domain.TopicID{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	mastery := entry.Mastery
	if mastery == nil {
		mastery = map[domain.TopicID]float64{}
	}
	masteryJSON, err := json.Marshal(mastery)
	if err != nil {
		return fmt.Errorf("encode mastery: %w", err)
	}

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	query := `
	INSERT INTO learning_graph (
		learner_id, day, topics_json, interaction_count, progress_snapshot, mastery_json, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(learner_id, day) DO UPDATE SET
		topics_json = excluded.topics_json,
		interaction_count = excluded.interaction_count,
		progress_snapshot = excluded.progress_snapshot,
		mastery_json = excluded.mastery_json,
		updated_at = excluded.updated_at`

	_, err = s.exec(ctx, "upsert graph entry", query,
		learnerID, entry.Date, string(topicsJSON), entry.InteractionCount,
		entry.ProgressSnapshot, string(masteryJSON), updatedAt.Unix(),
	)
	return err
}

// ListGraphEntries returns all entries for a learner ordered by date.
func (s *SQLStore) ListGraphEntries(ctx context.Context, learnerID string) ([]domain.GraphEntry, error) {
	query := `
		SELECT day, topics_json, interaction_count, progress_snapshot, mastery_json, updated_at
		FROM learning_graph WHERE learner_id = ? ORDER BY day ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), learnerID)
	if err != nil {
		return nil, fmt.Errorf("query graph entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close graph rows", "error", closeErr)
		}
	}()

	entries := []domain.GraphEntry{}
	for rows.Next() {
		entry, err := scanGraphEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graph entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraphEntry(row rowScanner) (*domain.GraphEntry, error) {
	var entry domain.GraphEntry
	var topicsJSON, masteryJSON string
	var updatedAt int64

	if err := row.Scan(&entry.Date, &topicsJSON, &entry.InteractionCount,
		&entry.ProgressSnapshot, &masteryJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan graph entry: %w", err)
	}

	if err := json.Unmarshal([]byte(topicsJSON), &entry.TopicsTouched); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(masteryJSON), &entry.Mastery); err != nil {
		return nil, fmt.Errorf("decode mastery: %w", err)
	}
	entry.UpdatedAt = time.Unix(updatedAt, 0)
	return &entry, nil
}

// withConflictRetry retries fn with exponential backoff while the engine
// reports a transient lock conflict.
func withConflictRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsConflictError(err) || i == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
