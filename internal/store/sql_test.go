package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreProfileRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	missing, err := s.GetProfile(ctx, "learner-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	p := domain.NewProfile("learner-1", created)
	p.Progress = 30
	p.Level = domain.LevelIntermediate
	p.TotalQuestions = 2
	p.TopicMastery[domain.TopicMachineLearning] = 0.1
	p.TopicMastery[domain.TopicNeuralNetworks] = 0
	require.NoError(t, s.PutProfile(ctx, "learner-1", p))

	p.Progress = 45
	require.NoError(t, s.PutProfile(ctx, "learner-1", p))

	got, err := s.GetProfile(ctx, "learner-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 45, got.Progress)
	assert.Equal(t, domain.LevelIntermediate, got.Level)
	assert.Equal(t, 2, got.TotalQuestions)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, []domain.TopicID{domain.TopicMachineLearning, domain.TopicNeuralNetworks}, got.Topics())
}

func TestSQLStoreSessionExpiry(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	clock := &fakeClock{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	ctx := context.Background()

	sess := domain.NewSession("sess-1", "learner-1", clock.Now())
	sess.AppendTurn(domain.Turn{Role: domain.RoleLearner, Text: "hello", Timestamp: clock.Now()}, 50)
	require.NoError(t, s.PutSession(ctx, "learner-1", sess, time.Hour))
	require.NoError(t, s.PutSession(ctx, "learner-2", domain.NewSession("sess-2", "learner-2", clock.Now()), 2*time.Hour))

	got, err := s.GetSession(ctx, "learner-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "hello", got.Turns[0].Text)

	clock.Advance(61 * time.Minute)
	got, err = s.GetSession(ctx, "learner-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	clock.Advance(2 * time.Hour)
	expired, err := s.SweepSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"learner-2"}, expired)
}

func TestSQLStoreSessionLiveAtExactTTL(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	clock := &fakeClock{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	ctx := context.Background()

	require.NoError(t, s.PutSession(ctx, "learner-1", domain.NewSession("sess-1", "learner-1", clock.Now()), time.Hour))

	clock.Advance(time.Hour)
	expired, err := s.SweepSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
	got, err := s.GetSession(ctx, "learner-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(time.Second)
	expired, err = s.SweepSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"learner-1"}, expired)
}

func TestSQLStoreGraphEntries(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.PutGraphEntry(ctx, "learner-1", &domain.GraphEntry{
		Date:             "2026-02-02",
		TopicsTouched:    []domain.TopicID{domain.TopicNLP},
		InteractionCount: 1,
		ProgressSnapshot: 15,
		Mastery:          map[domain.TopicID]float64{domain.TopicNLP: 0},
	}))
	require.NoError(t, s.PutGraphEntry(ctx, "learner-1", &domain.GraphEntry{
		Date:             "2026-02-01",
		TopicsTouched:    []domain.TopicID{},
		InteractionCount: 3,
		ProgressSnapshot: 0,
	}))
	require.NoError(t, s.PutGraphEntry(ctx, "learner-1", &domain.GraphEntry{
		Date:             "2026-02-02",
		TopicsTouched:    []domain.TopicID{domain.TopicNLP, domain.TopicAIEthics},
		InteractionCount: 2,
		ProgressSnapshot: 30,
	}))

	entries, err := s.ListGraphEntries(ctx, "learner-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-02-01", entries[0].Date)
	assert.Equal(t, 2, entries[1].InteractionCount)
	assert.Equal(t, 30, entries[1].ProgressSnapshot)
	assert.Len(t, entries[1].TopicsTouched, 2)

	day, err := s.GetGraphEntry(ctx, "learner-1", "2026-02-01")
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, 3, day.InteractionCount)
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	s := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.dialect = DialectSQLite
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}
