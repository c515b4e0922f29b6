package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAppendTurnEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("s1", "learner-1", start)
	for i := 0; i < 55; i++ {
		s.AppendTurn(Turn{
			Role:      RoleLearner,
			Text:      fmt.Sprintf("msg-%d", i),
			Timestamp: start.Add(time.Duration(i) * time.Second),
		}, 50)
		require.LessOrEqual(t, len(s.Turns), 50)
	}

	require.Len(t, s.Turns, 50)
	assert.Equal(t, "msg-5", s.Turns[0].Text)
	assert.Equal(t, "msg-54", s.Turns[49].Text)
	assert.Equal(t, start.Add(54*time.Second), s.LastActivity)
}

func TestSessionRecentTurns(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "learner-1", time.Now())
	for i := 0; i < 3; i++ {
		s.AppendTurn(Turn{Role: RoleLearner, Text: fmt.Sprintf("m%d", i)}, 0)
	}

	assert.Len(t, s.RecentTurns(10), 3)
	recent := s.RecentTurns(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m1", recent[0].Text)
	assert.Equal(t, "m2", recent[1].Text)
	assert.Nil(t, s.RecentTurns(0))
}

func TestSessionExpired(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("s1", "learner-1", start)

	assert.False(t, s.Expired(start.Add(60*time.Minute), 60*time.Minute))
	assert.True(t, s.Expired(start.Add(61*time.Minute), 60*time.Minute))
	assert.False(t, s.Expired(start.Add(24*time.Hour), 0))
}

func TestSessionCloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := NewSession("s1", "learner-1", time.Now())
	s.AppendTurn(Turn{Role: RoleLearner, Text: "hi", DetectedTopics: []TopicID{TopicNLP}}, 50)
	s.ExploreTopics([]TopicID{TopicNLP})

	c := s.Clone()
	c.Turns[0].DetectedTopics[0] = TopicAIEthics
	c.ExploreTopics([]TopicID{TopicAIEthics})

	assert.Equal(t, TopicNLP, s.Turns[0].DetectedTopics[0])
	assert.Equal(t, []TopicID{TopicNLP}, s.TopicsExplored)
}

func TestUnionTopicsSortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	got := UnionTopics(
		[]TopicID{TopicNeuralNetworks, TopicMachineLearning},
		[]TopicID{TopicMachineLearning, TopicAIEthics},
	)
	assert.Equal(t, []TopicID{TopicAIEthics, TopicMachineLearning, TopicNeuralNetworks}, got)
	assert.Equal(t, []TopicID{}, UnionTopics(nil, nil))
}
