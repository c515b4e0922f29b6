package tools

import (
	"testing"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(reqs []Request) []Name {
	out := make([]Name, len(reqs))
	for i, r := range reqs {
		out[i] = r.Tool
	}
	return out
}

func TestSelectRules(t *testing.T) {
	t.Parallel()

	base := Policy{AllowWebLookup: true, LowMastery: 0.5}

	tests := []struct {
		name   string
		text   string
		topics []domain.TopicID
		policy Policy
		want   []Name
	}{
		{
			name: "plain question with unknown topic",
			text: "What is machine learning?", topics: []domain.TopicID{domain.TopicMachineLearning},
			policy: base,
			want:   []Name{KnowledgeLookup, AnalyticsRecord},
		},
		{
			name: "recency cue",
			text: "What are the latest breakthroughs?", policy: base,
			want: []Name{WebLookup, AnalyticsRecord},
		},
		{
			name: "year token",
			text: "What happened in AI in 2025", policy: base,
			want: []Name{WebLookup, AnalyticsRecord},
		},
		{
			name: "web lookup disabled",
			text: "latest news", policy: Policy{AllowWebLookup: false},
			want: []Name{AnalyticsRecord},
		},
		{
			name: "well known topic skips knowledge",
			text: "more on neural nets", topics: []domain.TopicID{domain.TopicNeuralNetworks},
			policy: Policy{LowMastery: 0.5, Mastery: map[domain.TopicID]float64{domain.TopicNeuralNetworks: 0.8}},
			want:   []Name{AnalyticsRecord},
		},
		{
			name: "everything",
			text: "recent news on NLP and ethics",
			topics: []domain.TopicID{domain.TopicAIEthics, domain.TopicNLP},
			policy: base,
			want:   []Name{WebLookup, KnowledgeLookup, KnowledgeLookup, AnalyticsRecord},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Select(tt.text, tt.topics, tt.policy)))
		})
	}
}

func TestSelectParameters(t *testing.T) {
	t.Parallel()

	reqs := Select("latest on ethics", []domain.TopicID{domain.TopicAIEthics}, Policy{
		AllowWebLookup: true,
		LowMastery:     0.5,
		Level:          domain.LevelAdvanced,
		Metadata:       map[string]any{"learner_id": "learner-1"},
	})
	require.Len(t, reqs, 3)

	assert.Equal(t, "latest on ethics", reqs[0].Params["query"])
	assert.Equal(t, "AIEthics", reqs[1].Params["topic"])
	assert.Equal(t, "Advanced", reqs[1].Params["level"])
	assert.True(t, reqs[2].FireAndForget)
	assert.Equal(t, "learner-1", reqs[2].Params["learner_id"])
	assert.Equal(t, []string{"AIEthics"}, reqs[2].Params["topics"])
}

func TestHasRecencyCue(t *testing.T) {
	t.Parallel()

	assert.True(t, HasRecencyCue("Any NEWS today?"))
	assert.False(t, HasRecencyCue("Explain neural networks"))
	assert.False(t, HasRecencyCue("I knew that already"))
	assert.False(t, HasRecencyCue("port 8080 is open"))
}
