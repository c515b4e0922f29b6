package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/config"
	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	"github.com/ashureev/shsh-tutor/internal/store"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphCommandPrintsTimeline(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tutor.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", dbPath)

	db, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	agg := graph.NewAggregator(db, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err = agg.Record(context.Background(), "learner-1", graph.Activity{
		At:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Topics:       []domain.TopicID{domain.TopicMachineLearning},
		Interactions: 1,
		Progress:     15,
		Mastery:      map[domain.TopicID]float64{domain.TopicMachineLearning: 0},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"graph", "--learner", "learner-1"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	var got struct {
		LearnerID string              `json:"learnerId"`
		Timeline  []graph.TimelineDay `json:"timeline"`
		Summary   graph.Summary       `json:"summary"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &got), out.String())
	assert.Equal(t, "learner-1", got.LearnerID)
	require.Len(t, got.Timeline, 1)
	assert.Equal(t, "2026-03-01", got.Timeline[0].Date)
	assert.Equal(t, 15, got.Summary.LatestProgress)
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, allowedOrigins(&config.Config{FrontendURL: "http://localhost:5173"}))
	assert.Equal(t, []string{"https://tutor.example"}, allowedOrigins(&config.Config{FrontendURL: "https://tutor.example"}))
}
