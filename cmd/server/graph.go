package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/graph"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var (
	graphLearner string
	graphTopic   string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print a learner's learning graph as JSON",
	Long: `Print a learner's daily learning timeline and summary as JSON.

With --topic, print the mastery trend of that topic instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("Failed to close store", "error", closeErr)
			}
		}()

		ctx := cmd.Context()
		agg := graph.NewAggregator(db, cfg.Location(), slog.Default())

		var out interface{}
		if graphTopic != "" {
			trend, err := agg.MasteryTrend(ctx, graphLearner, domain.TopicID(graphTopic))
			if err != nil {
				return err
			}
			out = map[string]interface{}{"learnerId": graphLearner, "topic": graphTopic, "trend": trend}
		} else {
			timeline, err := agg.Timeline(ctx, graphLearner)
			if err != nil {
				return err
			}
			summary, err := agg.Summary(ctx, graphLearner)
			if err != nil {
				return err
			}
			out = map[string]interface{}{"learnerId": graphLearner, "timeline": timeline, "summary": summary}
		}

		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphLearner, "learner", "l", "", "learner ID")
	graphCmd.Flags().StringVarP(&graphTopic, "topic", "t", "", "topic ID for a mastery trend")
	_ = graphCmd.MarkFlagRequired("learner")
}
