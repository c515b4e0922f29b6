// Package domain contains core domain types for the SHSH tutor.
package domain

import (
	"slices"
	"sort"
)

// TopicID identifies a unit of subject matter.
type TopicID string

// Built-in topics.
const (
	TopicMachineLearning       TopicID = "MachineLearning"
	TopicNeuralNetworks        TopicID = "NeuralNetworks"
	TopicNLP                   TopicID = "NLP"
	TopicComputerVision        TopicID = "ComputerVision"
	TopicAIEthics              TopicID = "AIEthics"
	TopicGenerativeAI          TopicID = "GenerativeAI"
	TopicReinforcementLearning TopicID = "ReinforcementLearning"
)

// UnionTopics merges b into a and returns the sorted, deduplicated result.
// Neither input is modified.
func UnionTopics(a, b []TopicID) []TopicID {
	out := make([]TopicID, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return SortTopics(out)
}

// SortTopics sorts topics in place, removes duplicates and returns the result.
func SortTopics(topics []TopicID) []TopicID {
	if len(topics) == 0 {
		return []TopicID{}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return slices.Compact(topics)
}

// ContainsTopic reports whether t is present in topics.
func ContainsTopic(topics []TopicID, t TopicID) bool {
	return slices.Contains(topics, t)
}
