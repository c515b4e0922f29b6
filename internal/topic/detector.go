// Package topic maps free text onto the tutor's topic tags.
package topic

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"gopkg.in/yaml.v3"
)

// shortKeywordLen is the longest keyword that must match a whole word.
const shortKeywordLen = 3

// Topic describes one entry of the topic catalogue.
type Topic struct {
	ID          domain.TopicID `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Level       domain.Level   `yaml:"level" json:"level"`
	Description string         `yaml:"description" json:"description"`
	Keywords    []string       `yaml:"keywords" json:"-"`
}

// Detector maps text to topics.
type Detector interface {
	Detect(text string) []domain.TopicID
}

// KeywordDetector is a case-insensitive keyword table detector.
type KeywordDetector struct {
	topics []Topic
}

// DefaultTopics returns the built-in topic catalogue.
func DefaultTopics() []Topic {
	return []Topic{
		{
			ID: domain.TopicMachineLearning, Name: "Machine Learning", Level: domain.LevelBeginner,
			Description: "How computers learn patterns from data",
			Keywords:    []string{"machine learning", "ml", "training", "model"},
		},
		{
			ID: domain.TopicNeuralNetworks, Name: "Neural Networks", Level: domain.LevelIntermediate,
			Description: "Brain-inspired models built from layers of neurons",
			Keywords:    []string{"neural", "network", "deep learning", "layers"},
		},
		{
			ID: domain.TopicNLP, Name: "Natural Language Processing", Level: domain.LevelIntermediate,
			Description: "How machines read, write and understand language",
			Keywords:    []string{"nlp", "language", "text", "chatbot", "sentiment"},
		},
		{
			ID: domain.TopicComputerVision, Name: "Computer Vision", Level: domain.LevelIntermediate,
			Description: "Teaching computers to see and understand images",
			Keywords:    []string{"vision", "image", "detection", "recognition"},
		},
		{
			ID: domain.TopicAIEthics, Name: "AI Ethics", Level: domain.LevelBeginner,
			Description: "Responsible and fair AI development",
			Keywords:    []string{"ethics", "bias", "fairness", "responsible"},
		},
		{
			ID: domain.TopicGenerativeAI, Name: "Generative AI", Level: domain.LevelAdvanced,
			Description: "Models that create new text, images and code",
			Keywords:    []string{"generative", "gpt", "llm", "generate"},
		},
		{
			ID: domain.TopicReinforcementLearning, Name: "Reinforcement Learning", Level: domain.LevelAdvanced,
			Description: "Agents that learn by trial, error and reward",
			Keywords:    []string{"reinforcement", "reward", "agent", "policy"},
		},
	}
}

// NewKeywordDetector builds a detector over the given catalogue.
// Keywords are normalised to lower case.
func NewKeywordDetector(topics []Topic) *KeywordDetector {
	normalized := make([]Topic, len(topics))
	for i, t := range topics {
		kws := make([]string, 0, len(t.Keywords))
		for _, kw := range t.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		t.Keywords = kws
		normalized[i] = t
	}
	return &KeywordDetector{topics: normalized}
}

// Detect returns the sorted set of topics whose keywords occur in text.
func (d *KeywordDetector) Detect(text string) []domain.TopicID {
	lower := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	var found []domain.TopicID
	for _, t := range d.topics {
		for _, kw := range t.Keywords {
			if matches(lower, words, kw) {
				found = append(found, t.ID)
				break
			}
		}
	}
	return domain.SortTopics(found)
}

// Topics returns the catalogue the detector was built from.
func (d *KeywordDetector) Topics() []Topic {
	out := make([]Topic, len(d.topics))
	copy(out, d.topics)
	return out
}

// Lookup returns the catalogue entry for id.
func (d *KeywordDetector) Lookup(id domain.TopicID) (Topic, bool) {
	for _, t := range d.topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

func matches(lower string, words map[string]struct{}, kw string) bool {
	if len(kw) <= shortKeywordLen && !strings.Contains(kw, " ") {
		_, ok := words[kw]
		return ok
	}
	return strings.Contains(lower, kw)
}

type catalogueFile struct {
	Topics []Topic `yaml:"topics"`
}

// LoadTopics reads a topic catalogue from a YAML file.
func LoadTopics(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}

	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}
	if len(file.Topics) == 0 {
		return nil, fmt.Errorf("topics file %s defines no topics", path)
	}
	seen := make(map[domain.TopicID]bool)
	for i, t := range file.Topics {
		if t.ID == "" {
			return nil, fmt.Errorf("topic %d has no id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate topic id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Level == "" {
			file.Topics[i].Level = domain.LevelBeginner
		} else if !t.Level.Valid() {
			return nil, fmt.Errorf("topic %q has unknown level %q", t.ID, t.Level)
		}
	}
	return file.Topics, nil
}
