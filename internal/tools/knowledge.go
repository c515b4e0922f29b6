package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"
)

// ErrNoMaterial is returned when a topic has no curated material.
var ErrNoMaterial = errors.New("no curated material")

const knowledgeResults = 2

// KnowledgeDoc is one curated piece of teaching material.
type KnowledgeDoc struct {
	ID        string         `yaml:"id"`
	Topic     domain.TopicID `yaml:"topic"`
	Level     domain.Level   `yaml:"level"`
	Title     string         `yaml:"title"`
	Content   string         `yaml:"content"`
	Examples  []string       `yaml:"examples"`
	Exercises []string       `yaml:"exercises"`
}

// KnowledgeBase serves curated material from one vector collection per topic.
type KnowledgeBase struct {
	mu          sync.RWMutex
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	collections map[domain.TopicID]*chromem.Collection
	docs        map[string]KnowledgeDoc
}

// NewKnowledgeBase indexes docs using embed.
func NewKnowledgeBase(ctx context.Context, docs []KnowledgeDoc, embed chromem.EmbeddingFunc) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		db:          chromem.NewDB(),
		embed:       embed,
		collections: make(map[domain.TopicID]*chromem.Collection),
		docs:        make(map[string]KnowledgeDoc),
	}
	if err := kb.Add(ctx, docs...); err != nil {
		return nil, err
	}
	return kb, nil
}

// Add indexes additional documents.
func (kb *KnowledgeBase) Add(ctx context.Context, docs ...KnowledgeDoc) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	byTopic := make(map[domain.TopicID][]chromem.Document)
	for _, d := range docs {
		if d.ID == "" || d.Topic == "" || strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("knowledge doc %q: id, topic and content are required", d.ID)
		}
		if d.Level == "" {
			d.Level = domain.LevelBeginner
		}
		kb.docs[d.ID] = d
		byTopic[d.Topic] = append(byTopic[d.Topic], chromem.Document{
			ID:       d.ID,
			Content:  d.Title + "\n" + d.Content,
			Metadata: map[string]string{"level": string(d.Level)},
		})
	}

	for topic, cdocs := range byTopic {
		col, err := kb.collection(topic)
		if err != nil {
			return err
		}
		if err := col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("index %s material: %w", topic, err)
		}
	}
	return nil
}

func (kb *KnowledgeBase) collection(topic domain.TopicID) (*chromem.Collection, error) {
	if col, ok := kb.collections[topic]; ok {
		return col, nil
	}
	col, err := kb.db.CreateCollection("knowledge_"+string(topic), nil, kb.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection for %s: %w", topic, err)
	}
	kb.collections[topic] = col
	return col, nil
}

// Name implements Tool.
func (kb *KnowledgeBase) Name() Name { return KnowledgeLookup }

// Invoke implements Tool. Params: topic (string), level and query (optional).
func (kb *KnowledgeBase) Invoke(ctx context.Context, params map[string]any) (string, error) {
	topic, err := stringParam(params, "topic")
	if err != nil {
		return "", err
	}
	level, _ := params["level"].(string)
	query, _ := params["query"].(string)

	docs, err := kb.Lookup(ctx, domain.TopicID(topic), domain.Level(level), query)
	if err != nil {
		return "", err
	}
	return formatMaterial(domain.TopicID(topic), docs), nil
}

// Lookup returns the material closest to query for topic. Documents at the
// learner's level are listed first.
func (kb *KnowledgeBase) Lookup(ctx context.Context, topic domain.TopicID, level domain.Level, query string) ([]KnowledgeDoc, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	col, ok := kb.collections[topic]
	if !ok || col.Count() == 0 {
		return nil, fmt.Errorf("%w for topic %s", ErrNoMaterial, topic)
	}
	if strings.TrimSpace(query) == "" {
		query = string(topic)
	}

	k := min(knowledgeResults, col.Count())
	var results []chromem.Result
	var err error
	for attempt := k; attempt > 0; attempt-- {
		results, err = col.Query(ctx, query, attempt, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("query %s material: %w", topic, err)
	}

	docs := make([]KnowledgeDoc, 0, len(results))
	for _, r := range results {
		if d, ok := kb.docs[r.ID]; ok {
			docs = append(docs, d)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Level == level && docs[j].Level != level
	})
	return docs, nil
}

func formatMaterial(topic domain.TopicID, docs []KnowledgeDoc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Curated material for %s:\n", topic)
	for _, d := range docs {
		fmt.Fprintf(&b, "\n%s (%s)\n%s\n", d.Title, d.Level, d.Content)
		if len(d.Examples) > 0 {
			fmt.Fprintf(&b, "Examples: %s\n", strings.Join(d.Examples, "; "))
		}
		if len(d.Exercises) > 0 {
			fmt.Fprintf(&b, "Exercises: %s\n", strings.Join(d.Exercises, "; "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

type knowledgeFile struct {
	Documents []KnowledgeDoc `yaml:"documents"`
}

// LoadKnowledge reads curated documents from a YAML file.
func LoadKnowledge(path string) ([]KnowledgeDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse knowledge file: %w", err)
	}
	return file.Documents, nil
}

// DefaultKnowledge returns the built-in curated material.
func DefaultKnowledge() []KnowledgeDoc {
	return []KnowledgeDoc{
		{
			ID: "ml-basics", Topic: domain.TopicMachineLearning, Level: domain.LevelBeginner,
			Title:     "Introduction to Machine Learning",
			Content:   "Machine learning lets computers learn patterns from examples instead of following hand-written rules. A model is trained on data and then used to make predictions on new data.",
			Examples:  []string{"Email spam detection", "Product recommendations", "Image recognition"},
			Exercises: []string{"Identify supervised vs unsupervised learning", "Explain overfitting"},
		},
		{
			ID: "ml-types", Topic: domain.TopicMachineLearning, Level: domain.LevelIntermediate,
			Title:     "Kinds of learning",
			Content:   "Supervised learning fits labelled data, unsupervised learning finds structure in unlabelled data and reinforcement learning improves behaviour from rewards. Validation data guards against overfitting.",
			Exercises: []string{"Pick a learning type for predicting house prices"},
		},
		{
			ID: "nn-fundamentals", Topic: domain.TopicNeuralNetworks, Level: domain.LevelIntermediate,
			Title:     "Neural Networks Fundamentals",
			Content:   "Neural networks are loosely inspired by the brain. Layers of simple units transform their inputs, and training adjusts the connection weights through backpropagation.",
			Examples:  []string{"Image classification with CNNs", "Language translation with sequence models"},
			Exercises: []string{"Calculate the output of a simple perceptron", "Explain backpropagation"},
		},
		{
			ID: "nn-intuition", Topic: domain.TopicNeuralNetworks, Level: domain.LevelBeginner,
			Title:   "Layers as filters",
			Content: "Think of each layer as a filter that notices something slightly more complex than the layer before it: edges, then shapes, then whole objects. Deep learning simply means many layers.",
		},
		{
			ID: "nlp-basics", Topic: domain.TopicNLP, Level: domain.LevelBeginner,
			Title:    "How computers handle language",
			Content:  "Natural language processing turns text into numbers a model can work with. Common tasks are translation, sentiment analysis, summarisation and chatbots. Context changes meaning, which makes language hard.",
			Examples: []string{"Machine translation", "Voice assistants"},
		},
		{
			ID: "cv-basics", Topic: domain.TopicComputerVision, Level: domain.LevelBeginner,
			Title:    "How computers see",
			Content:  "To a computer an image is a grid of numbers. Vision models learn to detect features such as edges and textures and combine them to recognise objects.",
			Examples: []string{"Face unlock on phones", "Medical image screening"},
		},
		{
			ID: "ethics-basics", Topic: domain.TopicAIEthics, Level: domain.LevelBeginner,
			Title:    "Responsible AI",
			Content:  "AI systems learn from data, so biased data leads to biased decisions. Responsible development asks who is affected, how decisions can be explained and who is accountable.",
			Examples: []string{"Loan approval fairness", "Privacy in face recognition"},
		},
		{
			ID: "genai-basics", Topic: domain.TopicGenerativeAI, Level: domain.LevelBeginner,
			Title:   "What generative models do",
			Content: "Generative AI creates new content such as text, images or code by learning the patterns of its training data. Large language models predict the next word over and over.",
		},
		{
			ID: "rl-basics", Topic: domain.TopicReinforcementLearning, Level: domain.LevelBeginner,
			Title:    "Learning from rewards",
			Content:  "In reinforcement learning an agent tries actions in an environment and receives rewards. Over time its policy favours actions that lead to higher total reward.",
			Examples: []string{"Game-playing agents", "Robot control"},
		},
	}
}
