package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama generates replies with a local Ollama model.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates the backend. An empty baseURL uses the local default.
func NewOllama(baseURL, model string, httpClient *http.Client) (*Ollama, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{client: api.NewClient(u, httpClient), model: model}, nil
}

// Generate implements Reasoner.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	msgs := BuildPrompt(req).Messages()
	apiMsgs := make([]api.Message, len(msgs))
	for i, m := range msgs {
		apiMsgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	var reply strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: apiMsgs,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return checkReply(reply.String())
}

// Health checks that the Ollama server answers.
func (o *Ollama) Health(ctx context.Context) error {
	if _, err := o.client.Version(ctx); err != nil {
		return fmt.Errorf("ollama health: %w", err)
	}
	return nil
}
