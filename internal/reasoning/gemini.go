package reasoning

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini generates replies with the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate implements Reasoner.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	system, contents := geminiContents(BuildPrompt(req))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return checkReply(resp.Text())
}

func geminiContents(p Prompt) (*genai.Content, []*genai.Content) {
	system := &genai.Content{Parts: []*genai.Part{{Text: p.System}}}
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, m := range p.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(p.User, genai.RoleUser))
	return system, contents
}
