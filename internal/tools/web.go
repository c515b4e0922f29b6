package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	braveSearchURL    = "https://api.search.brave.com/res/v1/web/search"
	defaultResultSize = 5
)

// Snippet is one ranked web result.
type Snippet struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// WebSearch answers recency questions with ranked snippets. Without an API
// key, or when the search API fails, it serves a small simulated corpus so
// turns keep some external context.
type WebSearch struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// WebSearchOption configures WebSearch.
type WebSearchOption func(*WebSearch)

// WithEndpoint overrides the search API URL.
func WithEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearch) { w.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) WebSearchOption {
	return func(w *WebSearch) { w.httpClient = c }
}

// NewWebSearch creates the web lookup tool.
func NewWebSearch(apiKey string, logger *slog.Logger, opts ...WebSearchOption) *WebSearch {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebSearch{
		apiKey:     apiKey,
		endpoint:   braveSearchURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements Tool.
func (w *WebSearch) Name() Name { return WebLookup }

// Invoke implements Tool. Params: query (string).
func (w *WebSearch) Invoke(ctx context.Context, params map[string]any) (string, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty query")
	}

	if w.apiKey == "" {
		return FormatSnippets(simulatedSnippets(query)), nil
	}

	results, err := w.search(ctx, query, defaultResultSize)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		w.logger.Warn("Web search failed, using simulated results", "error", err)
		return FormatSnippets(simulatedSnippets(query)), nil
	}
	return FormatSnippets(results), nil
}

func (w *WebSearch) search(ctx context.Context, query string, count int) ([]Snippet, error) {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Web struct {
			Results []Snippet `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload.Web.Results, nil
}

// FormatSnippets renders up to five snippets as a numbered list.
func FormatSnippets(results []Snippet) string {
	if len(results) == 0 {
		return "No recent information found."
	}
	var b strings.Builder
	b.WriteString("Recent information from the web:\n\n")
	for i, r := range results {
		if i == defaultResultSize {
			break
		}
		title := r.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   Source: %s\n\n", i+1, title, r.Description, r.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

var simulatedCorpus = []struct {
	key      string
	snippets []Snippet
}{
	{"machine learning", []Snippet{{
		Title:       "Recent advances in machine learning",
		Description: "More efficient training of large models, federated learning for privacy and progress in AutoML.",
		URL:         "https://ai-research.example.com/ml",
	}}},
	{"neural network", []Snippet{{
		Title:       "How transformer architectures evolved",
		Description: "Attention mechanisms and efficient transformers have moved neural networks beyond earlier designs.",
		URL:         "https://ai-research.example.com/transformers",
	}}},
	{"generative", []Snippet{{
		Title:       "State of generative AI",
		Description: "Language and diffusion models keep improving in controllability while getting cheaper to run.",
		URL:         "https://ai-research.example.com/genai",
	}}},
}

func simulatedSnippets(query string) []Snippet {
	lower := strings.ToLower(query)
	for _, entry := range simulatedCorpus {
		if strings.Contains(lower, entry.key) {
			return entry.snippets
		}
	}
	return []Snippet{{
		Title:       "AI keeps moving quickly",
		Description: "AI systems continue to improve in efficiency, accessibility and capability across domains.",
		URL:         "https://ai-research.example.com/overview",
	}}
}
