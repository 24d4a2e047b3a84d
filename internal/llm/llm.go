// Package llm wraps the Anthropic API for the two optional LLM passes:
// memory summarization and recall reranking. Both are contract-only
// consumers — on any API or parse failure the caller keeps its heuristic
// result.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// errAPIKeyRequired is returned when a client is constructed without a key.
var errAPIKeyRequired = errors.New("API key required")

const defaultModel = "claude-3-5-haiku-latest"

// Client wraps the Anthropic API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates an LLM client. baseURL is optional and supports
// LiteLLM-style proxies; model falls back to a small default.
func New(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm client: %w", errAPIKeyRequired)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

// Summarize asks the model for a compact summary of the texts, capped at
// maxChars characters.
func (c *Client) Summarize(ctx context.Context, texts []string, maxChars int) (string, error) {
	if len(texts) == 0 {
		return "", nil
	}
	prompt := fmt.Sprintf(
		"Summarize the following notes into one compact paragraph of at most %d characters. Reply with the summary only.\n\n%s",
		maxChars, strings.Join(texts, "\n"))

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if runes := []rune(out); len(runes) > maxChars {
		out = string(runes[:maxChars])
	}
	return out, nil
}

// Rerank asks the model to reorder candidate texts by relevance to the
// query. It returns the candidate indices best-first. A response that does
// not parse as a JSON array is an error; the caller keeps the original
// order.
func (c *Client) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the following memories by relevance to the query %q. ", query)
	b.WriteString("Reply with a JSON array of the zero-based indices, most relevant first, and nothing else.\n")
	for i, cand := range candidates {
		fmt.Fprintf(&b, "%d: %s\n", i, cand)
	}

	out, err := c.complete(ctx, b.String())
	if err != nil {
		return nil, err
	}

	var order []int
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &order); err != nil {
		return nil, fmt.Errorf("rerank response is not a JSON array: %w", err)
	}
	for _, idx := range order {
		if idx < 0 || idx >= len(candidates) {
			return nil, fmt.Errorf("rerank index %d out of range", idx)
		}
	}
	return order, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(message.Content) == 0 {
		return "", fmt.Errorf("unexpected response format: no content blocks")
	}
	content := message.Content[0]
	if content.Type != "text" {
		return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
	}
	return content.Text, nil
}
