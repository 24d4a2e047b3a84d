// Package mem0 implements the storage backend against a remote managed
// memory service speaking the Mem0-style REST API. Every request carries
// the configured API key; responses are raw payload maps normalized by the
// adapter.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/engram/internal/storage"
	"github.com/steveyegge/engram/internal/storage/memory"
)

const defaultTimeout = 5 * time.Second

// Client is the remote-SDK backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a remote client. Construction fails with
// storage.ErrMissingAPIKey when no API key is supplied.
func New(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("mem0 backend: %w", storage.ErrMissingAPIKey)
	}
	if baseURL == "" {
		baseURL = "https://api.mem0.ai"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Add sends a single user message with metadata to the service.
func (c *Client) Add(ctx context.Context, userID, text string, metadata map[string]any) (storage.Payload, error) {
	body := map[string]any{
		"messages": []map[string]any{{"role": "user", "content": text}},
		"user_id":  userID,
		"metadata": metadata,
	}
	var result json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/memories/", body, &result); err != nil {
		return nil, err
	}

	// The service returns either a single payload or a one-element list.
	var payload storage.Payload
	if err := json.Unmarshal(result, &payload); err == nil {
		return payload, nil
	}
	var payloads []storage.Payload
	if err := json.Unmarshal(result, &payloads); err == nil && len(payloads) > 0 {
		return payloads[0], nil
	}
	return storage.Payload{"user_id": userID, "text": text, "metadata": metadata}, nil
}

// Query calls the search operation with top_k = limit.
func (c *Client) Query(ctx context.Context, userID, query string, limit int) ([]storage.Payload, error) {
	body := map[string]any{
		"query":   query,
		"user_id": userID,
		"top_k":   limit,
	}
	var payloads []storage.Payload
	if err := c.do(ctx, http.MethodPost, "/v1/memories/search/", body, &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}

// List fetches recent memories for the user.
func (c *Client) List(ctx context.Context, userID string, limit int) ([]storage.Payload, error) {
	path := "/v1/memories/"
	params := url.Values{}
	if userID != "" {
		params.Set("user_id", userID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var payloads []storage.Payload
	if err := c.do(ctx, http.MethodGet, path, nil, &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}

// Delete removes a memory, inspecting the response body for a deletion
// hint ("deleted" flag or a "success"/"deleted" message).
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	var result map[string]any
	if err := c.do(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(id)+"/", nil, &result); err != nil {
		return false, err
	}
	if deleted, ok := result["deleted"].(bool); ok {
		return deleted, nil
	}
	if msg, ok := result["message"].(string); ok {
		lower := strings.ToLower(msg)
		return strings.Contains(lower, "deleted") || strings.Contains(lower, "success"), nil
	}
	return true, nil
}

// Summarize is not part of the remote API; the heuristic join-and-truncate
// runs locally.
func (c *Client) Summarize(_ context.Context, texts []string, maxLength int) (string, error) {
	return memory.Truncate(strings.Join(texts, " "), maxLength), nil
}

// Name identifies the backend variant.
func (c *Client) Name() string { return "mem0" }

// Close is a no-op; the HTTP client holds no persistent resources.
func (c *Client) Close() error { return nil }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mem0: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mem0: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mem0: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mem0: %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mem0: decode response: %w", err)
	}
	return nil
}
