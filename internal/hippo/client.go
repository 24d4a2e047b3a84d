// Package hippo is the write-back client for the hippocampus store. Writes
// prefer the ingest endpoint and fall back to a direct store write; queries
// go to the store's query endpoint with a local keyword-filter fallback
// when the server-side substring match comes back empty.
package hippo

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

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/types"
)

const defaultTimeout = 5 * time.Second

// Client posts memory write-backs and runs recall queries against a
// hippocampus instance, local or remote.
type Client struct {
	ingestURL string
	baseURL   string
	apiKey    string
	http      *http.Client
	log       *logrus.Entry
}

// New creates a write-back client. ingestURL is the full ingest endpoint;
// baseURL is the hippocampus root.
func New(ingestURL, baseURL, apiKey string) *Client {
	return &Client{
		ingestURL: ingestURL,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: defaultTimeout},
		log:       logrus.WithField("component", "hippo"),
	}
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// PostMemory writes a memory, preferring the ingest endpoint. On any
// ingest failure (network, non-2xx) it falls back to a direct POST against
// the store. It returns the id found in either response.
func (c *Client) PostMemory(ctx context.Context, payload types.WriteRequest) (string, error) {
	id, err := c.postJSON(ctx, c.ingestURL, payload, "memory_id", "id")
	if err == nil {
		return id, nil
	}
	c.log.WithError(err).Warn("ingest write failed, falling back to direct store write")

	id, err = c.postJSON(ctx, c.baseURL+"/memories", payload, "memory.id", "id")
	if err != nil {
		return "", fmt.Errorf("direct store write failed: %w", err)
	}
	return id, nil
}

// postJSON posts the payload and extracts the first id found under the
// given dotted keys.
func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, idKeys ...string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("POST %s: status %d: %s", endpoint, resp.StatusCode, snippet)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return extractID(data, idKeys...), nil
}

func extractID(data map[string]any, keys ...string) string {
	for _, key := range keys {
		node := data
		parts := strings.Split(key, ".")
		for i, part := range parts {
			if i == len(parts)-1 {
				if s, ok := node[part].(string); ok && s != "" {
					return s
				}
				break
			}
			next, ok := node[part].(map[string]any)
			if !ok {
				break
			}
			node = next
		}
	}
	return ""
}

// QueryMemories queries the store for the user. When the server-side
// substring match returns nothing, it lists recent items without a query
// and filters locally by keyword. A store that cannot be reached degrades
// to an empty result, never an error; recall must keep answering while
// the store is down.
func (c *Client) QueryMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error) {
	records, err := c.getMemories(ctx, userID, query, limit)
	if err != nil {
		c.log.WithError(err).Error("store query failed")
		records = nil
	}
	if len(records) > 0 {
		return records, nil
	}

	listLimit := limit
	if listLimit <= 0 {
		listLimit = 10
	}
	recent, err := c.getMemories(ctx, userID, "", listLimit)
	if err != nil {
		c.log.WithError(err).Error("store list fallback failed, returning no results")
		return nil, nil
	}
	return FilterLocal(recent, query, limit, time.Now()), nil
}

func (c *Client) getMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error) {
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}

	endpoint := fmt.Sprintf("%s/memories/%s", c.baseURL, url.PathEscape(userID))
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}

	var data struct {
		Memories []types.MemoryRecord `json:"memories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return data.Memories, nil
}
