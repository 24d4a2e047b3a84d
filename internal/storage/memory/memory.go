// Package memory implements the storage backend as an ordered in-process
// slice of payloads. It is the always-present fallback behind the adapter
// and the default backend for tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/steveyegge/engram/internal/storage"
)

// Store is the in-memory backend. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	payloads []storage.Payload
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Add appends a payload with a fresh random id.
func (s *Store) Add(_ context.Context, userID, text string, metadata map[string]any) (storage.Payload, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload := storage.Payload{
		"id":       uuid.NewString(),
		"user_id":  userID,
		"text":     text,
		"metadata": metadata,
		"score":    1.0,
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	return payload, nil
}

// Query returns payloads for userID whose lowercased text contains the
// lowercased query substring, in insertion order, truncated to limit.
func (s *Store) Query(_ context.Context, userID, query string, limit int) ([]storage.Payload, error) {
	needle := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []storage.Payload
	for _, payload := range s.payloads {
		if payload["user_id"] != userID {
			continue
		}
		text, _ := payload["text"].(string)
		if strings.Contains(strings.ToLower(text), needle) {
			matches = append(matches, payload)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// List returns up to limit payloads newest first. An empty userID lists
// across all users.
func (s *Store) List(_ context.Context, userID string, limit int) ([]storage.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Payload
	for i := len(s.payloads) - 1; i >= 0; i-- {
		payload := s.payloads[i]
		if userID != "" && payload["user_id"] != userID {
			continue
		}
		out = append(out, payload)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete removes a payload by id.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, payload := range s.payloads {
		if payload["id"] == id {
			s.payloads = append(s.payloads[:i], s.payloads[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Summarize joins the texts with spaces and truncates to maxLength with a
// trailing ellipsis when clipped.
func (s *Store) Summarize(_ context.Context, texts []string, maxLength int) (string, error) {
	return Truncate(strings.Join(texts, " "), maxLength), nil
}

// Name identifies the backend variant.
func (s *Store) Name() string { return "memory" }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Truncate clips text to maxChars characters, replacing the tail with
// "..." when it does not fit. Shared by the backends' heuristic
// summarizers. The cut counts runes, never splitting a multibyte
// character.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-3]) + "..."
}
