// Package storage provides the memory backend capability set and the
// primary/fallback adapter that fronts it.
//
// The concrete backends live in the memory, sqlite, and mem0 sub-packages.
// This package holds the Backend interface, shared errors, and the payload
// normalization shared by all consumers.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested memory does not exist.
var ErrNotFound = errors.New("not found")

// ErrMissingAPIKey is returned when the remote backend is selected without
// an API key configured.
var ErrMissingAPIKey = errors.New("api key required")

// ErrUnknownBackend is returned by the factory for unrecognized backend
// names.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Payload is the raw JSON-like map a backend returns for a stored memory.
// Every payload carries at least id, user_id, text, and metadata; remote
// backends may add score and nonstandard keys, which is why consumers go
// through NormalizeRecord rather than reading payloads directly.
type Payload = map[string]any

// Backend is the closed capability set every memory store implements.
//
// The original design dispatched dynamically onto whichever client methods
// happened to exist; making the set an interface turns "missing method"
// into a compile-time impossibility.
type Backend interface {
	// Add stores a memory and returns the stored payload.
	Add(ctx context.Context, userID, text string, metadata map[string]any) (Payload, error)

	// Query returns up to limit payloads for userID whose text contains
	// the query substring, case-insensitively.
	Query(ctx context.Context, userID, query string, limit int) ([]Payload, error)

	// List returns up to limit recent payloads, newest first. An empty
	// userID lists across users.
	List(ctx context.Context, userID string, limit int) ([]Payload, error)

	// Delete removes a memory by id, reporting whether anything was
	// deleted.
	Delete(ctx context.Context, id string) (bool, error)

	// Summarize produces a short summary of the given texts, at most
	// maxLength characters.
	Summarize(ctx context.Context, texts []string, maxLength int) (string, error)

	// Name identifies the backend variant (for logs and /doctor).
	Name() string

	// Close releases backend resources.
	Close() error
}
