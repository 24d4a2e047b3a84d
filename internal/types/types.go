// Package types defines core data structures for the engram memory fabric.
package types

import (
	"fmt"
	"time"
)

// MemoryRecord is the persisted unit of long-term memory.
//
// The ID is assigned once (random 128-bit) and never rewritten. Text is the
// canonical statement: whitespace-collapsed and capped at 500 characters.
// Metadata is an open map; recognized keys are promoted through the typed
// accessors on Metadata. Score is an optional relevance score assigned by a
// storage backend.
type MemoryRecord struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Score    *float64 `json:"score,omitempty"`
}

// MemoryKind classifies a long-term memory.
type MemoryKind string

const (
	KindEpisodic   MemoryKind = "episodic"   // raw events
	KindSemantic   MemoryKind = "semantic"   // stable preferences and facts
	KindProcedural MemoryKind = "procedural" // how-to / task knowledge
	KindThread     MemoryKind = "thread"     // conversational threads
	KindPreference MemoryKind = "preference" // user preferences
)

// IsValid returns true if the kind is one of the recognized memory kinds.
func (k MemoryKind) IsValid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindThread, KindPreference:
		return true
	}
	return false
}

// ScopeKind identifies the conversational container type.
type ScopeKind string

const (
	ScopeRoom   ScopeKind = "room"
	ScopeUser   ScopeKind = "user"
	ScopeGlobal ScopeKind = "global"
)

// IsValid returns true if the scope kind is recognized.
func (k ScopeKind) IsValid() bool {
	switch k {
	case ScopeRoom, ScopeUser, ScopeGlobal:
		return true
	}
	return false
}

// Scope identifies the conversational container an observation belongs to.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Key returns the "<kind>:<id>" form used to key consolidation cursors.
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// WorkingEvent is a short-term observation held in the working store.
//
// NormalizedText is the lowercased canonical form used for per-user dedupe.
// Consolidated marks events already folded into long-term memories.
type WorkingEvent struct {
	ID             int64    `json:"id,omitempty"`
	Source         string   `json:"source"`
	UserID         string   `json:"user_id"`
	Text           string   `json:"text"`
	NormalizedText string   `json:"normalized_text,omitempty"`
	Timestamp      int64    `json:"timestamp"`
	Scope          Scope    `json:"scope"`
	EventID        string   `json:"event_id,omitempty"`
	Metadata       Metadata `json:"metadata,omitempty"`
	InsertedAt     int64    `json:"inserted_at,omitempty"`
	Consolidated   bool     `json:"consolidated,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e *WorkingEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// WriteRequest is the payload of a durable memory write-back.
type WriteRequest struct {
	UserID   string   `json:"user_id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// QueueJob wraps a WriteRequest for the durable queue. Jobs are persisted
// to the spool before acknowledgment and removed only after the write
// succeeds.
type QueueJob struct {
	ID      string       `json:"id"`
	TS      int64        `json:"ts"`
	Payload WriteRequest `json:"payload"`
}
