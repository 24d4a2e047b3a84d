// Package reflection selects one soft-prefixed line from long-term memory
// to append after an assistant reply. Candidates are filtered for
// sensitivity and logistics leakage, then scored by lexical overlap with
// the conversation.
package reflection

import (
	"context"
	"strings"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/types"
)

const (
	softPrefix = "Sam:"
	softPhrase = "This connects to"

	// minOverlap is the floor below which no reflection is emitted.
	minOverlap = 0.05

	// snippetWords caps the quoted memory snippet.
	snippetWords = 25

	// DefaultMaxCandidates is how many memories a reflection pass pulls.
	DefaultMaxCandidates = 3
)

// logisticsKeywords never leak into a reflection unless the conversation
// itself already contains one.
var logisticsKeywords = []string{
	"token", "secret", "password", "api key", "ip", "port",
	"localhost", "127.", "host.docker.internal",
}

// Querier is the recall surface a reflection pass reads from.
type Querier interface {
	QueryMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error)
}

// Selector runs reflection passes against a memory querier.
type Selector struct {
	Store         Querier
	MaxCandidates int
}

// NewSelector creates a selector with the default candidate budget.
func NewSelector(store Querier) *Selector {
	return &Selector{Store: store, MaxCandidates: DefaultMaxCandidates}
}

// Reflect returns a single reflection line for the conversation, or ""
// when nothing is eligible or relevant enough.
func (s *Selector) Reflect(ctx context.Context, userID, userMessage, assistantReply string) (string, error) {
	combined := strings.TrimSpace(userMessage + " " + assistantReply)
	if combined == "" {
		return "", nil
	}

	limit := s.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}
	memories, err := s.Store.QueryMemories(ctx, userID, combined, limit)
	if err != nil {
		return "", err
	}

	best := Select(memories, combined)
	if best == "" {
		return "", nil
	}
	return softPrefix + " " + softPhrase + " " + best, nil
}

// Select picks the snippet of the highest-overlap eligible memory, or ""
// when none clears the overlap floor.
func Select(memories []types.MemoryRecord, conversation string) string {
	convTokens := policy.TokenSet(conversation)
	convLower := strings.ToLower(conversation)

	bestScore := 0.0
	bestText := ""
	for _, mem := range memories {
		if !eligible(mem, convTokens, convLower) {
			continue
		}
		score := overlap(mem.Text, convTokens)
		if score > bestScore {
			bestScore = score
			bestText = mem.Text
		}
	}

	if bestScore < minOverlap {
		return ""
	}
	return snippet(bestText)
}

func eligible(mem types.MemoryRecord, convTokens map[string]struct{}, convLower string) bool {
	kind := mem.Metadata.Kind()
	if kind != types.KindThread && kind != types.KindPreference && !mem.Metadata.Sticky() {
		return false
	}
	if strings.TrimSpace(mem.Text) == "" {
		return false
	}
	if mem.Metadata.Sensitive() && overlap(mem.Text, convTokens) == 0 {
		return false
	}
	if mentionsLogistics(mem.Text) && !mentionsLogistics(convLower) {
		return false
	}
	return true
}

func mentionsLogistics(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range logisticsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// overlap is |tokens(text) ∩ tokens(conv)| / |tokens(conv)|.
func overlap(text string, convTokens map[string]struct{}) float64 {
	if len(convTokens) == 0 {
		return 0
	}
	shared := 0
	for tok := range policy.TokenSet(text) {
		if _, ok := convTokens[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(convTokens))
}

func snippet(text string) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) <= snippetWords {
		return strings.Join(words, " ")
	}
	clipped := strings.Join(words[:snippetWords], " ")
	return strings.TrimRight(clipped, ",.;") + "…"
}
