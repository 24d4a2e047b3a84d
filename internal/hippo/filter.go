package hippo

import (
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/types"
)

// FilterLocal matches memories against the query when the store could not:
// substring match against text and keyword list first, then all-tokens AND,
// then (only when AND finds nothing) any-token OR. Matches are sorted by
// recency and truncated to limit.
func FilterLocal(records []types.MemoryRecord, query string, limit int, now time.Time) []types.MemoryRecord {
	if query == "" {
		if limit > 0 && len(records) > limit {
			return records[:limit]
		}
		return records
	}

	needle := strings.ToLower(query)
	tokens := policy.Tokenize(query)

	var substr, andMatch, orMatch []types.MemoryRecord
	for _, rec := range records {
		haystack := haystackFor(rec)
		switch {
		case strings.Contains(haystack, needle):
			substr = append(substr, rec)
		case containsAll(haystack, tokens):
			andMatch = append(andMatch, rec)
		case containsAny(haystack, tokens):
			orMatch = append(orMatch, rec)
		}
	}

	matched := append(substr, andMatch...)
	if len(matched) == 0 {
		matched = orMatch
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return recall.Recency(matched[i].Metadata.Timestamp(), now) >
			recall.Recency(matched[j].Metadata.Timestamp(), now)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// haystackFor is the lowercased text plus concatenated keyword list.
func haystackFor(rec types.MemoryRecord) string {
	parts := []string{strings.ToLower(rec.Text)}
	for _, kw := range rec.Metadata.Keywords() {
		parts = append(parts, strings.ToLower(kw))
	}
	return strings.Join(parts, " ")
}

func containsAll(haystack string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

func containsAny(haystack string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
