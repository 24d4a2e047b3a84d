// Package policy implements the memory governor's classification rules:
// salience scoring for inbound observations, text canonicalization, keyword
// extraction, and the episodic/semantic/procedural consolidation pass.
package policy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/steveyegge/engram/internal/types"
)

// Decision is the outcome of classifying an observation.
type Decision string

const (
	DecisionIgnore    Decision = "ignore"    // below the working threshold; dropped
	DecisionWorking   Decision = "working"   // held in the working store only
	DecisionCandidate Decision = "candidate" // working store + long-term write-back
)

// Decision thresholds on the salience score.
const (
	workingThreshold   = 0.2
	candidateThreshold = 0.4
)

// MaxCanonicalLen caps canonicalized memory text.
const MaxCanonicalLen = 500

// MinKeywordLen is the minimum token length kept by keyword extraction.
const MinKeywordLen = 4

// watchlist terms each add 0.15 to the salience score (capped at 1.0 total
// keyword contribution).
var watchlist = []string{
	"remember", "note", "important", "prefer", "always", "never",
	"please", "do not", "don't", "todo", "task", "tomorrow", "next week",
}

var (
	wordRe       = regexp.MustCompile(`\w+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	commitmentRe = regexp.MustCompile(`(?i)\b(always|never|prefer|i will|i'll|please remember)\b`)
)

// Classify scores an observation and maps the score onto a decision.
//
// score = 0.1 + min(0.5, len/4000) + 0.15*watchlist_hits (keyword term
// capped at 1.0), clamped to >= 0.9 for explicit commands (!remember,
// !recall, or metadata reason == "explicit") and >= 0.6 for commitment
// phrases, then clipped to [0, 1].
func Classify(text string, metadata types.Metadata) (float64, Decision) {
	text = strings.TrimSpace(text)
	score := 0.1 + min(0.5, float64(len(text))/4000.0)
	score += keywordScore(text)

	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "!remember") || strings.HasPrefix(lower, "!recall") ||
		metadata.GetString("reason") == "explicit" {
		score = max(score, 0.9)
	}
	if commitmentRe.MatchString(text) {
		score = max(score, 0.6)
	}

	salience := min(1.0, score)
	switch {
	case salience < workingThreshold:
		return salience, DecisionIgnore
	case salience < candidateThreshold:
		return salience, DecisionWorking
	default:
		return salience, DecisionCandidate
	}
}

func keywordScore(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range watchlist {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return min(1.0, 0.15*float64(hits))
}

// Canonicalize collapses whitespace runs to single spaces, trims, and caps
// the result at MaxCanonicalLen characters.
func Canonicalize(text string) string {
	cleaned := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if runes := []rune(cleaned); len(runes) > MaxCanonicalLen {
		cleaned = string(runes[:MaxCanonicalLen])
	}
	return cleaned
}

// Normalize is the lowercased canonical form used as the working-store
// dedupe key.
func Normalize(text string) string {
	return strings.ToLower(Canonicalize(text))
}

// Tokenize splits text on word characters and lowercases each token.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the tokens of text as a set.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// Keywords extracts the sorted set of lowercased tokens of length >=
// MinKeywordLen from text.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if len(tok) >= MinKeywordLen {
			seen[tok] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
