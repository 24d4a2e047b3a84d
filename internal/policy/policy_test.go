package policy

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/steveyegge/engram/internal/types"
)

func TestClassifyDecisions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		metadata types.Metadata
		minScore float64
		want     Decision
	}{
		{
			name: "short chatter is ignored",
			text: "ok",
			want: DecisionIgnore,
		},
		{
			name:     "explicit remember clamps to candidate",
			text:     "!remember buy milk tomorrow",
			minScore: 0.9,
			want:     DecisionCandidate,
		},
		{
			name:     "explicit recall clamps to candidate",
			text:     "!recall what did I say about the deploy",
			minScore: 0.9,
			want:     DecisionCandidate,
		},
		{
			name:     "explicit reason metadata clamps to candidate",
			text:     "ok",
			metadata: types.Metadata{"reason": "explicit"},
			minScore: 0.9,
			want:     DecisionCandidate,
		},
		{
			name:     "commitment phrase clamps to candidate",
			text:     "I'll check the logs in the morning",
			minScore: 0.6,
			want:     DecisionCandidate,
		},
		{
			name: "watchlist words promote to candidate",
			text: "important task for tomorrow",
			want: DecisionCandidate,
		},
		{
			name: "single watchlist hit stays in working memory",
			text: "please pass the salt when you get a chance",
			want: DecisionWorking,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, decision := Classify(tt.text, tt.metadata)
			if decision != tt.want {
				t.Errorf("Classify(%q) decision = %s, want %s (score %v)", tt.text, decision, tt.want, score)
			}
			if score < tt.minScore {
				t.Errorf("Classify(%q) score = %v, want >= %v", tt.text, score, tt.minScore)
			}
			if score < 0 || score > 1 {
				t.Errorf("Classify(%q) score = %v outside [0,1]", tt.text, score)
			}
		})
	}
}

func TestClassifyWatchlistMonotonic(t *testing.T) {
	base := "we discussed the plan for the project"
	baseScore, _ := Classify(base, nil)

	for _, kw := range []string{"remember", "important", "todo", "tomorrow"} {
		score, _ := Classify(base+" "+kw, nil)
		if score < baseScore {
			t.Errorf("adding %q lowered salience: %v -> %v", kw, baseScore, score)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world  ", "hello world"},
		{"a\tb\nc", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("x", 600)
	if got := Canonicalize(long); len(got) != MaxCanonicalLen {
		t.Errorf("Canonicalize long text: len = %d, want %d", len(got), MaxCanonicalLen)
	}
}

func TestCanonicalizeMultibyte(t *testing.T) {
	// 200 characters but 600 bytes: under the cap, must come back intact.
	short := strings.Repeat("世", 200)
	if got := Canonicalize(short); got != short {
		t.Errorf("Canonicalize clipped text under the character cap: %d runes", utf8.RuneCountInString(got))
	}

	wide := strings.Repeat("世", MaxCanonicalLen+100)
	got := Canonicalize(wide)
	if !utf8.ValidString(got) {
		t.Error("Canonicalize produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != MaxCanonicalLen {
		t.Errorf("Canonicalize multibyte: %d runes, want %d", n, MaxCanonicalLen)
	}
}

func TestNormalizeLowercases(t *testing.T) {
	if got := Normalize("  Hello   WORLD "); got != "hello world" {
		t.Errorf("Normalize = %q, want %q", got, "hello world")
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("Run the deploy runbook, then run it again")
	want := []string{"again", "deploy", "runbook", "then"}
	if len(got) != len(want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
