package policy

import (
	"testing"

	"github.com/steveyegge/engram/internal/types"
)

func event(text string) types.WorkingEvent {
	return types.WorkingEvent{
		Source:    "test",
		UserID:    "alice",
		Text:      text,
		Timestamp: 1700000000,
		Scope:     types.Scope{Kind: types.ScopeRoom, ID: "r1"},
	}
}

func TestConsolidateEpisodic(t *testing.T) {
	events := []types.WorkingEvent{event("met bob at the park"), event("lunch was pizza")}
	out := Consolidate(events, ModeEpisodic)

	if got := len(out[types.KindEpisodic]); got != 2 {
		t.Fatalf("episodic count = %d, want 2", got)
	}
	for _, item := range out[types.KindEpisodic] {
		if item.Confidence != 0.5 {
			t.Errorf("episodic confidence = %v, want 0.5", item.Confidence)
		}
		if item.Provenance.ScopeID != "r1" {
			t.Errorf("provenance scope id = %q, want r1", item.Provenance.ScopeID)
		}
	}
	if len(out[types.KindSemantic]) != 0 || len(out[types.KindProcedural]) != 0 {
		t.Error("episodic mode extracted other kinds")
	}
}

func TestConsolidateSemantic(t *testing.T) {
	tests := []struct {
		text     string
		match    bool
		wantConf float64
	}{
		{"I always drink coffee before standup", true, 0.7},
		{"never deploy on fridays", true, 0.7},
		{"I like the docker compose plugin", true, 0.6},
		{"met bob at the park", false, 0},
	}

	for _, tt := range tests {
		out := Consolidate([]types.WorkingEvent{event(tt.text)}, ModeSemantic)
		items := out[types.KindSemantic]
		if tt.match {
			if len(items) != 1 {
				t.Errorf("Consolidate(%q): semantic count = %d, want 1", tt.text, len(items))
				continue
			}
			if items[0].Confidence != tt.wantConf {
				t.Errorf("Consolidate(%q): confidence = %v, want %v", tt.text, items[0].Confidence, tt.wantConf)
			}
		} else if len(items) != 0 {
			t.Errorf("Consolidate(%q): unexpected semantic extraction", tt.text)
		}
	}
}

func TestConsolidateProcedural(t *testing.T) {
	tests := []struct {
		text     string
		match    bool
		wantConf float64
	}{
		{"run the migration script first", true, 0.55},
		{"use the staging cluster for tests", true, 0.55},
		{"check the deploy runbook for steps", true, 0.65},
		{"restart the worker when it wedges", true, 0.55},
		{"met bob at the park", false, 0},
		// "runbook" must lead the token list or appear anywhere; a leading
		// word that merely contains a starter does not count.
		{"running late today", false, 0},
	}

	for _, tt := range tests {
		out := Consolidate([]types.WorkingEvent{event(tt.text)}, ModeProcedural)
		items := out[types.KindProcedural]
		if tt.match {
			if len(items) != 1 {
				t.Errorf("Consolidate(%q): procedural count = %d, want 1", tt.text, len(items))
				continue
			}
			if items[0].Confidence != tt.wantConf {
				t.Errorf("Consolidate(%q): confidence = %v, want %v", tt.text, items[0].Confidence, tt.wantConf)
			}
		} else if len(items) != 0 {
			t.Errorf("Consolidate(%q): unexpected procedural extraction", tt.text)
		}
	}
}

func TestConsolidateAll(t *testing.T) {
	events := []types.WorkingEvent{event("I always run the smoke tests before merging")}
	out := Consolidate(events, ModeAll)

	if len(out[types.KindEpisodic]) != 1 {
		t.Error("all mode: missing episodic extraction")
	}
	if len(out[types.KindSemantic]) != 1 {
		t.Error("all mode: missing semantic extraction (contains 'always')")
	}
}
