package policy

import (
	"strings"

	"github.com/steveyegge/engram/internal/types"
)

// Mode selects which kinds a consolidation pass extracts.
type Mode string

const (
	ModeEpisodic   Mode = "episodic"
	ModeSemantic   Mode = "semantic"
	ModeProcedural Mode = "procedural"
	ModeAll        Mode = "all"
)

// IsValid returns true for the recognized consolidation modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeEpisodic, ModeSemantic, ModeProcedural, ModeAll:
		return true
	}
	return false
}

// Provenance records where an extracted memory came from.
type Provenance struct {
	Source    string          `json:"source,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	ScopeKind types.ScopeKind `json:"scope_kind,omitempty"`
	ScopeID   string          `json:"scope_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Extraction is a single memory candidate produced by consolidation.
type Extraction struct {
	Text       string
	Kind       types.MemoryKind
	Confidence float64
	Provenance Provenance
}

// semanticTriggers mark texts that state a preference or stable fact.
var semanticTriggers = []string{"prefer", "always", "never", "like", "please remember", "compose", "plugin"}

// strongSemanticTriggers bump semantic confidence from 0.6 to 0.7.
var strongSemanticTriggers = []string{"prefer", "always", "never"}

// proceduralStarters mark texts whose first token reads like an instruction.
var proceduralStarters = map[string]bool{
	"run": true, "use": true, "start": true, "stop": true,
	"runbook": true, "task": true, "todo": true,
}

// Consolidate extracts episodic, semantic, and procedural memory candidates
// from a batch of working events. Episodic extraction emits each event
// verbatim; semantic and procedural emit the canonicalized text when their
// trigger sets match.
func Consolidate(events []types.WorkingEvent, mode Mode) map[types.MemoryKind][]Extraction {
	out := map[types.MemoryKind][]Extraction{
		types.KindEpisodic:   nil,
		types.KindSemantic:   nil,
		types.KindProcedural: nil,
	}

	for _, evt := range events {
		prov := Provenance{
			Source:    evt.Source,
			EventID:   evt.EventID,
			ScopeKind: evt.Scope.Kind,
			ScopeID:   evt.Scope.ID,
			Timestamp: evt.Timestamp,
		}
		lower := strings.ToLower(evt.Text)

		if mode == ModeAll || mode == ModeEpisodic {
			out[types.KindEpisodic] = append(out[types.KindEpisodic], Extraction{
				Text:       evt.Text,
				Kind:       types.KindEpisodic,
				Confidence: 0.5,
				Provenance: prov,
			})
		}

		if mode == ModeAll || mode == ModeSemantic {
			if containsAny(lower, semanticTriggers) {
				conf := 0.6
				if containsAny(lower, strongSemanticTriggers) {
					conf = 0.7
				}
				out[types.KindSemantic] = append(out[types.KindSemantic], Extraction{
					Text:       Canonicalize(evt.Text),
					Kind:       types.KindSemantic,
					Confidence: conf,
					Provenance: prov,
				})
			}
		}

		if mode == ModeAll || mode == ModeProcedural {
			if isProcedural(lower) {
				conf := 0.55
				if strings.Contains(lower, "runbook") {
					conf = 0.65
				}
				out[types.KindProcedural] = append(out[types.KindProcedural], Extraction{
					Text:       Canonicalize(evt.Text),
					Kind:       types.KindProcedural,
					Confidence: conf,
					Provenance: prov,
				})
			}
		}
	}

	return out
}

func isProcedural(lower string) bool {
	tokens := wordRe.FindAllString(lower, 1)
	if len(tokens) > 0 && proceduralStarters[tokens[0]] {
		return true
	}
	return strings.Contains(lower, "runbook") || strings.Contains(lower, "restart")
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
