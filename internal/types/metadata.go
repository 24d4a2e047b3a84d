package types

// Metadata is the open mapping carried on memories and observations.
// Recognized keys are promoted through typed accessors; unknown keys are
// preserved verbatim on round-trips because the map itself is the storage
// representation.
type Metadata map[string]any

// Recognized metadata keys.
const (
	MetaSource     = "source"
	MetaScope      = "scope"
	MetaKind       = "kind"
	MetaSalience   = "salience"
	MetaConfidence = "confidence"
	MetaKeywords   = "keywords"
	MetaTimestamp  = "timestamp"
	MetaEventID    = "event_id"
	MetaSticky     = "sticky"
	MetaSensitive  = "sensitive"
	MetaTitle      = "title"
	MetaRoomID     = "room_id"
)

// Clone returns a shallow copy. A nil receiver clones to an empty map so
// callers can set keys on the result unconditionally.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetString returns the string value for key, or "" when absent or not a
// string.
func (m Metadata) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value for key, false otherwise.
func (m Metadata) GetBool(key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// GetFloat coerces the value for key into a float64. JSON decoding yields
// float64 for all numbers, but values set in-process may be ints.
func (m Metadata) GetFloat(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Source returns the source metadata value.
func (m Metadata) Source() string { return m.GetString(MetaSource) }

// Kind returns the memory kind metadata value.
func (m Metadata) Kind() MemoryKind { return MemoryKind(m.GetString(MetaKind)) }

// EventID returns the event_id metadata value.
func (m Metadata) EventID() string { return m.GetString(MetaEventID) }

// Title returns the title metadata value.
func (m Metadata) Title() string { return m.GetString(MetaTitle) }

// Sticky reports whether the memory is pinned for reflection eligibility.
func (m Metadata) Sticky() bool { return m.GetBool(MetaSticky) }

// Sensitive reports whether the memory is marked sensitive.
func (m Metadata) Sensitive() bool { return m.GetBool(MetaSensitive) }

// Salience returns the salience score and whether it was present.
func (m Metadata) Salience() (float64, bool) { return m.GetFloat(MetaSalience) }

// Confidence returns the confidence score and whether it was present.
func (m Metadata) Confidence() (float64, bool) { return m.GetFloat(MetaConfidence) }

// Timestamp returns the unix-seconds timestamp, or 0 when absent. Backends
// that round-trip through JSON store numbers as float64; in-process writers
// may use int64.
func (m Metadata) Timestamp() int64 {
	if v, ok := m.GetFloat(MetaTimestamp); ok {
		return int64(v)
	}
	return 0
}

// Keywords returns the keyword set, tolerating both []string (in-process)
// and []any (decoded JSON).
func (m Metadata) Keywords() []string {
	switch v := m[MetaKeywords].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Scope returns the scope metadata value, decoding either a Scope struct or
// a {kind, id} map.
func (m Metadata) Scope() (Scope, bool) {
	switch v := m[MetaScope].(type) {
	case Scope:
		return v, true
	case map[string]any:
		kind, _ := v["kind"].(string)
		id, _ := v["id"].(string)
		if kind == "" && id == "" {
			return Scope{}, false
		}
		return Scope{Kind: ScopeKind(kind), ID: id}, true
	}
	return Scope{}, false
}
