package storage

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/steveyegge/engram/internal/types"
)

// NormalizeRecord converts a backend payload into a MemoryRecord.
//
// The id is the first non-empty of id, _id, memory_id, else a fresh random
// id. Remote backends sometimes return the text under "memory"; that is
// copied into text. A non-map metadata value is coerced into
// {"value": <v>}, and score is parsed as a float with null on failure.
func NormalizeRecord(raw Payload) types.MemoryRecord {
	id := firstString(raw, "id", "_id", "memory_id")
	if id == "" {
		id = uuid.NewString()
	}

	text, _ := raw["text"].(string)
	if text == "" {
		if mem, ok := raw["memory"].(string); ok {
			text = mem
		}
	}

	var metadata types.Metadata
	switch v := raw["metadata"].(type) {
	case nil:
		metadata = types.Metadata{}
	case map[string]any:
		metadata = types.Metadata(v)
	case types.Metadata:
		metadata = v
	default:
		metadata = types.Metadata{"value": v}
	}

	userID, _ := raw["user_id"].(string)
	if userID == "" {
		userID = "unknown"
	}

	return types.MemoryRecord{
		ID:       id,
		UserID:   userID,
		Text:     text,
		Metadata: metadata,
		Score:    maybeFloat(raw["score"]),
	}
}

// NormalizeRecords maps NormalizeRecord over a payload slice.
func NormalizeRecords(raws []Payload) []types.MemoryRecord {
	records := make([]types.MemoryRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, NormalizeRecord(raw))
	}
	return records
}

func firstString(raw Payload, keys ...string) string {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func maybeFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case float32:
		f := float64(val)
		return &f
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return &f
		}
	}
	return nil
}
