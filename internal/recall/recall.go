// Package recall ranks recalled memories: recency+confidence scoring,
// request filters, and an optional LLM rerank pass.
package recall

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/types"
)

// defaultConfidence is assumed for memories without a confidence score.
const defaultConfidence = 0.5

// missingTimestampRecency is the recency assigned to memories without a
// timestamp: old enough to rank below anything fresh, not zero.
const missingTimestampRecency = 0.3

// Filters narrow a recall query before ranking.
type Filters struct {
	Kinds         []string     `json:"kinds,omitempty"`
	MinConfidence *float64     `json:"min_confidence,omitempty"`
	SinceDays     *int         `json:"since_days,omitempty"`
	Scope         *types.Scope `json:"scope,omitempty"`
}

// Item is one recall result.
type Item struct {
	Text       string     `json:"text"`
	Kind       string     `json:"kind,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Timestamp  *int64     `json:"timestamp,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// Provenance carries the origin fields exposed on a recall item.
type Provenance struct {
	Source  string `json:"source,omitempty"`
	EventID string `json:"event_id,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
}

// Recency maps a unix timestamp onto [0,1] with linear decay over ~30
// days. A zero timestamp yields missingTimestampRecency.
func Recency(ts int64, now time.Time) float64 {
	if ts == 0 {
		return missingTimestampRecency
	}
	ageDays := now.Sub(time.Unix(ts, 0)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return max(0, 1-ageDays/30)
}

// ApplyFilters drops records whose kind is outside the requested set, whose
// confidence is below the floor, that are older than since_days, or whose
// scope does not match.
func ApplyFilters(records []types.MemoryRecord, filters Filters, now time.Time) []types.MemoryRecord {
	kindSet := make(map[string]bool, len(filters.Kinds))
	for _, k := range filters.Kinds {
		kindSet[k] = true
	}

	var out []types.MemoryRecord
	for _, rec := range records {
		kind := string(rec.Metadata.Kind())
		if len(kindSet) > 0 && kind != "" && !kindSet[kind] {
			continue
		}
		if filters.MinConfidence != nil {
			if conf, ok := rec.Metadata.Confidence(); ok && conf < *filters.MinConfidence {
				continue
			}
		}
		if filters.SinceDays != nil {
			ts := rec.Metadata.Timestamp()
			if ts != 0 && now.Sub(time.Unix(ts, 0)) > time.Duration(*filters.SinceDays)*24*time.Hour {
				continue
			}
		}
		if filters.Scope != nil {
			if scope, ok := rec.Metadata.Scope(); ok && scope != *filters.Scope {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// Rank sorts records by 0.7·confidence + 0.3·recency, descending, and
// returns the top k.
func Rank(records []types.MemoryRecord, k int, now time.Time) []types.MemoryRecord {
	scored := make([]types.MemoryRecord, len(records))
	copy(scored, records)

	sort.SliceStable(scored, func(i, j int) bool {
		return finalScore(scored[i], now) > finalScore(scored[j], now)
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func finalScore(rec types.MemoryRecord, now time.Time) float64 {
	conf, ok := rec.Metadata.Confidence()
	if !ok {
		conf = defaultConfidence
	}
	return 0.7*conf + 0.3*Recency(rec.Metadata.Timestamp(), now)
}

// Reranker is the optional LLM reorder pass.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]int, error)
}

// Ranker combines heuristic ranking with the optional reranker.
type Ranker struct {
	Reranker  Reranker
	RerankMax int
}

// Rank applies the heuristic ordering, then (when a reranker is
// configured) sends up to RerankMax candidates to it. A rerank failure
// keeps the heuristic order.
func (r *Ranker) Rank(ctx context.Context, query string, records []types.MemoryRecord, k int, now time.Time) []types.MemoryRecord {
	ranked := Rank(records, k, now)
	if r == nil || r.Reranker == nil || len(ranked) < 2 {
		return ranked
	}

	limit := r.RerankMax
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	texts := make([]string, limit)
	for i := 0; i < limit; i++ {
		texts[i] = ranked[i].Text
	}

	order, err := r.Reranker.Rerank(ctx, query, texts)
	if err != nil {
		logrus.WithError(err).Debug("rerank failed, keeping heuristic order")
		return ranked
	}

	reordered := make([]types.MemoryRecord, 0, len(ranked))
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < limit && !seen[idx] {
			reordered = append(reordered, ranked[idx])
			seen[idx] = true
		}
	}
	for i := 0; i < len(ranked); i++ {
		if i >= limit || !seen[i] {
			reordered = append(reordered, ranked[i])
		}
	}
	return reordered
}

// ToItem shapes a record into a recall response item.
func ToItem(rec types.MemoryRecord) Item {
	item := Item{
		Text: rec.Text,
		Kind: string(rec.Metadata.Kind()),
		Provenance: Provenance{
			Source:  rec.Metadata.Source(),
			EventID: rec.Metadata.EventID(),
			RoomID:  rec.Metadata.GetString(types.MetaRoomID),
		},
	}
	if conf, ok := rec.Metadata.Confidence(); ok {
		item.Confidence = &conf
	}
	if ts := rec.Metadata.Timestamp(); ts != 0 {
		item.Timestamp = &ts
	}
	if item.Provenance.RoomID == "" {
		if scope, ok := rec.Metadata.Scope(); ok {
			item.Provenance.RoomID = scope.ID
		}
	}
	return item
}
