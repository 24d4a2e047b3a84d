// Package governor is the memory governor runtime: it classifies inbound
// observations, owns the working store and durable queue, runs the single
// write-back worker, and orchestrates recall and consolidation.
package governor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/spool"
	"github.com/steveyegge/engram/internal/telemetry"
	"github.com/steveyegge/engram/internal/types"
	"github.com/steveyegge/engram/internal/working"
)

const (
	// retryDelay is the constant worker backoff between write-back attempts.
	retryDelay = 2 * time.Second

	// queueDepth bounds the in-process job channel. The spool itself is
	// unbounded; this only limits how many jobs sit in memory at once.
	queueDepth = 1024

	// cleanupInterval is how often expired working events are purged.
	cleanupInterval = time.Hour

	defaultConsolidateItems = 10
	defaultRecallK          = 5
)

// Writer posts a memory write-back downstream.
type Writer interface {
	PostMemory(ctx context.Context, payload types.WriteRequest) (string, error)
	QueryMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error)
}

// Runtime wires the governor's components together. Construct one in main
// and share it across handlers; it owns the worker goroutine lifecycle.
type Runtime struct {
	working *working.Store
	queue   *spool.Queue
	stream  *StreamLog
	client  Writer
	ranker  *recall.Ranker

	jobs chan types.QueueJob
	log  *logrus.Entry
}

// New assembles a runtime. stream may be nil when stream logging is
// disabled; ranker may be nil for pure heuristic recall.
func New(ws *working.Store, queue *spool.Queue, stream *StreamLog, client Writer, ranker *recall.Ranker) *Runtime {
	return &Runtime{
		working: ws,
		queue:   queue,
		stream:  stream,
		client:  client,
		ranker:  ranker,
		jobs:    make(chan types.QueueJob, queueDepth),
		log:     logrus.WithField("component", "governor"),
	}
}

// ObserveResult reports what happened to one observation.
type ObserveResult struct {
	Action   string
	Salience float64
	Decision policy.Decision
}

// Observe classifies an observation and routes it: ignored events are
// dropped, working events land in the short-term store, and candidates are
// additionally enqueued for long-term write-back. Duplicate events are
// reported as not-added without error. Only fresh inserts reach the
// stream log.
func (r *Runtime) Observe(ctx context.Context, event *types.WorkingEvent) (ObserveResult, error) {
	salience, decision := policy.Classify(event.Text, event.Metadata)
	telemetry.ObserveDecision(ctx, string(decision))
	if decision == policy.DecisionIgnore {
		return ObserveResult{Action: "ignored", Salience: salience, Decision: decision}, nil
	}

	added, err := r.working.Add(ctx, event)
	if err != nil {
		return ObserveResult{}, err
	}
	if !added {
		// Duplicate by event id or normalized text. Report it as held in
		// working memory with an ignore decision so callers can tell it
		// apart from a fresh insert.
		return ObserveResult{Action: "working", Salience: 0, Decision: policy.DecisionIgnore}, nil
	}

	if r.stream != nil {
		if err := r.stream.Append(event); err != nil {
			r.log.WithError(err).Warn("stream append failed")
		}
	}

	if decision == policy.DecisionCandidate {
		r.enqueueCandidate(event, salience)
		return ObserveResult{Action: "candidate", Salience: salience, Decision: decision}, nil
	}
	return ObserveResult{Action: "working", Salience: salience, Decision: decision}, nil
}

// enqueueCandidate shapes a salient observation into a long-term write.
func (r *Runtime) enqueueCandidate(event *types.WorkingEvent, salience float64) {
	text := policy.Canonicalize(event.Text)
	metadata := types.Metadata{
		types.MetaKind:      string(types.KindEpisodic),
		types.MetaSalience:  max(0.7, salience),
		types.MetaKeywords:  policy.Keywords(text),
		types.MetaSource:    event.Source,
		types.MetaTimestamp: event.Timestamp,
		types.MetaScope:     event.Scope,
	}
	if event.EventID != "" {
		metadata[types.MetaEventID] = event.EventID
	}
	r.EnqueueMemory(types.WriteRequest{UserID: event.UserID, Text: text, Metadata: metadata})
}

// Remember stores an explicit user command: full salience, high
// confidence. The write is attempted synchronously so the caller gets a
// memory id back; on failure the payload goes onto the durable queue and
// the id is empty.
func (r *Runtime) Remember(ctx context.Context, userID, text string, scope types.Scope) (string, bool) {
	canonical := policy.Canonicalize(text)
	payload := types.WriteRequest{
		UserID: userID,
		Text:   canonical,
		Metadata: types.Metadata{
			types.MetaKind:       string(types.KindSemantic),
			types.MetaSalience:   1.0,
			types.MetaConfidence: 0.95,
			types.MetaKeywords:   policy.Keywords(canonical),
			types.MetaSource:     "explicit",
			types.MetaTimestamp:  time.Now().Unix(),
			types.MetaScope:      scope,
		},
	}

	id, err := r.client.PostMemory(ctx, payload)
	if err == nil {
		return id, false
	}
	r.log.WithError(err).Warn("explicit remember failed, queueing for retry")
	r.EnqueueMemory(payload)
	return "", true
}

// EnqueueMemory persists the job to the spool and hands it to the worker.
// A spool write failure is logged but does not fail the enqueue; the job
// still reaches the worker, it just will not survive a crash.
func (r *Runtime) EnqueueMemory(payload types.WriteRequest) {
	job, err := r.queue.Enqueue(payload)
	if err != nil {
		r.log.WithError(err).Error("spool write failed, job is not crash-durable")
	}
	telemetry.JobEnqueued(context.Background())
	r.jobs <- job
}

// Recall queries long-term memory, applies request filters, ranks, and
// returns the top k items.
func (r *Runtime) Recall(ctx context.Context, userID, query string, k int, filters recall.Filters) ([]recall.Item, error) {
	if k <= 0 {
		k = defaultRecallK
	}
	records, err := r.client.QueryMemories(ctx, userID, query, k*3)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	records = recall.ApplyFilters(records, filters, now)
	records = r.ranker.Rank(ctx, query, records, k, now)

	items := make([]recall.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, recall.ToItem(rec))
	}
	return items, nil
}

// ConsolidateResult reports one consolidation pass.
type ConsolidateResult struct {
	Written map[types.MemoryKind]int
	Skipped int
}

// Consolidate folds recent working events for the scope into long-term
// memory candidates. At most maxItems per kind are enqueued; the overflow
// is counted as skipped. The scope cursor advances to the newest event seen.
func (r *Runtime) Consolidate(ctx context.Context, scope types.Scope, mode policy.Mode, maxItems int) (ConsolidateResult, error) {
	if maxItems <= 0 {
		maxItems = defaultConsolidateItems
	}
	events, err := r.working.RecentForScope(ctx, scope, maxItems*3)
	if err != nil {
		return ConsolidateResult{}, err
	}

	result := ConsolidateResult{Written: map[types.MemoryKind]int{}}
	if len(events) == 0 {
		return result, nil
	}

	extracted := policy.Consolidate(events, mode)
	var newest int64
	for _, evt := range events {
		if evt.Timestamp > newest {
			newest = evt.Timestamp
		}
	}

	for kind, items := range extracted {
		for i, item := range items {
			if i >= maxItems {
				result.Skipped += len(items) - i
				break
			}
			r.EnqueueMemory(types.WriteRequest{
				UserID: userFor(events, item),
				Text:   item.Text,
				Metadata: types.Metadata{
					types.MetaKind:       string(kind),
					types.MetaConfidence: item.Confidence,
					types.MetaKeywords:   policy.Keywords(item.Text),
					types.MetaSource:     item.Provenance.Source,
					types.MetaEventID:    item.Provenance.EventID,
					types.MetaTimestamp:  item.Provenance.Timestamp,
					types.MetaScope: types.Scope{
						Kind: item.Provenance.ScopeKind,
						ID:   item.Provenance.ScopeID,
					},
				},
			})
			result.Written[kind]++
		}
	}

	if err := r.working.MarkConsolidated(ctx, scope, newest); err != nil {
		return result, err
	}
	return result, nil
}

// userFor finds the user behind an extraction by matching provenance back
// to the event batch. Extractions always originate from the batch, so the
// fallback to the first event only covers a provenance mismatch.
func userFor(events []types.WorkingEvent, item policy.Extraction) string {
	for _, evt := range events {
		if evt.Timestamp == item.Provenance.Timestamp && evt.Source == item.Provenance.Source {
			return evt.UserID
		}
	}
	return events[0].UserID
}

// Working exposes the working store for status endpoints.
func (r *Runtime) Working() *working.Store { return r.working }

// QueueDepth reports the durable queue backlog.
func (r *Runtime) QueueDepth() int { return r.queue.Depth() }

// Start launches the worker and the cleanup loop. It blocks until ctx is
// canceled. Jobs that survived a previous run are replayed first.
func (r *Runtime) Start(ctx context.Context) error {
	for _, job := range r.queue.Pending() {
		select {
		case r.jobs <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go r.cleanupLoop(ctx)
	return r.workerLoop(ctx)
}

// workerLoop processes jobs FIFO. A failed job sleeps out the constant
// backoff and goes back on the tail; there is no attempt cap.
func (r *Runtime) workerLoop(ctx context.Context) error {
	delay := backoff.NewConstantBackOff(retryDelay)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-r.jobs:
			// A job can reach the channel twice: once at enqueue time and
			// once from the startup replay. The spool is the source of
			// truth; anything already marked done is skipped.
			if !r.queue.Has(job.ID) {
				continue
			}
			id, err := r.client.PostMemory(ctx, job.Payload)
			if err == nil {
				if err := r.queue.MarkDone(job.ID); err != nil {
					r.log.WithError(err).Error("spool rewrite failed after successful write")
				}
				r.log.WithFields(logrus.Fields{
					"job_id":    job.ID,
					"memory_id": id,
				}).Debug("write-back complete")
				continue
			}

			telemetry.WorkerRetry(ctx)
			r.log.WithError(err).WithField("job_id", job.ID).Warn("write-back failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay.NextBackOff()):
			}
			// The re-push can block on a full channel; give up on shutdown
			// rather than leaking the goroutine. The job stays in the spool
			// and is replayed on the next start.
			go func() {
				select {
				case r.jobs <- job:
				case <-ctx.Done():
				}
			}()
		}
	}
}

func (r *Runtime) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.working.Cleanup(ctx); err != nil {
				r.log.WithError(err).Warn("working-store cleanup failed")
			}
		}
	}
}
