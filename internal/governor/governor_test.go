package governor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/spool"
	"github.com/steveyegge/engram/internal/types"
	"github.com/steveyegge/engram/internal/working"
)

// stubWriter records posted payloads; it can be told to fail outright or
// for the first failLeft calls only.
type stubWriter struct {
	mu       sync.Mutex
	posts    []types.WriteRequest
	failing  bool
	failLeft int
}

func (s *stubWriter) PostMemory(_ context.Context, payload types.WriteRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return "", errors.New("store down")
	}
	if s.failLeft > 0 {
		s.failLeft--
		return "", errors.New("store down")
	}
	s.posts = append(s.posts, payload)
	return "m1", nil
}

func (s *stubWriter) QueryMemories(context.Context, string, string, int) ([]types.MemoryRecord, error) {
	return nil, nil
}

func (s *stubWriter) posted() []types.WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.WriteRequest, len(s.posts))
	copy(out, s.posts)
	return out
}

func newTestRuntime(t *testing.T, writer Writer) *Runtime {
	t.Helper()
	dir := t.TempDir()

	ws, err := working.Open(filepath.Join(dir, "state.db"), 24)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })

	queue, err := spool.Open(filepath.Join(dir, "durable.spool"))
	if err != nil {
		t.Fatal(err)
	}

	return New(ws, queue, nil, writer, &recall.Ranker{})
}

func observeEvent(text, eventID string) *types.WorkingEvent {
	return &types.WorkingEvent{
		Source:  "chat",
		UserID:  "alice",
		Text:    text,
		Scope:   types.Scope{Kind: types.ScopeRoom, ID: "r1"},
		EventID: eventID,
	}
}

func TestObserveExplicitCommand(t *testing.T) {
	rt := newTestRuntime(t, &stubWriter{})

	result, err := rt.Observe(context.Background(), observeEvent("!remember buy milk tomorrow", "evt-1"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Decision != policy.DecisionCandidate {
		t.Errorf("decision = %s, want candidate", result.Decision)
	}
	if result.Salience < 0.9 {
		t.Errorf("salience = %v, want >= 0.9", result.Salience)
	}

	count, err := rt.Working().Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("working store count = %d, want 1", count)
	}
	if rt.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", rt.QueueDepth())
	}
}

func TestObserveDuplicateNotAdded(t *testing.T) {
	rt := newTestRuntime(t, &stubWriter{})
	ctx := context.Background()

	if _, err := rt.Observe(ctx, observeEvent("!remember buy milk tomorrow", "evt-1")); err != nil {
		t.Fatal(err)
	}
	result, err := rt.Observe(ctx, observeEvent("!remember buy milk tomorrow", "evt-1"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != "working" || result.Decision != policy.DecisionIgnore {
		t.Errorf("duplicate observe = %+v, want not-added signal", result)
	}

	count, _ := rt.Working().Count(ctx)
	if count != 1 {
		t.Errorf("working store count = %d, want 1", count)
	}
	if rt.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1 (duplicate enqueued)", rt.QueueDepth())
	}
}

func TestObserveIgnoredNotStored(t *testing.T) {
	rt := newTestRuntime(t, &stubWriter{})

	result, err := rt.Observe(context.Background(), observeEvent("ok", "evt-1"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Action != "ignored" {
		t.Errorf("action = %q, want ignored", result.Action)
	}

	count, _ := rt.Working().Count(context.Background())
	if count != 0 {
		t.Errorf("working store count = %d, want 0", count)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	writer := &stubWriter{}
	rt := newTestRuntime(t, writer)

	if _, err := rt.Observe(context.Background(), observeEvent("!remember buy milk tomorrow", "evt-1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rt.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for rt.QueueDepth() > 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not drain the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	posts := writer.posted()
	if len(posts) != 1 {
		t.Fatalf("writer received %d posts, want 1", len(posts))
	}
	if posts[0].UserID != "alice" {
		t.Errorf("post user = %q, want alice", posts[0].UserID)
	}
	if kind := posts[0].Metadata.Kind(); kind != types.KindEpisodic {
		t.Errorf("post kind = %q, want episodic", kind)
	}
}

func TestWorkerRetriesFailedWrite(t *testing.T) {
	writer := &stubWriter{failLeft: 1}
	rt := newTestRuntime(t, writer)

	if _, err := rt.Observe(context.Background(), observeEvent("!remember buy milk tomorrow", "evt-1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rt.Start(ctx)
		close(done)
	}()

	// First attempt fails; the job must come back around after the backoff.
	deadline := time.After(10 * time.Second)
	for rt.QueueDepth() > 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not retry the failed write")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if posts := writer.posted(); len(posts) != 1 {
		t.Fatalf("writer received %d posts, want 1", len(posts))
	}
}

func TestStreamLogsFreshInsertsOnly(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ws, err := working.Open(filepath.Join(dir, "state.db"), 24)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })

	queue, err := spool.Open(filepath.Join(dir, "durable.spool"))
	if err != nil {
		t.Fatal(err)
	}

	streamPath := filepath.Join(dir, "stream.log")
	stream, err := OpenStream(streamPath, 14)
	if err != nil {
		t.Fatal(err)
	}

	rt := New(ws, queue, stream, &stubWriter{}, &recall.Ranker{})

	// Ignored chatter and duplicates never reach the stream.
	if _, err := rt.Observe(ctx, observeEvent("ok", "evt-ignored")); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Observe(ctx, observeEvent("!remember buy milk tomorrow", "evt-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Observe(ctx, observeEvent("!remember buy milk tomorrow", "evt-1")); err != nil {
		t.Fatal(err)
	}

	if got := countLines(t, streamPath); got != 1 {
		t.Errorf("stream lines = %d, want 1 (fresh insert only)", got)
	}
}

func TestRememberSynchronous(t *testing.T) {
	writer := &stubWriter{}
	rt := newTestRuntime(t, writer)

	id, queued := rt.Remember(context.Background(), "alice", "I  prefer   dark mode", types.Scope{Kind: types.ScopeUser, ID: "alice"})
	if queued {
		t.Error("Remember queued although the writer is up")
	}
	if id != "m1" {
		t.Errorf("memory id = %q, want m1", id)
	}

	posts := writer.posted()
	if len(posts) != 1 {
		t.Fatal("writer not called")
	}
	if posts[0].Text != "I prefer dark mode" {
		t.Errorf("text = %q, want canonicalized form", posts[0].Text)
	}
	if conf, _ := posts[0].Metadata.Confidence(); conf != 0.95 {
		t.Errorf("confidence = %v, want 0.95", conf)
	}
}

func TestRememberQueuesOnFailure(t *testing.T) {
	writer := &stubWriter{failing: true}
	rt := newTestRuntime(t, writer)

	id, queued := rt.Remember(context.Background(), "alice", "I prefer dark mode", types.Scope{Kind: types.ScopeUser, ID: "alice"})
	if !queued {
		t.Error("Remember did not queue on writer failure")
	}
	if id != "" {
		t.Errorf("memory id = %q, want empty", id)
	}
	if rt.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", rt.QueueDepth())
	}
}

func TestConsolidateWritesAndAdvancesCursor(t *testing.T) {
	rt := newTestRuntime(t, &stubWriter{})
	ctx := context.Background()
	scope := types.Scope{Kind: types.ScopeRoom, ID: "r1"}
	now := time.Now().Unix()

	events := []*types.WorkingEvent{
		{Source: "chat", UserID: "alice", Text: "I always drink coffee before standup", Timestamp: now - 2, Scope: scope, EventID: "e1"},
		{Source: "chat", UserID: "alice", Text: "run the migration script first", Timestamp: now - 1, Scope: scope, EventID: "e2"},
	}
	for _, evt := range events {
		if _, err := rt.Working().Add(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	result, err := rt.Consolidate(ctx, scope, policy.ModeAll, 10)
	if err != nil {
		t.Fatal(err)
	}
	if result.Written[types.KindEpisodic] != 2 {
		t.Errorf("episodic written = %d, want 2", result.Written[types.KindEpisodic])
	}
	if result.Written[types.KindSemantic] != 1 {
		t.Errorf("semantic written = %d, want 1", result.Written[types.KindSemantic])
	}
	if result.Written[types.KindProcedural] != 1 {
		t.Errorf("procedural written = %d, want 1", result.Written[types.KindProcedural])
	}

	cursor, err := rt.Working().Cursor(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if cursor != now-1 {
		t.Errorf("cursor = %d, want %d (newest event)", cursor, now-1)
	}
}

func TestConsolidateMaxItemsSkips(t *testing.T) {
	rt := newTestRuntime(t, &stubWriter{})
	ctx := context.Background()
	scope := types.Scope{Kind: types.ScopeRoom, ID: "r1"}
	now := time.Now().Unix()

	for i := 0; i < 4; i++ {
		evt := &types.WorkingEvent{
			Source:    "chat",
			UserID:    "alice",
			Text:      "distinct observation number " + string(rune('a'+i)),
			Timestamp: now - int64(i),
			Scope:     scope,
		}
		if _, err := rt.Working().Add(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	result, err := rt.Consolidate(ctx, scope, policy.ModeEpisodic, 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.Written[types.KindEpisodic] != 2 {
		t.Errorf("episodic written = %d, want 2", result.Written[types.KindEpisodic])
	}
	if result.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", result.Skipped)
	}
}
