package memory

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAddAndQuery(t *testing.T) {
	ctx := context.Background()
	store := New()

	payload, err := store.Add(ctx, "alice", "Met Bob at the park", map[string]any{"mood": "happy"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatal("Add returned no id")
	}

	results, err := store.Query(ctx, "alice", "park", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d results, want 1", len(results))
	}
	meta, _ := results[0]["metadata"].(map[string]any)
	if meta["mood"] != "happy" {
		t.Errorf("metadata.mood = %v, want happy", meta["mood"])
	}
}

func TestQueryScopedToUser(t *testing.T) {
	ctx := context.Background()
	store := New()

	if _, err := store.Add(ctx, "alice", "alice went to the park", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(ctx, "bob", "bob went to the park", nil); err != nil {
		t.Fatal(err)
	}

	results, err := store.Query(ctx, "alice", "park", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d results, want 1", len(results))
	}
	if results[0]["user_id"] != "alice" {
		t.Errorf("user_id = %v, want alice", results[0]["user_id"])
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	payload, err := store.Add(ctx, "alice", "Met Bob at the park", nil)
	if err != nil {
		t.Fatal(err)
	}
	id := payload["id"].(string)

	deleted, err := store.Delete(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatal("Delete reported nothing deleted")
	}

	results, err := store.Query(ctx, "alice", "park", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("Query after delete returned %d results, want 0", len(results))
	}

	deleted, err = store.Delete(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("second Delete reported success")
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, "alice", text, nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.List(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("List returned %d results, want 2", len(results))
	}
	if results[0]["text"] != "third" {
		t.Errorf("List[0].text = %v, want third", results[0]["text"])
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	// 100 characters but 300 bytes: under the cap, must survive whole.
	short := strings.Repeat("世", 100)
	if got := Truncate(short, 150); got != short {
		t.Errorf("Truncate clipped text under the character cap: %q", got)
	}

	got := Truncate(strings.Repeat("世", 200), 50)
	if !utf8.ValidString(got) {
		t.Error("Truncate produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != 50 {
		t.Errorf("Truncate returned %d runes, want 50 (47 + ellipsis)", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Truncate tail = %q, want ellipsis", got)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	store := New()
	summary, err := store.Summarize(context.Background(), nil, 100)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "" {
		t.Errorf("Summarize(nil) = %q, want empty", summary)
	}
}
