package hippo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/steveyegge/engram/internal/types"
)

func TestPostMemoryPrefersIngest(t *testing.T) {
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"memory_id": "from-ingest"})
	}))
	defer ingest.Close()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("direct store write used even though ingest succeeded")
	}))
	defer store.Close()

	client := New(ingest.URL, store.URL, "")
	id, err := client.PostMemory(context.Background(), types.WriteRequest{UserID: "alice", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "from-ingest" {
		t.Errorf("id = %q, want from-ingest", id)
	}
}

func TestPostMemoryFallsBackToStore(t *testing.T) {
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ingest.Close()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memories" {
			t.Errorf("fallback path = %q, want /memories", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"memory": map[string]string{"id": "from-store"},
		})
	}))
	defer store.Close()

	client := New(ingest.URL, store.URL, "")
	id, err := client.PostMemory(context.Background(), types.WriteRequest{UserID: "alice", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "from-store" {
		t.Errorf("id = %q, want from-store (nested memory.id)", id)
	}
}

func TestPostMemorySendsAPIKey(t *testing.T) {
	var gotKey string
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"memory_id": "m1"})
	}))
	defer ingest.Close()

	client := New(ingest.URL, ingest.URL, "sekret")
	if _, err := client.PostMemory(context.Background(), types.WriteRequest{UserID: "alice", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if gotKey != "sekret" {
		t.Errorf("X-API-Key = %q, want sekret", gotKey)
	}
}

func TestQueryMemoriesLocalFallback(t *testing.T) {
	// The store returns nothing for the query, then a recent list for the
	// unqueried GET. The client must filter the list locally.
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("query") != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"memories": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"memories": []types.MemoryRecord{
				{ID: "m1", UserID: "alice", Text: "docker compose plugin notes"},
				{ID: "m2", UserID: "alice", Text: "lunch was pizza"},
			},
		})
	}))
	defer store.Close()

	client := New(store.URL+"/ingest", store.URL, "")
	records, err := client.QueryMemories(context.Background(), "alice", "compose", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "m1" {
		t.Errorf("local fallback returned %d records", len(records))
	}
}

func TestQueryMemoriesUnreachableStoreDegrades(t *testing.T) {
	// Grab an address nothing listens on.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	client := New(dead.URL+"/ingest", dead.URL, "")
	records, err := client.QueryMemories(context.Background(), "alice", "park", 5)
	if err != nil {
		t.Fatalf("unreachable store surfaced an error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("unreachable store returned %d records, want 0", len(records))
	}
}

func TestQueryMemoriesServerMatch(t *testing.T) {
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memories/alice" {
			t.Errorf("path = %q, want /memories/alice", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"memories": []types.MemoryRecord{{ID: "m1", UserID: "alice", Text: "met bob at the park"}},
		})
	}))
	defer store.Close()

	client := New(store.URL+"/ingest", store.URL, "")
	records, err := client.QueryMemories(context.Background(), "alice", "park", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "m1" {
		t.Errorf("server match returned %d records", len(records))
	}
}
