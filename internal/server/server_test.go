package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/engram/internal/config"
	"github.com/steveyegge/engram/internal/governor"
	"github.com/steveyegge/engram/internal/hippo"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/reflection"
	"github.com/steveyegge/engram/internal/spool"
	"github.com/steveyegge/engram/internal/storage"
	"github.com/steveyegge/engram/internal/storage/memory"
	"github.com/steveyegge/engram/internal/types"
	"github.com/steveyegge/engram/internal/working"
)

func newTestServer(t *testing.T, settings config.Settings) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	adapter := storage.NewAdapter(memory.New(), memory.New())
	t.Cleanup(func() { adapter.Close() })

	ws, err := working.Open(filepath.Join(dir, "state.db"), 24)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	queue, err := spool.Open(filepath.Join(dir, "durable.spool"))
	require.NoError(t, err)

	// Single-process wiring: the governor writes straight into the adapter.
	runtime := governor.New(ws, queue, nil, hippo.NewLocal(adapter), &recall.Ranker{})
	reflector := reflection.NewSelector(adapter)

	srv := New("127.0.0.1:0", adapter, runtime, reflector, nil, settings)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestMemoriesCRUD(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/memories", map[string]any{
		"user_id":  "alice",
		"text":     "Met Bob at the park",
		"metadata": map[string]any{"mood": "happy"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mem := body["memory"].(map[string]any)
	id := mem["id"].(string)
	require.NotEmpty(t, id)

	resp, err := http.Get(ts.URL + "/memories/alice?query=park")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Memories []types.MemoryRecord `json:"memories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Memories, 1)
	require.Equal(t, id, list.Memories[0].ID)
	require.Equal(t, "happy", list.Memories[0].Metadata["mood"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/memories/"+id, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/memories/"+id, nil)
	require.NoError(t, err)
	delResp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNotFound, delResp.StatusCode)
}

func TestMemoriesValidation(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/memories", map[string]any{
		"user_id": "alice",
		"text":    "   ",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["detail"], "text")

	getResp, err := http.Get(ts.URL + "/memories/alice?limit=500")
	require.NoError(t, err)
	getResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, getResp.StatusCode)
}

func TestSummariesEmptyIs400(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, _ := postJSON(t, ts.URL+"/summaries", map[string]any{"texts": []string{}}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaries(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/summaries", map[string]any{
		"texts": []string{"first note", "second note"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["summary"])
}

func TestAuthRequired(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Auth.Enabled = true
	settings.Auth.APIKeys = []string{"sekret"}
	ts := newTestServer(t, settings)

	// Health stays open.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/memories", map[string]any{"user_id": "a", "text": "hi"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/memories", map[string]any{"user_id": "a", "text": "hi"},
		map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/memories", map[string]any{"user_id": "a", "text": "hi"},
		map[string]string{"X-API-Key": "sekret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestObserveExplicit(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/observe", map[string]any{
		"source":  "chat",
		"user_id": "alice",
		"text":    "!remember buy milk tomorrow",
		"scope":   map[string]any{"kind": "room", "id": "r1"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "candidate", body["action"])

	decision := body["decision"].(map[string]any)
	require.GreaterOrEqual(t, decision["salience"].(float64), 0.9)
	require.Equal(t, "candidate", decision["kind"])
}

func TestObserveBadScope(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, _ := postJSON(t, ts.URL+"/observe", map[string]any{
		"source":  "chat",
		"user_id": "alice",
		"text":    "hello there",
		"scope":   map[string]any{"kind": "galaxy", "id": "g1"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRememberAndRecall(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/remember", map[string]any{
		"user_id": "alice",
		"text":    "Met Bob at the park",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "stored", body["status"])
	require.NotEmpty(t, body["memory_id"])

	resp, body = postJSON(t, ts.URL+"/recall", map[string]any{
		"user_id": "alice",
		"query":   "park",
		"k":       5,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := body["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	require.Contains(t, first["text"], "park")
}

func TestRecallKValidation(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	for _, k := range []int{-1, 500} {
		resp, body := postJSON(t, ts.URL+"/recall", map[string]any{
			"user_id": "alice",
			"query":   "park",
			"k":       k,
		}, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "k=%d", k)
		require.Contains(t, body["detail"], "k must be")
	}

	// Zero k falls back to the default and succeeds.
	resp, _ := postJSON(t, ts.URL+"/recall", map[string]any{
		"user_id": "alice",
		"query":   "park",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookSkipsAssistant(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/webhook", map[string]any{
		"role":    "assistant",
		"content": "here is my reply",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["logged"])
	require.Equal(t, "assistant_message", body["reason"])
}

func TestWebhookStoresUserMessage(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/webhook", map[string]any{
		"user_id":         "alice",
		"role":            "user",
		"conversation_id": "c1",
		"message_id":      "msg-1",
		"content":         "please remember I prefer dark mode",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["logged"])
}

func TestIngest(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, body := postJSON(t, ts.URL+"/ingest", map[string]any{
		"source":  "cron",
		"user_id": "alice",
		"text":    "backup completed",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["logged"])

	getResp, err := http.Get(ts.URL + "/memories/alice?query=backup")
	require.NoError(t, err)
	defer getResp.Body.Close()

	var list struct {
		Memories []types.MemoryRecord `json:"memories"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&list))
	require.Len(t, list.Memories, 1)
	require.Equal(t, "cron", list.Memories[0].Metadata.Source())
}

func TestDoctor(t *testing.T) {
	ts := newTestServer(t, config.DefaultSettings())

	resp, err := http.Get(ts.URL + "/doctor")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "memory", body["backend"])
}
