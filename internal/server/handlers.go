package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/engram/internal/policy"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/types"
)

const (
	maxListLimit     = 100
	defaultListLimit = 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMemories serves POST /memories.
func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID   string         `json:"user_id"`
		Text     string         `json:"text"`
		Metadata types.Metadata `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id must not be empty")
		return
	}

	record, err := s.adapter.AddExperience(r.Context(), req.UserID, req.Text, req.Metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": record})
}

// handleMemoryByPath serves GET /memories/{user_id} and
// DELETE /memories/{memory_id}.
func (s *Server) handleMemoryByPath(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/memories/"), "/")
	if tail == "" || strings.Contains(tail, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getMemories(w, r, tail)
	case http.MethodDelete:
		s.deleteMemory(w, r, tail)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getMemories(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query().Get("query")

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,100]")
			return
		}
		limit = parsed
	}

	var (
		records []types.MemoryRecord
		err     error
	)
	if query != "" {
		records, err = s.adapter.QueryMemories(r.Context(), userID, query, limit)
	} else {
		records, err = s.adapter.ListMemories(r.Context(), userID, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	if records == nil {
		records = []types.MemoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": records})
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request, memoryID string) {
	deleted, err := s.adapter.DeleteMemory(r.Context(), memoryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store delete failed")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleSummaries serves POST /summaries. An empty text list is a client
// error.
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Texts []string `json:"texts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts must not be empty")
		return
	}

	maxLen := s.settings.Store.SummaryMaxLength
	summary, err := s.summarize(r.Context(), req.Texts, maxLen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summarization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// summarize prefers the LLM pass and falls back to the storage heuristic.
func (s *Server) summarize(ctx context.Context, texts []string, maxLen int) (string, error) {
	if s.summarizer != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		summary, err := s.summarizer.Summarize(ctx, texts, maxLen)
		if err == nil {
			return summary, nil
		}
		s.log.WithError(err).Warn("LLM summarize failed, using heuristic")
	}
	return s.adapter.SummarizeTexts(ctx, texts, maxLen)
}

// observeRequest is the inbound observation shape.
type observeRequest struct {
	Source    string         `json:"source"`
	UserID    string         `json:"user_id"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Scope     types.Scope    `json:"scope"`
	Metadata  types.Metadata `json:"metadata,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req observeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if req.Scope.Kind != "" && !req.Scope.Kind.IsValid() {
		writeError(w, http.StatusBadRequest, "scope.kind must be one of room, user, global")
		return
	}
	if req.Scope.Kind == "" {
		req.Scope = types.Scope{Kind: types.ScopeUser, ID: req.UserID}
	}
	if req.EventID == "" {
		req.EventID = req.Metadata.EventID()
	}

	event := &types.WorkingEvent{
		Source:    req.Source,
		UserID:    req.UserID,
		Text:      req.Text,
		Timestamp: req.Timestamp,
		Scope:     req.Scope,
		EventID:   req.EventID,
		Metadata:  req.Metadata,
	}
	result, err := s.runtime.Observe(r.Context(), event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "observe failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"action": result.Action,
		"decision": map[string]any{
			"salience": result.Salience,
			"kind":     string(result.Decision),
		},
	})
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID string      `json:"user_id"`
		Text   string      `json:"text"`
		Scope  types.Scope `json:"scope,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if req.Scope.Kind == "" {
		req.Scope = types.Scope{Kind: types.ScopeUser, ID: req.UserID}
	}

	memoryID, queued := s.runtime.Remember(r.Context(), req.UserID, req.Text, req.Scope)
	status := "stored"
	if queued {
		status = "queued"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"memory_id": memoryID,
	})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID  string         `json:"user_id"`
		Query   string         `json:"query"`
		K       int            `json:"k,omitempty"`
		Filters recall.Filters `json:"filters,omitempty"`
		Reflect *struct {
			UserMessage    string `json:"user_message"`
			AssistantReply string `json:"assistant_reply"`
		} `json:"reflect,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	// k is optional; zero means the runtime default.
	if req.K < 0 || req.K > maxListLimit {
		writeError(w, http.StatusBadRequest, "k must be an integer in [1,100]")
		return
	}

	items, err := s.runtime.Recall(r.Context(), req.UserID, req.Query, req.K, req.Filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recall failed")
		return
	}
	if items == nil {
		items = []recall.Item{}
	}

	resp := map[string]any{"results": items}
	if req.Reflect != nil && s.reflector != nil {
		line, err := s.reflector.Reflect(r.Context(), req.UserID, req.Reflect.UserMessage, req.Reflect.AssistantReply)
		if err != nil {
			s.log.WithError(err).Warn("reflection query failed")
		} else if line != "" {
			resp["reflection"] = line
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Scope    types.Scope `json:"scope"`
		Mode     policy.Mode `json:"mode,omitempty"`
		MaxItems int         `json:"max_items,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Scope.Kind.IsValid() {
		writeError(w, http.StatusBadRequest, "scope.kind must be one of room, user, global")
		return
	}
	if req.Mode == "" {
		req.Mode = policy.ModeAll
	}
	if !req.Mode.IsValid() {
		writeError(w, http.StatusBadRequest, "mode must be one of episodic, semantic, procedural, all")
		return
	}

	result, err := s.runtime.Consolidate(r.Context(), req.Scope, req.Mode, req.MaxItems)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "consolidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"written": map[string]int{
			"episodic":   result.Written[types.KindEpisodic],
			"semantic":   result.Written[types.KindSemantic],
			"procedural": result.Written[types.KindProcedural],
		},
		"skipped": result.Skipped,
	})
}

// handleIngest serves POST /ingest: a direct store write tagged with its
// source, bypassing classification.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Source    string         `json:"source"`
		UserID    string         `json:"user_id"`
		Text      string         `json:"text"`
		Timestamp int64          `json:"timestamp,omitempty"`
		Metadata  types.Metadata `json:"metadata,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	metadata := req.Metadata.Clone()
	metadata[types.MetaSource] = req.Source
	if req.Timestamp != 0 {
		metadata[types.MetaTimestamp] = req.Timestamp
	}

	if _, err := s.adapter.AddExperience(r.Context(), req.UserID, req.Text, metadata); err != nil {
		writeError(w, http.StatusBadGateway, "store write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged": true, "status": "stored"})
}

// handleWebhook serves POST /webhook: chat-shaped events from messaging
// frontends. Assistant messages are acknowledged but never stored.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConversationID string         `json:"conversation_id,omitempty"`
		MessageID      string         `json:"message_id,omitempty"`
		UserID         string         `json:"user_id,omitempty"`
		Sender         string         `json:"sender,omitempty"`
		Role           string         `json:"role,omitempty"`
		Content        string         `json:"content"`
		Metadata       types.Metadata `json:"metadata,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}
	if strings.EqualFold(req.Role, "assistant") {
		writeJSON(w, http.StatusOK, map[string]any{"logged": false, "reason": "assistant_message"})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = r.Header.Get("X-Open-Webui-User")
	}
	if userID == "" {
		userID = req.Sender
	}
	if userID == "" {
		userID = "webhook"
	}

	metadata := req.Metadata.Clone()
	if req.ConversationID != "" {
		metadata["conversation_id"] = req.ConversationID
	}
	if req.Sender != "" {
		metadata["sender"] = req.Sender
	}
	if req.Role != "" {
		metadata["role"] = req.Role
	}

	scope := types.Scope{Kind: types.ScopeUser, ID: userID}
	if req.ConversationID != "" {
		scope = types.Scope{Kind: types.ScopeRoom, ID: req.ConversationID}
	}

	event := &types.WorkingEvent{
		Source:   "webhook",
		UserID:   userID,
		Text:     req.Content,
		Scope:    scope,
		EventID:  req.MessageID,
		Metadata: metadata,
	}
	result, err := s.runtime.Observe(r.Context(), event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "observe failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logged": true,
		"status": result.Action,
	})
}

// handleDoctor serves GET /doctor: a status snapshot of the fabric.
func (s *Server) handleDoctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workingCount, err := s.runtime.Working().Count(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("working count failed")
		workingCount = -1
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	uptime := ""
	if !started.IsZero() {
		uptime = time.Since(started).Truncate(time.Second).String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"backend":        s.adapter.BackendName(),
		"queue_depth":    s.runtime.QueueDepth(),
		"working_events": workingCount,
		"auth_enabled":   s.settings.Auth.Enabled,
		"uptime":         uptime,
	})
}
