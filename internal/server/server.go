// Package server exposes the memory fabric over HTTP: the store surface
// (/memories, /summaries), the governor surface (/observe, /remember,
// /recall, /consolidate), the ingestion surface (/ingest, /webhook), and
// the /health and /doctor status endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/config"
	"github.com/steveyegge/engram/internal/governor"
	"github.com/steveyegge/engram/internal/reflection"
	"github.com/steveyegge/engram/internal/storage"
)

// Summarizer is the optional LLM summarization pass. When nil, /summaries
// falls through to the storage backend's heuristic summary.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, maxChars int) (string, error)
}

// Server hosts the HTTP surface.
type Server struct {
	adapter    *storage.Adapter
	runtime    *governor.Runtime
	reflector  *reflection.Selector
	summarizer Summarizer
	settings   config.Settings

	httpServer *http.Server
	listener   net.Listener
	addr       string
	started    time.Time
	mu         sync.RWMutex
	log        *logrus.Entry
}

// New builds a server. reflector and summarizer may be nil.
func New(addr string, adapter *storage.Adapter, runtime *governor.Runtime, reflector *reflection.Selector, summarizer Summarizer, settings config.Settings) *Server {
	return &Server{
		adapter:    adapter,
		runtime:    runtime,
		reflector:  reflector,
		summarizer: summarizer,
		settings:   settings,
		addr:       addr,
		log:        logrus.WithField("component", "server"),
	}
}

// Start listens and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("listening")
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Handler returns the routed handler. Exposed separately from Start so
// tests can drive the surface through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health is never behind auth.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/memories", s.auth(s.handleMemories))
	mux.HandleFunc("/memories/", s.auth(s.handleMemoryByPath))
	mux.HandleFunc("/summaries", s.auth(s.handleSummaries))
	mux.HandleFunc("/observe", s.auth(s.handleObserve))
	mux.HandleFunc("/remember", s.auth(s.handleRemember))
	mux.HandleFunc("/recall", s.auth(s.handleRecall))
	mux.HandleFunc("/consolidate", s.auth(s.handleConsolidate))
	mux.HandleFunc("/ingest", s.auth(s.handleIngest))
	mux.HandleFunc("/webhook", s.auth(s.handleWebhook))
	mux.HandleFunc("/doctor", s.auth(s.handleDoctor))
	return mux
}

// auth enforces the shared-secret header when auth is enabled.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.settings.Auth.Enabled {
			header := s.settings.Auth.HeaderName
			if header == "" {
				header = "X-API-Key"
			}
			if !s.settings.Auth.ValidKey(r.Header.Get(header)) {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the {"detail": ...} error shape used across the
// surface.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(r *http.Request, into any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}
