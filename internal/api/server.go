// Package api serves the dashboard's read/stream surface: a full snapshot
// endpoint and a WebSocket pushing the active job. The dashboard front-end
// itself is a separate consumer; only these two endpoints are part of the
// engine's contract.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/store"
)

// Server exposes GET /api/db and WS /ws.
type Server struct {
	store *store.Store
	log   *logging.Logger
	hub   *Hub
	port  int
}

// NewServer creates a Server. The store may be nil when the database file
// does not exist yet; the snapshot endpoint then serves an empty job list.
func NewServer(s *store.Store, port int, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Server{
		store: s,
		log:   log,
		hub:   NewHub(s, log),
		port:  port,
	}
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/db", s.handleSnapshot)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	return cors(mux)
}

// ListenAndServe starts the poller and the HTTP server, shutting both down
// when ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go s.hub.Poll(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("dashboard api listening", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleSnapshot serves the full state-store snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if s.store == nil {
		_, _ = w.Write([]byte(`{"jobs":[]}`))
		return
	}

	data, err := s.store.DashboardData(r.Context())
	if err != nil {
		s.log.Warn("snapshot read failed", "error", err.Error())
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// cors applies the dashboard's permissive CORS policy.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
