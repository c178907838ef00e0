package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/store"
)

// writeTimeout bounds each per-client frame write so one stalled subscriber
// cannot hold up the broadcast loop.
const writeTimeout = 500 * time.Millisecond

// activeJobFrame is the single frame type the stream pushes.
type activeJobFrame struct {
	Type string     `json:"type"`
	Job  *store.Job `json:"job"`
}

// Hub broadcasts the currently active job to WebSocket subscribers. A
// background poller samples the store at 1 Hz and pushes a frame whenever
// the serialized payload changes; each new subscriber receives the current
// frame immediately on connect.
type Hub struct {
	store *store.Store
	log   *logging.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	last    []byte
}

// NewHub creates a Hub over the given store.
func NewHub(s *store.Store, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Hub{
		store:   s,
		log:     log,
		clients: map[*websocket.Conn]struct{}{},
		// Seeded with the idle frame so the first poll after startup does
		// not broadcast a no-op change.
		last: []byte(`{"type":"active_job","job":null}`),
	}
}

// HandleWS upgrades the request and subscribes the client until it
// disconnects. Client messages are drained and ignored; the stream is
// one-way.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard is served from any origin; CORS on the HTTP side
		// is equally permissive.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	// The newcomer gets the current state before joining the broadcast
	// set, so it never waits for the next change.
	frame := h.currentFrame(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	err = conn.Write(ctx, websocket.MessageText, frame)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Poll samples the active job once per second and broadcasts on change.
// Blocks until ctx is done.
func (h *Hub) Poll(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := h.currentFrame(ctx)

			h.mu.Lock()
			changed := string(frame) != string(h.last)
			if changed {
				h.last = frame
			}
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.Unlock()

			if !changed {
				continue
			}
			for _, c := range clients {
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				_ = c.Write(wctx, websocket.MessageText, frame)
				cancel()
			}
		}
	}
}

// currentFrame serializes the active-job frame, with a null job when no job
// is live or the store is unreadable.
func (h *Hub) currentFrame(ctx context.Context) []byte {
	var job *store.Job
	if h.store != nil {
		var err error
		job, err = h.store.ActiveJob(ctx)
		if err != nil {
			h.log.Warn("active job read failed", "error", err.Error())
			job = nil
		}
	}
	frame, err := json.Marshal(activeJobFrame{Type: "active_job", Job: job})
	if err != nil {
		return []byte(`{"type":"active_job","job":null}`)
	}
	return frame
}
