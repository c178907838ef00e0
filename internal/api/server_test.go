package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotEndpoint(t *testing.T) {
	s := openTestStore(t)
	s.ForJob(store.JobMeta{ID: "job-1", UserTask: "task"}).MarkStatus(context.Background(), store.StatusRunning)

	srv := httptest.NewServer(NewServer(s, 0, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/db")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var data store.DashboardData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.Len(t, data.Jobs, 1)
	assert.Equal(t, "job-1", data.Jobs[0].ID)
	assert.Equal(t, store.StatusRunning, data.Jobs[0].Status)
}

func TestSnapshotWithoutStore(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, 0, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/db")
	require.NoError(t, err)
	defer resp.Body.Close()

	var data map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	jobs, ok := data["jobs"].([]any)
	require.True(t, ok)
	assert.Empty(t, jobs)
}

func TestCORSPreflights(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, 0, nil).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/db", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestWSImmediateFrameOnConnect(t *testing.T) {
	s := openTestStore(t)
	s.ForJob(store.JobMeta{ID: "job-live", UserTask: "task"}).MarkStatus(context.Background(), store.StatusRunning)

	srv := httptest.NewServer(NewServer(s, 0, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Type string     `json:"type"`
		Job  *store.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "active_job", frame.Type)
	require.NotNil(t, frame.Job)
	assert.Equal(t, "job-live", frame.Job.ID)
}

func TestWSNullJobWhenIdle(t *testing.T) {
	s := openTestStore(t)
	// Only a terminal job exists: the stream reports no active job.
	s.ForJob(store.JobMeta{ID: "job-done", UserTask: "task"}).MarkStatus(context.Background(), store.StatusDone)

	srv := httptest.NewServer(NewServer(s, 0, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Type string     `json:"type"`
		Job  *store.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "active_job", frame.Type)
	assert.Nil(t, frame.Job)
}

func TestHubBroadcastsOnChange(t *testing.T) {
	s := openTestStore(t)
	hub := NewHub(s, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pollCtx, stopPoll := context.WithCancel(context.Background())
	defer stopPoll()
	go hub.Poll(pollCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Initial frame: no active job.
	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"job":null`)

	// A job goes live; the 1 Hz poller must push a change frame.
	s.ForJob(store.JobMeta{ID: "job-new", UserTask: "task"}).MarkStatus(context.Background(), store.StatusPlanning)

	_, payload, err = conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Type string     `json:"type"`
		Job  *store.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(payload, &frame))
	require.NotNil(t, frame.Job)
	assert.Equal(t, "job-new", frame.Job.ID)
}
