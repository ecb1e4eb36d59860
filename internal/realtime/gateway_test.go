package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/auth"
	"handyhub/internal/models"
)

type staticVerifier struct {
	tokens map[string]auth.Claims
}

func (v *staticVerifier) VerifyAccessToken(token string) (auth.Claims, error) {
	if c, ok := v.tokens[token]; ok {
		return c, nil
	}
	return auth.Claims{}, assert.AnError
}

type pingLog struct {
	mu    sync.Mutex
	pings []string
}

func (p *pingLog) RecordLocationPing(_ context.Context, workerID string, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings = append(p.pings, workerID)
	return nil
}

func (p *pingLog) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pings)
}

func newTestGateway(t *testing.T) (*Gateway, *pingLog, string) {
	t.Helper()
	verifier := &staticVerifier{tokens: map[string]auth.Claims{
		"worker-token":   {SubjectID: "w-1", Role: models.RoleWorker},
		"customer-token": {SubjectID: "c-1", Role: models.RoleCustomer},
	}}
	pings := &pingLog{}
	hub := NewHub(slog.Default())
	gw := NewGateway(hub, verifier, pings, 100*time.Millisecond, time.Second, slog.Default())

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return gw, pings, wsURL
}

func dial(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	_, _, wsURL := newTestGateway(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.NoError(t, err, "upgrade succeeds; rejection is a close frame")
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseUnauthorized, closeErr.Code)
}

func TestSubscribeAndReceiveScopedEvent(t *testing.T) {
	gw, _, wsURL := newTestGateway(t)

	ws := dial(t, wsURL, "customer-token")
	require.NoError(t, ws.WriteJSON(map[string]any{
		"event":   "job.subscribe",
		"payload": map[string]string{"job_id": "job-1"},
	}))
	time.Sleep(100 * time.Millisecond) // let the read pump register the subscription

	gw.Publish("job.status_changed", map[string]string{"job_id": "job-1", "status": "accepted"}, "job-1")

	f := readFrame(t, ws)
	assert.Equal(t, "job.status_changed", f.Event)
}

func TestMalformedFrameDoesNotCloseConnection(t *testing.T) {
	gw, _, wsURL := newTestGateway(t)

	ws := dial(t, wsURL, "customer-token")
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"no.such.event","payload":{}}`)))

	// The connection must still be alive and able to subscribe.
	require.NoError(t, ws.WriteJSON(map[string]any{
		"event":   "job.subscribe",
		"payload": map[string]string{"job_id": "job-2"},
	}))
	time.Sleep(100 * time.Millisecond)

	gw.Publish("message.received", map[string]string{"body": "hi"}, "job-2")
	f := readFrame(t, ws)
	assert.Equal(t, "message.received", f.Event)
}

func TestLocationPingRequiresWorkerRole(t *testing.T) {
	_, pings, wsURL := newTestGateway(t)

	worker := dial(t, wsURL, "worker-token")
	customer := dial(t, wsURL, "customer-token")

	// Both subscribe to the job topic; only the worker's ping is honored.
	for _, ws := range []*websocket.Conn{worker, customer} {
		require.NoError(t, ws.WriteJSON(map[string]any{
			"event":   "job.subscribe",
			"payload": map[string]string{"job_id": "job-3"},
		}))
	}
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, customer.WriteJSON(map[string]any{
		"event":   "worker.location_ping",
		"payload": map[string]any{"job_id": "job-3", "lat": 14.6, "lng": 121.0},
	}))
	require.NoError(t, worker.WriteJSON(map[string]any{
		"event":   "worker.location_ping",
		"payload": map[string]any{"job_id": "job-3", "lat": 14.6, "lng": 121.0},
	}))

	f := readFrame(t, customer)
	assert.Equal(t, "worker.location_updated", f.Event)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "w-1", payload["worker_id"])

	// Only the worker ping reached the audit log.
	assert.Equal(t, 1, pings.count())

	// And no second republish arrived from the customer's attempt.
	_ = customer.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := customer.ReadMessage()
	assert.Error(t, err)
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	gw, _, wsURL := newTestGateway(t)

	ws := dial(t, wsURL, "customer-token")
	// The client's default ping handler answers server pings while blocked in
	// ReadMessage, so the connection survives several heartbeat cycles.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = ws.ReadMessage()
	}()

	time.Sleep(300 * time.Millisecond)
	gw.Publish("job.created", map[string]string{"id": "j"}, "")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not receive broadcast after heartbeats")
	}
}
