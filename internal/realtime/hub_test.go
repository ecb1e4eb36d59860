package realtime

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn() *Conn {
	return &Conn{send: make(chan []byte, 4)}
}

func recvFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case raw := <-c.send:
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	default:
		t.Fatal("expected a frame")
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame: %s", raw)
	default:
	}
}

func TestPublishScopedToTopic(t *testing.T) {
	hub := NewHub(slog.Default())
	subscribed, other := testConn(), testConn()
	hub.register(subscribed)
	hub.register(other)
	hub.Subscribe(subscribed, "job-1")

	hub.Publish("job.status_changed", map[string]string{"job_id": "job-1"}, "job-1")

	f := recvFrame(t, subscribed)
	assert.Equal(t, "job.status_changed", f.Event)
	assertNoFrame(t, other)
}

func TestPublishBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())
	a, b := testConn(), testConn()
	hub.register(a)
	hub.register(b)

	hub.Publish("job.created", map[string]string{"id": "job-9"}, "")

	assert.Equal(t, "job.created", recvFrame(t, a).Event)
	assert.Equal(t, "job.created", recvFrame(t, b).Event)
}

func TestConnectionMaySubscribeToManyTopics(t *testing.T) {
	hub := NewHub(slog.Default())
	c := testConn()
	hub.register(c)
	hub.Subscribe(c, "job-1")
	hub.Subscribe(c, "job-2")

	hub.Publish("message.received", nil, "job-1")
	hub.Publish("message.received", nil, "job-2")

	recvFrame(t, c)
	recvFrame(t, c)
	assertNoFrame(t, c)
}

func TestUnregisterClearsAllSubscriptions(t *testing.T) {
	hub := NewHub(slog.Default())
	c := testConn()
	hub.register(c)
	hub.Subscribe(c, "job-1")
	hub.Subscribe(c, "job-2")

	hub.unregister(c)

	assert.Empty(t, hub.topics, "empty topics are pruned on disconnect")
	assert.Empty(t, hub.conns)

	// Publishing after disconnect reaches nobody and must not panic on the
	// closed send channel.
	hub.Publish("job.status_changed", nil, "job-1")
	hub.Publish("job.created", nil, "")
}

func TestUnregisterTwiceIsSafe(t *testing.T) {
	hub := NewHub(slog.Default())
	c := testConn()
	hub.register(c)
	hub.unregister(c)
	hub.unregister(c)
}

func TestSlowConsumerIsSkipped(t *testing.T) {
	hub := NewHub(slog.Default())
	c := &Conn{send: make(chan []byte, 1)}
	hub.register(c)
	hub.Subscribe(c, "job-1")

	hub.Publish("message.received", map[string]string{"n": "1"}, "job-1")
	// Buffer full: this delivery is dropped, not blocked on.
	hub.Publish("message.received", map[string]string{"n": "2"}, "job-1")

	recvFrame(t, c)
	assertNoFrame(t, c)
}

func TestSubscribeUnknownConnIgnored(t *testing.T) {
	hub := NewHub(slog.Default())
	c := testConn()
	// Never registered: a late subscribe after disconnect must not resurrect
	// the connection in the topic map.
	hub.Subscribe(c, "job-1")
	assert.Empty(t, hub.topics)
}
