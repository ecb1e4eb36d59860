package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"handyhub/internal/telemetry"
)

// Frame is the JSON envelope exchanged on the wire in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub is the topic registry: an in-memory map from job id to the set of live
// connections subscribed to that job's events. It is owned by the gateway,
// instantiated once per process and injected; subscriptions are soft state and
// rebuilt by clients after a reconnect.
type Hub struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	topics map[string]map[*Conn]struct{}
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[*Conn]struct{}),
		topics: make(map[string]map[*Conn]struct{}),
		log:    log,
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	telemetry.LiveConnections.Inc()
}

// unregister drops the connection from the hub and every topic, and closes its
// send channel. Safe to call more than once.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	for topic, members := range h.topics {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	close(c.send)
	telemetry.LiveConnections.Dec()
}

// Subscribe registers the connection under a job topic. A connection may hold
// any number of topic subscriptions; they are only cleared on disconnect.
func (h *Hub) Subscribe(c *Conn, topic string) {
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*Conn]struct{})
		h.topics[topic] = members
	}
	members[c] = struct{}{}
}

// Publish fans an event out. With a topic it reaches only that topic's
// subscribers; with an empty topic it reaches every live connection. Delivery
// is best effort: a connection with a full outbound buffer is skipped, never
// retried.
func (h *Hub) Publish(event string, payload any, topic string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal event payload", "event", event, "err", err)
		return
	}
	frame, err := json.Marshal(Frame{Event: event, Payload: raw})
	if err != nil {
		h.log.Error("marshal event frame", "event", event, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var targets map[*Conn]struct{}
	if topic == "" {
		targets = h.conns
	} else {
		targets = h.topics[topic]
	}
	for c := range targets {
		select {
		case c.send <- frame:
		default:
			// slow consumer; drop the frame rather than block the hub
		}
	}
	telemetry.EventsPublished.Inc()
}
