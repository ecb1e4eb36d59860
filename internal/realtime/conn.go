package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"handyhub/internal/auth"
	"handyhub/internal/models"
)

// Conn is one authenticated client connection. Its lifecycle is
// Connecting -> Authenticated -> (subscribed to N topics) -> Closed; by the
// time a Conn exists the handshake and token check have already passed.
type Conn struct {
	gw       *Gateway
	ws       *websocket.Conn
	identity auth.Claims
	send     chan []byte
}

func newConn(gw *Gateway, ws *websocket.Conn, identity auth.Claims) *Conn {
	return &Conn{
		gw:       gw,
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, 64),
	}
}

// readPump consumes inbound frames until the connection dies. A malformed
// frame is discarded and never terminates the connection; only transport
// errors end the loop. Pong handling feeds the liveness deadline: a peer that
// misses one full heartbeat cycle times out here.
func (c *Conn) readPump() {
	defer func() {
		c.gw.hub.unregister(c)
		_ = c.ws.Close()
	}()

	pongWait := 2 * c.gw.pingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		c.handleFrame(frame)
	}
}

// writePump owns all writes to the socket: queued frames plus the periodic
// heartbeat ping.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.gw.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type subscribePayload struct {
	JobID string `json:"job_id"`
}

type locationPingPayload struct {
	JobID     string  `json:"job_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// handleFrame dispatches one inbound control frame. Unknown events are
// silently discarded.
func (c *Conn) handleFrame(frame Frame) {
	switch frame.Event {
	case "job.subscribe":
		var p subscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.JobID == "" {
			return
		}
		c.gw.hub.Subscribe(c, p.JobID)

	case "worker.location_ping":
		if c.identity.Role != models.RoleWorker {
			return
		}
		var p locationPingPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.JobID == "" {
			return
		}
		if c.gw.pings != nil {
			if err := c.gw.pings.RecordLocationPing(context.Background(), c.identity.SubjectID, p.Latitude, p.Longitude); err != nil {
				c.gw.log.Error("record location ping", "worker_id", c.identity.SubjectID, "err", err)
			}
		}
		c.gw.hub.Publish("worker.location_updated", map[string]any{
			"job_id":    p.JobID,
			"worker_id": c.identity.SubjectID,
			"lat":       p.Latitude,
			"lng":       p.Longitude,
		}, p.JobID)
	}
}
