package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"handyhub/internal/auth"
)

// CloseUnauthorized is sent when the handshake token fails verification,
// distinct from normal closure so clients can tell auth failure from a drop.
const CloseUnauthorized = 4401

// TokenVerifier checks the access token carried in the connection URL.
type TokenVerifier interface {
	VerifyAccessToken(token string) (auth.Claims, error)
}

// PingRecorder appends worker location pings to the audit log.
type PingRecorder interface {
	RecordLocationPing(ctx context.Context, workerID string, lat, lng float64) error
}

// Gateway upgrades HTTP requests to websocket connections, authenticates them,
// and wires them into the hub.
type Gateway struct {
	hub          *Hub
	verifier     TokenVerifier
	pings        PingRecorder
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	log          *slog.Logger
}

func NewGateway(hub *Hub, verifier TokenVerifier, pings PingRecorder, pingInterval, writeTimeout time.Duration, log *slog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		pings:    pings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Publish exposes hub fan-out to the rest of the system.
func (g *Gateway) Publish(event string, payload any, jobID string) {
	g.hub.Publish(event, payload, jobID)
}

// ServeHTTP handles the websocket handshake. The token travels as a query
// parameter; a bad token gets the distinguished close code and no data frames.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade", "err", err)
		return
	}

	claims, err := g.verifier.VerifyAccessToken(r.URL.Query().Get("token"))
	if err != nil {
		deadline := time.Now().Add(g.writeTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized"), deadline)
		_ = ws.Close()
		return
	}

	conn := newConn(g, ws, claims)
	g.hub.register(conn)
	go conn.writePump()
	go conn.readPump()
}
