package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeAgent upgrades the request to a websocket and streams the agent's
// events until either side closes. When the agent falls behind, events are
// dropped rather than blocking the hub.
func (h *Hub) ServeAgent(w http.ResponseWriter, r *http.Request, agentID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "agent_id", agentID, "err", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("agent_id", agentID)
	send := make(chan Event, sendBufferSize)

	unsubscribe := h.Subscribe(agentID, func(event Event) {
		select {
		case send <- event:
		default:
			logger.Warn("dropping event for slow agent", "event_type", string(event.EventType), "job_id", event.JobID)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	logger.Info("agent stream opened")
	defer logger.Info("agent stream closed")

	writeEvents(conn, send, closed, logger)
}

func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvents(conn *websocket.Conn, send <-chan Event, closed <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case event := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("event write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
