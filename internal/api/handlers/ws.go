package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/dialog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is meant to sit behind the user's own reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope for both directions of the websocket channel.
type wsMessage struct {
	Type      string          `json:"type"` // dialog|dialog-response|notification
	ID        string          `json:"id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   interface{}     `json:"payload,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// wsConn is one connected UI. It serves as a dialog surface; writes are
// serialized since gorilla allows a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// SendRequest implements dialog.Surface.
func (c *wsConn) SendRequest(req *dialog.Request) error {
	return c.writeJSON(wsMessage{
		Type:    "dialog",
		ID:      req.ID,
		Kind:    string(req.Kind),
		Payload: req.Payload,
	})
}

// WSHandler upgrades connections for the dialog/notification channel
type WSHandler struct {
	broker *dialog.Broker
	logger *logrus.Logger

	mu    sync.Mutex
	conns map[*wsConn]bool
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(broker *dialog.Broker, logger *logrus.Logger) *WSHandler {
	return &WSHandler{
		broker: broker,
		logger: logger,
		conns:  make(map[*wsConn]bool),
	}
}

// Notify implements notify.Sink by broadcasting to all connected UIs.
func (h *WSHandler) Notify(level, message string) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(wsMessage{Type: "notification", Level: level, Message: message}); err != nil {
			h.logger.WithError(err).Debug("Failed to push notification")
		}
	}
}

// ServeHTTP handles GET /ws
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	h.broker.Attach(c)

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		// Detach cancels any dialog still waiting on this UI.
		h.broker.Detach(c)
		conn.Close()
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Websocket read failed")
			}
			return
		}
		if msg.Type == "dialog-response" && msg.ID != "" {
			h.broker.Resolve(msg.ID, msg.Data, msg.Cancelled)
		}
	}
}
