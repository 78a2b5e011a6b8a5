package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Realtime message types.
const (
	MsgTypeConnected = "connected"
	MsgTypeChange    = "insight_change"
)

// wsMessage is the frame written to realtime clients.
type wsMessage struct {
	Type  string `json:"type"`
	Event *Event `json:"event,omitempty"`
}

// Handler serves a user's change events over a WebSocket. The user is
// selected with the user_id query parameter.
type Handler struct {
	feed     Feed
	token    string
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a realtime endpoint over the feed. If token is set,
// clients must present it as a bearer token.
func NewHandler(feed Feed, token string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		feed:  feed,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With("component", "realtime"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	if h.token != "" {
		auth := r.Header.Get("Authorization")
		if strings.TrimPrefix(auth, "Bearer ") != h.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub, err := h.feed.Subscribe(r.Context(), userID)
	if err != nil {
		h.log.Warn("Realtime subscribe failed",
			"user_id", userID, "error", err,
		)
		conn.Close()

		return
	}

	c := &wsConn{
		conn: conn,
		sub:  sub,
		log:  h.log,
	}

	h.log.Info("Realtime client connected",
		"user_id", userID, "subscription", sub.ID(),
	)

	go c.writePump()
	c.readPump()

	h.log.Info("Realtime client disconnected",
		"user_id", userID, "subscription", sub.ID(),
	)
}

// wsConn pairs a client connection with its subscription.
type wsConn struct {
	conn *websocket.Conn
	sub  *Subscription
	log  *slog.Logger

	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.sub.Close()
		c.conn.Close()
	})
}

// readPump only handles control frames; clients never send data. It
// returns once the peer goes away.
func (c *wsConn) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {

				c.log.Debug("Realtime read error",
					"user_id", c.sub.UserID(), "error", err,
				)
			}

			return
		}
	}
}

// writePump forwards subscription events to the peer and keeps the
// connection alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	if err := c.write(wsMessage{Type: MsgTypeConnected}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			err := c.write(wsMessage{Type: MsgTypeChange, Event: &ev})
			if err != nil {
				c.log.Debug("Realtime write error",
					"user_id", c.sub.UserID(), "error", err,
				)

				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, data)
}
