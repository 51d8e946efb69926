package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// InboundHandler processes one inbound frame from a client. Implemented by
// internal/session.Router; kept as an interface here so this package never
// imports the router, only the other way around.
type InboundHandler interface {
	HandleInbound(client *Client, raw []byte)
}

// DisconnectHandler is notified once a client's connection has fully ended
// (after it has already been removed from the hub), so session-scoped
// bookkeeping like an active-session gauge can stay accurate. Optional: a
// Hub with no DisconnectHandler set simply skips the notification.
type DisconnectHandler interface {
	HandleDisconnect(client *Client)
}

// Hub manages connected WebSocket clients and fans outbound frames out to
// them, either to every client (BroadcastAll) or to every session belonging
// to one user (SendToUser). The secondary user-id index resolves the
// "sessions for a user" lookup without a session holding a back-reference
// to a list of its siblings (the cyclic-reference pattern spec.md §9 flags).
type Hub struct {
	clients      map[*Client]bool
	byUser       map[string]map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	broadcast    chan []byte
	onDisconnect DisconnectHandler
	mu           sync.RWMutex
	logger       *slog.Logger
}

// Client represents one connected WebSocket session.
type Client struct {
	id      string
	userID  string
	hub     *Hub
	conn    *websocket.Conn
	handler InboundHandler
	send    chan []byte
}

// ID returns the client's session id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id this session belongs to.
func (c *Client) UserID() string { return c.userID }

// Send enqueues one outbound frame. A full queue drops the frame rather
// than blocking the caller; spec.md §4.6 treats a dead/slow session as
// something to clean up lazily, not something outbound delivery waits on.
func (c *Client) Send(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn("client send queue full, dropping frame", "client", c.id)
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "ws-hub"),
	}
}

// SetDisconnectHandler registers the handler notified after a client is
// removed from the hub. Call before Run; nil clears it.
func (h *Hub) SetDisconnectHandler(handler DisconnectHandler) {
	h.onDisconnect = handler
}

// Run starts the hub's main loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", "user", client.userID, "count", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set := h.byUser[client.userID]; set != nil {
					delete(set, client)
					if len(set) == 0 {
						delete(h.byUser, client.userID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "user", client.userID, "count", len(h.clients))
			if h.onDisconnect != nil {
				h.onDisconnect.HandleDisconnect(client)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.Send(message)
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastAll sends a frame to every connected client. The frame is
// enqueued on each client before BroadcastAll returns, so a SendToUser call
// made afterwards is queued behind it on every session.
func (h *Hub) BroadcastAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.Send(frame)
	}
}

// SendToUser sends a frame to every session belonging to userID. A user
// with no open sessions is a silent no-op.
func (h *Hub) SendToUser(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		client.Send(frame)
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps inbound frames from the websocket connection to the
// InboundHandler.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
		if c.handler != nil {
			c.handler.HandleInbound(c, raw)
		}
	}
}

// NewClient registers a client with the hub and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, handler InboundHandler) *Client {
	client := &Client{
		id:      newClientID(),
		userID:  userID,
		hub:     hub,
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, 256),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
