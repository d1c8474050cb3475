package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"stockroom/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event names pushed to connected clients
const (
	EventRequestCreated     = "request.created"
	EventRequestUpdated     = "request.updated"
	EventRequestProcessed   = "request.processed"
	EventRequestDeleted     = "request.deleted"
	EventMaterialStockMoved = "material.stock_changed"
	EventBookStockMoved     = "book.stock_changed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced on the REST API; the socket only needs a valid token
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// requestEventPrefix marks events carrying request payloads; only admins and the
// requester may see them
const requestEventPrefix = "request."

// Message is the envelope written to every client
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// TokenParser resolves an access token into the caller's id and role
type TokenParser func(token string) (uuid.UUID, model.Role, error)

// Client represents a single connected WebSocket client
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uuid.UUID
	Role   model.Role
}

// outbound is a queued message and who may receive it
type outbound struct {
	payload    []byte
	restricted bool
	owner      uuid.UUID
}

// canSee reports whether c is in the message's audience
func (m outbound) canSee(c *Client) bool {
	if !m.restricted || c.Role == model.RoleAdmin {
		return true
	}
	return m.owner != uuid.Nil && c.UserID == m.owner
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	log        *zap.Logger
}

// NewHub initializes a new WS Hub instance
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run starts the dispatch loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client connected", zap.String("user_id", client.UserID.String()))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("client disconnected", zap.String("user_id", client.UserID.String()))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !message.canSee(client) {
					continue
				}
				select {
				case client.Send <- message.payload:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for every connected client. Request events published this
// way reach admins only. It never blocks the caller: when the queue is full the event
// is dropped and logged.
func (h *Hub) Publish(event string, data interface{}) {
	h.enqueue(event, uuid.Nil, data)
}

// PublishTo queues an event for admins and the client signed in as ownerID
func (h *Hub) PublishTo(event string, ownerID uuid.UUID, data interface{}) {
	h.enqueue(event, ownerID, data)
}

func (h *Hub) enqueue(event string, ownerID uuid.UUID, data interface{}) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.log.Warn("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	msg := outbound{
		payload:    payload,
		restricted: ownerID != uuid.Nil || strings.HasPrefix(event, requestEventPrefix),
		owner:      ownerID,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, event dropped", zap.String("event", event))
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		// Drain whatever queued up meanwhile into the same frame
		n := len(c.Send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump keeps the connection alive and unregisters the client on close
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("unexpected close", zap.Error(err))
			}
			break
		}
	}
}

// ServeWs authenticates the token query param and upgrades the connection
func ServeWs(hub *Hub, c *gin.Context, parse TokenParser) {
	tokenString := c.Query("token")
	if tokenString == "" {
		hub.log.Info("connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	userID, role, err := parse(tokenString)
	if err != nil {
		hub.log.Info("connection rejected: invalid token", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), UserID: userID, Role: role}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
