package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/gateway/internal/format"
)

var (
	// ErrBufferFull is returned when a connection's send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrNotRegistered is returned for connections the hub has dropped.
	ErrNotRegistered = errors.New("connection is not registered")
)

// Connection is a single WebSocket client. A connection carries no chat
// until its hello has been accepted.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	mu     sync.Mutex
	bindMu sync.Mutex
	chatID int64
	userID int64
	format format.Format
}

// Identity returns the chat, user and reply format bound by hello.
func (c *Connection) Identity() (chatID, userID int64, f format.Format) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	return c.chatID, c.userID, c.format
}

// WriteMessage writes a frame with the connection's write lock held.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Render produces the frame a particular connection should receive.
type Render func(conn *Connection) ([]byte, error)

type chatMessage struct {
	chatID int64
	render Render
}

// Hub tracks connections and the chats they are bound to.
type Hub struct {
	connections map[string]*Connection
	chats       map[int64]map[string]*Connection

	unregister chan *Connection
	broadcast  chan chatMessage
	done       chan struct{}

	mu  sync.RWMutex
	log logr.Logger
}

// NewHub creates a Hub. Run must be started before connections register.
func NewHub(log logr.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		chats:       make(map[int64]map[string]*Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan chatMessage, 256),
		done:        make(chan struct{}),
		log:         log.WithName("hub"),
	}
}

// Run serves unregistrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.unregister:
			h.remove(conn)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	chatID, _, _ := conn.Identity()
	h.unbindLocked(conn, chatID)
	close(conn.Send)
	h.log.V(1).Info("connection unregistered", "conn_id", conn.ID, "chat_id", chatID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for id, conn := range h.connections {
		close(conn.Send)
		delete(h.connections, id)
	}
	h.chats = make(map[int64]map[string]*Connection)
}

func (h *Hub) deliver(msg chatMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conn := range h.chats[msg.chatID] {
		data, err := msg.render(conn)
		if err != nil {
			h.log.Error(err, "failed to render message", "conn_id", id)
			continue
		}
		select {
		case conn.Send <- data:
		default:
			h.log.Info("connection buffer full, closing", "conn_id", id)
			go h.Unregister(conn)
		}
	}
}

// NewConnection wraps a socket in a Connection. It is not yet registered.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		format: format.Markdown,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		close(conn.Send)
		return
	default:
	}
	h.connections[conn.ID] = conn
	h.log.V(1).Info("connection registered", "conn_id", conn.ID)
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindChat attaches conn to chatID, moving it away from any earlier chat.
func (h *Hub) BindChat(conn *Connection, chatID, userID int64, f format.Format) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrNotRegistered
	}

	oldChat, _, _ := conn.Identity()
	h.unbindLocked(conn, oldChat)

	conn.bindMu.Lock()
	conn.chatID, conn.userID, conn.format = chatID, userID, f
	conn.bindMu.Unlock()

	if h.chats[chatID] == nil {
		h.chats[chatID] = make(map[string]*Connection)
	}
	h.chats[chatID][conn.ID] = conn
	return nil
}

func (h *Hub) unbindLocked(conn *Connection, chatID int64) {
	if chatID == 0 || h.chats[chatID] == nil {
		return
	}
	delete(h.chats[chatID], conn.ID)
	if len(h.chats[chatID]) == 0 {
		delete(h.chats, chatID)
	}
}

// Broadcast queues a message for every connection bound to chatID.
func (h *Hub) Broadcast(chatID int64, render Render) {
	select {
	case h.broadcast <- chatMessage{chatID: chatID, render: render}:
	case <-h.done:
	}
}

// BroadcastJSON sends the same JSON frame to every connection of chatID.
func (h *Hub) BroadcastJSON(chatID int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(chatID, func(*Connection) ([]byte, error) { return data, nil })
	return nil
}

// SendJSON queues a JSON frame for a single connection.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrNotRegistered
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ChatCount returns the number of chats with at least one connection.
func (h *Hub) ChatCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats)
}

// HasConnections reports whether any client is bound to chatID.
func (h *Hub) HasConnections(chatID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID]) > 0
}

func writeDeadline(conn *Connection, d time.Duration) {
	_ = conn.Conn.SetWriteDeadline(time.Now().Add(d))
}
