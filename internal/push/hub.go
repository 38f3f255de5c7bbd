package push

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

// Envelope wraps every message exchanged with a window.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Message types on the window channel.
const (
	EventNotificationShow    = "notification.show"
	EventNavigate            = "NAVIGATE"
	MessageNotificationClick = "notification_click"
	MessagePermission        = "notification_permission"
	MessagePing              = "ping"
	EventPong                = "pong"
)

var errHubClosed = apperrors.New(apperrors.ErrInternal, "hub closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// MessageHandler handles one inbound message type. A non-nil reply is sent
// back to the window as "<type>.reply".
type MessageHandler func(ctx context.Context, clientID string, data json.RawMessage) (interface{}, error)

// HubConfig configures a Hub.
type HubConfig struct {
	// AllowedOrigins lists the Origin header values accepted on upgrade.
	// Empty accepts only localhost origins.
	AllowedOrigins []string
	Permission     Permission
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

type directMessage struct {
	clientID string
	payload  []byte
}

// Hub tracks the open application windows. It is both the Notifier and the
// Windows registry of the push bridge.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	order    []string
	pending  []string
	handlers map[string]MessageHandler

	permission atomic.Value // Permission
	nextID     uint64

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan directMessage
	done       chan struct{}
	closeOnce  sync.Once

	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHub creates a Hub and starts its event loop.
func NewHub(config HubConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Permission == "" {
		config.Permission = PermissionGranted
	}

	h := &Hub{
		clients:    make(map[string]*client),
		handlers:   make(map[string]MessageHandler),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		direct:     make(chan directMessage, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("hub"),
	}
	h.permission.Store(config.Permission)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}

	h.Handle(MessagePermission, h.handlePermission)

	go h.run()
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		if len(allowed) > 0 {
			return false
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		return host == "localhost" || net.ParseIP(host).IsLoopback()
	}
}

// run manages client connections and broadcasts.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.order = nil
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.order = append(h.order, c.id)
			queued := h.pending
			h.pending = nil
			total := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("window connected", map[string]interface{}{"client": c.id, "total": total})
			for _, link := range queued {
				h.sendTo(c, navigateEnvelope(link))
			}

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c.id)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("window disconnected", map[string]interface{}{"client": c.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for _, id := range append([]string(nil), h.order...) {
				c := h.clients[id]
				select {
				case c.send <- message:
				default:
					h.remove(id)
				}
			}
			h.mu.Unlock()

		case dm := <-h.direct:
			h.mu.Lock()
			if c, ok := h.clients[dm.clientID]; ok {
				select {
				case c.send <- dm.payload:
				default:
					h.remove(dm.clientID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client. Callers hold h.mu.
func (h *Hub) remove(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
	for i, cid := range h.order {
		if cid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *Hub) sendTo(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// Close disconnects every window and stops the event loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Handle registers the handler for an inbound message type, replacing any earlier one.
func (h *Hub) Handle(msgType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// =====================================================
// Outbound
// =====================================================

func encode(msgType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw, Timestamp: time.Now().UnixMilli()})
}

func navigateEnvelope(link string) []byte {
	payload, _ := encode(EventNavigate, map[string]interface{}{"url": link, "focus": true})
	return payload
}

// Broadcast sends a message to every open window.
func (h *Hub) Broadcast(msgType string, data interface{}) error {
	payload, err := encode(msgType, data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+msgType, err)
	}
	if h.closed() {
		return errHubClosed
	}
	select {
	case h.broadcast <- payload:
		return nil
	case <-h.done:
		return errHubClosed
	}
}

// Send sends a message to one window.
func (h *Hub) Send(clientID, msgType string, data interface{}) error {
	payload, err := encode(msgType, data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+msgType, err)
	}
	return h.deliver(clientID, payload)
}

func (h *Hub) deliver(clientID string, payload []byte) error {
	if h.closed() {
		return errHubClosed
	}
	select {
	case h.direct <- directMessage{clientID: clientID, payload: payload}:
		return nil
	case <-h.done:
		return errHubClosed
	}
}

// =====================================================
// Notifier
// =====================================================

// Permission implements Notifier.
func (h *Hub) Permission() Permission {
	return h.permission.Load().(Permission)
}

// SetPermission records the notification permission state.
func (h *Hub) SetPermission(p Permission) {
	h.permission.Store(p)
}

// Show implements Notifier by broadcasting the notification to every window.
func (h *Hub) Show(_ context.Context, n Notification) error {
	return h.Broadcast(EventNotificationShow, n)
}

func (h *Hub) handlePermission(_ context.Context, _ string, data json.RawMessage) (interface{}, error) {
	var msg struct {
		Permission Permission `json:"permission"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode permission", err)
	}
	switch msg.Permission {
	case PermissionGranted, PermissionDenied, PermissionDefault:
		h.SetPermission(msg.Permission)
		return nil, nil
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, "unknown permission "+string(msg.Permission))
	}
}

// =====================================================
// Windows
// =====================================================

// Clients implements Windows.
func (h *Hub) Clients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

// Navigate implements Windows.
func (h *Hub) Navigate(_ context.Context, clientID, link string) error {
	return h.deliver(clientID, navigateEnvelope(link))
}

// OpenWindow implements Windows. The link is delivered as a NAVIGATE to the
// next window that connects.
func (h *Hub) OpenWindow(_ context.Context, link string) error {
	h.mu.Lock()
	h.pending = append(h.pending, link)
	h.mu.Unlock()
	h.logger.Info("window open queued", map[string]interface{}{"url": link})
	return nil
}

// Pending returns the queued open-window links.
func (h *Hub) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.pending...)
}

// =====================================================
// Connections
// =====================================================

// ServeHTTP upgrades the request and registers the window.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:   "win-" + strconv.FormatUint(atomic.AddUint64(&h.nextID, 1), 10),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump pumps messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.hub.logger.Debug("invalid window message", map[string]interface{}{"client": c.id})
			continue
		}
		c.dispatch(env)
	}
}

func (c *client) dispatch(env Envelope) {
	if env.Type == MessagePing {
		c.reply(EventPong, map[string]interface{}{})
		return
	}

	c.hub.mu.RLock()
	handler := c.hub.handlers[env.Type]
	c.hub.mu.RUnlock()
	if handler == nil {
		c.reply(env.Type+".reply", map[string]interface{}{"error": "unsupported message type"})
		return
	}

	result, err := handler(context.Background(), c.id, env.Data)
	if err != nil {
		c.reply(env.Type+".reply", map[string]interface{}{"error": err.Error()})
		return
	}
	if result != nil {
		c.reply(env.Type+".reply", result)
	}
}

func (c *client) reply(msgType string, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMessage{clientID: c.id, payload: payload}:
	case <-c.hub.done:
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *client) writePump() {
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
