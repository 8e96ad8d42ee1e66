package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/favorites"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/middleware"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/watch"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Message types sent to clients
const (
	MessageState   = "state"
	MessageSession = "session"
)

// Factory holds what every watch session is built from
type Factory struct {
	Auth     identity.Authenticator
	Store    favorites.Store
	Profiles watch.ProfileWriter
	Market   watch.Market
	Options  watch.Options
}

// Hub maintains the set of active watch sessions
type Hub struct {
	factory  *Factory
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a new hub for managing WebSocket connections
func NewHub(factory *Factory) *Hub {
	upgrader := websocket.Upgrader{
		// Allow all origins for WebSocket connections
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return &Hub{
		factory:  factory,
		upgrader: upgrader,
		clients:  make(map[*client]bool),
	}
}

// client is one websocket connection and the watch session behind it
type client struct {
	conn *websocket.Conn
	auth *identity.Client
	ctrl *watch.Controller

	mu      sync.Mutex
	pending *watch.State
	wake    chan struct{}
	events  chan models.Message
	done    chan struct{}
}

// HandleWebSocket upgrades an HTTP connection to a watch session. A session
// may be resumed with the token and refresh_token query parameters.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	persisted := persistedSession(r)

	// Upgrade the HTTP connection to a WebSocket connection
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error upgrading to WebSocket")
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &client{
		conn:   ws,
		auth:   identity.NewClient(h.factory.Auth, persisted),
		wake:   make(chan struct{}, 1),
		events: make(chan models.Message, 8),
		done:   make(chan struct{}),
	}
	sub := c.auth.OnAuthStateChange(func(e identity.Event) {
		c.send(models.Message{Type: MessageSession, Content: e})
	})
	c.ctrl = watch.NewController(c.auth, h.factory.Store, h.factory.Profiles, h.factory.Market, h.factory.Options, c.pushState)

	h.register(c)
	go c.writePump()
	c.ctrl.Start()

	go func() {
		c.readPump()
		h.unregister(c)
		sub.Unsubscribe()
		c.ctrl.Close()
		c.auth.Close()
		close(c.done)
		ws.Close()
	}()
}

// NotifyUser asks every session signed in as userID to reload its favorites
func (h *Hub) NotifyUser(userID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.ctrl.ReloadFor(userID)
	}
}

// Count returns the number of open watch sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func persistedSession(r *http.Request) *models.Session {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		return nil
	}
	return &models.Session{
		AccessToken:  token,
		RefreshToken: q.Get("refresh_token"),
		TokenType:    "bearer",
	}
}

// pushState keeps only the latest state; intermediate ones are skipped if
// the connection is slower than the controller.
func (c *client) pushState(st watch.State) {
	c.mu.Lock()
	c.pending = &st
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) send(msg models.Message) {
	select {
	case c.events <- msg:
	case <-c.done:
	}
}

func (c *client) readPump() {
	for {
		var cmd models.Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		c.ctrl.Do(cmd)
	}
}

func (c *client) writePump() {
	for {
		var msg models.Message
		select {
		case <-c.wake:
			c.mu.Lock()
			st := c.pending
			c.pending = nil
			c.mu.Unlock()
			if st == nil {
				continue
			}
			msg = models.Message{Type: MessageState, Content: st}
		case msg = <-c.events:
		case <-c.done:
			return
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Error().Err(err).Msg("Error sending message to client")
			c.conn.Close()
			return
		}
	}
}
