package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dsamentor/mentor/internal/domain"
)

const (
	defaultClientBuffer = 16
	writeTimeout        = 5 * time.Second
)

// HubConfig configures a websocket hub
type HubConfig struct {
	// OriginPatterns lists extra origins allowed to connect, e.g. "chrome-extension://*".
	OriginPatterns []string
	// ClientBuffer is the per-client queue length; events beyond it are dropped.
	ClientBuffer int
	Logger       *slog.Logger
}

// Hub broadcasts events to connected websocket clients
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	origins []string
	buffer  int
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

type client struct {
	id   uuid.UUID
	send chan []byte
}

// NewHub creates a websocket hub
func NewHub(cfg HubConfig) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = defaultClientBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		clients: make(map[uuid.UUID]*client),
		origins: cfg.OriginPatterns,
		buffer:  cfg.ClientBuffer,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}
}

// Notify queues the event for every client without blocking
func (h *Hub) Notify(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return ErrNoListeners
	}
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow client", "client", c.id, "type", event.Type)
		}
	}
	return nil
}

// Clients reports the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := h.register()
	defer h.unregister(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "client", c.id, "error", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) register() *client {
	c := &client{id: uuid.New(), send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client", c.id)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "client", c.id)
}
