package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
)

// writeTimeout bounds a single write to a subscriber.
const writeTimeout = 5 * time.Second

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub fans sync events out to the connections subscribed to an account.
// An account may have several subscribers (several dashboards or tabs).
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{} // accountID -> set of clients
	maxPerAccount int
	logger        *zap.Logger
}

// NewHub creates a new Hub with a per-account connection limit.
func NewHub(maxPerAccount int, logger *zap.Logger) *Hub {
	if maxPerAccount <= 0 {
		maxPerAccount = 10
	}
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		maxPerAccount: maxPerAccount,
		logger:        logging.OrNop(logger),
	}
}

// Register subscribes a connection to an account's events.
// If the per-account limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(accountID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	accountClients, ok := h.clients[accountID]
	if !ok {
		accountClients = make(map[*Client]struct{})
		h.clients[accountID] = accountClients
	}

	if len(accountClients) >= h.maxPerAccount {
		h.logger.Warn("too many subscribers, closing new connection",
			zap.String("account_id", accountID), zap.Int("max", h.maxPerAccount))
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this account"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	accountClients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(accountID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if accountClients, ok := h.clients[accountID]; ok {
		delete(accountClients, client)
		if len(accountClients) == 0 {
			delete(h.clients, accountID)
		}
	}

	_ = client.conn.Close()
}

// Send writes a raw message to every subscriber of the account.
func (h *Hub) Send(accountID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[accountID]))
	for client := range h.clients[accountID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.logger.Debug("dropping subscriber after failed write", zap.String("account_id", accountID), zap.Error(err))
			go h.Unregister(accountID, client)
		}
	}
}

// Publish sends a sync event to the subscribers of its account.
func (h *Hub) Publish(event models.SyncEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode sync event", zap.Error(err))
		return
	}
	h.Send(event.AccountID, msg)
}

// ActiveConnections returns the number of subscribers of an account.
func (h *Hub) ActiveConnections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[accountID])
}
