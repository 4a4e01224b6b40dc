package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/auth"
	"github.com/vdavid/chatsync/internal/logging"
	ws "github.com/vdavid/chatsync/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for live sync events.
type WebSocketHandler struct {
	hub           *ws.Hub
	authenticator *auth.Authenticator
	logger        *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub, authenticator *auth.Authenticator, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, authenticator: authenticator, logger: logging.OrNop(logger)}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Expected to run behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the connection and subscribes it to one account's events.
// Browsers cannot set headers on WebSocket connections, so the token may come
// in the query string (?token=...); the Authorization header also works.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if !h.authenticator.ValidateToken(token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.String("account_id", accountID), zap.Error(err))
		return
	}

	client := h.hub.Register(accountID, conn)
	if client == nil {
		return
	}
	h.logger.Debug("subscriber connected", zap.String("account_id", accountID))

	go h.readLoop(accountID, client)
}

// readLoop drains the connection until it closes, then unsubscribes it.
func (h *WebSocketHandler) readLoop(accountID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(accountID, client)
	h.logger.Debug("subscriber disconnected", zap.String("account_id", accountID))
}
