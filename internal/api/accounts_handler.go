package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/logging"
)

// AccountsHandler serves GET /api/v1/accounts/{id}.
type AccountsHandler struct {
	accounts AccountReader
	logger   *zap.Logger
}

func NewAccountsHandler(accounts AccountReader, logger *zap.Logger) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, logger: logging.OrNop(logger)}
}

// GetAccount returns sync status and counters. Credentials never leave the store.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	status, err := h.accounts.GetAccountStatus(r.Context(), accountID)
	if errors.Is(err, db.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get account status", zap.String("account_id", accountID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status, h.logger)
}
