package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/scheduler"
)

// SyncRunner runs one cycle on demand.
type SyncRunner interface {
	RunNow(ctx context.Context, accountID string, mode scheduler.Mode, days int) (models.SyncResult, error)
}

// SyncHandler serves POST /api/v1/accounts/{id}/sync.
type SyncHandler struct {
	runner   SyncRunner
	accounts AccountReader
	logger   *zap.Logger
}

func NewSyncHandler(runner SyncRunner, accounts AccountReader, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, accounts: accounts, logger: logging.OrNop(logger)}
}

// TriggerSync runs a cycle for the account and responds with its result.
// A failed cycle is still a 200; the body carries success=false.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "account id is required", http.StatusBadRequest)
		return
	}

	mode, err := scheduler.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	days, ok := parseDays(r)
	if !ok {
		http.Error(w, "days must be a non-negative integer", http.StatusBadRequest)
		return
	}

	if _, err := h.accounts.GetAccountStatus(ctx, accountID); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load account", zap.String("account_id", accountID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.runner.RunNow(ctx, accountID, mode, days)
	switch {
	case errors.Is(err, scheduler.ErrAccountBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, scheduler.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("failed to run sync", zap.String("account_id", accountID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}
