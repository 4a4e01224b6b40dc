package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/models"
)

// AccountReader loads the public view of an account.
type AccountReader interface {
	GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
}

// writeJSON encodes v to a buffer first so a failed encode never leaves a partial response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}

// parseDays reads the optional days query parameter. Zero means the server default.
func parseDays(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, false
	}
	return days, true
}
