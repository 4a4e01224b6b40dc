package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/models"
)

const (
	noTime        = "no-time"
	unknownSender = "unknown"
)

// ComputeIdentity derives the stable identity of a message from its cleaned
// content, its timestamp (nil when unknown) and its sender label.
func ComputeIdentity(content string, ts *time.Time, sender string) string {
	if sender == "" {
		sender = unknownSender
	}
	sum := sha256.Sum256([]byte(content + "\x1f" + timeKey(ts) + "\x1f" + sender))
	return "msg_" + hex.EncodeToString(sum[:16])
}

func timeKey(ts *time.Time) string {
	if ts == nil {
		return noTime
	}
	return ts.UTC().Format(time.RFC3339)
}

// Dedupe drops messages whose (content, timestamp) pair was already seen,
// keeping the first occurrence. Dedupe(Dedupe(x)) == Dedupe(x).
func Dedupe(msgs []models.ExtractedMessage, logger *zap.Logger) []models.ExtractedMessage {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]models.ExtractedMessage, 0, len(msgs))
	for _, m := range msgs {
		key := m.Content + "\x1f" + timeKey(m.Timestamp)
		if _, dup := seen[key]; dup {
			if logger != nil {
				logger.Debug("skipping duplicate message", zap.String("content", truncate(m.Content, 50)))
			}
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// CounterpartKey is the account-scoped identity of a conversation counterpart.
func CounterpartKey(name string) string {
	return strings.ToLower(collapseWhitespace(name))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
