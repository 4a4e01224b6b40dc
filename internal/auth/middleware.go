package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/logging"
)

// Authenticator checks requests against the configured API token.
// With no token configured every request is rejected.
type Authenticator struct {
	token  string
	logger *zap.Logger
}

// NewAuthenticator creates an Authenticator for the given shared token.
func NewAuthenticator(token string, logger *zap.Logger) *Authenticator {
	return &Authenticator{token: strings.TrimSpace(token), logger: logging.OrNop(logger)}
}

// RequireAuth middleware checks for a valid bearer token in the Authorization header.
// Returns 401 Unauthorized if authentication fails.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			a.logger.Debug("missing or malformed Authorization header", zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !a.ValidateToken(token) {
			a.logger.Info("rejected API token", zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateToken reports whether token matches the configured one.
func (a *Authenticator) ValidateToken(token string) bool {
	token = strings.TrimSpace(token)
	if a.token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// BearerToken parses an Authorization header of the form "Bearer <token>".
// The scheme is case-insensitive (RFC 7235).
func BearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}
