package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/logging"
)

// ErrNoCode is returned when no matching verification mail is available yet.
var ErrNoCode = errors.New("no verification code found")

// Resolver fetches the most recent verification code delivered out of band.
type Resolver interface {
	// FetchCode returns ErrNoCode when nothing younger than maxAge matches.
	FetchCode(ctx context.Context, maxAge time.Duration, deleteAfterUse bool) (string, error)
}

// AwaitOptions bounds a wait for a verification code.
type AwaitOptions struct {
	Window         time.Duration
	PollInterval   time.Duration
	MaxAge         time.Duration
	DeleteAfterUse bool
	Logger         *zap.Logger
}

// Await polls resolver until a code arrives, the window elapses or ctx is done.
// It returns ErrNoCode when the window elapses without a code.
func Await(ctx context.Context, resolver Resolver, opts AwaitOptions) (string, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := resolver.FetchCode(waitCtx, opts.MaxAge, opts.DeleteAfterUse)
		switch {
		case err == nil && code != "":
			logger.Info("verification code received", zap.Int("attempt", attempt))
			return code, nil
		case err != nil && !errors.Is(err, ErrNoCode):
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Mailbox hiccups are retried until the window closes.
			logger.Warn("verification code fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-waitCtx.Done():
			return "", fmt.Errorf("waited %s: %w", opts.Window, ErrNoCode)
		case <-ticker.C:
		}
	}
}
