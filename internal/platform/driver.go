package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/extract"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/session"
)

// Driver is one account's view of the platform: an authenticated browser
// surface plus the extractor that reads conversations off it.
type Driver struct {
	accountID       string
	session         *session.Manager
	extractor       *extract.Extractor
	refreshInterval time.Duration
	done            func() error
	logger          *zap.Logger
	closed          bool
}

// EnsureAuthenticated logs the account in, reusing its stored session when possible.
func (d *Driver) EnsureAuthenticated(ctx context.Context) error {
	if d.closed {
		return errDriverClosed
	}
	return d.session.EnsureAuthenticated(ctx)
}

// SessionBlob returns the session captured by the last successful authentication.
func (d *Driver) SessionBlob() *models.SessionBlob {
	return d.session.Blob()
}

// ListConversations refreshes a stale session, then reads the conversation list.
func (d *Driver) ListConversations(ctx context.Context, maxAgeDays int) ([]models.ExtractedConversation, error) {
	if d.closed {
		return nil, errDriverClosed
	}
	if err := d.session.RefreshIfStale(ctx, d.refreshInterval); err != nil {
		return nil, err
	}
	return d.extractor.ListConversations(ctx, maxAgeDays)
}

// ListMessages refreshes a stale session, then reads one conversation's messages.
func (d *Driver) ListMessages(ctx context.Context, ref models.ConversationRef, since *time.Time) ([]models.ExtractedMessage, error) {
	if d.closed {
		return nil, errDriverClosed
	}
	if err := d.session.RefreshIfStale(ctx, d.refreshInterval); err != nil {
		return nil, err
	}
	return d.extractor.ListMessages(ctx, ref, since)
}

// State returns the session state, mostly for logs and tests.
func (d *Driver) State() session.State {
	return d.session.State()
}

// Close gives the surface back. Closing twice is a no-op.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.done(); err != nil {
		return fmt.Errorf("failed to close browser surface for account %s: %w", d.accountID, err)
	}
	d.logger.Debug("driver closed")
	return nil
}

var errDriverClosed = errors.New("driver is closed")
