package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/platform"
)

const (
	// incrementalFallback bounds the first incremental pass of an account that never synced.
	incrementalFallback = time.Hour
	// discoveryDays is how far back an incremental pass looks for new conversations.
	discoveryDays = 1
	// teardownTimeout bounds the best-effort session save after a cycle was cancelled.
	teardownTimeout = 5 * time.Second
)

// Driver is one account's authenticated view of the platform.
type Driver interface {
	EnsureAuthenticated(ctx context.Context) error
	SessionBlob() *models.SessionBlob
	ListConversations(ctx context.Context, maxAgeDays int) ([]models.ExtractedConversation, error)
	ListMessages(ctx context.Context, ref models.ConversationRef, since *time.Time) ([]models.ExtractedMessage, error)
	Close() error
}

// DriverFactory builds a Driver for an account whose secrets are decrypted.
type DriverFactory func(ctx context.Context, account *models.Account) (Driver, error)

// PlatformDrivers adapts a platform.Factory to a DriverFactory.
func PlatformDrivers(f *platform.Factory) DriverFactory {
	return func(ctx context.Context, account *models.Account) (Driver, error) {
		d, err := f.NewDriver(ctx, account)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// Store is the persistence the reconciler writes through.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetOrCreateProfile(ctx context.Context, accountID, username, displayName string, seenAt time.Time) (*models.Profile, bool, error)
	GetConversationByCounterpart(ctx context.Context, accountID, counterpartKey string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, accountID string) ([]*models.Conversation, error)
	MessageExists(ctx context.Context, conversationID, identityHash string) (bool, error)
	CreateMessage(ctx context.Context, message *models.Message) (bool, error)
	UpdateAccountSession(ctx context.Context, accountID string, blob *models.SessionBlob) error
	UpdateAccountSyncState(ctx context.Context, accountID string, syncedAt time.Time, syncErr string) error
}

// Reconciler maps what the drivers extract onto persisted conversations and
// messages. Callers must not run two cycles for the same account at once.
type Reconciler struct {
	store     Store
	newDriver DriverFactory
	mode      config.SyncMode
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	drivers map[string]Driver // accountID -> cached driver, long-running mode only
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(store Store, newDriver DriverFactory, mode config.SyncMode, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		newDriver: newDriver,
		mode:      mode,
		logger:    logging.OrNop(logger),
		now:       time.Now,
		drivers:   make(map[string]Driver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SyncInitial pulls every conversation active in the last daysBack days and
// their messages from that window.
func (r *Reconciler) SyncInitial(ctx context.Context, accountID string, daysBack int) models.SyncResult {
	return r.run(ctx, accountID, "initial", func(ctx context.Context, c *cycle) error {
		return c.initial(ctx, daysBack)
	})
}

// SyncIncremental checks every known conversation for messages since the
// last sync and picks up conversations that started since.
func (r *Reconciler) SyncIncremental(ctx context.Context, accountID string) models.SyncResult {
	return r.run(ctx, accountID, "incremental", func(ctx context.Context, c *cycle) error {
		return c.incremental(ctx)
	})
}

func (r *Reconciler) run(ctx context.Context, accountID, kind string, body func(context.Context, *cycle) error) models.SyncResult {
	logger := r.logger.With(zap.String("account_id", accountID), zap.String("sync", kind))
	startedAt := r.now()

	account, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		logger.Error("failed to load account", zap.Error(err))
		return models.SyncResult{Success: false, Error: err.Error()}
	}

	driver, err := r.driverFor(ctx, account)
	if err != nil {
		return r.fail(ctx, logger, account.ID, err)
	}
	defer r.finish(ctx, logger, account.ID, driver)

	if err := driver.EnsureAuthenticated(ctx); err != nil {
		r.discard(logger, account.ID, driver)
		return r.fail(ctx, logger, account.ID, fmt.Errorf("authentication failed: %w", err))
	}
	r.saveSession(ctx, logger, account.ID, driver)

	c := &cycle{
		r:       r,
		account: account,
		driver:  driver,
		logger:  logger,
		started: startedAt,
		stats:   &models.SyncStats{},
	}
	if err := body(ctx, c); err != nil {
		if ctx.Err() == nil {
			r.discard(logger, account.ID, driver)
		}
		result := r.fail(ctx, logger, account.ID, err)
		result.Stats = c.stats
		return result
	}

	r.saveSession(ctx, logger, account.ID, driver)
	if err := r.store.UpdateAccountSyncState(ctx, account.ID, startedAt, ""); err != nil {
		logger.Error("failed to advance sync cursor", zap.Error(err))
		return models.SyncResult{Success: false, Stats: c.stats, Error: err.Error()}
	}

	logger.Info("sync completed",
		zap.Int("conversations_processed", c.stats.ConversationsProcessed),
		zap.Int("conversations_checked", c.stats.ConversationsChecked),
		zap.Int("conversations_created", c.stats.ConversationsCreated),
		zap.Int("messages_added", c.stats.MessagesAdded),
		zap.Duration("took", r.now().Sub(startedAt)),
	)
	return models.SyncResult{Success: true, Stats: c.stats}
}

// fail records the failure on the account and turns it into a result. It
// never touches the sync cursor.
func (r *Reconciler) fail(ctx context.Context, logger *zap.Logger, accountID string, err error) models.SyncResult {
	logger.Warn("sync failed", zap.Error(err))

	// A cancelled cycle still counts; record it on a context that outlives the cancellation.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if recErr := r.store.UpdateAccountSyncState(recordCtx, accountID, r.now(), err.Error()); recErr != nil {
		logger.Error("failed to record sync failure", zap.Error(recErr))
	}
	return models.SyncResult{Success: false, Error: err.Error()}
}

func (r *Reconciler) driverFor(ctx context.Context, account *models.Account) (Driver, error) {
	if r.mode == config.ModeLongRunning {
		r.mu.Lock()
		d, ok := r.drivers[account.ID]
		r.mu.Unlock()
		if ok {
			return d, nil
		}
	}

	d, err := r.newDriver(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to start driver: %w", err)
	}
	if r.mode == config.ModeLongRunning {
		r.mu.Lock()
		r.drivers[account.ID] = d
		r.mu.Unlock()
	}
	return d, nil
}

// finish tears an ephemeral driver down after saving its session.
func (r *Reconciler) finish(ctx context.Context, logger *zap.Logger, accountID string, d Driver) {
	if r.mode == config.ModeLongRunning && r.cached(accountID, d) {
		return
	}
	if r.mode != config.ModeLongRunning {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		r.saveSession(teardownCtx, logger, accountID, d)
		cancel()
	}
	if err := d.Close(); err != nil {
		logger.Warn("failed to close driver", zap.Error(err))
	}
}

// discard forgets a cached driver so the next cycle starts from a clean browser.
// The driver itself is closed by finish.
func (r *Reconciler) discard(logger *zap.Logger, accountID string, d Driver) {
	if r.mode != config.ModeLongRunning {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers[accountID] == d {
		delete(r.drivers, accountID)
		logger.Debug("dropped cached driver")
	}
}

func (r *Reconciler) cached(accountID string, d Driver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drivers[accountID] == d
}

func (r *Reconciler) saveSession(ctx context.Context, logger *zap.Logger, accountID string, d Driver) {
	blob := d.SessionBlob()
	if blob == nil {
		return
	}
	if err := r.store.UpdateAccountSession(ctx, accountID, blob); err != nil {
		logger.Warn("failed to save session", zap.Error(err))
	}
}

// Close saves the sessions of cached drivers and closes them.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	drivers := r.drivers
	r.drivers = make(map[string]Driver)
	r.mu.Unlock()

	var errs []error
	for accountID, d := range drivers {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		r.saveSession(ctx, r.logger.With(zap.String("account_id", accountID)), accountID, d)
		cancel()
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
		}
	}
	return errors.Join(errs...)
}
