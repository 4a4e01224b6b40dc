package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
)

// staleAfter is how old the last sync may be before startup runs a full initial pass.
const staleAfter = 24 * time.Hour

// Event types published after every cycle.
const (
	EventSyncCompleted = "sync_completed"
	EventSyncFailed    = "sync_failed"
)

var (
	// ErrAccountBusy is returned by RunNow while a cycle for the account is in flight.
	ErrAccountBusy = errors.New("sync already running for this account")
	// ErrStopped is returned by RunNow after Stop.
	ErrStopped = errors.New("scheduler stopped")
	// ErrInvalidMode is returned by ParseMode.
	ErrInvalidMode = errors.New("invalid sync mode")
)

// Mode selects the kind of sync cycle.
type Mode string

const (
	ModeInitial     Mode = "initial"
	ModeIncremental Mode = "incremental"
)

// ParseMode turns a query or flag value into a Mode. Empty means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeInitial:
		return ModeInitial, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Syncer runs one cycle for one account.
type Syncer interface {
	SyncInitial(ctx context.Context, accountID string, daysBack int) models.SyncResult
	SyncIncremental(ctx context.Context, accountID string) models.SyncResult
	Close() error
}

// Accounts lists what the scheduler should work on.
type Accounts interface {
	ListActiveAccountIDs(ctx context.Context) ([]string, error)
	GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
}

// Notifier receives an event after every cycle.
type Notifier interface {
	Publish(event models.SyncEvent)
}

// Config controls pacing and backoff.
type Config struct {
	Interval        time.Duration
	InitialDaysBack int
	MaxConcurrent   int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// ConfigFrom maps the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Interval:        cfg.SyncInterval,
		InitialDaysBack: cfg.InitialDaysBack,
		MaxConcurrent:   cfg.MaxConcurrentAccounts,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}

// Scheduler runs sync cycles for every active account on an interval.
// Cycles of one account never overlap; a busy account is skipped, not queued.
type Scheduler struct {
	syncer   Syncer
	accounts Accounts
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	busy     map[string]struct{}
	breakers map[string]*gobreaker.CircuitBreaker
	stopped  bool
	inflight sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. notifier may be nil.
func New(syncer Syncer, accounts Accounts, notifier Notifier, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.InitialDaysBack <= 0 {
		cfg.InitialDaysBack = 7
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	s := &Scheduler{
		syncer:   syncer,
		accounts: accounts,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		busy:     make(map[string]struct{}),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the startup pass and then the periodic incremental passes in
// the background until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the background loop, waits for every in-flight cycle and
// closes the syncer.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.inflight.Wait()
	return s.syncer.Close()
}

// RunNow runs one cycle for the account right away, bypassing the breaker.
// days only applies to initial cycles; zero means the configured default.
func (s *Scheduler) RunNow(ctx context.Context, accountID string, mode Mode, days int) (models.SyncResult, error) {
	if err := s.acquire(accountID); err != nil {
		return models.SyncResult{}, err
	}
	defer s.release(accountID)
	return s.sync(ctx, accountID, mode, days), nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.runPass(ctx, s.startupMode)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx, func(context.Context, string) (Mode, bool) { return ModeIncremental, true })
		}
	}
}

// startupMode picks an initial pass for accounts that never synced or
// fell too far behind and leaves the rest to the first tick.
func (s *Scheduler) startupMode(ctx context.Context, accountID string) (Mode, bool) {
	status, err := s.accounts.GetAccountStatus(ctx, accountID)
	if err != nil {
		s.logger.Warn("failed to load account status", zap.String("account_id", accountID), zap.Error(err))
		return "", false
	}
	if status.LastSyncAt == nil || s.now().Sub(*status.LastSyncAt) > staleAfter {
		return ModeInitial, true
	}
	return "", false
}

// runPass runs one cycle per active account, at most MaxConcurrent at a time.
func (s *Scheduler) runPass(ctx context.Context, pick func(context.Context, string) (Mode, bool)) {
	ids, err := s.accounts.ListActiveAccountIDs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to list active accounts", zap.Error(err))
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			mode, ok := pick(ctx, id)
			if ok {
				s.runScheduled(ctx, id, mode)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runScheduled(ctx context.Context, accountID string, mode Mode) {
	logger := s.logger.With(zap.String("account_id", accountID))
	if err := s.acquire(accountID); err != nil {
		logger.Debug("skipping scheduled sync", zap.Error(err))
		return
	}
	defer s.release(accountID)

	_, err := s.breaker(accountID).Execute(func() (interface{}, error) {
		result := s.sync(ctx, accountID, mode, 0)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !result.Success {
			return result, errors.New(result.Error)
		}
		return result, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Debug("skipping sync while backing off", zap.Error(err))
	}
}

// sync runs the cycle and publishes its outcome.
func (s *Scheduler) sync(ctx context.Context, accountID string, mode Mode, days int) models.SyncResult {
	var result models.SyncResult
	switch mode {
	case ModeInitial:
		if days <= 0 {
			days = s.cfg.InitialDaysBack
		}
		result = s.syncer.SyncInitial(ctx, accountID, days)
	default:
		mode = ModeIncremental
		result = s.syncer.SyncIncremental(ctx, accountID)
	}

	if s.notifier != nil {
		eventType := EventSyncCompleted
		if !result.Success {
			eventType = EventSyncFailed
		}
		s.notifier.Publish(models.SyncEvent{Type: eventType, AccountID: accountID, Mode: string(mode), Result: result})
	}
	return result
}

// acquire marks the account busy. Every successful acquire must be paired with release.
func (s *Scheduler) acquire(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.busy[accountID]; ok {
		return ErrAccountBusy
	}
	s.busy[accountID] = struct{}{}
	s.inflight.Add(1)
	return nil
}

func (s *Scheduler) release(accountID string) {
	s.mu.Lock()
	delete(s.busy, accountID)
	s.mu.Unlock()
	s.inflight.Done()
}

// Busy reports whether a cycle for the account is in flight.
func (s *Scheduler) Busy(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[accountID]
	return ok
}

func (s *Scheduler) breaker(accountID string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[accountID]; ok {
		return cb
	}
	failures := uint32(s.cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        accountID,
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Info("sync breaker state changed",
				zap.String("account_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	s.breakers[accountID] = cb
	return cb
}
