package platform

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/challenge"
	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/extract"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/session"
)

// Factory builds Drivers for accounts. With a pool, surfaces are borrowed and
// outlive the driver; without one, every driver launches and closes its own.
type Factory struct {
	cfg      *config.Config
	launch   browser.Factory
	pool     browser.SurfacePool
	resolver challenge.Resolver
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithClock replaces time.Now in every driver the factory builds.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// NewFactory wires a factory from its parts. pool and resolver may be nil.
func NewFactory(cfg *config.Config, launch browser.Factory, pool browser.SurfacePool, resolver challenge.Resolver, logger *zap.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:      cfg,
		launch:   launch,
		pool:     pool,
		resolver: resolver,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		location: loadLocation(cfg.Timezone),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFactoryFromConfig launches real browsers through go-rod. In long-running
// mode it also returns the pool, which the caller must close on shutdown.
func NewFactoryFromConfig(cfg *config.Config, logger *zap.Logger) (*Factory, *browser.Pool) {
	logger = logging.OrNop(logger)
	launch := browser.NewRodFactory(browser.LaunchOptions{
		Headless:          cfg.BrowserHeadless,
		Bin:               cfg.BrowserBin,
		NavigationTimeout: cfg.NavigationTimeout,
	}, cfg.BrowserUserDataRoot, logger)

	var resolver challenge.Resolver
	if cfg.HasChallengeMailbox() {
		resolver = challenge.NewMailbox(challenge.MailboxConfig{
			Server:   cfg.ChallengeIMAPServer,
			Username: cfg.ChallengeIMAPUsername,
			Password: cfg.ChallengeIMAPPassword,
			Folder:   cfg.ChallengeIMAPFolder,
			UseTLS:   cfg.ChallengeIMAPUseTLS,
			Platform: cfg.Platform,
		}, logger)
	}

	if cfg.SyncMode == config.ModeEphemeral {
		return NewFactory(cfg, launch, nil, resolver, logger), nil
	}
	pool := browser.NewPoolWithIdleTimeout(launch, cfg.BrowserIdleTimeout, 0, logger)
	return NewFactory(cfg, launch, pool, resolver, logger), pool
}

// NewDriver gives the account a surface and a fresh session manager seeded
// with the account's stored session. account.Password must be decrypted.
func (f *Factory) NewDriver(ctx context.Context, account *models.Account) (*Driver, error) {
	surface, done, err := f.surfaceFor(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	logger := f.logger.With(zap.String("account_id", account.ID))
	manager := session.NewManager(
		surface,
		session.Credentials{Username: account.Username, Password: account.Password},
		account.Session,
		f.resolver,
		f.sessionConfig(),
		logger,
		session.WithClock(f.now),
	)
	extractor := extract.New(surface, f.extractConfig(), logger, extract.WithClock(f.now))

	return &Driver{
		accountID:       account.ID,
		session:         manager,
		extractor:       extractor,
		refreshInterval: f.cfg.SessionRefreshInterval,
		done:            done,
		logger:          logger,
	}, nil
}

func (f *Factory) surfaceFor(ctx context.Context, accountID string) (browser.Surface, func() error, error) {
	if f.pool == nil {
		surface, err := f.launch(ctx, accountID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch browser for account %s: %w", accountID, err)
		}
		return surface, surface.Close, nil
	}

	surface, release, err := f.pool.Acquire(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire browser for account %s: %w", accountID, err)
	}
	return surface, func() error {
		release()
		return nil
	}, nil
}

func (f *Factory) sessionConfig() session.Config {
	return session.Config{
		LoginURL:                f.cfg.LoginURL,
		ProtectedURL:            f.cfg.MessagesURL,
		ProtectedPrefix:         f.cfg.ProtectedURLPrefix,
		NavigationTimeout:       f.cfg.NavigationTimeout,
		NavigationAttempts:      f.cfg.NavigationAttempts,
		NavigationRetryDelay:    f.cfg.NavigationRetryDelay,
		SettleDelay:             f.cfg.SettleDelay,
		RefreshInterval:         f.cfg.SessionRefreshInterval,
		ChallengeWindow:         f.cfg.ChallengeWindow,
		ChallengePollInterval:   f.cfg.ChallengePollInterval,
		ChallengeAttempts:       f.cfg.ChallengeAttempts,
		ChallengeMaxAge:         f.cfg.ChallengeMaxAge,
		ChallengeDeleteAfterUse: f.cfg.ChallengeDeleteAfterUse,
		ScreenshotDir:           f.cfg.ScreenshotDir,
	}
}

func (f *Factory) extractConfig() extract.Config {
	return extract.Config{
		MessagesURL:      f.cfg.MessagesURL,
		MaxConversations: f.cfg.MaxConversations,
		SettleDelay:      f.cfg.SettleDelay,
		SelfNames:        f.cfg.SelfNames,
		ScreenshotDir:    f.cfg.ScreenshotDir,
		Location:         f.location,
	}
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
