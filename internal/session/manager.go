package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/challenge"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
)

// Credentials are the platform login for one account.
type Credentials struct {
	Username string
	Password string
}

// Config holds the platform endpoints and the bounds on every wait.
type Config struct {
	LoginURL string
	// ProtectedURL is navigated to after login; ProtectedPrefix decides whether a page counts as logged in.
	ProtectedURL    string
	ProtectedPrefix string

	NavigationTimeout    time.Duration
	NavigationAttempts   int
	NavigationRetryDelay time.Duration
	SettleDelay          time.Duration
	RefreshInterval      time.Duration

	ChallengeWindow         time.Duration
	ChallengePollInterval   time.Duration
	ChallengeAttempts       int
	ChallengeMaxAge         time.Duration
	ChallengeDeleteAfterUse bool

	ScreenshotDir string
}

// Manager drives one account's browser surface through login and keeps the
// resulting session fresh. It never touches storage; callers persist Blob().
type Manager struct {
	surface  browser.Surface
	creds    Credentials
	resolver challenge.Resolver
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	blob        *models.SessionBlob
	lastRefresh time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager in the Unauthenticated state. blob may be nil;
// resolver may be nil when no verification mailbox is configured.
func NewManager(surface browser.Surface, creds Credentials, blob *models.SessionBlob, resolver challenge.Resolver, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.ProtectedPrefix == "" {
		cfg.ProtectedPrefix = cfg.ProtectedURL
	}
	if cfg.ChallengeAttempts < 1 {
		cfg.ChallengeAttempts = 1
	}
	m := &Manager{
		surface:  surface,
		creds:    creds,
		resolver: resolver,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		state:    StateUnauthenticated,
		blob:     blob,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Blob returns a copy of the last captured session, or nil.
func (m *Manager) Blob() *models.SessionBlob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil
	}
	blob := *m.blob
	blob.Cookies = append([]models.Cookie(nil), m.blob.Cookies...)
	blob.LocalStorage = make(map[string]string, len(m.blob.LocalStorage))
	for k, v := range m.blob.LocalStorage {
		blob.LocalStorage[k] = v
	}
	return &blob
}

// EnsureAuthenticated leaves the surface on an authenticated page, reusing
// the stored session when it is still accepted and logging in otherwise.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAuthenticated {
		return m.refreshIfStale(ctx, m.cfg.RefreshInterval)
	}

	if m.blob != nil && m.blob.HasCookies() {
		reused, err := m.reuseSession(ctx)
		if err != nil {
			return err
		}
		if reused {
			m.logger.Info("reused stored session")
			return m.markAuthenticated(ctx)
		}
		m.logger.Info("stored session rejected, logging in")
	}

	return m.login(ctx)
}

// RefreshIfStale reloads the page once maxAge has passed since the last
// refresh and logs in again if the platform dropped the session.
func (m *Manager) RefreshIfStale(ctx context.Context, maxAge time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshIfStale(ctx, maxAge)
}

func (m *Manager) refreshIfStale(ctx context.Context, maxAge time.Duration) error {
	if m.state != StateAuthenticated {
		return m.login(ctx)
	}
	if m.now().Sub(m.lastRefresh) < maxAge {
		return nil
	}

	m.state = StateStale
	if err := m.retryNavigation(ctx, "reload", m.surface.Reload); err != nil {
		return err
	}

	url, err := m.surface.CurrentURL(ctx)
	if err != nil {
		return m.navigationError(ctx, "read url", err)
	}
	if m.isProtected(url) {
		m.logger.Debug("session still valid after refresh", zap.String("url", url))
		return m.markAuthenticated(ctx)
	}

	// The stored blob is what just expired, so go straight to the form.
	m.logger.Info("session expired, logging in again", zap.String("url", url))
	m.state = StateUnauthenticated
	return m.login(ctx)
}

func (m *Manager) reuseSession(ctx context.Context) (bool, error) {
	if err := m.surface.SetCookies(ctx, m.blob.Cookies); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.logger.Warn("failed to restore cookies", zap.Error(err))
		return false, nil
	}

	if err := m.navigate(ctx, m.cfg.ProtectedURL); err != nil {
		return false, err
	}
	if len(m.blob.LocalStorage) > 0 {
		if err := m.surface.SetLocalStorage(ctx, m.blob.LocalStorage); err != nil {
			m.logger.Warn("failed to restore local storage", zap.Error(err))
		}
	}
	if err := m.settle(ctx); err != nil {
		return false, err
	}

	url, err := m.surface.CurrentURL(ctx)
	if err != nil {
		return false, m.navigationError(ctx, "read url", err)
	}
	return m.isProtected(url), nil
}

func (m *Manager) login(ctx context.Context) error {
	m.state = StateUnauthenticated
	m.logger.Info("logging in", zap.String("username", m.creds.Username))

	if err := m.navigate(ctx, m.cfg.LoginURL); err != nil {
		return err
	}
	if err := m.settle(ctx); err != nil {
		return err
	}

	if err := m.fill(ctx, usernameSelectors, m.creds.Username, "username"); err != nil {
		return err
	}
	if err := m.fill(ctx, passwordSelectors, m.creds.Password, "password"); err != nil {
		return err
	}
	if err := m.click(ctx, submitSelectors, "submit"); err != nil {
		return err
	}
	m.state = StateCredentialsSubmitted
	if err := m.settle(ctx); err != nil {
		return err
	}

	url, content, err := m.page(ctx)
	if err != nil {
		return err
	}
	if m.isProtected(url) {
		return m.markAuthenticated(ctx)
	}
	if containsAny(content, rejectionKeywords) {
		return m.fail(ctx, &AuthError{Kind: ErrCredentialsRejected, Detail: m.creds.Username})
	}
	challenged, err := m.challengePresent(ctx, url)
	if err != nil {
		return err
	}
	if challenged {
		m.state = StateChallengeRequired
		if err := m.completeChallenge(ctx); err != nil {
			return err
		}
	}

	return m.verifyDestination(ctx)
}

func (m *Manager) completeChallenge(ctx context.Context) error {
	if m.resolver == nil {
		return m.fail(ctx, &AuthError{Kind: ErrChallengeUnavailable})
	}

	for attempt := 1; attempt <= m.cfg.ChallengeAttempts; attempt++ {
		m.logger.Info("waiting for verification code", zap.Int("attempt", attempt), zap.Duration("window", m.cfg.ChallengeWindow))
		code, err := challenge.Await(ctx, m.resolver, challenge.AwaitOptions{
			Window:         m.cfg.ChallengeWindow,
			PollInterval:   m.cfg.ChallengePollInterval,
			MaxAge:         m.cfg.ChallengeMaxAge,
			DeleteAfterUse: m.cfg.ChallengeDeleteAfterUse,
			Logger:         m.logger,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == m.cfg.ChallengeAttempts {
				return m.fail(ctx, &AuthError{Kind: ErrChallengeTimeout, Err: err})
			}
			continue
		}

		if err := m.fill(ctx, codeInputSelectors, code, "verification code"); err != nil {
			return err
		}
		if err := m.click(ctx, verifySelectors, "verify"); err != nil {
			return err
		}
		if err := m.settle(ctx); err != nil {
			return err
		}

		url, err := m.surface.CurrentURL(ctx)
		if err != nil {
			return m.navigationError(ctx, "read url", err)
		}
		challenged, err := m.challengePresent(ctx, url)
		if err != nil {
			return err
		}
		if !challenged {
			return nil
		}
		m.logger.Warn("verification code not accepted", zap.Int("attempt", attempt))
	}
	return nil
}

// verifyDestination accepts the current page or navigates to the protected URL once.
func (m *Manager) verifyDestination(ctx context.Context) error {
	url, err := m.surface.CurrentURL(ctx)
	if err != nil {
		return m.navigationError(ctx, "read url", err)
	}
	if m.isProtected(url) {
		return m.markAuthenticated(ctx)
	}

	if err := m.navigate(ctx, m.cfg.ProtectedURL); err != nil {
		return err
	}
	if url, err = m.surface.CurrentURL(ctx); err != nil {
		return m.navigationError(ctx, "read url", err)
	}
	if m.isProtected(url) {
		return m.markAuthenticated(ctx)
	}
	return m.fail(ctx, &AuthError{Kind: ErrUnexpectedDestination, Detail: url})
}

func (m *Manager) markAuthenticated(ctx context.Context) error {
	now := m.now()
	m.state = StateAuthenticated
	m.lastRefresh = now

	cookies, err := m.surface.Cookies(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("failed to capture cookies", zap.Error(err))
		return nil
	}
	storage, err := m.surface.LocalStorage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("failed to capture local storage", zap.Error(err))
	}
	m.blob = &models.SessionBlob{
		Cookies:             cookies,
		LocalStorage:        storage,
		LastAuthenticatedAt: &now,
	}
	return nil
}

func (m *Manager) navigate(ctx context.Context, url string) error {
	return m.retryNavigation(ctx, "navigate to "+url, func(ctx context.Context) error {
		return m.surface.Navigate(ctx, url)
	})
}

// retryNavigation bounds each try by the navigation timeout and retries timeouts.
func (m *Manager) retryNavigation(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := browser.Retry(ctx, m.cfg.NavigationAttempts, m.cfg.NavigationRetryDelay, func(ctx context.Context) error {
		attemptCtx := ctx
		if m.cfg.NavigationTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.NavigationTimeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", browser.ErrNavigationTimeout, err)
		}
		if err != nil {
			m.logger.Debug("navigation attempt failed", zap.String("op", op), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return m.navigationError(ctx, op, err)
	}
	return nil
}

func (m *Manager) navigationError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return m.fail(ctx, &AuthError{Kind: ErrNavigation, Detail: op, Err: err})
}

func (m *Manager) fill(ctx context.Context, selectors []string, value, what string) error {
	el, err := m.first(ctx, selectors)
	if err != nil {
		return err
	}
	if el == nil {
		return m.fail(ctx, &AuthError{Kind: ErrLoginFormUnavailable, Detail: what + " field"})
	}
	if err := el.Type(ctx, value); err != nil {
		return m.navigationError(ctx, "type "+what, err)
	}
	return nil
}

func (m *Manager) click(ctx context.Context, selectors []string, what string) error {
	el, err := m.first(ctx, selectors)
	if err != nil {
		return err
	}
	if el == nil {
		return m.fail(ctx, &AuthError{Kind: ErrLoginFormUnavailable, Detail: what + " button"})
	}
	if err := el.Click(ctx); err != nil {
		return m.navigationError(ctx, "click "+what, err)
	}
	return nil
}

// first returns the first element matching the earliest selector in the list, or nil.
func (m *Manager) first(ctx context.Context, selectors []string) (browser.Element, error) {
	for _, selector := range selectors {
		els, err := m.surface.QueryAll(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Debug("selector failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}
	return nil, nil
}

func (m *Manager) page(ctx context.Context) (url, content string, err error) {
	if url, err = m.surface.CurrentURL(ctx); err != nil {
		return "", "", m.navigationError(ctx, "read url", err)
	}
	if content, err = m.surface.Content(ctx); err != nil {
		return "", "", m.navigationError(ctx, "read content", err)
	}
	return url, strings.ToLower(content), nil
}

func (m *Manager) settle(ctx context.Context) error {
	if m.cfg.SettleDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail records a screenshot when configured and returns err.
func (m *Manager) fail(ctx context.Context, err *AuthError) error {
	if m.state != StateAuthenticated {
		m.state = StateUnauthenticated
	}
	m.logger.Warn("authentication failed", zap.String("username", m.creds.Username), zap.Error(err))
	if m.cfg.ScreenshotDir != "" {
		name := fmt.Sprintf("auth-%s-%d.png", sanitize(m.creds.Username), m.now().Unix())
		if shotErr := m.surface.Screenshot(ctx, filepath.Join(m.cfg.ScreenshotDir, name)); shotErr != nil {
			m.logger.Debug("failed to capture screenshot", zap.Error(shotErr))
		}
	}
	return err
}

func (m *Manager) isProtected(url string) bool {
	return strings.HasPrefix(url, m.cfg.ProtectedPrefix) && !isLoginURL(url)
}

// challengePresent reports whether the login page now asks for a verification code.
func (m *Manager) challengePresent(ctx context.Context, url string) (bool, error) {
	if !isLoginURL(url) {
		return false, nil
	}
	for _, selector := range challengeInputSelectors {
		els, err := m.surface.QueryAll(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if len(els) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func isLoginURL(url string) bool {
	return strings.Contains(strings.ToLower(url), "login")
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
