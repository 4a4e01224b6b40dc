package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// hideWebdriver runs before any page script so the platform does not see navigator.webdriver.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// LaunchOptions configures a Chromium instance started for one account.
type LaunchOptions struct {
	Headless          bool
	Bin               string
	UserDataDir       string
	NavigationTimeout time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
}

// RodSurface drives a dedicated Chromium process through the DevTools protocol.
type RodSurface struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	logger     *zap.Logger
}

var _ Surface = (*RodSurface)(nil)

// Launch starts a browser and opens a blank page in it.
func Launch(ctx context.Context, opts LaunchOptions, logger *zap.Logger) (*RodSurface, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.ViewportWidth == 0 || opts.ViewportHeight == 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1920, 1080
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The launcher is not bound to ctx: in long-running mode the browser
	// outlives the cycle that started it.
	l := launcher.New().
		Headless(opts.Headless).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create user data dir: %w", err)
		}
		l = l.UserDataDir(opts.UserDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.ViewportWidth,
		Height:            opts.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logger.Warn("failed to set viewport", zap.Error(err))
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
		logger.Warn("failed to set user agent", zap.Error(err))
	}
	if _, err := page.EvalOnNewDocument(hideWebdriver); err != nil {
		logger.Warn("failed to install init script", zap.Error(err))
	}

	return &RodSurface{
		launcher:   l,
		browser:    b,
		page:       page,
		navTimeout: opts.NavigationTimeout,
		logger:     logger,
	}, nil
}

// NewRodFactory returns a pool factory that launches one browser per account,
// each with its own user data directory under userDataRoot when set.
func NewRodFactory(opts LaunchOptions, userDataRoot string, logger *zap.Logger) Factory {
	return func(ctx context.Context, accountID string) (Surface, error) {
		o := opts
		if userDataRoot != "" {
			o.UserDataDir = filepath.Join(userDataRoot, accountID)
		}
		return Launch(ctx, o, logger.With(zap.String("account_id", accountID)))
	}
}

func (s *RodSurface) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(url); err != nil {
		return navigationError(ctx, url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return navigationError(ctx, url, err)
	}
	return nil
}

func (s *RodSurface) Reload(ctx context.Context) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Reload(); err != nil {
		return navigationError(ctx, "reload", err)
	}
	if err := p.WaitLoad(); err != nil {
		return navigationError(ctx, "reload", err)
	}
	return nil
}

func navigationError(ctx context.Context, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNavigationTimeout, target)
	}
	return fmt.Errorf("failed to navigate to %s: %w", target, err)
}

func (s *RodSurface) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (s *RodSurface) Content(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (s *RodSurface) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return wrapElements(els), nil
}

func (s *RodSurface) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, err := s.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return &rodElement{el: el}, nil
}

func (s *RodSurface) Screenshot(ctx context.Context, path string) error {
	data, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

func (s *RodSurface) Cookies(ctx context.Context) ([]models.Cookie, error) {
	res, err := proto.NetworkGetCookies{}.Call(s.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return fromProtoCookies(res.Cookies), nil
}

func (s *RodSurface) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := s.page.Context(ctx).SetCookies(toProtoCookies(cookies)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (s *RodSurface) LocalStorage(ctx context.Context) (map[string]string, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `() => {
			try {
				const out = {};
				for (const key of Object.keys(localStorage)) {
					out[key] = localStorage.getItem(key);
				}
				return JSON.stringify(out);
			} catch (e) {
				return "{}";
			}
		}`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	values := map[string]string{}
	if res == nil || res.Value.Nil() {
		return values, nil
	}
	if err := json.Unmarshal([]byte(res.Value.String()), &values); err != nil {
		return nil, fmt.Errorf("failed to decode local storage: %w", err)
	}
	return values, nil
}

func (s *RodSurface) SetLocalStorage(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode local storage: %w", err)
	}
	_, err = s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `(local) => {
			try {
				Object.entries(JSON.parse(local || "{}")).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
		}`,
		JSArgs:       []interface{}{string(raw)},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("failed to restore local storage: %w", err)
	}
	return nil
}

func (s *RodSurface) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (e *rodElement) Parent(ctx context.Context) (Element, error) {
	parent, err := e.el.Context(ctx).Parent()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The document element has no parent element.
		return nil, nil
	}
	return &rodElement{el: parent}, nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Type(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}
