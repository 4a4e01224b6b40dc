package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/logging"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/normalize"
)

// Config tunes the extractor for one platform.
type Config struct {
	// MessagesURL is where the conversation list lives. Empty means "stay on the current page".
	MessagesURL      string
	MaxConversations int
	SelectorTimeout  time.Duration
	SettleDelay      time.Duration
	// SelfNames are display names the account owner appears under in message text.
	SelfNames     []string
	ScreenshotDir string
	Location      *time.Location
}

// Extractor reads conversations and messages off an authenticated page using
// layered heuristics. It never fails on missing or partial data; only
// cancellation is reported as an error.
type Extractor struct {
	surface browser.Surface
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock replaces time.Now for resolving relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func New(surface browser.Surface, cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 10 * time.Second
	}
	e := &Extractor{surface: surface, cfg: cfg, logger: logging.OrNop(logger), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var idAttributes = []string{"data-chat-id", "data-conversation-id", "data-id", "id"}

var onclickID = regexp.MustCompile(`["']id["']\s*:\s*["']([^"']+)["']`)

// conversationNamespace seeds synthesized conversation ids.
var conversationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/vdavid/chatsync/conversation"))

// ListConversations returns the conversations visible in the list, newest
// first as the platform shows them. Conversations known to be older than
// maxAgeDays are dropped; a maxAgeDays of 0 or less keeps everything.
func (e *Extractor) ListConversations(ctx context.Context, maxAgeDays int) ([]models.ExtractedConversation, error) {
	if err := e.ensureMessagesPage(ctx); err != nil {
		return nil, err
	}
	if _, err := e.surface.WaitForSelector(ctx, `[class*="conversation"]`, e.cfg.SelectorTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Debug("conversation list selector not found, trying fallbacks", zap.Error(err))
	}

	elements, source, err := e.conversationElements(ctx)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		e.degraded(ctx, "conversations", "no conversation elements found")
		return nil, nil
	}

	now := e.now()
	var cutoff time.Time
	if maxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -maxAgeDays)
	}

	seen := make(map[string]bool)
	var out []models.ExtractedConversation
	for i, el := range elements {
		if e.cfg.MaxConversations > 0 && len(out) >= e.cfg.MaxConversations {
			break
		}
		conv, ok, err := e.conversationFrom(ctx, el, i, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := normalize.CounterpartKey(conv.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		if conv.LastMessageAt != nil && !cutoff.IsZero() && conv.LastMessageAt.Before(cutoff) {
			e.logger.Debug("skipping old conversation", zap.String("title", conv.Title), zap.Time("last_message_at", *conv.LastMessageAt))
			continue
		}
		out = append(out, conv)
	}

	e.logger.Info("extracted conversations", zap.Int("count", len(out)), zap.String("strategy", source))
	return out, nil
}

func (e *Extractor) conversationElements(ctx context.Context) ([]browser.Element, string, error) {
	return cascade(ctx, e.logger, "conversations", []strategy[browser.Element]{
		{name: "structural", find: e.firstMatching(`[data-conversation-id]`, `[class*="conversation-item"]`, `[class*="conversation"]`)},
		{name: "clickable", find: e.firstMatching(`div[onclick], div[data-chat-id], a[href*="chat"]`)},
	})
}

// firstMatching returns the elements of the first selector that matches anything.
func (e *Extractor) firstMatching(selectors ...string) func(ctx context.Context) ([]browser.Element, error) {
	return func(ctx context.Context) ([]browser.Element, error) {
		for _, selector := range selectors {
			els, err := e.surface.QueryAll(ctx, selector)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if len(els) > 0 {
				return els, nil
			}
		}
		return nil, nil
	}
}

func (e *Extractor) conversationFrom(ctx context.Context, el browser.Element, index int, now time.Time) (models.ExtractedConversation, bool, error) {
	raw, err := el.Text(ctx)
	if err != nil {
		return models.ExtractedConversation{}, false, ctx.Err()
	}

	title := e.nameOf(ctx, el, raw)
	if title == "" {
		e.logger.Debug("skipping conversation without a name", zap.Int("index", index))
		return models.ExtractedConversation{}, false, ctx.Err()
	}

	conv := models.ExtractedConversation{
		Title:        title,
		Preview:      e.previewOf(ctx, el, title),
		Participants: []string{title},
		Index:        index,
		RawText:      raw,
	}
	if m, ok := findTimestamp(raw, now, e.cfg.Location); ok {
		at := m.At
		conv.LastMessageAt = &at
	}
	conv.PlatformID, conv.Synthesized = e.platformID(ctx, el, title)
	return conv, true, ctx.Err()
}

func (e *Extractor) nameOf(ctx context.Context, el browser.Element, raw string) string {
	for _, selector := range nameSelectors {
		els, err := el.QueryAll(ctx, selector)
		if err != nil || len(els) == 0 {
			continue
		}
		text, err := els[0].Text(ctx)
		if err != nil {
			continue
		}
		if name := cleanName(text); name != "" {
			return name
		}
	}
	return cleanName(nameFromText(raw))
}

func (e *Extractor) previewOf(ctx context.Context, el browser.Element, title string) string {
	for _, selector := range previewSelectors {
		els, err := el.QueryAll(ctx, selector)
		if err != nil {
			continue
		}
		for _, candidate := range els {
			text, err := candidate.Text(ctx)
			if err != nil {
				continue
			}
			if text = strings.TrimSpace(text); usablePreview(text, title) {
				return text
			}
		}
	}
	return ""
}

// platformID reads the platform's own id for a list entry, or synthesizes a
// stable one from the counterpart when the page exposes none.
func (e *Extractor) platformID(ctx context.Context, el browser.Element, title string) (string, bool) {
	for _, attr := range idAttributes {
		if v, ok, err := el.Attribute(ctx, attr); err == nil && ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), false
		}
	}
	if onclick, ok, err := el.Attribute(ctx, "onclick"); err == nil && ok {
		if m := onclickID.FindStringSubmatch(onclick); m != nil {
			return m[1], false
		}
	}
	key := normalize.CounterpartKey(title)
	return uuid.NewSHA1(conversationNamespace, []byte(key)).String(), true
}

// openConversation clicks the list entry for ref: by platform id, then by
// title, then by list position.
func (e *Extractor) openConversation(ctx context.Context, ref models.ConversationRef) (bool, error) {
	if ref.PlatformID != "" && !ref.Synthesized {
		for _, attr := range idAttributes {
			els, err := e.surface.QueryAll(ctx, fmt.Sprintf(`[%s="%s"]`, attr, strings.ReplaceAll(ref.PlatformID, `"`, `\"`)))
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				continue
			}
			if len(els) > 0 {
				return e.click(ctx, els[0], "platform id")
			}
		}
	}

	elements, _, err := e.conversationElements(ctx)
	if err != nil {
		return false, err
	}

	if key := normalize.CounterpartKey(ref.Title); key != "" {
		for _, el := range elements {
			raw, err := el.Text(ctx)
			if err != nil {
				continue
			}
			if normalize.CounterpartKey(e.nameOf(ctx, el, raw)) == key {
				return e.click(ctx, el, "title")
			}
		}
	}

	if ref.Index >= 0 && ref.Index < len(elements) {
		return e.click(ctx, elements[ref.Index], "index")
	}
	return false, ctx.Err()
}

func (e *Extractor) click(ctx context.Context, el browser.Element, via string) (bool, error) {
	if err := el.Click(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.logger.Warn("failed to open conversation", zap.String("via", via), zap.Error(err))
		return false, nil
	}
	e.logger.Debug("opened conversation", zap.String("via", via))
	return true, e.settle(ctx)
}

// ensureMessagesPage navigates to the conversation list unless already there.
func (e *Extractor) ensureMessagesPage(ctx context.Context) error {
	if e.cfg.MessagesURL == "" {
		return ctx.Err()
	}
	url, err := e.surface.CurrentURL(ctx)
	if err == nil && strings.HasPrefix(url, e.cfg.MessagesURL) {
		return nil
	}
	if err := e.surface.Navigate(ctx, e.cfg.MessagesURL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("failed to open messages page", zap.String("url", e.cfg.MessagesURL), zap.Error(err))
		return nil
	}
	return e.settle(ctx)
}

func (e *Extractor) settle(ctx context.Context) error {
	if e.cfg.SettleDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// degraded logs an extraction that found nothing and keeps a screenshot for debugging.
func (e *Extractor) degraded(ctx context.Context, what, reason string) {
	url, _ := e.surface.CurrentURL(ctx)
	e.logger.Warn("extraction found nothing", zap.String("what", what), zap.String("reason", reason), zap.String("url", url))
	if e.cfg.ScreenshotDir == "" {
		return
	}
	path := filepath.Join(e.cfg.ScreenshotDir, fmt.Sprintf("%s-%d.png", what, e.now().UnixNano()))
	if err := e.surface.Screenshot(ctx, path); err != nil {
		e.logger.Debug("failed to capture screenshot", zap.String("path", path), zap.Error(err))
	}
}
