package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/normalize"
)

// bubbleSelectors are specific message container selectors. Broad matches such
// as [class*="message"] are left out because they also hit the list and toolbar.
var bubbleSelectors = []string{
	`[data-spm*="message"]`,
	".message-item",
	".msg-item",
	`[class*="msg-content"]`,
	`[class*="message-content"]`,
	".chat-message",
	".conversation-message",
	"[data-message-id]",
}

const timestampSelector = `time, [class*="time"], [class*="date"]`

var embeddedRecordPattern = regexp.MustCompile(`\{[^{}]*"content"\s*:\s*"(?:[^"\\]|\\.)*"[^{}]*\}`)

// embeddedRecord is a message as some platforms inline it in page scripts.
type embeddedRecord struct {
	Content    string `json:"content"`
	SendTime   int64  `json:"sendTime"`
	FromSelf   bool   `json:"fromSelf"`
	SenderNick string `json:"senderNick"`
}

// ListMessages opens the conversation and returns its messages. Messages with
// a known timestamp before the minute of since are dropped; since may be nil.
// Displayed times carry minutes only, so the whole minute of since is kept.
func (e *Extractor) ListMessages(ctx context.Context, ref models.ConversationRef, since *time.Time) ([]models.ExtractedMessage, error) {
	if err := e.ensureMessagesPage(ctx); err != nil {
		return nil, err
	}
	opened, err := e.openConversation(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !opened {
		e.degraded(ctx, "open-conversation", "conversation "+ref.Title+" not found in list")
		return nil, nil
	}

	counterpart := normalize.CounterpartKey(ref.Title)
	now := e.now()
	msgs, source, err := cascade(ctx, e.logger, "messages", []strategy[models.ExtractedMessage]{
		{name: "structural", find: func(ctx context.Context) ([]models.ExtractedMessage, error) {
			return e.structuralMessages(ctx, counterpart, now)
		}},
		{name: "anchored", find: func(ctx context.Context) ([]models.ExtractedMessage, error) {
			return e.anchoredMessages(ctx, counterpart, now)
		}},
		{name: "fulltext", find: func(ctx context.Context) ([]models.ExtractedMessage, error) {
			return e.fullTextMessages(ctx, counterpart, now)
		}},
		{name: "embedded", find: func(ctx context.Context) ([]models.ExtractedMessage, error) {
			return e.embeddedMessages(ctx, counterpart)
		}},
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		e.degraded(ctx, "messages", "no message elements found for "+ref.Title)
		return nil, nil
	}

	var cutoff time.Time
	if since != nil {
		cutoff = since.Truncate(time.Minute)
	}
	kept := msgs[:0:0]
	for _, m := range msgs {
		if since != nil && m.Timestamp != nil && m.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, m)
	}
	out := normalize.Dedupe(kept, e.logger)

	e.logger.Info("extracted messages",
		zap.String("conversation", ref.Title),
		zap.String("strategy", source),
		zap.Int("found", len(msgs)),
		zap.Int("kept", len(out)),
	)
	return out, nil
}

func (e *Extractor) structuralMessages(ctx context.Context, counterpart string, now time.Time) ([]models.ExtractedMessage, error) {
	var bubbles []browser.Element
	for _, selector := range bubbleSelectors {
		els, err := e.surface.QueryAll(ctx, selector)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		bubbles = append(bubbles, els...)
	}
	return e.messagesFrom(ctx, bubbles, counterpart, now, "structural", anyText)
}

// anchoredMessages finds timestamps first and treats their parents as bubbles.
func (e *Extractor) anchoredMessages(ctx context.Context, counterpart string, now time.Time) ([]models.ExtractedMessage, error) {
	stamps, err := e.surface.QueryAll(ctx, timestampSelector)
	if err != nil {
		return nil, err
	}

	var bubbles []browser.Element
	for _, stamp := range stamps {
		text, err := stamp.Text(ctx)
		if err != nil {
			continue
		}
		if _, ok := findTimestamp(text, now, e.cfg.Location); !ok {
			continue
		}
		parent, err := stamp.Parent(ctx)
		if err != nil || parent == nil {
			continue
		}
		if e.inConversationList(ctx, parent) {
			continue
		}
		bubbles = append(bubbles, parent)
	}
	return e.messagesFrom(ctx, bubbles, counterpart, now, "anchored", anyText)
}

// fullTextMessages classifies every leaf text element on the page.
func (e *Extractor) fullTextMessages(ctx context.Context, counterpart string, now time.Time) ([]models.ExtractedMessage, error) {
	els, err := e.surface.QueryAll(ctx, "div, span, p")
	if err != nil {
		return nil, err
	}

	var leaves []browser.Element
	for _, el := range els {
		children, err := el.QueryAll(ctx, "*")
		if err != nil || len(children) > 0 {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil || isTimestampOnly(text, now, e.cfg.Location) || !LooksLikeMessage(text) {
			continue
		}
		if e.inConversationList(ctx, el) {
			continue
		}
		leaves = append(leaves, el)
	}
	return e.messagesFrom(ctx, leaves, counterpart, now, "fulltext", LooksLikeMessage)
}

// embeddedMessages scans the page source for inlined message records.
func (e *Extractor) embeddedMessages(ctx context.Context, counterpart string) ([]models.ExtractedMessage, error) {
	content, err := e.surface.Content(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.ExtractedMessage
	for _, raw := range embeddedRecordPattern.FindAllString(content, -1) {
		var rec embeddedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.SendTime <= 0 {
			continue
		}
		text := normalize.Clean(rec.Content)
		if len([]rune(text)) < 2 {
			continue
		}

		sent := rec.SendTime
		if sent < 1e12 {
			sent *= 1000
		}
		at := time.UnixMilli(sent).In(e.cfg.Location)

		direction := models.DirectionIncoming
		if rec.FromSelf || e.isSelf(rec.SenderNick, "") {
			direction = models.DirectionOutgoing
		}
		out = append(out, e.newMessage(raw, text, direction, &at, true, false, nil, counterpart, "embedded"))
	}
	return out, nil
}

// anyText accepts every bubble; chrome lines inside it are left to normalize.Clean.
func anyText(string) bool { return true }

func (e *Extractor) messagesFrom(ctx context.Context, els []browser.Element, counterpart string, now time.Time, source string, accept func(string) bool) ([]models.ExtractedMessage, error) {
	var out []models.ExtractedMessage
	for _, el := range els {
		msg, ok := e.messageFrom(ctx, el, counterpart, now, source, accept)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (e *Extractor) messageFrom(ctx context.Context, el browser.Element, counterpart string, now time.Time, source string, accept func(string) bool) (models.ExtractedMessage, bool) {
	raw, err := el.Text(ctx)
	if err != nil || strings.TrimSpace(raw) == "" || !accept(raw) {
		return models.ExtractedMessage{}, false
	}

	chain := e.ancestry(ctx, el, 2)
	stamp, found := e.timestampIn(ctx, chain, now)

	text := raw
	if found {
		text = strings.Replace(raw, stamp.Text, "", 1)
	}
	parsed := normalize.Parse(text, e.cfg.Location)
	if parsed.Timestamp != nil {
		stamp, found = timestampMatch{At: *parsed.Timestamp, Exact: true}, true
	}
	if len([]rune(parsed.Content)) < 2 {
		return models.ExtractedMessage{}, false
	}

	var at *time.Time
	if found {
		t := stamp.At
		at = &t
	}
	direction := e.direction(ctx, chain, raw, parsed.Sender)
	return e.newMessage(raw, parsed.Content, direction, at, found && stamp.Exact, parsed.IsReply, parsed.Quoted, counterpart, source), true
}

// newMessage labels the sender and derives the identity. Only exact
// timestamps take part in the identity; relative or time-only stamps shift
// between passes.
func (e *Extractor) newMessage(raw, content string, direction models.Direction, at *time.Time, exact, isReply bool, quoted *string, counterpart, source string) models.ExtractedMessage {
	sender := counterpart
	if direction == models.DirectionOutgoing {
		sender = models.SenderSelf
	}
	var identityTime *time.Time
	if exact {
		identityTime = at
	}
	return models.ExtractedMessage{
		RawText:        raw,
		Content:        content,
		SenderLabel:    sender,
		Timestamp:      at,
		TimestampExact: exact,
		Direction:      direction,
		IsReply:        isReply,
		QuotedContent:  quoted,
		Identity:       normalize.ComputeIdentity(content, identityTime, sender),
		Source:         source,
	}
}

// timestampIn returns the first timestamp in the element or its ancestors.
func (e *Extractor) timestampIn(ctx context.Context, chain []browser.Element, now time.Time) (timestampMatch, bool) {
	for _, el := range chain {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if m, ok := findTimestamp(text, now, e.cfg.Location); ok {
			return m, true
		}
	}
	return timestampMatch{}, false
}

// ancestry returns el followed by up to depth ancestors.
func (e *Extractor) ancestry(ctx context.Context, el browser.Element, depth int) []browser.Element {
	chain := []browser.Element{el}
	for cur := el; len(chain) <= depth; {
		parent, err := cur.Parent(ctx)
		if err != nil || parent == nil {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}
	return chain
}

// inConversationList reports whether el sits inside a conversation list entry.
func (e *Extractor) inConversationList(ctx context.Context, el browser.Element) bool {
	for _, node := range e.ancestry(ctx, el, 3) {
		for _, attr := range []string{"data-chat-id", "data-conversation-id"} {
			if _, ok, err := node.Attribute(ctx, attr); err == nil && ok {
				return true
			}
		}
		if class, ok, err := node.Attribute(ctx, "class"); err == nil && ok {
			if strings.Contains(class, "conversation-item") || strings.Contains(class, "conversation-list") {
				return true
			}
		}
	}
	return false
}
