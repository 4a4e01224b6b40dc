package extract

import (
	"context"
	"strings"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/models"
)

var (
	sentTokens     = []string{"sent", "outgoing", "self", "right", "my-message", "mine"}
	receivedTokens = []string{"received", "incoming", "left", "other"}
	sentStyles     = []string{"flex-end", "float: right", "float:right", "text-align: right", "text-align:right"}
)

// classDirection classifies a class attribute by whole tokens and their
// dash-separated parts, so "msg-right" counts but "presentation" does not.
func classDirection(class string) (models.Direction, bool) {
	class = strings.ToLower(class)
	match := func(tokens []string) bool {
		for _, field := range strings.Fields(class) {
			parts := strings.FieldsFunc(field, func(r rune) bool { return r == '-' || r == '_' })
			for _, token := range tokens {
				if field == token {
					return true
				}
				for _, part := range parts {
					if part == token {
						return true
					}
				}
			}
		}
		return false
	}
	switch {
	case match(sentTokens):
		return models.DirectionOutgoing, true
	case match(receivedTokens):
		return models.DirectionIncoming, true
	}
	return "", false
}

func styleDirection(style string) (models.Direction, bool) {
	style = strings.ToLower(style)
	for _, s := range sentStyles {
		if strings.Contains(style, s) {
			return models.DirectionOutgoing, true
		}
	}
	return "", false
}

// direction decides who wrote a message bubble from the self names, then the
// classes and styles of the bubble and its two nearest ancestors.
func (e *Extractor) direction(ctx context.Context, chain []browser.Element, raw, sender string) models.Direction {
	if e.isSelf(sender, raw) {
		return models.DirectionOutgoing
	}
	for _, el := range chain {
		if class, ok, err := el.Attribute(ctx, "class"); err == nil && ok {
			if d, found := classDirection(class); found {
				return d
			}
		}
		if style, ok, err := el.Attribute(ctx, "style"); err == nil && ok {
			if d, found := styleDirection(style); found {
				return d
			}
		}
	}
	return models.DirectionIncoming
}

func (e *Extractor) isSelf(sender, raw string) bool {
	for _, name := range e.cfg.SelfNames {
		if sender != "" && strings.EqualFold(sender, name) {
			return true
		}
		if strings.Contains(raw, name+":") {
			return true
		}
	}
	return false
}
