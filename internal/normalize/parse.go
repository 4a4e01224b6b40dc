package normalize

import (
	"regexp"
	"strings"
	"time"
)

// Components is what Parse pulls out of one scraped message block.
type Components struct {
	Sender        string
	TimestampText string
	Timestamp     *time.Time
	Content       string
	IsReply       bool
	Quoted        *string
}

var (
	inlineTimestamp = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2})`)
	senderPrefix    = regexp.MustCompile(`^([A-Z][a-zA-Z ]+):`)
	replyIndicators = []string{"replied:", "reply to:", "wrote:", "said:"}
	// Labels that look like "Name:" prefixes but are platform chrome.
	notSenders = map[string]struct{}{"Local Time": {}}
)

// Parse splits a raw message block into sender, timestamp, reply quote and
// cleaned content. Timestamps are interpreted in loc (UTC when nil).
func Parse(raw string, loc *time.Location) Components {
	if loc == nil {
		loc = time.UTC
	}

	var c Components
	var content []string
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if c.TimestampText == "" {
			if m := inlineTimestamp.FindStringSubmatch(line); m != nil {
				c.TimestampText = m[1]
				line = strings.TrimSpace(inlineTimestamp.ReplaceAllString(line, ""))
			}
		}

		if c.Sender == "" {
			if m := senderPrefix.FindStringSubmatch(line); m != nil {
				name := strings.TrimSpace(m[1])
				if _, skip := notSenders[name]; !skip {
					c.Sender, c.IsReply = splitReplyVerb(name, c.IsReply)
					line = strings.TrimSpace(line[len(m[0]):])
				}
			}
		}

		if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), ">") {
			c.IsReply = true
			if line != "" {
				content = append(content, line)
			}
			var quoted []string
			for i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), ">") {
				i++
				quoted = append(quoted, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), ">")))
			}
			q := strings.Join(quoted, "\n")
			c.Quoted = &q
			continue
		}

		lower := strings.ToLower(line)
		for _, indicator := range replyIndicators {
			if strings.Contains(lower, indicator) {
				c.IsReply = true
				break
			}
		}

		if line != "" {
			content = append(content, line)
		}
	}

	if c.TimestampText != "" {
		if ts, err := time.ParseInLocation("2006-01-02 15:04", whitespace.ReplaceAllString(c.TimestampText, " "), loc); err == nil {
			c.Timestamp = &ts
		}
	}
	c.Content = Clean(strings.Join(content, "\n"))
	return c
}

// splitReplyVerb turns "Linda replied" into ("Linda", true).
func splitReplyVerb(name string, isReply bool) (string, bool) {
	lower := strings.ToLower(name)
	for _, indicator := range replyIndicators {
		verb := " " + strings.TrimSuffix(indicator, ":")
		if strings.HasSuffix(lower, verb) {
			return strings.TrimSpace(name[:len(name)-len(verb)]), true
		}
	}
	return name, isReply
}
