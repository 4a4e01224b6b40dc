package normalize

import (
	"regexp"
	"strings"
)

// chromeLinePatterns match platform UI text that bleeds into scraped message
// bubbles: call-to-action buttons, receipts, order widgets and counters.
var chromeLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Local Time:.*`),
	regexp.MustCompile(`(?i)Order\s+Waiting for supplier.*`),
	regexp.MustCompile(`(?i)Waiting for supplier.*`),
	regexp.MustCompile(`(?i)Request modification.*`),
	regexp.MustCompile(`(?i)Try a voice or video call.*`),
	regexp.MustCompile(`\bCall\s*$`),
	regexp.MustCompile(`\bRead\s*$`),
	regexp.MustCompile(`\bDelivered\s*$`),
	regexp.MustCompile(`(?i)Reply(Download|Translate).*`),
	regexp.MustCompile(`(?i)USD\s+\d+(\.\d+)?`),
	regexp.MustCompile(`(?i)To be shipped.*?Active Project`),
	regexp.MustCompile(`(?i)^For (Buyer|Supplier)\s*$`),
	regexp.MustCompile(`(?i)^Notice\s*$`),
	regexp.MustCompile(`(?i)\d*\s*(Pending Orders|New Contact Requests|New Connections|New Quotes).*`),
	regexp.MustCompile(`(?i)(Rate supplier|Send order request|File a complaint|Logistics Inquiry).*`),
	regexp.MustCompile(`(?i)Press "Enter" to send.*`),
	regexp.MustCompile(`(?i)^Send\s*$`),
	regexp.MustCompile(`^\d+\s*$`),
	regexp.MustCompile(`(?i)^translating(\.\.\.|…)?$`),
	regexp.MustCompile(`(?i)^Feedback$`),
}

// uiOnlyPatterns match cleaned content that is nothing but UI.
var uiOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ReplyDownload|ReplyTranslate|For Buyer|For Supplier|Notice|Send)$`),
	regexp.MustCompile(`(?i)^\d+\s+(Pending Orders|New Contact Requests|New Connections|New Quotes)$`),
	regexp.MustCompile(`(?i)^(Rate supplier|Send order request|File a complaint|Logistics Inquiry)$`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Clean strips UI chrome from scraped message text and returns the message
// content, or "" when nothing but UI remains. Clean is idempotent.
func Clean(raw string) string {
	out := cleanOnce(raw)
	// Each pass only removes text, so this settles quickly.
	for out != "" {
		next := cleanOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func cleanOnce(raw string) string {
	var kept []string
	for _, line := range dedupeConsecutive(splitLines(raw)) {
		if line = stripChrome(line); line != "" {
			kept = append(kept, line)
		}
	}

	content := stripChrome(collapseWhitespace(strings.Join(kept, " ")))
	content = collapseRepetition(content)

	for _, p := range uiOnlyPatterns {
		if p.MatchString(content) {
			return ""
		}
	}
	return content
}

func stripChrome(line string) string {
	for _, p := range chromeLinePatterns {
		line = strings.TrimSpace(p.ReplaceAllString(line, ""))
		if line == "" {
			return ""
		}
	}
	return line
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func dedupeConsecutive(lines []string) []string {
	out := lines[:0:0]
	for i, line := range lines {
		if i > 0 && line == lines[i-1] {
			continue
		}
		out = append(out, line)
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// collapseRepetition turns "x y x y" into "x y". Bubbles that render their
// text twice (visible copy plus accessibility copy) scrape this way.
func collapseRepetition(s string) string {
	words := strings.Fields(s)
	n := len(words)
	if n < 2 || n%2 != 0 {
		return s
	}
	half := n / 2
	for i := 0; i < half; i++ {
		if words[i] != words[half+i] {
			return s
		}
	}
	return strings.Join(words[:half], " ")
}
