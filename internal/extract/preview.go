package extract

import (
	"regexp"
	"strings"
)

var previewSelectors = []string{
	".last-message",
	".message-preview",
	`[class*="preview"]`,
	`[class*="snippet"]`,
	"p",
	"span",
}

var (
	leadingDate = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}`)
	orderTotal  = regexp.MustCompile(`(?i)\b(USD|US\$|total)\s*[\d.,]+`)
)

var previewChrome = []string{"Co., Ltd", "Rate supplier", "Send order request", "Request modification"}

// usablePreview reports whether a text fragment reads like a message snippet
// rather than a date, a company name, an order total or a button label.
func usablePreview(text, title string) bool {
	n := len([]rune(text))
	if n <= 5 || n >= 200 || text == title {
		return false
	}
	if leadingDate.MatchString(text) || orderTotal.MatchString(text) {
		return false
	}
	for _, chrome := range previewChrome {
		if strings.Contains(text, chrome) {
			return false
		}
	}
	return true
}
