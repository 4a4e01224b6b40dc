package extract

import (
	"regexp"
	"strings"
)

var nameSelectors = []string{
	".contact-name",
	".user-name",
	".conversation-title",
	`[class*="name"]`,
	"h3", "h4", "h5",
	"strong",
}

var (
	companySuffix = regexp.MustCompile(`(?i)\s*\b(Co\.|Ltd\b|Company\b|Inc\b|Corp\b|Industrial\b).*$`)
	fullName      = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	singleName    = regexp.MustCompile(`\b([A-Z][a-z]+)\b`)
)

var statusWords = []string{"message", "online", "offline", "typing"}

var notNames = map[string]bool{
	"All": true, "The": true, "Active": true, "Project": true, "Company": true, "Ltd": true, "Co": true,
}

// cleanName strips company suffixes and rejects text that is not a plausible display name.
func cleanName(name string) string {
	name = strings.TrimSpace(companySuffix.ReplaceAllString(strings.TrimSpace(name), ""))
	if n := len([]rune(name)); n < 2 || n > 50 {
		return ""
	}
	lower := strings.ToLower(name)
	for _, word := range statusWords {
		if strings.Contains(lower, word) {
			return ""
		}
	}
	return name
}

// nameFromText guesses a display name from the raw text of a list entry.
func nameFromText(text string) string {
	for _, pattern := range []*regexp.Regexp{fullName, singleName} {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			if !notNames[m[1]] {
				return m[1]
			}
		}
	}
	return ""
}
