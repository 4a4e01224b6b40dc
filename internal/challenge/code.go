package challenge

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// codePatterns are tried in order; labelled codes win over bare digit runs.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verification code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)security code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
	regexp.MustCompile(`\b(\d{8})\b`),
}

var subjectKeywords = []string{"verification", "code", "security", "验证"}

var senderKeywords = []string{"noreply", "no-reply"}

var stripTags = bluemonday.StrictPolicy()

// ExtractCode returns the first verification code found in text, or "".
func ExtractCode(text string) string {
	for _, pattern := range codePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// htmlToText drops markup so that codes split across tags still match.
func htmlToText(html string) string {
	return strings.Join(strings.Fields(stripTags.Sanitize(html)), " ")
}

// looksLikeCodeMail reports whether a message plausibly carries a platform verification code.
func looksLikeCodeMail(platform, from, subject string) bool {
	from = strings.ToLower(from)
	subject = strings.ToLower(subject)

	if platform != "" && strings.Contains(from, strings.ToLower(platform)) {
		return true
	}
	for _, keyword := range senderKeywords {
		if strings.Contains(from, keyword) {
			return true
		}
	}
	for _, keyword := range subjectKeywords {
		if strings.Contains(subject, keyword) {
			return true
		}
	}
	return false
}
