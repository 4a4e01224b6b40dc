package extract

import (
	"strings"
)

// denyIndicators mark text that belongs to page chrome, scripts or order widgets.
var denyIndicators = []string{
	"Rate supplier", "Send order request", "File a complaint",
	"Logistics Inquiry", `Press "Enter"`, "Local Time:",
	"Order", "Waiting for supplier", "USD", "Request modification",
	"javascript:", "function(", "var ", "window.", "document.",
	"SearchInbox", "AllUnread", "plugin", ".js", ".css",
	"alibaba.com", "aplus", "mlog",
}

// allowIndicators are words that show up in real conversation text.
var allowIndicators = []string{
	"thank you", "how is", "tomorrow", "production", "ok", "great",
	"daniel", "monday", "update", "final",
}

// isChrome reports whether text contains a deny-listed indicator.
func isChrome(text string) bool {
	for _, indicator := range denyIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// LooksLikeMessage is the last-resort classifier for free text scraped from
// the page: deny-listed chrome is rejected, conversational words are
// accepted, and otherwise only short plain fragments pass.
func LooksLikeMessage(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 3 {
		return false
	}
	if isChrome(text) {
		return false
	}

	lower := strings.ToLower(text)
	for _, indicator := range allowIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return len([]rune(trimmed)) < 50 && !strings.ContainsAny(text, "<>{}[]")
}
