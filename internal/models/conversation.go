package models

import "time"

// Profile is the counterpart (person or company) on the other side of a conversation.
type Profile struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Username       string     `json:"username"`
	DisplayName    string     `json:"display_name"`
	PlatformUserID string     `json:"platform_user_id,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Conversation is a persisted thread, identified by (account, counterpart key).
type Conversation struct {
	ID                     string     `json:"id"`
	AccountID              string     `json:"account_id"`
	ProfileID              string     `json:"profile_id"`
	CounterpartKey         string     `json:"counterpart_key"`
	CounterpartName        string     `json:"counterpart_name"`
	PlatformConversationID string     `json:"platform_conversation_id"`
	LastMessagePreview     string     `json:"last_message_preview,omitempty"`
	LastMessageAt          *time.Time `json:"last_message_at"`
	IsActive               bool       `json:"is_active"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ExtractedConversation is a conversation as read off the page during one pass.
type ExtractedConversation struct {
	PlatformID    string     `json:"platform_id"`
	Synthesized   bool       `json:"synthesized"`
	Title         string     `json:"title"`
	Preview       string     `json:"preview,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Participants  []string   `json:"participants,omitempty"`
	Index         int        `json:"index"`
	RawText       string     `json:"-"`
}

// Ref returns the handle used to reopen this conversation in the same pass.
func (c ExtractedConversation) Ref() ConversationRef {
	return ConversationRef{PlatformID: c.PlatformID, Synthesized: c.Synthesized, Title: c.Title, Index: c.Index}
}

// ConversationRef tells the extractor which conversation to open.
// Index is -1 when the list position is unknown (for example on a later pass).
type ConversationRef struct {
	PlatformID  string
	Synthesized bool
	Title       string
	Index       int
}
