package models

import "time"

// Direction of a message relative to the account owner.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// SenderSelf is the sender label used for messages written by the account owner.
const SenderSelf = "self"

// Message is a persisted message, unique by (conversation, identity hash).
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	IdentityHash      string     `json:"identity_hash"`
	Content           string     `json:"content"`
	SenderLabel       string     `json:"sender_label"`
	Direction         Direction  `json:"direction"`
	IsReply           bool       `json:"is_reply"`
	QuotedContent     *string    `json:"quoted_content,omitempty"`
	PlatformTimestamp *time.Time `json:"platform_timestamp"`
	RawText           string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ExtractedMessage is a message as read off the page during one pass.
// TimestampExact is set only when the platform showed both a date and a time,
// which is the only case where the timestamp is stable across passes.
type ExtractedMessage struct {
	RawText        string
	Content        string
	SenderLabel    string
	Timestamp      *time.Time
	TimestampExact bool
	Direction      Direction
	IsReply        bool
	QuotedContent  *string
	Identity       string
	Source         string
}
