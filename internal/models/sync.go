package models

// SyncStats counts what one sync cycle did.
type SyncStats struct {
	ConversationsProcessed int `json:"conversations_processed"`
	ConversationsChecked   int `json:"conversations_checked"`
	MessagesAdded          int `json:"messages_added"`
	ConversationsCreated   int `json:"conversations_created"`
	ProfilesCreated        int `json:"profiles_created"`
}

// SyncResult is what SyncInitial and SyncIncremental report to their callers.
type SyncResult struct {
	Success bool       `json:"success"`
	Stats   *SyncStats `json:"stats,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// SyncEvent is pushed to live subscribers after every cycle.
type SyncEvent struct {
	Type      string     `json:"type"`
	AccountID string     `json:"account_id"`
	Mode      string     `json:"mode"`
	Result    SyncResult `json:"result"`
}
