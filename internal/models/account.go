package models

import (
	"time"
)

// Account is a credential set on one messaging platform.
type Account struct {
	ID                string       `json:"id"`
	Platform          string       `json:"platform"`
	Username          string       `json:"username"`
	Password          string       `json:"-"`
	EncryptedPassword []byte       `json:"-"`
	Session           *SessionBlob `json:"-"`
	IsActive          bool         `json:"is_active"`
	LastSyncAt        *time.Time   `json:"last_sync_at"`
	LastError         string       `json:"last_error,omitempty"`
	ErrorCount        int          `json:"error_count"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Cookie is one browser cookie as captured from the automation surface.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// SessionBlob is the persisted authentication state of an account.
// It is opaque to everything except the session manager.
type SessionBlob struct {
	Cookies             []Cookie          `json:"cookies"`
	LocalStorage        map[string]string `json:"local_storage,omitempty"`
	LastAuthenticatedAt *time.Time        `json:"last_authenticated_at,omitempty"`
}

// HasCookies reports whether the blob carries anything worth reusing.
func (b *SessionBlob) HasCookies() bool {
	return b != nil && len(b.Cookies) > 0
}

// AccountStatus is the public view of an account's sync health.
type AccountStatus struct {
	ID                string     `json:"id"`
	Platform          string     `json:"platform"`
	Username          string     `json:"username"`
	IsActive          bool       `json:"is_active"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastError         string     `json:"last_error,omitempty"`
	ErrorCount        int        `json:"error_count"`
	HasSession        bool       `json:"has_session"`
	ConversationCount int        `json:"conversation_count"`
	MessageCount      int        `json:"message_count"`
}
