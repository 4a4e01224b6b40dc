package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/normalize"
)

// memStore is an in-memory Store with the same conflict semantics as db.Store.
type memStore struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	profiles      map[string]*models.Profile // accountID + "/" + username
	conversations []*models.Conversation
	messages      map[string][]*models.Message // conversationID -> messages
}

func newMemStore(accounts ...*models.Account) *memStore {
	s := &memStore{
		accounts: make(map[string]*models.Account),
		profiles: make(map[string]*models.Profile),
		messages: make(map[string][]*models.Message),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memStore) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, db.ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (s *memStore) account(accountID string) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[accountID]
}

func (s *memStore) GetOrCreateProfile(_ context.Context, accountID, username, displayName string, seenAt time.Time) (*models.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "/" + username
	if p, ok := s.profiles[key]; ok {
		out := *p
		return &out, false, nil
	}
	p := &models.Profile{ID: uuid.NewString(), AccountID: accountID, Username: username, DisplayName: displayName, LastSeenAt: &seenAt}
	s.profiles[key] = p
	out := *p
	return &out, true, nil
}

func (s *memStore) GetConversationByCounterpart(_ context.Context, accountID, counterpartKey string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.AccountID == accountID && c.CounterpartKey == counterpartKey {
			out := *c
			return &out, nil
		}
	}
	return nil, db.ErrConversationNotFound
}

func (s *memStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.AccountID == conv.AccountID && c.CounterpartKey == conv.CounterpartKey {
			return db.ErrConversationExists
		}
	}
	conv.ID = uuid.NewString()
	stored := *conv
	s.conversations = append(s.conversations, &stored)
	return nil
}

func (s *memStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == conv.ID {
			if !newer(conv.LastMessageAt, c.LastMessageAt) {
				conv.LastMessageAt = c.LastMessageAt
			}
			*c = *conv
			return nil
		}
	}
	return db.ErrConversationNotFound
}

func (s *memStore) ListConversations(_ context.Context, accountID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Conversation
	for _, c := range s.conversations {
		if c.AccountID == accountID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) MessageExists(_ context.Context, conversationID, identityHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.IdentityHash == identityHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateMessage(_ context.Context, message *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[message.ConversationID] {
		if m.IdentityHash == message.IdentityHash {
			return false, nil
		}
	}
	message.ID = uuid.NewString()
	stored := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &stored)
	return true, nil
}

func (s *memStore) UpdateAccountSession(_ context.Context, accountID string, blob *models.SessionBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return db.ErrAccountNotFound
	}
	a.Session = blob
	return nil
}

func (s *memStore) UpdateAccountSyncState(_ context.Context, accountID string, syncedAt time.Time, syncErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return db.ErrAccountNotFound
	}
	if syncErr != "" {
		a.ErrorCount++
		a.LastError = syncErr
		return nil
	}
	if a.LastSyncAt == nil || syncedAt.After(*a.LastSyncAt) {
		at := syncedAt
		a.LastSyncAt = &at
	}
	a.ErrorCount = 0
	a.LastError = ""
	return nil
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *memStore) messagesFor(counterpartKey string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.CounterpartKey == counterpartKey {
			return append([]*models.Message(nil), s.messages[c.ID]...)
		}
	}
	return nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

// scriptedDriver serves a fixed conversation list and per-counterpart messages.
type scriptedDriver struct {
	mu            sync.Mutex
	authErr       error
	conversations []models.ExtractedConversation
	messages      map[string][]models.ExtractedMessage // counterpart key -> messages
	refs          []models.ConversationRef
	authCalls     int
	closed        bool
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{messages: make(map[string][]models.ExtractedMessage)}
}

func (d *scriptedDriver) addConversation(id, title string, msgs ...models.ExtractedMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations = append(d.conversations, models.ExtractedConversation{
		PlatformID: id,
		Title:      title,
		Index:      len(d.conversations),
	})
	key := normalize.CounterpartKey(title)
	d.messages[key] = append(d.messages[key], msgs...)
}

func (d *scriptedDriver) addMessage(title string, msg models.ExtractedMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize.CounterpartKey(title)
	d.messages[key] = append(d.messages[key], msg)
}

func (d *scriptedDriver) renameConversation(oldID, newID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		if d.conversations[i].PlatformID == oldID {
			d.conversations[i].PlatformID = newID
		}
	}
}

func (d *scriptedDriver) EnsureAuthenticated(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.authErr
}

func (d *scriptedDriver) SessionBlob() *models.SessionBlob {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.authErr != nil {
		return nil
	}
	return &models.SessionBlob{Cookies: []models.Cookie{{Name: "sid", Value: "live"}}}
}

func (d *scriptedDriver) ListConversations(ctx context.Context, _ int) ([]models.ExtractedConversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.ExtractedConversation(nil), d.conversations...), nil
}

func (d *scriptedDriver) ListMessages(ctx context.Context, ref models.ConversationRef, since *time.Time) ([]models.ExtractedMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.refs = append(d.refs, ref)
	var out []models.ExtractedMessage
	for _, m := range d.messages[normalize.CounterpartKey(ref.Title)] {
		if since != nil && m.Timestamp != nil && m.Timestamp.Before(*since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *scriptedDriver) lastRef() models.ConversationRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs[len(d.refs)-1]
}

func (d *scriptedDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func extracted(content string, ts *time.Time, direction models.Direction, sender string) models.ExtractedMessage {
	return models.ExtractedMessage{
		RawText:        content,
		Content:        content,
		SenderLabel:    sender,
		Timestamp:      ts,
		TimestampExact: ts != nil,
		Direction:      direction,
		Identity:       normalize.ComputeIdentity(content, ts, sender),
		Source:         "structural",
	}
}
