package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/challenge"
	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/platform"
	"github.com/vdavid/chatsync/internal/testutil"
)

type noCodeResolver struct {
	mu    sync.Mutex
	calls int
}

func (r *noCodeResolver) FetchCode(context.Context, time.Duration, bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return "", challenge.ErrNoCode
}

// platformHarness runs the reconciler against the fake platform through the
// real session manager and extractor.
type platformHarness struct {
	platform *testutil.FakePlatform
	store    *memStore
	clock    *clock
	r        *Reconciler
}

func newPlatformHarness(t *testing.T, resolver challenge.Resolver) *platformHarness {
	t.Helper()
	p := testutil.NewFakePlatform()
	p.SetConversations(testutil.FakeConversation{
		ID: "c-1", Name: "Linda Wu", Preview: "ok,Daniel", Time: "10:00",
		Messages: []testutil.FakeMessage{
			{Text: "hello, are the samples ready?", Outgoing: true, Time: "2024-03-14 09:50"},
			{Text: "ok,Daniel", Time: "2024-03-14 10:00"},
		},
	})

	cfg := &config.Config{
		SyncMode:               config.ModeEphemeral,
		Timezone:               "UTC",
		LoginURL:               p.LoginURL,
		MessagesURL:            p.MessagesURL,
		ProtectedURLPrefix:     p.ProtectedPrefix(),
		NavigationAttempts:     1,
		ChallengeAttempts:      1,
		ChallengeWindow:        50 * time.Millisecond,
		ChallengePollInterval:  10 * time.Millisecond,
		SessionRefreshInterval: 5 * time.Minute,
		MaxConversations:       10,
	}
	launch := func(context.Context, string) (browser.Surface, error) {
		s := testutil.NewFakeSurface()
		p.Install(s)
		return s, nil
	}

	h := &platformHarness{
		platform: p,
		store:    newMemStore(&models.Account{ID: accountID, Platform: "fake", Username: p.Username, Password: p.Password, IsActive: true}),
		clock:    &clock{now: testNow},
	}
	f := platform.NewFactory(cfg, launch, nil, resolver, nil, platform.WithClock(h.clock.Now))
	h.r = New(h.store, PlatformDrivers(f), cfg.SyncMode, nil, WithClock(h.clock.Now))
	return h
}

func TestPlatformSyncEndToEnd(t *testing.T) {
	h := newPlatformHarness(t, nil)
	ctx := context.Background()

	result := h.r.SyncInitial(ctx, accountID, 7)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Stats.ConversationsCreated)
	assert.Equal(t, 2, result.Stats.MessagesAdded)
	assert.Equal(t, 1, h.platform.Logins())

	msgs := h.store.messagesFor("linda wu")
	require.Len(t, msgs, 2)
	var incoming *models.Message
	for _, m := range msgs {
		if m.Direction == models.DirectionIncoming {
			incoming = m
		}
	}
	require.NotNil(t, incoming)
	assert.Equal(t, "ok,Daniel", incoming.Content)

	// The saved session lets the next browser skip the login form.
	h.clock.Set(testNow.Add(time.Hour))
	h.platform.AddMessage("c-1", testutil.FakeMessage{Text: "see you monday", Time: "2024-03-14 12:30"})

	result = h.r.SyncIncremental(ctx, accountID)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Stats.MessagesAdded)
	assert.Zero(t, result.Stats.ConversationsCreated)
	assert.Equal(t, 1, h.platform.Logins())
	assert.Len(t, h.store.messagesFor("linda wu"), 3)

	// Nothing new, nothing stored.
	h.clock.Set(testNow.Add(2 * time.Hour))
	result = h.r.SyncIncremental(ctx, accountID)
	require.True(t, result.Success, result.Error)
	assert.Zero(t, result.Stats.MessagesAdded)
	assert.Equal(t, 3, h.store.messageCount())
}

func TestPlatformSyncChallengeWithoutCode(t *testing.T) {
	resolver := &noCodeResolver{}
	h := newPlatformHarness(t, resolver)
	h.platform.ChallengeCode = "482913"

	result := h.r.SyncInitial(context.Background(), accountID, 7)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "verification challenge")
	account := h.store.account(accountID)
	assert.Nil(t, account.LastSyncAt)
	assert.Equal(t, 1, account.ErrorCount)
	assert.Zero(t, h.store.conversationCount())
	assert.Empty(t, h.platform.SubmittedCodes())

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Positive(t, resolver.calls)
}
