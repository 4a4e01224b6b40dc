package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/session"
)

var testNow = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// driverSource hands out drivers and remembers them.
type driverSource struct {
	mu      sync.Mutex
	next    func() *scriptedDriver
	created []*scriptedDriver
	err     error
}

func (s *driverSource) factory(_ context.Context, _ *models.Account) (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	d := s.next()
	s.created = append(s.created, d)
	return d, nil
}

func (s *driverSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type harness struct {
	store   *memStore
	driver  *scriptedDriver
	drivers *driverSource
	clock   *clock
	r       *Reconciler
}

const accountID = "acc-1"

func newHarness(mode config.SyncMode) *harness {
	h := &harness{
		store:  newMemStore(&models.Account{ID: accountID, Platform: "alibaba", Username: "buyer@example.com", IsActive: true}),
		driver: newScriptedDriver(),
		clock:  &clock{now: testNow},
	}
	h.drivers = &driverSource{next: func() *scriptedDriver { return h.driver }}
	h.r = New(h.store, h.drivers.factory, mode, nil, WithClock(h.clock.Now))
	return h
}

func ts(hour, minute int) *time.Time {
	t := time.Date(2024, 3, 14, hour, minute, 0, 0, time.UTC)
	return &t
}

func TestSyncInitialCreatesConversationAndMessage(t *testing.T) {
	h := newHarness(config.ModeEphemeral)
	h.driver.addConversation("c-1", "Linda Wu", extracted("ok,Daniel", ts(10, 0), models.DirectionIncoming, "linda wu"))

	result := h.r.SyncInitial(context.Background(), accountID, 7)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, &models.SyncStats{
		ConversationsProcessed: 1,
		MessagesAdded:          1,
		ConversationsCreated:   1,
		ProfilesCreated:        1,
	}, result.Stats)

	require.Equal(t, 1, h.store.conversationCount())
	conv, err := h.store.GetConversationByCounterpart(context.Background(), accountID, "linda wu")
	require.NoError(t, err)
	assert.Equal(t, "Linda Wu", conv.CounterpartName)
	assert.Equal(t, "c-1", conv.PlatformConversationID)
	assert.Equal(t, "ok,Daniel", conv.LastMessagePreview)

	msgs := h.store.messagesFor("linda wu")
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok,Daniel", msgs[0].Content)
	assert.Equal(t, models.DirectionIncoming, msgs[0].Direction)

	account := h.store.account(accountID)
	require.NotNil(t, account.LastSyncAt)
	assert.Equal(t, testNow, *account.LastSyncAt)
	assert.Zero(t, account.ErrorCount)
	assert.True(t, account.Session.HasCookies())
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu",
		extracted("ok,Daniel", ts(10, 0), models.DirectionIncoming, "linda wu"),
		extracted("ok thank you", nil, models.DirectionIncoming, "linda wu"),
	)
	h.driver.addConversation("c-2", "Kiko Liu", extracted("samples shipped", nil, models.DirectionOutgoing, models.SenderSelf))
	ctx := context.Background()

	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)
	conversations, messages := h.store.conversationCount(), h.store.messageCount()
	assert.Equal(t, 2, conversations)
	assert.Equal(t, 3, messages)

	for i := 0; i < 2; i++ {
		h.clock.Set(testNow.Add(time.Duration(i+1) * 5 * time.Minute))
		result := h.r.SyncIncremental(ctx, accountID)
		require.True(t, result.Success, result.Error)
		assert.Zero(t, result.Stats.MessagesAdded)
		assert.Zero(t, result.Stats.ConversationsCreated)
		assert.Equal(t, 2, result.Stats.ConversationsChecked)
	}

	// Running the initial pass again is just as harmless.
	result := h.r.SyncInitial(ctx, accountID, 7)
	require.True(t, result.Success)
	assert.Zero(t, result.Stats.MessagesAdded)
	assert.Equal(t, conversations, h.store.conversationCount())
	assert.Equal(t, messages, h.store.messageCount())
}

func TestSyncIncrementalPicksUpNewData(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu", extracted("ok,Daniel", ts(10, 0), models.DirectionIncoming, "linda wu"))
	ctx := context.Background()
	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)

	h.clock.Set(testNow.Add(time.Hour))
	h.driver.addMessage("Linda Wu", extracted("see you monday", ts(12, 30), models.DirectionIncoming, "linda wu"))
	h.driver.addConversation("c-2", "Ricky Foksy", extracted("hello, is this still available?", ts(12, 45), models.DirectionIncoming, "ricky foksy"))

	result := h.r.SyncIncremental(ctx, accountID)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, &models.SyncStats{
		ConversationsProcessed: 1,
		ConversationsChecked:   1,
		MessagesAdded:          2,
		ConversationsCreated:   1,
		ProfilesCreated:        1,
	}, result.Stats)
	assert.Len(t, h.store.messagesFor("linda wu"), 2)
	assert.Len(t, h.store.messagesFor("ricky foksy"), 1)

	conv, err := h.store.GetConversationByCounterpart(ctx, accountID, "linda wu")
	require.NoError(t, err)
	assert.Equal(t, ts(12, 30), conv.LastMessageAt)
	assert.Equal(t, "see you monday", conv.LastMessagePreview)

	account := h.store.account(accountID)
	assert.Equal(t, testNow.Add(time.Hour), *account.LastSyncAt)
}

func TestSyncIncrementalUsesLastSyncAsWindow(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu")
	ctx := context.Background()

	// Never synced: the first pass only creates the conversation.
	require.True(t, h.r.SyncIncremental(ctx, accountID).Success)
	h.driver.addMessage("Linda Wu", extracted("too old", ts(10, 0), models.DirectionIncoming, "linda wu"))
	h.driver.addMessage("Linda Wu", extracted("recent", ts(11, 30), models.DirectionIncoming, "linda wu"))

	h.clock.Set(testNow.Add(10 * time.Minute))
	result := h.r.SyncIncremental(ctx, accountID)
	require.True(t, result.Success)

	// The cursor from the first pass (12:00) now bounds the window.
	assert.Zero(t, result.Stats.MessagesAdded)
	assert.Empty(t, h.store.messagesFor("linda wu"))
}

func TestSyncToleratesChangingPlatformIDs(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu", extracted("ok,Daniel", nil, models.DirectionIncoming, "linda wu"))
	ctx := context.Background()
	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)

	h.driver.renameConversation("c-1", "c-77")
	result := h.r.SyncIncremental(ctx, accountID)

	require.True(t, result.Success)
	assert.Zero(t, result.Stats.ConversationsCreated)
	assert.Zero(t, result.Stats.MessagesAdded)
	assert.Equal(t, 1, h.store.conversationCount())
	conv, err := h.store.GetConversationByCounterpart(ctx, accountID, "linda wu")
	require.NoError(t, err)
	assert.Equal(t, "c-77", conv.PlatformConversationID)
	assert.Equal(t, "c-77", h.driver.lastRef().PlatformID)
}

func TestSyncKeepsStoredIDOverSynthesizedOne(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu")
	ctx := context.Background()
	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)

	h.driver.mu.Lock()
	h.driver.conversations[0].PlatformID = "b9d3a0c4-5a9e-5f7e-9a1c-1d2e3f4a5b6c"
	h.driver.conversations[0].Synthesized = true
	h.driver.mu.Unlock()
	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)

	conv, err := h.store.GetConversationByCounterpart(ctx, accountID, "linda wu")
	require.NoError(t, err)
	assert.Equal(t, "c-1", conv.PlatformConversationID)
}

func TestSyncAuthenticationFailure(t *testing.T) {
	h := newHarness(config.ModeLongRunning)
	h.driver.addConversation("c-1", "Linda Wu", extracted("ok,Daniel", nil, models.DirectionIncoming, "linda wu"))
	ctx := context.Background()
	require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)
	before := *h.store.account(accountID).LastSyncAt

	h.clock.Set(testNow.Add(time.Hour))
	h.driver.authErr = &session.AuthError{Kind: session.ErrChallengeTimeout}

	for want := 1; want <= 2; want++ {
		result := h.r.SyncIncremental(ctx, accountID)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "verification challenge")

		account := h.store.account(accountID)
		assert.Equal(t, before, *account.LastSyncAt)
		assert.Equal(t, want, account.ErrorCount)
		assert.Equal(t, result.Error, account.LastError)
	}
	assert.Equal(t, 1, h.store.messageCount())

	// Recovery resets the counters and advances the cursor.
	h.driver.authErr = nil
	result := h.r.SyncIncremental(ctx, accountID)
	require.True(t, result.Success)
	account := h.store.account(accountID)
	assert.Zero(t, account.ErrorCount)
	assert.Empty(t, account.LastError)
	assert.Equal(t, testNow.Add(time.Hour), *account.LastSyncAt)
}

func TestSyncCursorNeverMovesBackward(t *testing.T) {
	h := newHarness(config.ModeEphemeral)
	later := testNow.Add(24 * time.Hour)
	require.NoError(t, h.store.UpdateAccountSyncState(context.Background(), accountID, later, ""))

	require.True(t, h.r.SyncIncremental(context.Background(), accountID).Success)

	assert.Equal(t, later, *h.store.account(accountID).LastSyncAt)
}

func TestSyncSessionModes(t *testing.T) {
	t.Run("long-running keeps one driver", func(t *testing.T) {
		h := newHarness(config.ModeLongRunning)
		ctx := context.Background()

		require.True(t, h.r.SyncInitial(ctx, accountID, 7).Success)
		require.True(t, h.r.SyncIncremental(ctx, accountID).Success)

		assert.Equal(t, 1, h.drivers.count())
		assert.False(t, h.driver.isClosed())

		h.store.accounts[accountID].Session = nil
		require.NoError(t, h.r.Close())
		assert.True(t, h.driver.isClosed())
		assert.True(t, h.store.account(accountID).Session.HasCookies())
	})

	t.Run("long-running drops a driver that failed to authenticate", func(t *testing.T) {
		h := newHarness(config.ModeLongRunning)
		h.driver.authErr = session.ErrCredentialsRejected
		failed := h.driver

		assert.False(t, h.r.SyncIncremental(context.Background(), accountID).Success)
		assert.True(t, failed.isClosed())

		h.driver = newScriptedDriver()
		assert.True(t, h.r.SyncIncremental(context.Background(), accountID).Success)
		assert.Equal(t, 2, h.drivers.count())
	})

	t.Run("ephemeral closes every driver", func(t *testing.T) {
		h := newHarness(config.ModeEphemeral)
		var drivers []*scriptedDriver
		h.drivers.next = func() *scriptedDriver {
			d := newScriptedDriver()
			drivers = append(drivers, d)
			return d
		}

		require.True(t, h.r.SyncInitial(context.Background(), accountID, 7).Success)
		require.True(t, h.r.SyncIncremental(context.Background(), accountID).Success)

		require.Len(t, drivers, 2)
		assert.True(t, drivers[0].isClosed())
		assert.True(t, drivers[1].isClosed())
		require.NoError(t, h.r.Close())
	})
}

func TestSyncFailuresWithoutAuthentication(t *testing.T) {
	t.Run("unknown account", func(t *testing.T) {
		h := newHarness(config.ModeEphemeral)
		result := h.r.SyncInitial(context.Background(), "nope", 7)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
		assert.Zero(t, h.drivers.count())
	})

	t.Run("driver cannot start", func(t *testing.T) {
		h := newHarness(config.ModeEphemeral)
		h.drivers.err = errors.New("chromium not found")

		result := h.r.SyncInitial(context.Background(), accountID, 7)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "chromium not found")
		assert.Equal(t, 1, h.store.account(accountID).ErrorCount)
		assert.Nil(t, h.store.account(accountID).LastSyncAt)
	})

	t.Run("cancelled cycle", func(t *testing.T) {
		h := newHarness(config.ModeEphemeral)
		h.driver.addConversation("c-1", "Linda Wu")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := h.r.SyncInitial(ctx, accountID, 7)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, context.Canceled.Error())
		assert.Nil(t, h.store.account(accountID).LastSyncAt)
		assert.Equal(t, 1, h.store.account(accountID).ErrorCount)
		assert.True(t, h.driver.isClosed())
	})
}

func TestSyncSkipsUntitledConversationsAndEmptyMessages(t *testing.T) {
	h := newHarness(config.ModeEphemeral)
	h.driver.addConversation("c-1", "   ")
	h.driver.addConversation("c-2", "Linda Wu",
		extracted("", nil, models.DirectionIncoming, "linda wu"),
		extracted("ok", nil, models.DirectionIncoming, "linda wu"),
		extracted("ok", nil, models.DirectionIncoming, "linda wu"),
	)

	result := h.r.SyncInitial(context.Background(), accountID, 7)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.ConversationsProcessed)
	assert.Equal(t, 1, result.Stats.MessagesAdded)
	assert.Equal(t, 1, h.store.conversationCount())
}
