package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/config"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/session"
	"github.com/vdavid/chatsync/internal/testutil"
)

var testNow = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

type launcher struct {
	mu       sync.Mutex
	platform *testutil.FakePlatform
	surfaces []*testutil.FakeSurface
	err      error
}

func (l *launcher) launch(_ context.Context, _ string) (browser.Surface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	s := testutil.NewFakeSurface()
	l.platform.Install(s)
	l.surfaces = append(l.surfaces, s)
	return s, nil
}

func (l *launcher) launched() []*testutil.FakeSurface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*testutil.FakeSurface(nil), l.surfaces...)
}

func testConfig(p *testutil.FakePlatform) *config.Config {
	return &config.Config{
		Timezone:               "UTC",
		LoginURL:               p.LoginURL,
		MessagesURL:            p.MessagesURL,
		ProtectedURLPrefix:     p.ProtectedPrefix(),
		NavigationAttempts:     1,
		ChallengeAttempts:      1,
		SessionRefreshInterval: 5 * time.Minute,
		MaxConversations:       10,
	}
}

func testPlatform() *testutil.FakePlatform {
	p := testutil.NewFakePlatform()
	p.SetConversations(testutil.FakeConversation{
		ID: "c-1", Name: "Linda Wu", Preview: "ok thank you", Time: "10:30",
		Messages: []testutil.FakeMessage{
			{Text: "hello, are the samples ready?", Outgoing: true, Time: "2024-03-14 09:15"},
			{Text: "ok thank you", Time: "2024-03-14 09:20"},
		},
	})
	return p
}

func testAccount(p *testutil.FakePlatform) *models.Account {
	return &models.Account{ID: "acc-1", Platform: "fake", Username: p.Username, Password: p.Password}
}

func TestEphemeralDriver(t *testing.T) {
	p := testPlatform()
	l := &launcher{platform: p}
	f := NewFactory(testConfig(p), l.launch, nil, nil, nil, WithClock(func() time.Time { return testNow }))

	d, err := f.NewDriver(context.Background(), testAccount(p))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.EnsureAuthenticated(ctx))
	assert.Equal(t, session.StateAuthenticated, d.State())

	convs, err := d.ListConversations(ctx, 7)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Linda Wu", convs[0].Title)

	msgs, err := d.ListMessages(ctx, convs[0].Ref(), nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.DirectionOutgoing, msgs[0].Direction)
	assert.Equal(t, models.DirectionIncoming, msgs[1].Direction)

	blob := d.SessionBlob()
	require.NotNil(t, blob)
	assert.True(t, blob.HasCookies())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	surfaces := l.launched()
	require.Len(t, surfaces, 1)
	assert.True(t, surfaces[0].Closed())
}

func TestPooledDriverReusesSurfaceAndSession(t *testing.T) {
	p := testPlatform()
	l := &launcher{platform: p}
	pool := browser.NewPool(l.launch, nil)
	t.Cleanup(pool.Close)
	f := NewFactory(testConfig(p), l.launch, pool, nil, nil, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	account := testAccount(p)
	first, err := f.NewDriver(ctx, account)
	require.NoError(t, err)
	require.NoError(t, first.EnsureAuthenticated(ctx))
	account.Session = first.SessionBlob()
	require.NoError(t, first.Close())

	second, err := f.NewDriver(ctx, account)
	require.NoError(t, err)
	require.NoError(t, second.EnsureAuthenticated(ctx))
	require.NoError(t, second.Close())

	surfaces := l.launched()
	require.Len(t, surfaces, 1)
	assert.False(t, surfaces[0].Closed())
	assert.Equal(t, 1, p.Logins())
}

func TestPooledDriverRefusesSecondCheckout(t *testing.T) {
	p := testPlatform()
	l := &launcher{platform: p}
	pool := browser.NewPool(l.launch, nil)
	t.Cleanup(pool.Close)
	f := NewFactory(testConfig(p), l.launch, pool, nil, nil)

	d, err := f.NewDriver(context.Background(), testAccount(p))
	require.NoError(t, err)
	defer d.Close()

	_, err = f.NewDriver(context.Background(), testAccount(p))
	assert.ErrorIs(t, err, browser.ErrSurfaceBusy)
}

func TestDriverRefreshesStaleSession(t *testing.T) {
	p := testPlatform()
	l := &launcher{platform: p}
	now := testNow
	f := NewFactory(testConfig(p), l.launch, nil, nil, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	d, err := f.NewDriver(ctx, testAccount(p))
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.EnsureAuthenticated(ctx))

	// The platform forgets the session; the next read must log in again.
	l.launched()[0].ClearCookies()
	now = now.Add(10 * time.Minute)

	convs, err := d.ListConversations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
	assert.Equal(t, 2, p.Logins())
}

func TestDriverErrors(t *testing.T) {
	t.Run("launch failure", func(t *testing.T) {
		p := testPlatform()
		l := &launcher{platform: p, err: errors.New("no chromium")}
		f := NewFactory(testConfig(p), l.launch, nil, nil, nil)

		_, err := f.NewDriver(context.Background(), testAccount(p))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no chromium")
	})

	t.Run("rejected credentials", func(t *testing.T) {
		p := testPlatform()
		l := &launcher{platform: p}
		f := NewFactory(testConfig(p), l.launch, nil, nil, nil)
		account := testAccount(p)
		account.Password = "wrong"

		d, err := f.NewDriver(context.Background(), account)
		require.NoError(t, err)
		defer d.Close()

		err = d.EnsureAuthenticated(context.Background())
		assert.ErrorIs(t, err, session.ErrCredentialsRejected)
		assert.True(t, session.IsAuthError(err))
	})

	t.Run("closed driver", func(t *testing.T) {
		p := testPlatform()
		l := &launcher{platform: p}
		f := NewFactory(testConfig(p), l.launch, nil, nil, nil)

		d, err := f.NewDriver(context.Background(), testAccount(p))
		require.NoError(t, err)
		require.NoError(t, d.Close())

		_, err = d.ListConversations(context.Background(), 1)
		assert.Error(t, err)
	})
}

func TestLoadLocation(t *testing.T) {
	assert.Equal(t, time.UTC, loadLocation(""))
	assert.Equal(t, time.UTC, loadLocation("Not/AZone"))
	assert.Equal(t, "UTC", loadLocation("UTC").String())
}
