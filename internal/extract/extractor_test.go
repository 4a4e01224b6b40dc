package extract

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/normalize"
	"github.com/vdavid/chatsync/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

// loggedIn returns a surface that already holds a session for the fake platform.
func loggedIn(t *testing.T, p *testutil.FakePlatform) *testutil.FakeSurface {
	t.Helper()
	s := testutil.NewFakeSurface()
	p.Install(s)
	require.NoError(t, s.SetCookies(context.Background(), []models.Cookie{{Name: testutil.FakeSessionCookie, Value: p.SessionToken}}))
	return s
}

func newExtractor(s *testutil.FakeSurface, messagesURL string, cfg Config) *Extractor {
	cfg.MessagesURL = messagesURL
	return New(s, cfg, nil, WithClock(func() time.Time { return testNow }))
}

func samplePlatform() *testutil.FakePlatform {
	p := testutil.NewFakePlatform()
	p.SetConversations(
		testutil.FakeConversation{
			ID: "c-1", Name: "Linda Wu", Preview: "ok thank you", Time: "10:30",
			Messages: []testutil.FakeMessage{
				{Text: "hello, are the samples ready?", Outgoing: true, Time: "2024-03-14 09:15"},
				{Text: "ok thank you", Time: "2024-03-14 09:20"},
			},
		},
		testutil.FakeConversation{
			ID: "c-2", Name: "Kiko Liu Trading Co., Ltd", Preview: "Order shipped tomorrow morning", Time: "yesterday",
			Messages: []testutil.FakeMessage{
				{Text: "shipping on Monday", Time: "2024-03-13 16:00"},
			},
		},
		testutil.FakeConversation{
			ID: "c-3", Name: "Old Contact", Preview: "see you next year", Time: "2023-01-05",
		},
	)
	return p
}

func TestListConversations(t *testing.T) {
	p := samplePlatform()
	s := loggedIn(t, p)
	e := newExtractor(s, p.MessagesURL, Config{MaxConversations: 10})

	got, err := e.ListConversations(context.Background(), 7)
	require.NoError(t, err)

	want := []models.ExtractedConversation{
		{
			PlatformID:    "c-1",
			Title:         "Linda Wu",
			Preview:       "ok thank you",
			LastMessageAt: ptr(time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC)),
			Participants:  []string{"Linda Wu"},
			Index:         0,
		},
		{
			PlatformID:    "c-2",
			Title:         "Kiko Liu Trading",
			Preview:       "Order shipped tomorrow morning",
			LastMessageAt: ptr(time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)),
			Participants:  []string{"Kiko Liu Trading"},
			Index:         1,
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.ExtractedConversation{}, "RawText")); diff != "" {
		t.Errorf("ListConversations() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{p.MessagesURL}, s.Navigations())
}

func TestListConversationsHonoursLimitAndAge(t *testing.T) {
	p := samplePlatform()

	t.Run("limit", func(t *testing.T) {
		e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{MaxConversations: 1})
		got, err := e.ListConversations(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Linda Wu", got[0].Title)
	})

	t.Run("no age limit keeps old conversations", func(t *testing.T) {
		e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})
		got, err := e.ListConversations(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
}

func TestListConversationsPlatformIDs(t *testing.T) {
	const url = "https://message.fake.test/message/default.htm"
	list := func() *testutil.Node {
		return testutil.N("div", "class", "inbox").With(
			testutil.N("div", "onclick", `openChat({"id":"77"})`).With(testutil.N("strong").Text("Ricky Foksy")),
			testutil.N("div", "data-chat-id", "").With(testutil.N("h4").Text("Linda Wu")),
		)
	}

	s := testutil.NewFakeSurface()
	s.SetPage(url, list())
	e := newExtractor(s, url, Config{})

	first, err := e.ListConversations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	assert.Equal(t, "77", first[0].PlatformID)
	assert.False(t, first[0].Synthesized)

	assert.Equal(t, "Linda Wu", first[1].Title)
	assert.True(t, first[1].Synthesized)
	assert.NotEmpty(t, first[1].PlatformID)

	s.SetPage(url, list())
	second, err := e.ListConversations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[1].PlatformID, second[1].PlatformID)
}

func TestListMessagesStructural(t *testing.T) {
	p := samplePlatform()
	s := loggedIn(t, p)
	e := newExtractor(s, p.MessagesURL, Config{})
	ref := models.ConversationRef{PlatformID: "c-1", Title: "Linda Wu", Index: 0}

	got, err := e.ListMessages(context.Background(), ref, nil)
	require.NoError(t, err)

	sentAt := time.Date(2024, 3, 14, 9, 15, 0, 0, time.UTC)
	receivedAt := time.Date(2024, 3, 14, 9, 20, 0, 0, time.UTC)
	want := []models.ExtractedMessage{
		{
			Content:        "hello, are the samples ready?",
			SenderLabel:    models.SenderSelf,
			Timestamp:      &sentAt,
			TimestampExact: true,
			Direction:      models.DirectionOutgoing,
			Identity:       normalize.ComputeIdentity("hello, are the samples ready?", &sentAt, models.SenderSelf),
			Source:         "structural",
		},
		{
			Content:        "ok thank you",
			SenderLabel:    "linda wu",
			Timestamp:      &receivedAt,
			TimestampExact: true,
			Direction:      models.DirectionIncoming,
			Identity:       normalize.ComputeIdentity("ok thank you", &receivedAt, "linda wu"),
			Source:         "structural",
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.ExtractedMessage{}, "RawText")); diff != "" {
		t.Errorf("ListMessages() mismatch (-want +got):\n%s", diff)
	}
}

func TestListMessagesSince(t *testing.T) {
	p := samplePlatform()
	e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})

	since := time.Date(2024, 3, 14, 9, 18, 0, 0, time.UTC)
	got, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "c-1", Title: "Linda Wu"}, &since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok thank you", got[0].Content)
}

func TestListMessagesSinceKeepsCursorMinute(t *testing.T) {
	p := samplePlatform()
	e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})

	// The message shows 09:20 but arrived after a cycle that started at 09:20:30.
	since := time.Date(2024, 3, 14, 9, 20, 30, 0, time.UTC)
	got, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "c-1", Title: "Linda Wu"}, &since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok thank you", got[0].Content)
}

func TestListMessagesStructuralKeepsOrderTalk(t *testing.T) {
	p := testutil.NewFakePlatform()
	p.SetConversations(testutil.FakeConversation{
		ID: "c-1", Name: "Linda Wu", Preview: "ok thank you", Time: "10:30",
		Messages: []testutil.FakeMessage{
			{Text: "Order 4411 ships tomorrow, total 120 USD", Time: "2024-03-14 09:15"},
			{Text: "ok thank you", Outgoing: true, Time: "2024-03-14 09:20"},
		},
	})
	e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})

	got, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "c-1", Title: "Linda Wu"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Order 4411 ships tomorrow, total 120 USD", got[0].Content)
	assert.Equal(t, "structural", got[0].Source)
	assert.Equal(t, "ok thank you", got[1].Content)
}

func TestListMessagesOpensConversation(t *testing.T) {
	tests := []struct {
		name string
		ref  models.ConversationRef
		want string
	}{
		{name: "by platform id", ref: models.ConversationRef{PlatformID: "c-2", Index: -1}, want: "shipping on Monday"},
		{name: "by title when id is synthesized", ref: models.ConversationRef{PlatformID: "f00", Synthesized: true, Title: "kiko liu  trading", Index: -1}, want: "shipping on Monday"},
		{name: "by index", ref: models.ConversationRef{PlatformID: "gone", Title: "Someone Else", Index: 1}, want: "shipping on Monday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePlatform()
			e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})

			got, err := e.ListMessages(context.Background(), tt.ref, nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Content)
		})
	}
}

func TestListMessagesFallsThroughToFullText(t *testing.T) {
	const url = "https://message.fake.test/message/default.htm"
	s := testutil.NewFakeSurface()
	s.SetPage(url, testutil.N("div", "class", "app").With(
		testutil.N("div", "class", "conversation-item", "data-chat-id", "c-9").With(testutil.N("strong").Text("Linda Wu")),
		testutil.N("div", "class", "thread").With(
			testutil.N("div", "class", "row").With(testutil.N("div", "class", "bubble-text").Text("how is production going?")),
			testutil.N("div", "class", "row").With(testutil.N("span").Text("Daniel Allen: tomorrow on Monday will be give you final update")),
			testutil.N("div", "class", "toolbar").With(testutil.N("span").Text("Rate supplier")),
			testutil.N("p").Text("USD 1200.00"),
		),
	))
	e := newExtractor(s, url, Config{SelfNames: []string{"Daniel Allen"}})

	got, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "c-9", Title: "Linda Wu"}, nil)
	require.NoError(t, err)

	want := []models.ExtractedMessage{
		{
			Content:     "how is production going?",
			SenderLabel: "linda wu",
			Direction:   models.DirectionIncoming,
			Identity:    normalize.ComputeIdentity("how is production going?", nil, "linda wu"),
			Source:      "fulltext",
		},
		{
			Content:     "tomorrow on Monday will be give you final update",
			SenderLabel: models.SenderSelf,
			Direction:   models.DirectionOutgoing,
			Identity:    normalize.ComputeIdentity("tomorrow on Monday will be give you final update", nil, models.SenderSelf),
			Source:      "fulltext",
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.ExtractedMessage{}, "RawText")); diff != "" {
		t.Errorf("ListMessages() mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, s.Queries(), timestampSelector)
	assert.Contains(t, s.Queries(), "div, span, p")
}

func TestListMessagesEmbeddedRecords(t *testing.T) {
	const url = "https://message.fake.test/message/default.htm"
	s := testutil.NewFakeSurface()
	s.SetPage(url, testutil.N("div", "class", "conversation-item", "data-chat-id", "c-9").With(testutil.N("strong").Text("Linda Wu")))
	s.SetContent(`<script>window.__msgs=[{"content":"final price is ok","sendTime":1710406800000,"fromSelf":false}]</script>`)
	e := newExtractor(s, url, Config{})

	got, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "c-9", Title: "Linda Wu"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	at := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "final price is ok", got[0].Content)
	assert.Equal(t, "embedded", got[0].Source)
	assert.True(t, got[0].TimestampExact)
	assert.True(t, at.Equal(*got[0].Timestamp))
	assert.Equal(t, normalize.ComputeIdentity("final price is ok", &at, "linda wu"), got[0].Identity)
}

func TestExtractionDegradesWithoutError(t *testing.T) {
	const url = "https://message.fake.test/message/default.htm"

	t.Run("empty page", func(t *testing.T) {
		s := testutil.NewFakeSurface()
		s.SetPage(url, testutil.N("div"))
		e := newExtractor(s, url, Config{ScreenshotDir: "/tmp/shots"})

		convs, err := e.ListConversations(context.Background(), 7)
		require.NoError(t, err)
		assert.Empty(t, convs)
		assert.Len(t, s.Screenshots(), 1)
	})

	t.Run("conversation not found", func(t *testing.T) {
		p := samplePlatform()
		s := loggedIn(t, p)
		e := newExtractor(s, p.MessagesURL, Config{ScreenshotDir: "/tmp/shots"})

		msgs, err := e.ListMessages(context.Background(), models.ConversationRef{PlatformID: "nope", Title: "Nobody Here", Index: -1}, nil)
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Len(t, s.Screenshots(), 1)
	})

	t.Run("cancellation is reported", func(t *testing.T) {
		p := samplePlatform()
		e := newExtractor(loggedIn(t, p), p.MessagesURL, Config{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.ListConversations(ctx, 7)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
