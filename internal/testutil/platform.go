package testutil

import (
	"context"
	"sync"

	"github.com/vdavid/chatsync/internal/models"
)

// FakeSessionCookie is the cookie FakePlatform sets after a successful login.
const FakeSessionCookie = "fake_session"

// FakeMessage is one chat bubble on the fake platform.
type FakeMessage struct {
	Text     string
	Outgoing bool
	Time     string
}

// FakeConversation is one entry in the fake platform's conversation list.
type FakeConversation struct {
	ID       string
	Name     string
	Preview  string
	Time     string
	Messages []FakeMessage
}

// FakePlatform renders a login form, an optional e-mail verification step and
// an inbox with a conversation list and a message pane onto a FakeSurface.
type FakePlatform struct {
	LoginURL     string
	MessagesURL  string
	Username     string
	Password     string
	SessionToken string
	// ChallengeCode, when set, is asked for after correct credentials.
	ChallengeCode string

	mu             sync.Mutex
	conversations  []FakeConversation
	active         string
	logins         int
	submittedCodes []string
}

// NewFakePlatform returns a platform with one known user and no conversations.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		LoginURL:     "https://login.fake.test/newlogin/icbuLogin.htm",
		MessagesURL:  "https://message.fake.test/message/default.htm",
		Username:     "buyer@example.com",
		Password:     "correct-horse",
		SessionToken: "session-token-1",
	}
}

// ProtectedPrefix is the URL prefix of pages that require a session.
func (p *FakePlatform) ProtectedPrefix() string {
	return "https://message.fake.test/"
}

// Install registers the platform's routes on the surface.
func (p *FakePlatform) Install(s *FakeSurface) {
	s.Routes[p.LoginURL] = func(s *FakeSurface, _ string) {
		p.renderLogin(s, "")
	}
	s.Routes[p.MessagesURL] = func(s *FakeSurface, _ string) {
		if !s.HasCookie(FakeSessionCookie, p.SessionToken) {
			p.renderLogin(s, "")
			return
		}
		p.renderMessages(s)
	}
}

// SetConversations replaces the conversation list.
func (p *FakePlatform) SetConversations(convs ...FakeConversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conversations = append([]FakeConversation(nil), convs...)
}

// AddMessage appends a message to the conversation with the given platform id.
func (p *FakePlatform) AddMessage(conversationID string, msg FakeMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.conversations {
		if p.conversations[i].ID == conversationID {
			p.conversations[i].Messages = append(p.conversations[i].Messages, msg)
			p.conversations[i].Preview = msg.Text
			p.conversations[i].Time = msg.Time
		}
	}
}

// RenameConversationID changes a conversation's platform id, as platforms do between sessions.
func (p *FakePlatform) RenameConversationID(oldID, newID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.conversations {
		if p.conversations[i].ID == oldID {
			p.conversations[i].ID = newID
		}
	}
	if p.active == oldID {
		p.active = newID
	}
}

// Logins returns how many times credentials were submitted.
func (p *FakePlatform) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

// SubmittedCodes returns the verification codes typed so far.
func (p *FakePlatform) SubmittedCodes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submittedCodes...)
}

func (p *FakePlatform) renderLogin(s *FakeSurface, errMsg string) {
	user := N("input", "id", "fm-login-id", "name", "account", "type", "text")
	pass := N("input", "id", "fm-login-password", "name", "password", "type", "password")
	submit := N("button", "type", "submit", "class", "fm-button").Text("Sign in")
	submit.Clicked(func() {
		p.submitCredentials(s, user.Typed(), pass.Typed())
	})

	form := N("form", "class", "login-form").With(N("h2").Text("Sign in"), user, pass, submit)
	if errMsg != "" {
		form.With(N("div", "class", "login-error").Text(errMsg))
	}
	s.SetPage(p.LoginURL+"?return_url="+p.MessagesURL, form)
}

func (p *FakePlatform) submitCredentials(s *FakeSurface, username, password string) {
	p.mu.Lock()
	p.logins++
	p.mu.Unlock()

	switch {
	case username != p.Username || password != p.Password:
		p.renderLogin(s, "Your account name or password is incorrect.")
	case p.ChallengeCode != "":
		p.renderChallenge(s, "")
	default:
		p.grant(s)
	}
}

func (p *FakePlatform) renderChallenge(s *FakeSurface, errMsg string) {
	input := N("input", "name", "verify_code", "type", "text")
	submit := N("button", "type", "submit", "class", "verify-btn").Text("Submit")
	submit.Clicked(func() {
		code := input.Typed()
		p.mu.Lock()
		p.submittedCodes = append(p.submittedCodes, code)
		p.mu.Unlock()
		if code == p.ChallengeCode {
			p.grant(s)
			return
		}
		p.renderChallenge(s, "The code you entered is incorrect.")
	})

	box := N("div", "class", "identity-check").With(
		N("p").Text("For your account security, enter the verification code we sent to your email."),
		input,
		submit,
	)
	if errMsg != "" {
		box.With(N("div", "class", "verify-error").Text(errMsg))
	}
	s.SetPage(p.LoginURL+"#identity-check", box)
}

func (p *FakePlatform) grant(s *FakeSurface) {
	ctx := context.Background()
	_ = s.SetCookies(ctx, []models.Cookie{{
		Name:   FakeSessionCookie,
		Value:  p.SessionToken,
		Domain: ".fake.test",
		Path:   "/",
	}})
	_ = s.SetLocalStorage(ctx, map[string]string{"lang": "en_US"})
	p.renderMessages(s)
}

func (p *FakePlatform) renderMessages(s *FakeSurface) {
	p.mu.Lock()
	convs := append([]FakeConversation(nil), p.conversations...)
	active := p.active
	p.mu.Unlock()

	list := N("div", "class", "conversation-list")
	pane := N("div", "class", "chat-pane")
	for _, c := range convs {
		id := c.ID
		item := N("div", "class", "conversation-item", "data-chat-id", c.ID).With(
			N("span", "class", "contact-name").Text(c.Name),
			N("p", "class", "last-message").Text(c.Preview),
			N("span", "class", "time").Text(c.Time),
		)
		item.Clicked(func() {
			p.mu.Lock()
			p.active = id
			p.mu.Unlock()
			p.renderMessages(s)
		})
		list.With(item)

		if c.ID != active {
			continue
		}
		for _, m := range c.Messages {
			side := "received"
			if m.Outgoing {
				side = "sent"
			}
			pane.With(N("div", "class", "message-item "+side).With(
				N("div", "class", "message-content").Text(m.Text),
				N("span", "class", "msg-time").Text(m.Time),
			))
		}
	}

	s.SetPage(p.MessagesURL, N("div", "class", "inbox").With(list, pane))
}
