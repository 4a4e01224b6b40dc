package challenge

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/logging"
)

// MailboxConfig describes the mailbox that receives platform verification codes.
type MailboxConfig struct {
	Server   string
	Username string
	Password string
	Folder   string
	UseTLS   bool
	// Platform is matched against sender addresses, for example "alibaba".
	Platform string
}

// Mailbox is a Resolver backed by an IMAP mailbox. Each fetch opens its own
// connection; codes are rare enough that pooling is not worth the state.
type Mailbox struct {
	cfg    MailboxConfig
	logger *zap.Logger
	now    func() time.Time
}

var _ Resolver = (*Mailbox)(nil)

func NewMailbox(cfg MailboxConfig, logger *zap.Logger) *Mailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Mailbox{cfg: cfg, logger: logging.OrNop(logger), now: time.Now}
}

// ConnectToIMAP connects to the IMAP server with a 5-second timeout.
// useTLS: true for production (TLS), false for tests (non-TLS).
func ConnectToIMAP(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// FetchCode searches recent mail for a verification code, newest first.
func (m *Mailbox) FetchCode(ctx context.Context, maxAge time.Duration, deleteAfterUse bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c, err := ConnectToIMAP(m.cfg.Server, m.cfg.UseTLS)
	if err != nil {
		return "", err
	}
	// go-imap v1 has no context support, so cancellation tears the connection down.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}
	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		return "", fmt.Errorf("failed to select folder %s: %w", m.cfg.Folder, err)
	}

	since := m.now().Add(-maxAge)
	uids, err := m.searchCandidates(c, since)
	if err != nil {
		return "", err
	}
	if len(uids) == 0 {
		return "", ErrNoCode
	}

	messages, err := fetchBodies(c, uids)
	if err != nil {
		return "", err
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].InternalDate.Equal(messages[j].InternalDate) {
			return messages[i].InternalDate.After(messages[j].InternalDate)
		}
		return messages[i].Uid > messages[j].Uid
	})

	for _, msg := range messages {
		if msg.InternalDate.Before(since) {
			continue
		}
		from, subject := envelopeSummary(msg.Envelope)
		if !looksLikeCodeMail(m.cfg.Platform, from, subject) {
			continue
		}

		code := m.codeFromMessage(msg)
		if code == "" {
			m.logger.Debug("candidate mail has no code", zap.Uint32("uid", msg.Uid), zap.String("subject", subject))
			continue
		}

		if deleteAfterUse {
			if err := deleteMessage(c, msg.Uid); err != nil {
				m.logger.Warn("failed to delete used verification mail", zap.Uint32("uid", msg.Uid), zap.Error(err))
			}
		}
		return code, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNoCode
}

// searchCandidates unions several narrow searches, since providers differ in
// how they label verification mail.
func (m *Mailbox) searchCandidates(c *client.Client, since time.Time) ([]uint32, error) {
	var criteria []*imap.SearchCriteria
	addHeader := func(key, value string) {
		sc := imap.NewSearchCriteria()
		// SINCE has day granularity; the exact cutoff is applied after fetching.
		sc.Since = since.AddDate(0, 0, -1)
		sc.Header.Add(key, value)
		criteria = append(criteria, sc)
	}
	if m.cfg.Platform != "" {
		addHeader("From", m.cfg.Platform)
	}
	addHeader("From", "noreply")
	addHeader("Subject", "verification")
	addHeader("Subject", "code")
	addHeader("Subject", "security")

	seen := make(map[uint32]bool)
	var uids []uint32
	for _, sc := range criteria {
		found, err := c.UidSearch(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to search mailbox: %w", err)
		}
		for _, uid := range found {
			if !seen[uid] {
				seen[uid] = true
				uids = append(uids, uid)
			}
		}
	}
	return uids, nil
}

func fetchBodies(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return result, nil
}

func (m *Mailbox) codeFromMessage(msg *imap.Message) string {
	var body string
	for _, literal := range msg.Body {
		envelope, err := enmime.ReadEnvelope(literal)
		if err != nil {
			m.logger.Debug("failed to parse verification mail", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		body = envelope.Text
		if strings.TrimSpace(body) == "" {
			body = htmlToText(envelope.HTML)
		}
		break
	}

	if code := ExtractCode(body); code != "" {
		return code
	}
	if msg.Envelope != nil {
		return ExtractCode(msg.Envelope.Subject)
	}
	return ""
}

func deleteMessage(c *client.Client, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag message: %w", err)
	}
	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

func envelopeSummary(envelope *imap.Envelope) (from, subject string) {
	if envelope == nil {
		return "", ""
	}
	addresses := make([]string, 0, len(envelope.From))
	for _, a := range envelope.From {
		addresses = append(addresses, a.PersonalName+" "+a.MailboxName+"@"+a.HostName)
	}
	return strings.Join(addresses, ", "), envelope.Subject
}
