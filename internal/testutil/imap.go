package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server for mailbox tests.
// The memory backend has a single user "username" with password "password".
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
}

// NewTestIMAPServer starts a server on a random local port and stops it when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		// Serve returns an error once Close is called.
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}
}

// Username returns the backend's only user.
func (s *TestIMAPServer) Username() string { return "username" }

// Password returns the backend's only password.
func (s *TestIMAPServer) Password() string { return "password" }

// Connect opens an authenticated client connection.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	if err := client.Login(s.Username(), s.Password()); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}
	return client, func() { _ = client.Logout() }
}

// TestMail is a message appended by AddMail.
type TestMail struct {
	From    string
	Subject string
	Body    string
	// HTML marks Body as text/html.
	HTML       bool
	ReceivedAt time.Time
}

// AddMail appends mail to folder and returns its UID.
func (s *TestIMAPServer) AddMail(t *testing.T, folder string, mail TestMail) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folder, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	contentType := "text/plain"
	if mail.HTML {
		contentType = "text/html"
	}
	messageID := fmt.Sprintf("<%d.%d@test.local>", mail.ReceivedAt.UnixNano(), time.Now().UnixNano())
	raw := strings.Join([]string{
		"Message-ID: " + messageID,
		"Date: " + mail.ReceivedAt.Format(time.RFC1123Z),
		"From: " + mail.From,
		"To: buyer@example.com",
		"Subject: " + mail.Subject,
		"MIME-Version: 1.0",
		"Content-Type: " + contentType + "; charset=utf-8",
		"",
		mail.Body,
		"",
	}, "\r\n")

	if err := client.Append(folder, nil, mail.ReceivedAt, strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}
	return uids[0]
}

// UIDs lists the UIDs currently in folder.
func (s *TestIMAPServer) UIDs(t *testing.T, folder string) []uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(folder, true); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	uids, err := client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	return uids
}
