package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
	"github.com/shineum/bulk-mailer-lite/internal/relay"
	mailtls "github.com/shineum/bulk-mailer-lite/internal/tls"
)

type captureProvider struct {
	mu   sync.Mutex
	msgs []*email.Email
}

func (c *captureProvider) Send(_ context.Context, msg *email.Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureProvider) Name() string { return "capture" }

func (c *captureProvider) messages() []*email.Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*email.Email(nil), c.msgs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRelay runs a capture relay on a loopback port and returns it with its
// host and port.
func startRelay(t *testing.T, cfg relay.Config) (*relay.Server, *captureProvider, string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	capture := &captureProvider{}
	s := relay.New(cfg, capture, discardLogger())
	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()
	t.Cleanup(func() {
		s.Close()
		<-done
	})

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return s, capture, host, port
}

func testMessage(to string) *email.Email {
	return &email.Email{
		From:     "Jane Doe <jane@example.com>",
		To:       []string{to},
		Subject:  "Application for the position of SRE",
		HtmlBody: "<p>Dear Hiring Manager,</p>",
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no username", cfg: Config{Host: "smtp.gmail.com", Password: "x"}},
		{name: "no password", cfg: Config{Host: "smtp.gmail.com", Username: "me@gmail.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, nil)
			require.ErrorIs(t, err, provider.ErrMissingCredentials)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Host: "smtp.gmail.com", Username: "me@gmail.com", Password: "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, SecurityStartTLS, p.cfg.Security)
	require.Equal(t, 587, p.cfg.Port)
	require.Equal(t, defaultTimeout, p.cfg.Timeout)
	require.Equal(t, "smtp.gmail.com", p.cfg.TLSConfig.ServerName)
	require.Equal(t, "smtp", p.Name())

	p, err = New(Config{Host: "smtp.gmail.com", Username: "me@gmail.com", Password: "x", Security: SecurityTLS}, nil)
	require.NoError(t, err)
	require.Equal(t, 465, p.cfg.Port)

	_, err = New(Config{Host: "h", Username: "u", Password: "p", Security: "ssl3"}, nil)
	require.ErrorIs(t, err, ErrUnknownSecurity)
}

func TestSend_PlainDelivers(t *testing.T) {
	t.Parallel()

	s, capture, host, port := startRelay(t, relay.Config{Username: "jane@example.com", Password: "app-password"})

	p, err := New(Config{
		Host:     host,
		Port:     port,
		Username: "jane@example.com",
		Password: "app-password",
		Security: SecurityNone,
		Timeout:  5 * time.Second,
	}, discardLogger())
	require.NoError(t, err)

	msg := testMessage("hr@acme.io")
	msg.Attachments = []email.Attachment{{Filename: "resume.pdf", ContentType: "application/pdf", Content: []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}}}

	require.NoError(t, p.Send(context.Background(), msg))

	got := capture.messages()
	require.Len(t, got, 1)
	require.Equal(t, "jane@example.com", got[0].From)
	require.Equal(t, []string{"hr@acme.io"}, got[0].To)
	require.Equal(t, msg.Subject, got[0].Subject)
	require.Len(t, got[0].Attachments, 1)
	require.Equal(t, msg.Attachments[0].Content, got[0].Attachments[0].Content)
	require.EqualValues(t, 1, s.Sessions())
}

func TestSend_WrongPasswordFails(t *testing.T) {
	t.Parallel()

	_, capture, host, port := startRelay(t, relay.Config{Username: "jane@example.com", Password: "app-password"})

	p, err := New(Config{Host: host, Port: port, Username: "jane@example.com", Password: "nope", Security: SecurityNone}, discardLogger())
	require.NoError(t, err)

	err = p.Send(context.Background(), testMessage("hr@acme.io"))
	require.ErrorContains(t, err, "authentication failed")
	require.Empty(t, capture.messages())
}

func TestSend_RejectedRecipient(t *testing.T) {
	t.Parallel()

	_, capture, host, port := startRelay(t, relay.Config{RejectRecipients: []string{"bounce@acme.io"}})

	p, err := New(Config{Host: host, Port: port, Username: "u@x.io", Password: "p", Security: SecurityNone}, discardLogger())
	require.NoError(t, err)

	require.Error(t, p.Send(context.Background(), testMessage("bounce@acme.io")))
	require.NoError(t, p.Send(context.Background(), testMessage("ok@acme.io")))

	got := capture.messages()
	require.Len(t, got, 1)
	require.Equal(t, []string{"ok@acme.io"}, got[0].To)
}

func TestSend_PerMessageSessions(t *testing.T) {
	t.Parallel()

	s, capture, host, port := startRelay(t, relay.Config{})

	p, err := New(Config{Host: host, Port: port, Username: "u@x.io", Password: "p", Security: SecurityNone}, discardLogger())
	require.NoError(t, err)

	for _, to := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, p.Send(context.Background(), testMessage(to)))
	}

	require.Len(t, capture.messages(), 3)
	require.EqualValues(t, 3, s.Sessions())
	require.NoError(t, p.Close())
}

func TestSend_ReusedSession(t *testing.T) {
	t.Parallel()

	s, capture, host, port := startRelay(t, relay.Config{RejectRecipients: []string{"bounce@x.io"}})

	p, err := New(Config{
		Host: host, Port: port, Username: "u@x.io", Password: "p",
		Security: SecurityNone, ReuseSession: true,
	}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), testMessage("a@x.io")))
	require.NoError(t, p.Send(context.Background(), testMessage("b@x.io")))
	require.EqualValues(t, 1, s.Sessions())

	// A failure drops the session; the next send reconnects.
	require.Error(t, p.Send(context.Background(), testMessage("bounce@x.io")))
	require.NoError(t, p.Send(context.Background(), testMessage("c@x.io")))
	require.EqualValues(t, 2, s.Sessions())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Len(t, capture.messages(), 3)
}

func TestSend_StartTLS(t *testing.T) {
	t.Parallel()

	serverTLS, err := mailtls.ServerConfig("", "")
	require.NoError(t, err)
	pool, err := mailtls.PoolFor(&serverTLS.Certificates[0])
	require.NoError(t, err)

	_, capture, host, port := startRelay(t, relay.Config{TLSConfig: serverTLS})

	clientTLS, err := mailtls.ClientConfig(mailtls.ClientOptions{ServerName: host, RootCAs: pool})
	require.NoError(t, err)

	p, err := New(Config{
		Host: host, Port: port, Username: "u@x.io", Password: "p",
		Security: SecurityStartTLS, TLSConfig: clientTLS,
	}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), testMessage("hr@acme.io")))
	require.Len(t, capture.messages(), 1)
}

func TestSend_StartTLSUnsupported(t *testing.T) {
	t.Parallel()

	_, _, host, port := startRelay(t, relay.Config{})

	p, err := New(Config{Host: host, Port: port, Username: "u@x.io", Password: "p", Security: SecurityStartTLS}, discardLogger())
	require.NoError(t, err)

	require.ErrorContains(t, p.Send(context.Background(), testMessage("hr@acme.io")), "STARTTLS")
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Send(ctx, testMessage("hr@acme.io"))
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSend_ConnectionRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	p, err := New(Config{Host: "127.0.0.1", Port: port, Username: "u", Password: "p", Security: SecurityNone, Timeout: time.Second}, discardLogger())
	require.NoError(t, err)

	require.ErrorContains(t, p.Send(context.Background(), testMessage("hr@acme.io")), "failed to connect")
}

func TestSend_CancelAfterAcceptCountsAsSent(t *testing.T) {
	t.Parallel()

	_, capture, host, port := startRelay(t, relay.Config{})

	p, err := New(Config{
		Host: host, Port: port, Username: "u@x.io", Password: "p",
		Security: SecurityNone, Timeout: 5 * time.Second, ReuseSession: true,
	}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.delivered = cancel

	require.NoError(t, p.Send(ctx, testMessage("hr@acme.io")))
	require.Len(t, capture.messages(), 1)
	require.Nil(t, p.client, "an interrupted session is not kept for reuse")
}
