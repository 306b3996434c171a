// Package relay implements a local SMTP capture server. Every accepted
// message is parsed and handed to a provider instead of being forwarded to
// the internet, which makes it a rehearsal target for real send runs.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

// Config holds the relay settings.
type Config struct {
	Addr   string
	Domain string

	// Username and Password, when set, are the only accepted AUTH PLAIN
	// credentials and MAIL FROM requires authentication. When empty any
	// credentials are accepted and AUTH is optional.
	Username string
	Password string

	// TLSConfig enables STARTTLS.
	TLSConfig *tls.Config

	// AllowInsecureAuth permits AUTH before STARTTLS.
	AllowInsecureAuth bool

	// RejectRecipients answers RCPT TO for these addresses with 550.
	RejectRecipients []string

	MaxMessageBytes int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Server is a capture relay.
type Server struct {
	cfg      Config
	srv      *smtp.Server
	provider provider.Provider
	logger   *slog.Logger
	reject   map[string]struct{}

	sessions atomic.Int64
	received atomic.Int64
}

// New creates a relay that delivers every received message to p.
func New(cfg Config, p provider.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 25 * 1024 * 1024
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		provider: p,
		logger:   logger,
		reject:   make(map[string]struct{}, len(cfg.RejectRecipients)),
	}
	for _, addr := range cfg.RejectRecipients {
		s.reject[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}

	srv := smtp.NewServer(s)
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.TLSConfig = cfg.TLSConfig
	srv.AllowInsecureAuth = cfg.AllowInsecureAuth || cfg.TLSConfig == nil
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 100
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	s.srv = srv

	return s
}

// ListenAndServe listens on cfg.Addr and serves until Close.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close. It returns nil after a clean
// shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("capture relay listening",
		"addr", l.Addr().String(),
		"starttls", s.cfg.TLSConfig != nil,
		"provider", s.provider.Name(),
	)
	err := s.srv.Serve(l)
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for open sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Sessions returns the number of SMTP sessions opened so far.
func (s *Server) Sessions() int64 {
	return s.sessions.Load()
}

// Received returns the number of messages handed to the provider.
func (s *Server) Received() int64 {
	return s.received.Load()
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(c *smtp.Conn) (smtp.Session, error) {
	s.sessions.Add(1)
	remote := ""
	if conn := c.Conn(); conn != nil {
		remote = conn.RemoteAddr().String()
	}
	s.logger.Debug("relay session opened", "remote", remote)
	return &session{server: s, remote: remote}, nil
}

// session captures one SMTP conversation.
type session struct {
	server *Server
	remote string

	mu     sync.Mutex
	authed bool
	from   string
	to     []string
}

var (
	_ smtp.Session     = (*session)(nil)
	_ smtp.AuthSession = (*session)(nil)
)

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		cfg := s.server.cfg
		if cfg.Username != "" && (username != cfg.Username || password != cfg.Password) {
			s.server.logger.Warn("relay authentication failed", "remote", s.remote, "username", username)
			return smtp.ErrAuthFailed
		}
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server.cfg.Username != "" && !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if _, ok := s.server.reject[strings.ToLower(to)]; ok {
		s.server.logger.Info("relay rejected recipient", "recipient", to)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox unavailable",
		}
	}

	s.mu.Lock()
	s.to = append(s.to, to)
	s.mu.Unlock()
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := email.Parse(raw)
	if err != nil {
		s.server.logger.Warn("relay received unparseable message", "remote", s.remote, "error", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}

	s.mu.Lock()
	if s.from != "" {
		msg.From = s.from
	}
	// The envelope is authoritative for who receives the message.
	msg.To = append([]string(nil), s.to...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.server.cfg.WriteTimeout)
	defer cancel()

	if err := s.server.provider.Send(ctx, msg); err != nil {
		s.server.logger.Error("relay provider failed", "provider", s.server.provider.Name(), "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary delivery failure",
		}
	}

	s.server.received.Add(1)
	s.server.logger.Info("relay captured message",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.from = ""
	s.to = nil
	s.mu.Unlock()
}

func (s *session) Logout() error {
	return nil
}
