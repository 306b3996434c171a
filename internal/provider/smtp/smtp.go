// Package smtp implements a Provider that delivers messages to an SMTP
// submission server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

// Security selects how the connection is protected.
type Security string

const (
	// SecurityStartTLS upgrades a plain connection with STARTTLS (port 587).
	SecurityStartTLS Security = "starttls"
	// SecurityTLS dials with implicit TLS (port 465).
	SecurityTLS Security = "tls"
	// SecurityNone sends in clear text. Only for local relays.
	SecurityNone Security = "none"
)

const defaultTimeout = 30 * time.Second

// ErrUnknownSecurity indicates an unsupported Security value.
var ErrUnknownSecurity = errors.New("unknown SMTP security mode")

// Config holds the configuration for creating a Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security Security

	// TLSConfig is used for implicit TLS and STARTTLS. When nil a default
	// config with ServerName set to Host is used.
	TLSConfig *tls.Config

	// Timeout bounds dialing and each SMTP command.
	Timeout time.Duration

	// ReuseSession keeps one authenticated session open across sends.
	// The session is dropped after any failure and released by Close.
	ReuseSession bool

	// LocalName is sent with EHLO. Defaults to "localhost".
	LocalName string
}

// Provider sends messages over SMTP with AUTH PLAIN.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *gosmtp.Client

	// delivered runs between an accepted DATA and the cancellation check.
	delivered func()
}

// New validates cfg and returns a Provider. No connection is made until the
// first Send.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, provider.ErrMissingCredentials
	}
	if cfg.Host == "" {
		return nil, errors.New("SMTP host must not be empty")
	}

	switch cfg.Security {
	case "":
		cfg.Security = SecurityStartTLS
	case SecurityStartTLS, SecurityTLS, SecurityNone:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSecurity, cfg.Security)
	}

	if cfg.Port == 0 {
		cfg.Port = 587
		if cfg.Security == SecurityTLS {
			cfg.Port = 465
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{cfg: cfg, logger: logger}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Send composes msg and delivers it: connect, STARTTLS, AUTH, MAIL, RCPT,
// DATA and QUIT unless the session is reused.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := email.Compose(msg)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender address %q: %w", msg.From, err)
	}
	rcpts := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		addr, err := mail.ParseAddress(to)
		if err != nil {
			return fmt.Errorf("invalid recipient address %q: %w", to, err)
		}
		rcpts = append(rcpts, addr.Address)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.session(ctx)
	if err != nil {
		return err
	}

	// Tear the connection down if ctx ends mid-transaction. Once DATA is
	// accepted the message counts as sent, whatever ctx does afterwards.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	err = deliver(c, from.Address, rcpts, raw)
	if err == nil && p.delivered != nil {
		p.delivered()
	}
	interrupted := !stop()

	if err != nil {
		c.Close()
		p.client = nil
		return fmt.Errorf("smtp delivery to %v failed: %w", rcpts, err)
	}

	if interrupted {
		p.client = nil
		return nil
	}
	if p.cfg.ReuseSession {
		p.client = c
		return nil
	}

	if err := c.Quit(); err != nil {
		p.logger.Debug("smtp quit failed", "error", err)
		c.Close()
	}
	return nil
}

// Close quits a reused session, if any.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	c := p.client
	p.client = nil

	if err := c.Quit(); err != nil {
		c.Close()
		return fmt.Errorf("failed to close smtp session: %w", err)
	}
	return nil
}

// session returns the reusable client if it still answers NOOP, otherwise a
// freshly connected and authenticated one. The caller must hold p.mu.
func (p *Provider) session(ctx context.Context) (*gosmtp.Client, error) {
	if p.client != nil {
		if err := p.client.Noop(); err == nil {
			return p.client, nil
		}
		p.logger.Debug("reused smtp session is stale, reconnecting")
		p.client.Close()
		p.client = nil
	}
	return p.dial(ctx)
}

func (p *Provider) dial(ctx context.Context) (*gosmtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))

	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if p.cfg.Security == SecurityTLS {
		tlsConn := tls.Client(conn, p.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
		}
		conn = tlsConn
	}

	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	var c *gosmtp.Client
	if p.cfg.Security == SecurityStartTLS {
		// NewClientStartTLS greets, checks the extension and upgrades.
		c, err = gosmtp.NewClientStartTLS(conn, p.cfg.TLSConfig)
		if err != nil {
			conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("STARTTLS with %s failed: %w", addr, err)
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	c.CommandTimeout = p.cfg.Timeout
	c.SubmissionTimeout = p.cfg.Timeout

	localName := p.cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}
	// After STARTTLS the session is reset, so this is the post-upgrade EHLO.
	if err := c.Hello(localName); err != nil {
		c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("EHLO failed: %w", err)
	}

	auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
	if err := c.Auth(auth); err != nil {
		c.Close()
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	p.logger.Debug("smtp session established", "addr", addr, "security", string(p.cfg.Security))
	return c, nil
}

func deliver(c *gosmtp.Client, from string, rcpts []string, raw []byte) error {
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return nil
}
