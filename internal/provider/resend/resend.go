// Package resend implements a Provider backed by the Resend HTTP API.
package resend

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	APIKey string
	Sender string
}

// Provider sends emails through Resend.
type Provider struct {
	client *resend.Client
	sender string
}

// New creates a Provider. An empty API key is reported as missing credentials.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrMissingCredentials
	}
	return NewWithClient(resend.NewClient(cfg.APIKey), cfg.Sender), nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(client *resend.Client, sender string) *Provider {
	return &Provider{client: client, sender: sender}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send delivers msg with a single API call.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	from := msg.From
	if from == "" {
		from = p.sender
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	}
	if msg.MessageID != "" {
		req.Headers = map[string]string{"Message-ID": "<" + msg.MessageID + ">"}
	}

	for _, att := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    att.Filename,
			Content:     att.Content,
			ContentType: att.MediaType(),
		})
	}

	if _, err := p.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}
