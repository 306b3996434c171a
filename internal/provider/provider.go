// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"errors"

	"github.com/shineum/bulk-mailer-lite/internal/email"
)

// ErrMissingCredentials indicates the sender address or its secret is not
// configured. Constructors return it before any connection is attempted.
var ErrMissingCredentials = errors.New("sender credentials are not configured")

// Provider is the interface that email delivery backends must implement.
// A provider delivers one message per call; callers decide what to do with
// a failure. Providers never retry.
type Provider interface {
	// Send delivers an email message through this provider.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
