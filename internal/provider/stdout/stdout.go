// Package stdout implements a dry-run Provider that prints each message
// instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/bulk-mailer-lite/internal/email"
)

const separator = "========================================\n"

// Provider prints a human-readable summary of every message.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
	full   bool
}

// New creates a Provider writing to os.Stdout. With full set the whole HTML
// body is printed, otherwise only a preview.
func New(full bool) *Provider {
	return NewWithWriter(os.Stdout, full)
}

// NewWithWriter creates a Provider writing to w.
func NewWithWriter(w io.Writer, full bool) *Provider {
	return &Provider{writer: w, full: full}
}

// Send prints msg. Write errors are returned.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)

	body := msg.HtmlBody
	if body == "" {
		body = msg.TextBody
	}
	if !p.full {
		body = preview(body, 200)
	}
	b.WriteString("Body:\n")
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s, %s)", att.Filename, att.MediaType(), formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message summary: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// preview shortens s to at most n runes.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
