// Package campaign sends one rendered message per recipient and records the
// recipients that were delivered.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/bulk-mailer-lite/internal/address"
	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/metrics"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
	"github.com/shineum/bulk-mailer-lite/internal/render"
	"github.com/shineum/bulk-mailer-lite/internal/sendlog"
)

var (
	// ErrMissingCredentials is returned before anything is sent when no
	// sender is configured.
	ErrMissingCredentials = provider.ErrMissingCredentials

	// ErrTransport wraps every per-recipient delivery failure.
	ErrTransport = errors.New("transport failure")

	// ErrStorageWrite is returned when delivered recipients could not be
	// recorded. The report is still complete.
	ErrStorageWrite = sendlog.ErrStorageWrite

	// ErrNoRecipients is returned when the request has no recipients.
	ErrNoRecipients = errors.New("no valid recipients")
)

// Request describes one send run.
type Request struct {
	Subject     string
	Body        string
	Recipients  []string
	Attachment  *email.Attachment
	Values      render.Values
	Personalize bool
}

// Failure is a recipient the provider did not accept.
type Failure struct {
	Recipient string
	Err       error
}

// Report is the outcome of a run. Sent and Failed keep input order.
type Report struct {
	RunID      string
	Attempted  int
	Sent       []string
	Failed     []Failure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Progress is reported after every recipient.
type Progress struct {
	Index     int
	Total     int
	Recipient string
	Err       error
}

// Options configure a Sender.
type Options struct {
	// From is the sender mailbox, optionally with a display name.
	From string

	Renderer render.Renderer

	// Delay is waited between two consecutive recipients.
	Delay time.Duration

	// OnProgress is called after every recipient. May be nil.
	OnProgress func(Progress)

	Logger *slog.Logger
}

// Sender runs sequential send loops over a provider.
type Sender struct {
	provider   provider.Provider
	log        sendlog.Log
	from       string
	renderer   render.Renderer
	delay      time.Duration
	onProgress func(Progress)
	logger     *slog.Logger
}

// New creates a Sender. log may be nil, in which case nothing is recorded.
func New(p provider.Provider, log sendlog.Log, opts Options) *Sender {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		provider:   p,
		log:        log,
		from:       opts.From,
		renderer:   opts.Renderer,
		delay:      opts.Delay,
		onProgress: opts.OnProgress,
		logger:     logger,
	}
}

// Ready reports ErrMissingCredentials when no run can start.
func (s *Sender) Ready() error {
	if s.from == "" || s.provider == nil {
		return ErrMissingCredentials
	}
	return nil
}

// SendAll delivers req to every recipient in order. Per-recipient failures
// are recorded in the report and never stop the loop. If the provider holds
// a session it is closed when the run ends.
func (s *Sender) SendAll(ctx context.Context, req Request) (*Report, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if c, ok := s.provider.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				s.logger.Warn("failed to close provider session", "provider", s.provider.Name(), "error", err)
			}
		}()
	}

	metrics.RunsTotal.Inc()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With("run_id", report.RunID, "provider", s.provider.Name())
	logger.Info("send run started", "recipients", len(req.Recipients), "attachment", req.Attachment != nil)

	for i, recipient := range req.Recipients {
		if i > 0 {
			s.wait(ctx)
		}

		err := s.sendOne(ctx, req, recipient)
		report.Attempted++
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
			report.Failed = append(report.Failed, Failure{Recipient: recipient, Err: err})
			logger.Error("failed to send", "recipient", recipient, "error", err)
		} else {
			report.Sent = append(report.Sent, recipient)
			logger.Info("sent", "recipient", recipient)
		}

		if s.onProgress != nil {
			s.onProgress(Progress{Index: i + 1, Total: len(req.Recipients), Recipient: recipient, Err: err})
		}
	}
	report.FinishedAt = time.Now().UTC()

	logger.Info("send run finished", "sent", len(report.Sent), "failed", len(report.Failed))

	if s.log == nil || len(report.Sent) == 0 {
		return report, nil
	}
	// recorded even when ctx is done, the messages already left
	if err := s.log.Append(context.WithoutCancel(ctx), report.RunID, report.Sent); err != nil {
		logger.Error("failed to record sent recipients", "error", err)
		if !errors.Is(err, ErrStorageWrite) {
			err = fmt.Errorf("%w: %w", ErrStorageWrite, err)
		}
		return report, err
	}
	return report, nil
}

func (s *Sender) sendOne(ctx context.Context, req Request, recipient string) error {
	values := req.Values
	values.RecipientEmail = recipient
	if req.Personalize && values.RecipientName == "" {
		values.RecipientName = address.NameFromAddress(recipient)
	}

	subject := req.Subject
	if subject == "" {
		subject = render.DefaultSubject
	}

	msg := &email.Email{
		From:     s.from,
		To:       []string{recipient},
		Subject:  s.renderer.RenderSubject(subject, values),
		HtmlBody: s.renderer.Render(req.Body, values),
	}
	if req.Attachment != nil {
		msg.Attachments = []email.Attachment{*req.Attachment}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.provider.Send(ctx, msg)
}

// wait sleeps for the configured delay, returning early when ctx is done.
func (s *Sender) wait(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
