package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/shineum/bulk-mailer-lite/internal/address"
	"github.com/shineum/bulk-mailer-lite/internal/campaign"
	"github.com/shineum/bulk-mailer-lite/internal/config"
	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
	"github.com/shineum/bulk-mailer-lite/internal/render"
	"github.com/shineum/bulk-mailer-lite/internal/sendlog"
)

func runSend(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "send")
	templateName := fs.String("template", "", "name of a stored template")
	bodyFile := fs.String("body-file", "", "HTML body file used instead of a stored template")
	subject := fs.String("subject", render.DefaultSubject, "subject line, may contain placeholders")
	recipientsFile := fs.String("recipients", "-", `recipient list, one address per line ("-" reads stdin)`)
	position := fs.String("position", "", "value for [Position Title]")
	company := fs.String("company", "", "value for [Company Name]")
	attachmentPath := fs.String("attachment", "", "file attached to every message")
	personalize := fs.Bool("personalize", a.cfg.Render.Personalize, "derive [Recipient Name] from each address")
	providerName := fs.String("provider", "", "override PROVIDER for this run")
	dryRun := fs.Bool("dry-run", false, "print messages instead of sending and skip the send log")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if (*templateName == "") == (*bodyFile == "") {
		return fmt.Errorf("%w: exactly one of -template or -body-file is required", errUsage)
	}

	body, err := a.loadBody(ctx, *templateName, *bodyFile)
	if err != nil {
		return err
	}

	raw, err := readInput(a.stdin, *recipientsFile)
	if err != nil {
		return fmt.Errorf("failed to read recipients: %w", err)
	}
	recipients := address.Parse(string(raw))
	for _, r := range recipients.Rejected {
		fmt.Fprintf(a.stderr, "skipping line %d: %q is not a valid address\n", r.Line, r.Value)
	}

	var attachment *email.Attachment
	if *attachmentPath != "" {
		if attachment, err = readAttachment(*attachmentPath); err != nil {
			return err
		}
	}

	name := *providerName
	if *dryRun {
		name = config.ProviderStdout
	}
	p, err := a.selectProvider(ctx, name)
	if errors.Is(err, provider.ErrMissingCredentials) {
		// reported by the run below, before anything is sent
		p = nil
	} else if err != nil {
		return err
	}

	var log sendlog.Log
	if !*dryRun {
		l, release, err := a.openSendLog(ctx)
		if err != nil {
			return err
		}
		defer release()
		log = l
	}

	sender := a.newSender(p, log, func(pr campaign.Progress) {
		if pr.Err != nil {
			fmt.Fprintf(a.stdout, "[%d/%d] failed %s: %v\n", pr.Index, pr.Total, pr.Recipient, pr.Err)
			return
		}
		fmt.Fprintf(a.stdout, "[%d/%d] sent %s\n", pr.Index, pr.Total, pr.Recipient)
	})

	report, err := sender.SendAll(ctx, campaign.Request{
		Subject:     *subject,
		Body:        body,
		Recipients:  recipients.Accepted,
		Attachment:  attachment,
		Personalize: *personalize,
		Values:      render.Values{Position: *position, Company: *company},
	})
	if report == nil {
		if errors.Is(err, campaign.ErrMissingCredentials) {
			return fmt.Errorf("%w: set EMAIL_ID and the provider credentials", err)
		}
		return err
	}

	fmt.Fprintf(a.stdout, "run %s: sent %d of %d\n", report.RunID, len(report.Sent), report.Attempted)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errPartial, len(report.Failed), report.Attempted)
	}
	return nil
}

// loadBody returns the stored template or the contents of bodyFile.
func (a *app) loadBody(ctx context.Context, templateName, bodyFile string) (string, error) {
	if bodyFile != "" {
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		return string(data), nil
	}

	lib, release, err := a.openLibrary(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return lib.Get(ctx, templateName)
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func readAttachment(path string) (*email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return &email.Attachment{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Content:     content,
	}, nil
}
