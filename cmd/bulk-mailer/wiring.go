package main

import (
	"context"
	"fmt"

	"github.com/shineum/bulk-mailer-lite/internal/campaign"
	"github.com/shineum/bulk-mailer-lite/internal/config"
	"github.com/shineum/bulk-mailer-lite/internal/metrics"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
	"github.com/shineum/bulk-mailer-lite/internal/provider/graph"
	"github.com/shineum/bulk-mailer-lite/internal/provider/resend"
	"github.com/shineum/bulk-mailer-lite/internal/provider/ses"
	"github.com/shineum/bulk-mailer-lite/internal/provider/smtp"
	"github.com/shineum/bulk-mailer-lite/internal/provider/stdout"
	"github.com/shineum/bulk-mailer-lite/internal/render"
	"github.com/shineum/bulk-mailer-lite/internal/sendlog"
	"github.com/shineum/bulk-mailer-lite/internal/templates"
	mailtls "github.com/shineum/bulk-mailer-lite/internal/tls"
)

// selectProvider builds the delivery backend named by name, falling back to
// the configured PROVIDER. Every provider is instrumented.
func (a *app) selectProvider(ctx context.Context, name string) (provider.Provider, error) {
	cfg := a.cfg
	if name == "" {
		name = cfg.Provider
	}

	var p provider.Provider
	switch name {
	case config.ProviderSMTP:
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("%w: EMAIL_ID and EMAIL_PASSWORD are required", provider.ErrMissingCredentials)
		}
		tlsConfig, err := mailtls.ClientConfig(mailtls.ClientOptions{
			ServerName:         cfg.SMTP.Host,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			CAFile:             cfg.SMTP.CAFile,
		})
		if err != nil {
			return nil, err
		}
		sp, err := smtp.New(smtp.Config{
			Host:         cfg.SMTP.Host,
			Port:         cfg.SMTP.Port,
			Username:     cfg.Sender.Address,
			Password:     cfg.Sender.Password,
			Security:     smtp.Security(cfg.SMTP.TLS),
			TLSConfig:    tlsConfig,
			Timeout:      cfg.SMTP.Timeout,
			ReuseSession: cfg.SMTP.ReuseSession,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"tls", cfg.SMTP.TLS,
			"reuse_session", cfg.SMTP.ReuseSession,
		)
		p = sp

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("%w: SES_REGION and EMAIL_ID are required", provider.ErrMissingCredentials)
		}
		sp, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.Sender.Address,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		a.logger.Info("using AWS SES provider", "region", cfg.SES.Region)
		p = sp

	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("%w: GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and EMAIL_ID are required", provider.ErrMissingCredentials)
		}
		p = graph.New(ctx, graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Sender.Address,
		})
		a.logger.Info("using Microsoft Graph provider", "sender", cfg.Sender.Address)

	case config.ProviderResend:
		rp, err := resend.New(resend.Config{APIKey: cfg.Resend.APIKey, Sender: cfg.Sender.Address})
		if err != nil {
			return nil, fmt.Errorf("%w: RESEND_API_KEY is required", err)
		}
		a.logger.Info("using Resend provider")
		p = rp

	case config.ProviderStdout:
		a.logger.Info("using stdout provider")
		p = stdout.NewWithWriter(a.stdout, false)

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	return metrics.Instrument(p), nil
}

// openLibrary opens the configured template store. The returned function
// releases it.
func (a *app) openLibrary(ctx context.Context) (*templates.Library, func(), error) {
	switch a.cfg.Templates.Backend {
	case config.BackendRedis:
		store, err := templates.OpenRedisStore(ctx, a.cfg.Redis.URL, a.cfg.Templates.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		release := func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("failed to close redis client", "error", err)
			}
		}
		return templates.NewLibrary(store, a.logger), release, nil
	default:
		return templates.NewLibrary(templates.NewFileStore(a.cfg.Templates.Path), a.logger), func() {}, nil
	}
}

// openSendLog opens the configured send log. The returned function releases
// it.
func (a *app) openSendLog(ctx context.Context) (sendlog.Log, func(), error) {
	switch a.cfg.SendLog.Backend {
	case config.BackendPostgres:
		log, err := sendlog.OpenPostgres(ctx, a.cfg.Database.URL, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return log, log.Close, nil
	default:
		return sendlog.NewFileLog(a.cfg.SendLog.Path), func() {}, nil
	}
}

func (a *app) renderer() render.Renderer {
	return render.Renderer{
		Salutation:  a.cfg.Render.Salutation,
		DefaultName: a.cfg.Render.DefaultName,
		TrackingURL: a.cfg.Render.TrackingURL,
	}
}

// newSender builds a campaign sender. A nil provider leaves credential
// reporting to SendAll.
func (a *app) newSender(p provider.Provider, log sendlog.Log, onProgress func(campaign.Progress)) *campaign.Sender {
	from := a.cfg.From()
	if p == nil {
		from = ""
	}
	return campaign.New(p, log, campaign.Options{
		From:       from,
		Renderer:   a.renderer(),
		Delay:      a.cfg.Send.Delay,
		OnProgress: onProgress,
		Logger:     a.logger,
	})
}
