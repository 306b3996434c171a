package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/bulk-mailer-lite/internal/config"
	"github.com/shineum/bulk-mailer-lite/internal/relay"
	mailtls "github.com/shineum/bulk-mailer-lite/internal/tls"
)

func runRelay(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "relay")
	listen := fs.String("listen", a.cfg.Relay.Listen, "SMTP listen address")
	forward := fs.String("provider", config.ProviderStdout, "provider that receives captured messages")
	noTLS := fs.Bool("no-tls", false, "disable STARTTLS")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	p, err := a.selectProvider(ctx, *forward)
	if err != nil {
		return err
	}

	var tlsConfig *tls.Config
	tlsMode := "disabled"
	if !*noTLS {
		tlsConfig, err = mailtls.ServerConfig(a.cfg.Relay.CertFile, a.cfg.Relay.KeyFile, "localhost", "127.0.0.1")
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		tlsMode = "self-signed"
		if a.cfg.Relay.CertFile != "" && a.cfg.Relay.KeyFile != "" {
			tlsMode = "file"
		}
	}

	srv := relay.New(relay.Config{
		Addr:             *listen,
		Domain:           "localhost",
		Username:         a.cfg.Relay.Username,
		Password:         a.cfg.Relay.Password,
		TLSConfig:        tlsConfig,
		RejectRecipients: a.cfg.Relay.RejectRecipients,
	}, p, a.logger)

	a.logger.Info("starting capture relay",
		"listen", *listen,
		"provider", p.Name(),
		"auth_enabled", a.cfg.Relay.Username != "",
		"tls_mode", tlsMode,
		"rejected_recipients", len(a.cfg.Relay.RejectRecipients),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			return srv.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("capture relay stopped", "sessions", srv.Sessions(), "received", srv.Received())
	return nil
}
