package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/bulk-mailer-lite/internal/api"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "serve")
	listen := fs.String("listen", a.cfg.HTTP.Listen, "HTTP listen address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	p, err := a.selectProvider(ctx, "")
	if errors.Is(err, provider.ErrMissingCredentials) {
		// the API answers POST /send with 503 until credentials exist
		a.logger.Warn("sending disabled", "error", err)
		p = nil
	} else if err != nil {
		return err
	}

	lib, releaseLib, err := a.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer releaseLib()

	log, releaseLog, err := a.openSendLog(ctx)
	if err != nil {
		return err
	}
	defer releaseLog()

	handler := api.New(api.Config{
		Library: lib,
		Sender:  a.newSender(p, log, nil),
		Log:     log,
		Logger:  a.logger,
	}).Handler()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting bulk-mailer API", "listen", *listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("bulk-mailer API stopped")
	return nil
}
