package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// serve listens on addr and runs until ctx ends
func (app *application) serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return app.serveListener(ctx, ln)
}

// serveListener starts the executor and the HTTP server under one errgroup.
// When ctx ends, or either side fails, the server stops accepting requests
// first and the executor drains afterwards, both bounded by ShutdownTimeout.
func (app *application) serveListener(ctx context.Context, ln net.Listener) error {
	if err := app.executor.Start(); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start chat executor: %w", err)
	}

	// Cancelled on shutdown so open event streams end
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	server := &http.Server{
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: app.config.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := app.shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("executor shutdown failed: %w", err))
		}
		app.logger.Info("server shutdown completed")
		return errors.Join(errs...)
	})

	return g.Wait()
}
