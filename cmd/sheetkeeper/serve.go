// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/gate"
	"github.com/sheetkeeper/sheetkeeper/internal/logging"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/web"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the account and session HTTP server",
		Long: `Start the HTTP server that handles signup, login, logout and
session checks, plus the metrics and health listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.SetDefault(logging.Config{
				Service: "sheetkeeper",
				Version: version,
				Format:  cfg.Log.Format,
				Level:   cfg.Log.Level,
			})
			if err != nil {
				return err //nolint:wrapcheck // already an oops error
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, nil)
		},
	}
}

// runServe serves until ctx is done or a listener fails. When listening is
// non-nil it receives the bound public address.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, listening chan<- string) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	credentials, sessions, err := services(b, cfg, logger)
	if err != nil {
		return err
	}

	var obs *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, b.ready())
		metrics = obs.Metrics()
	}

	gateOpts := gate.Options{
		Validity:        cfg.Session.Validity,
		DisableRotation: !cfg.Session.Rotate,
		Logger:          logger,
	}
	webOpts := web.Options{
		Accounts:      credentials,
		Sessions:      sessions,
		Validity:      cfg.Session.Validity,
		LoginRedirect: cfg.HTTP.LoginRedirect,
		SecureCookies: cfg.HTTP.SecureCookies,
		Logger:        logger,
	}
	if metrics != nil {
		gateOpts.Recorder = metrics
		webOpts.Recorder = metrics
	}
	g, err := gate.New(sessions, gateOpts)
	if err != nil {
		return err //nolint:wrapcheck // already an oops error
	}
	webOpts.Gate = g
	handler, err := web.New(webOpts)
	if err != nil {
		return err //nolint:wrapcheck // already an oops error
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	server := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obs != nil {
		obsErrChan, err := obs.Start()
		if err != nil {
			_ = listener.Close()
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("http server started",
		"addr", listener.Addr().String(),
		"store_backend", cfg.Store.Backend,
		"session_backend", cfg.Session.Backend,
		"rotate", cfg.Session.Rotate,
	)
	if listening != nil {
		listening <- listener.Addr().String()
	}

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
