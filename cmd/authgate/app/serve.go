// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/pkg/config"
	"github.com/authgate/authgate/pkg/engine"
	"github.com/authgate/authgate/pkg/idp"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/server"
	"github.com/authgate/authgate/pkg/session"
	"github.com/authgate/authgate/pkg/store"
)

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 20 * time.Second // Must exceed the decision timeout
	serverIdleTimeout      = 60 * time.Second
	startupTimeout         = 10 * time.Second // Redis connectivity check at boot
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the decision endpoint",
		Long: `Start the HTTP server that answers the reverse proxy's authorization
sub-requests. Configuration is read from the environment; see the
project README for the full list of keys.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	startupCtx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	defer cancel()

	kvs, err := store.NewRedisStore(startupCtx, cfg.RedisURL, cfg.AllowedTTL, cfg.ForbiddenTTL,
		store.WithLogger(logger.Get()))
	if err != nil {
		return fmt.Errorf("failed to connect to session store: %w", err)
	}
	defer func() {
		if err := kvs.Close(); err != nil {
			logger.Warnf("Failed to close session store: %v", err)
		}
	}()

	idpClient, err := idp.NewClient(
		cfg.ClientID, cfg.ClientSecret,
		cfg.AuthURL, cfg.TokenURL, cfg.UserinfoURL,
		idp.WithClientLogger(logger.Get()),
	)
	if err != nil {
		return fmt.Errorf("failed to create IdP client: %w", err)
	}

	sessions := session.NewManager(kvs, idpClient, session.WithLogger(logger.Get()))
	decisions := engine.New(kvs, sessions, idpClient, cfg.CallbackPath, engine.WithLogger(logger.Get()))
	srv := server.New(decisions, kvs, server.WithLogger(logger.Get()))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("decision endpoint listening",
			"address", cfg.ListenAddr(),
			"callback_path", cfg.CallbackPath,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Infow("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
