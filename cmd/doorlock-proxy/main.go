// Command doorlock-proxy redeems door-lock grants against Home Assistant hubs
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/identity"
	"github.com/wrale/doorlock-proxy/internal/state"
)

// Version is set by the build process
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "doorlock-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hubClient, err := hub.NewClient(hub.Config{
		ClientID:    cfg.PublicURL,
		RedirectURI: cfg.redirectURI(),
		Timeout:     cfg.HubTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}

	codec, err := state.NewCodec([]byte(cfg.StateSecret))
	if err != nil {
		return fmt.Errorf("creating state codec: %w", err)
	}

	verifierOpts := []identity.Option{}
	if cfg.AuthIssuer != "" {
		verifierOpts = append(verifierOpts, identity.WithIssuer(cfg.AuthIssuer))
	}
	verifier, err := identity.NewVerifier([]byte(cfg.AuthJWTSecret), verifierOpts...)
	if err != nil {
		return fmt.Errorf("creating jwt verifier: %w", err)
	}

	srv := newServer(cfg, dependencies{
		store:    st,
		hub:      hubClient,
		codec:    codec,
		verifier: verifier,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("server listening",
			zap.Int("port", cfg.Port),
			zap.String("public_url", cfg.PublicURL),
			zap.String("store", cfg.StoreDriver),
			zap.String("version", Version),
		)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("starting server: %w", err)

	case sig := <-shutdown:
		logger.Info("starting shutdown", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", zap.Error(err))
			}
		}
	}

	return nil
}
