package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/shipyard/internal/shell/api"
	"github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/store"
	"github.com/artpar/shipyard/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess          = 0
	ExitConfigError      = 1
	ExitDatabaseError    = 2
	ExitPlatformError    = 3
	ExitHTTPServerError  = 4
	ExitDeploymentFailed = 5
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Shipyard application server.
type Server struct {
	config      *Config
	httpServer  *http.Server
	store       store.Store
	runner      *workers.Runner
	dnsVerifier *workers.DNSVerifier
	logger      *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	p, err := livePlatforms(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitPlatformError,
		}
	}

	m := metrics.New()
	broker := progress.NewBroker(progress.BrokerConfig{}, logger)
	orch := newOrchestrator(cfg, cfg.Credentials(), p, m, logger)

	encryptionKey := cfg.EncryptionKey()
	if encryptionKey == nil {
		logger.Warn("store.encryption_key not set, generated admin passwords will not be stored")
	}

	runner := workers.NewRunner(s, orch, broker, workers.RunnerConfig{
		Interval:      cfg.Runner.Interval,
		MaxConcurrent: cfg.Runner.MaxConcurrent,
		RunTimeout:    cfg.Runner.RunTimeout,
		EncryptionKey: encryptionKey,
	}, logger)

	var dnsVerifier *workers.DNSVerifier
	if cfg.Verifier.Enabled {
		proxied := false
		if p.dns != nil {
			proxied = p.dns.Settings().Proxied
		}
		dnsVerifier = workers.NewDNSVerifier(s, dns.NewResolver(nil), m, workers.DNSVerifierConfig{
			Interval:      cfg.Verifier.Interval,
			MaxConcurrent: cfg.Verifier.MaxConcurrent,
			GiveUpAfter:   cfg.Verifier.GiveUpAfter,
			Proxied:       proxied,
		}, logger)
	}

	handler := api.NewHandler(api.Config{
		Store:         s,
		Submitter:     runner,
		Broker:        broker,
		Metrics:       m,
		EncryptionKey: encryptionKey,
		AuthSecret:    cfg.Auth.JWTSecret,
		Heartbeat:     cfg.Server.Heartbeat,
		Version:       Version,
		BaseURL:       cfg.Server.BaseURL,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, the API is unauthenticated")
	}

	// No write timeout: progress streams stay open for the whole run
	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		store:       s,
		runner:      runner,
		dnsVerifier: dnsVerifier,
		logger:      logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.runner.Start()

	if s.dnsVerifier != nil {
		s.dnsVerifier.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Cancels in-flight runs and waits for their results
	s.runner.Stop()

	if s.dnsVerifier != nil {
		s.dnsVerifier.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
