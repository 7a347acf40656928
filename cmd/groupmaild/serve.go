package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infodancer/groupmail/internal/audit"
	"github.com/infodancer/groupmail/internal/config"
	"github.com/infodancer/groupmail/internal/directory"
	"github.com/infodancer/groupmail/internal/dispatch"
	"github.com/infodancer/groupmail/internal/groupmail"
	"github.com/infodancer/groupmail/internal/logging"
	"github.com/infodancer/groupmail/internal/metrics"
	"github.com/infodancer/groupmail/internal/oauth"
	"github.com/infodancer/groupmail/internal/staging"
	"github.com/infodancer/groupmail/internal/web"
)

const shutdownTimeout = 30 * time.Second

func loadConfig() config.Config {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runCheckConfig() {
	cfg := loadConfig()
	if err := cfg.ValidateSubmission(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid submission configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("configuration ok: %d groups, helper %s\n", len(cfg.Directory.Groups), cfg.Helper.Path)
}

func runServe() {
	cfg := loadConfig()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	collector, metricsServer := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
		Path:    cfg.Metrics.Path,
	})
	go func() {
		if err := metricsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	sink, err := openAuditSink(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing audit sink", "error", err)
		}
	}()

	agent, err := oauth.NewJWTAgent(ctx, oauth.JWTAgentConfig{
		JWKSURL:         cfg.Auth.JWKSURL,
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		UsernameClaim:   cfg.Auth.UsernameClaim,
		RefreshInterval: cfg.Auth.GetRefreshInterval(),
		AllowedDomains:  cfg.Auth.AllowedDomains,
	})
	if err != nil {
		return fmt.Errorf("creating bearer agent: %w", err)
	}
	defer agent.Close() //nolint:errcheck

	maxSize := int64(cfg.Limits.MaxMessageSize)
	stager := staging.New(cfg.Staging.Root, staging.WithLimits(cfg.Limits.MaxAttachments, maxSize))
	dispatcher := dispatch.New(dispatch.Config{
		HelperPath: cfg.Helper.Path,
		Elevate:    cfg.Helper.Elevate,
		Locale:     cfg.Helper.Locale,
	}, nil)

	svc := groupmail.NewService(
		groupmail.Config{LocalDomain: cfg.LocalDomain, MaxRecipients: cfg.Limits.MaxRecipients},
		stager,
		dispatcher,
		groupmail.WithAuditSink(sink),
		groupmail.WithMetrics(collector),
	)

	// Multipart framing and form fields ride on top of the message itself.
	handler := web.NewHandler(web.Config{MaxRequestSize: maxSize + 1<<20}, svc, directory.NewStatic(cfg.Directory), agent, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      cfg.Timeouts.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting groupmaild",
			"hostname", cfg.Hostname,
			"address", cfg.HTTP.Address,
			"staging_root", cfg.Staging.Root,
			"helper", cfg.Helper.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func openAuditSink(ctx context.Context, cfg config.AuditConfig) (audit.Sink, error) {
	switch cfg.Type {
	case "redis":
		sink, err := audit.DialRedisStream(ctx, cfg.RedisURL, cfg.Stream, cfg.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("connecting audit stream: %w", err)
		}
		return sink, nil
	default:
		return audit.NoopSink{}, nil
	}
}
