package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/app"
	"github.com/BrandonDHaskell/poap-dispenser/internal/config"
	"github.com/BrandonDHaskell/poap-dispenser/internal/grpcapi"
	"github.com/BrandonDHaskell/poap-dispenser/internal/httpapi"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger, logCloser := observability.SetupLogging(observability.LogConfig{
		Service: "dispenser-server",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	err = run(cfg, logger)
	if err != nil {
		logger.Error("dispenser-server stopped", "err", err)
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "dispenser-server",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	events, err := config.LoadEvents(cfg.EventsFile)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, events, logger, app.Overrides{})
	if err != nil {
		return err
	}
	defer a.Close()

	// A failed validation is logged per event; the dispenser still starts
	// so the other events stay available.
	validateCtx, cancelValidate := context.WithTimeout(ctx, 30*time.Second)
	if err := a.Queries.ValidateEvents(validateCtx, logger); err != nil {
		logger.Warn("some events failed issuer validation", "err", err)
	}
	cancelValidate()

	a.Reconciler.Start(ctx)

	var health *grpcapi.HealthServer
	healthDone := make(chan error, 1)
	if cfg.GRPCAddr != "" {
		health, err = grpcapi.Listen(cfg.GRPCAddr, logger)
		if err != nil {
			return err
		}
		go func() { healthDone <- health.Serve(ctx) }()
	} else {
		healthDone <- nil
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger,
		Addr:           cfg.HTTPAddr,
		Coordinator:    a.Coordinator,
		Queries:        a.Queries,
		Reconciler:     a.Reconciler,
		Metrics:        a.Metrics,
		MetricsHandler: a.MetricsHandler(),
		RateLimit: httpapi.RateLimit{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		AdminSecret: cfg.AdminJWTSecret,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if health != nil {
		health.SetServing(false)
	}
	a.Reconciler.Stop()

	// In-flight issuance runs detached from the request; give it the full
	// issue budget to finalize before the store closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.IssueBudget())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	return <-healthDone
}
