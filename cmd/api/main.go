// Package main is the entry point for the Sapar billing API server.
//
// It loads configuration, connects the Postgres pool and the SQS client,
// wires the ledger services and HTTP handlers, and serves until a shutdown
// signal arrives.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"sapar/internal/api/handlers"
	"sapar/internal/auth"
	"sapar/internal/billing"
	"sapar/internal/config"
	"sapar/internal/core"
	"sapar/internal/db"
	"sapar/internal/external"
	"sapar/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("sapar billing API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	// Database pool.
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewStore(pool, logger)

	// SQS client for post-commit ledger notifications.
	sqsClient, err := newSQSClient(ctx, cfg.AWS)
	if err != nil {
		return fmt.Errorf("initializing SQS client: %w", err)
	}
	notifier := queue.NewLedgerNotifier(sqsClient, cfg.AWS.LedgerEventsQueue, logger)

	// Domain services.
	catalog := billing.NewStaticCatalog()
	credits := billing.NewCredits(catalog, logger)
	ledger := billing.NewLedger(catalog, credits, logger)
	entitlements := billing.NewEntitlements(store, catalog, logger)
	orchestrator := billing.NewOrchestrator(store, logger)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewTokenAuthenticator(cfg.Auth.TokenSigningSecret.Unmask())
	srv.AdminVerifier = auth.NewAdminKeyVerifier(cfg.Security.AdminKeyHash.Unmask())

	// Handlers.
	purchasesHandler := handlers.NewPurchasesHandler(orchestrator, ledger, store, notifier, srv.Validator, logger)
	creditsHandler := handlers.NewCreditsHandler(orchestrator, credits, store, notifier, srv.Validator, cfg.Feature.EnablePromoGrants, logger)
	entitlementsHandler := handlers.NewEntitlementsHandler(entitlements, srv.Validator, logger)
	exportHandler := handlers.NewExportHandler(entitlements, store, logger)
	webhookHandler := handlers.NewWebhookHandler(orchestrator, ledger, &external.StripeVerifier{}, notifier,
		cfg.Billing.StripeWebhookSecret.Unmask(), logger)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(orchestrator, store, notifier, logger)

	srv.V1RouteRegistrars = []core.RouteRegistrar{
		// Bearer-authenticated user surface.
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.AuthMiddleware)
				purchasesHandler.RegisterRoutes(r)
				creditsHandler.RegisterRoutes(r)
				entitlementsHandler.RegisterRoutes(r)
				exportHandler.RegisterRoutes(r)
			})
		},
		// Admin-key operator surface.
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.AdminKeyMiddleware)
				purchasesHandler.RegisterAdminRoutes(r)
				creditsHandler.RegisterAdminRoutes(r)
				subscriptionsHandler.RegisterAdminRoutes(r)
			})
		},
		// Public webhook surface; authenticated by payload signature.
		webhookHandler.RegisterRoutes,
	}

	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// newPool creates the pgx connection pool with the configured tuning.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newSQSClient builds the SQS client, honoring the LocalStack endpoint
// override when configured.
func newSQSClient(ctx context.Context, awsCfg config.AWSConfig) (*sqs.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(awsCfg.Region),
	}
	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if awsCfg.EndpointURL != "" {
		endpoint := awsCfg.EndpointURL
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return sqs.NewFromConfig(sdkCfg, clientOpts...), nil
}

// serve runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
