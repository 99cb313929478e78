package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omnidesk/omnidesk/pkg/api"
	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/cleanup"
	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/pkg/delivery"
	"github.com/omnidesk/omnidesk/pkg/escalation"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/inbound"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/queue"
	"github.com/omnidesk/omnidesk/pkg/responder"
	"github.com/omnidesk/omnidesk/pkg/services"
	"github.com/omnidesk/omnidesk/pkg/store/postgres"
	"github.com/omnidesk/omnidesk/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var httpPort string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and queue sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.configDir, ":"+httpPort)
		},
	}
	cmd.Flags().StringVar(&httpPort, "http-port", getEnv("HTTP_PORT", "8080"), "HTTP listen port")
	return cmd
}

func runServe(ctx context.Context, configDir, addr string) error {
	slog.Info("Starting omnidesk", "version", version.GitCommit, "addr", addr, "config_dir", configDir)

	// 1. Configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// 2. Database (applies pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database", "host", dbConfig.Host, "database", dbConfig.Database)

	// 3. Events and metrics
	publisher, err := events.New(ctx, cfg.Events, dbClient.DB())
	if err != nil {
		return fmt.Errorf("failed to initialize event backend: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("Error closing event publisher", "error", err)
		}
	}()
	slog.Info("Event publisher initialized", "backend", cfg.Events.Backend)
	m := metrics.NewRegistry()

	// 4. Domain services
	st := postgres.New(dbClient.DB())
	// One timestamp source for every writer keeps messages ordered.
	clk := clock.NewMonotonic(nil)
	deps := services.Deps{Store: st, Events: publisher, Metrics: m, Clock: clk}
	sessions := services.NewSessionService(deps, nil, cfg.Escalation)
	messages := services.NewMessageService(deps)
	customers := services.NewCustomerService(deps)
	warnings := services.NewSystemWarningsService()
	cls := classifier.FromConfig(cfg)

	// 5. Collaborators: bot responder and outbound channel
	var bot responder.Responder
	if cfg.Responder.Address != "" {
		// grpc.NewClient dials lazily; the first Generate call connects.
		grpcResponder, err := responder.NewGRPCResponder(cfg.Responder.Address, cfg.Responder.Timeout)
		if err != nil {
			return fmt.Errorf("failed to initialize responder client: %w", err)
		}
		defer func() {
			if err := grpcResponder.Close(); err != nil {
				slog.Error("Error closing responder client", "error", err)
			}
		}()
		bot = grpcResponder
		slog.Info("Bot responder configured", "addr", cfg.Responder.Address)
	} else {
		slog.Warn("No responder address configured, bot replies disabled")
	}

	var sender delivery.Sender = delivery.Disabled{}
	if waha := cfg.Delivery.WAHA; waha != nil && waha.BaseURL != "" {
		sender = delivery.NewWAHAClient(waha)
		slog.Info("WAHA delivery configured", "base_url", waha.BaseURL, "session", waha.Session)
	}

	pipeline := inbound.NewPipeline(inbound.Dependencies{
		Customers:  customers,
		Sessions:   sessions,
		Messages:   messages,
		Classifier: cls,
		Engine:     escalation.NewEngine(cls, cfg.Escalation),
		Responder:  bot,
		Sender:     sender,
		Warnings:   warnings,
		Events:     publisher,
		Metrics:    m,
		Clock:      clk,
	}, cfg.Responder)

	// 6. Background jobs: queue sweeper and idle session cleanup
	sweeper := queue.NewSweeper(st, pipeline, cfg.Escalation.QueueSweepInterval, cfg.Escalation.QueueSweepBatch)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	cleanupService := cleanup.NewService(cfg.Retention, st, sessions, clk)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. HTTP server
	server := api.NewServer(api.Dependencies{
		Pipeline: pipeline,
		Sessions: sessions,
		Messages: messages,
		Warnings: warnings,
		Metrics:  m,
		DB:       dbClient.DB(),
		Config:   cfg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	slog.Info("omnidesk started successfully")
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}
