package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/config"
	"github.com/cloudtrim/cloudtrim/graph"
	"github.com/cloudtrim/cloudtrim/hierarchy"
	"github.com/cloudtrim/cloudtrim/internal/daemon"
	"github.com/cloudtrim/cloudtrim/journal"
	"github.com/cloudtrim/cloudtrim/module"
	"github.com/cloudtrim/cloudtrim/module/abandoned"
	"github.com/cloudtrim/cloudtrim/server"
	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection engine service",
	Long: `Run Cloudtrim as a long-lived service.

The service exposes the HTTP API (module invocation, trends, findings
history, target registry), serves Prometheus metrics on a separate
listener, and runs the scheduled detection loop against the enabled
targets.

Authentication uses the Azure default credential chain: environment
variables, workload identity, managed identity, then Azure CLI.`,
	Example: `  cloudtrim serve                       # Defaults: API :8080, metrics :9090
  cloudtrim serve --config /etc/cloudtrim/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint := ""
	if cfg.Telemetry.Enabled {
		endpoint = cfg.Telemetry.OTLPEndpoint
	}
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       endpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry provider: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	if err := os.MkdirAll(cfg.Storage.Path, 0750); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	jnl, err := journal.Open(cfg.Journal.Dir)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = jnl.Close() }()

	if err := journal.Cleanup(cfg.Journal.Dir, journal.DefaultConfig()); err != nil {
		logger.Warn().Err(err).Msg("journal cleanup failed")
	}

	registry, err := buildRegistry(cfg, logger, provider)
	if err != nil {
		return err
	}

	api := server.New(logger, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Dependencies: server.Dependencies{
			Registry: registry,
			Store:    store,
			Journal:  jnl,
			Metrics:  provider,
		},
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(provider.Registry(), promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:        cfg.Server.MetricsAddr,
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}

	d := daemon.New(daemon.Config{
		Interval:      cfg.Scan.Interval,
		DryRun:        cfg.Scan.DryRun,
		Modules:       cfg.Scan.Modules,
		RetentionDays: cfg.Storage.RetentionDays,
	}, registry, store, jnl, logger, daemon.WithMetrics(provider))

	fmt.Printf("🚀 Cloudtrim %s\n", version)
	fmt.Printf("   API:     http://localhost%s\n", cfg.Server.Addr)
	fmt.Printf("   Metrics: http://localhost%s/metrics\n", cfg.Server.MetricsAddr)
	fmt.Printf("   Scan:    every %s (dry run: %v)\n\n", cfg.Scan.Interval, cfg.Scan.DryRun)

	var g run.Group

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	g.Add(api.Start, func(error) {
		_ = api.Shutdown()
	})

	g.Add(func() error {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("starting metrics server")
		err := metricsSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	})

	daemonCtx, daemonCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return d.Start(daemonCtx)
	}, func(error) {
		daemonCancel()
	})

	err = g.Run()
	var se run.SignalError
	if errors.As(err, &se) {
		logger.Info().Str("signal", se.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// buildRegistry wires the detection modules against live Azure clients
func buildRegistry(cfg *config.Config, logger zerolog.Logger, provider *telemetry.Provider) (*module.Registry, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}

	graphClient, err := graph.NewAzureClient(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource graph client: %w", err)
	}
	executor := graph.NewExecutor(graphClient, logger,
		graph.WithBatchSize(cfg.Graph.BatchLimit),
		graph.WithPageSize(cfg.Graph.PageSize),
		graph.WithConcurrency(cfg.Graph.MaxConcurrency),
		graph.WithRetryPolicy(graph.RetryPolicy{
			MaxAttempts: cfg.Graph.Retry.MaxAttempts,
			BaseDelay:   cfg.Graph.Retry.BaseDelay,
			MaxDelay:    cfg.Graph.Retry.MaxDelay,
			Jitter:      cfg.Graph.Retry.Jitter,
		}),
	)

	groupClient, err := hierarchy.NewAzureGroupClient(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create management groups client: %w", err)
	}
	resolver := hierarchy.NewResolver(groupClient, logger)

	registry := module.NewRegistry()
	registry.Register(abandoned.New(resolver, executor, logger, abandoned.WithMetrics(provider)))
	return registry, nil
}
