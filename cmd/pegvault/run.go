package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/elys-network/pegvault/internal/app"
	"github.com/elys-network/pegvault/internal/config"
	"github.com/elys-network/pegvault/internal/keeper"
	"github.com/elys-network/pegvault/internal/metrics"
	"github.com/elys-network/pegvault/internal/state"
	"github.com/elys-network/pegvault/internal/vault"
	"github.com/elys-network/pegvault/internal/web"
)

const (
	healthService = "pegvault"

	priceSchedule    = "@every 1m"
	snapshotSchedule = "@every 5m"
	healthSchedule   = "@every 30s"

	// ledgerSnapshotsKept bounds the ledger_snapshots table.
	ledgerSnapshotsKept = 100
	shutdownTimeout     = 15 * time.Second
)

// Compile-time check that the SQL store satisfies the keeper's history interface.
var _ keeper.Store = (*state.Store)(nil)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the vault ledger, run the keeper on its schedule and expose HTTP and gRPC health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvironment(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	// --- 1. Initialization Phase ---
	log.Info().Str("version", version).Msg("Pegvault starting...")

	vf, err := config.LoadVaultFile(config.VaultConfigPath)
	if err != nil {
		return err
	}

	store, err := state.Open(ctx, dbConfig())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	// --- 2. Ledger Assembly ---
	m := metrics.New(nil)
	deployment, err := app.New(vf, app.Options{Observer: m})
	if err != nil {
		return fmt.Errorf("failed to assemble vault: %w", err)
	}
	m.WatchLedger(deployment.Vault)

	var genesis *vault.Genesis
	record, err := store.LoadLatestLedger(ctx)
	switch {
	case err == nil:
		log.Info().Int64("ledger_id", record.ID).Time("created_at", record.CreatedAt).Msg("Restoring persisted ledger")
		genesis = &record.Genesis
	case errors.Is(err, state.ErrNotFound):
		log.Warn().Msg("No persisted ledger found, starting a fresh one from the vault file")
	default:
		return fmt.Errorf("failed to load persisted ledger: %w", err)
	}
	if err := deployment.Open(ctx, genesis); err != nil {
		return err
	}

	// --- 3. Keeper & Scheduled Jobs ---
	k, err := deployment.NewKeeper(store, m)
	if err != nil {
		return err
	}
	scheduler, err := keeper.NewScheduler(ctx, k, config.KeeperSchedule)
	if err != nil {
		return err
	}

	healthServer := health.NewServer()
	jobs := []struct {
		name, spec string
		fn         func(ctx context.Context) error
	}{
		{"prices", priceSchedule, func(context.Context) error { return deployment.PublishPrices() }},
		{"ledger_snapshot", snapshotSchedule, func(ctx context.Context) error { return saveLedger(ctx, deployment.Vault, store) }},
		{"health", healthSchedule, func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
				return err
			}
			healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
			return nil
		}},
	}
	for _, job := range jobs {
		if err := scheduler.AddJob(job.name, job.spec, job.fn); err != nil {
			return err
		}
	}

	// --- 4. HTTP & gRPC Servers ---
	webServer, err := web.NewWebServer(web.Config{
		Port:    config.WebPort,
		Vault:   deployment.Vault,
		History: store,
		Metrics: m.Handler(),
		Auth:    deployment.Auth,
		Version: version,
	})
	if err != nil {
		return err
	}
	if deployment.Auth == nil {
		log.Warn().Msg("No API accounts configured, /api/mint and /api/burn are disabled")
	}

	lis, err := net.Listen("tcp", ":"+config.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", config.GRPCPort, err)
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 2)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting HTTP API")
		serveErr <- webServer.Start()
	}()
	go func() {
		log.Info().Str("port", config.GRPCPort).Msg("Starting gRPC health service")
		serveErr <- grpcServer.Serve(lis)
	}()

	scheduler.Start()

	// --- 5. Wait & Shut Down ---
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err = <-serveErr:
		log.Error().Err(err).Msg("Server stopped unexpectedly")
	}

	healthServer.Shutdown()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	if saveErr := saveLedger(shutdownCtx, deployment.Vault, store); saveErr != nil {
		log.Error().Err(saveErr).Msg("Failed to persist ledger on shutdown")
		return errors.Join(err, saveErr)
	}
	log.Info().Msg("Pegvault stopped")
	return err
}

// saveLedger persists an export of the ledger and prunes old snapshots. It fails while an adjust window is open.
func saveLedger(ctx context.Context, v *vault.Vault, store *state.Store) error {
	g, err := v.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to export ledger: %w", err)
	}
	id, err := store.SaveLedgerSnapshot(ctx, g)
	if err != nil {
		return err
	}
	if _, err := store.PruneLedgerSnapshots(ctx, ledgerSnapshotsKept); err != nil {
		log.Warn().Err(err).Msg("Failed to prune ledger snapshots")
	}
	log.Debug().Int64("ledger_id", id).Msg("Ledger snapshot saved")
	return nil
}
