package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/assetmanager/internal/assetmanager"
	"github.com/elys-network/assetmanager/internal/config"
	"github.com/elys-network/assetmanager/internal/web"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health service and optional keeper",
	Long: `Serve the asset manager API on WEB_PORT, the gRPC health service on
GRPC_PORT and, when KEEPER_ENABLED is true, a keeper that rebalances pools on
KEEPER_SCHEDULE. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Asset manager starting...")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	webServer := web.NewWebServer(config.WebPort, a.manager, a.metrics, a.dbCheck)
	healthServer := web.NewHealthServer(config.GRPCPort)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting asset manager API")
		errCh <- webServer.Start()
	}()
	go func() {
		errCh <- healthServer.Start()
	}()

	var keeper *assetmanager.Keeper
	if config.KeeperEnabled {
		keeper, err = assetmanager.NewKeeper(a.manager, config.KeeperAccount, config.KeeperSchedule)
		if err != nil {
			return err
		}
		keeper.Start(ctx)
	}

	healthServer.SetServing(true)
	log.Info().Bool("keeper", config.KeeperEnabled).Msg("Asset manager ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	healthServer.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if keeper != nil {
		keeper.Stop()
	}
	if shutdownErr := webServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Web server shutdown failed")
	}
	healthServer.Stop()

	log.Info().Msg("Asset manager stopped")
	return err
}
