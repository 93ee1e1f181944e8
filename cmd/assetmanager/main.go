package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/assetmanager/internal/assetmanager"
	"github.com/elys-network/assetmanager/internal/config"
	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/metrics"
	"github.com/elys-network/assetmanager/internal/state"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/vault"
)

// rootCmd is the base command for the asset manager CLI
var rootCmd = &cobra.Command{
	Use:   "assetmanager",
	Short: "Pool asset manager that keeps managed balances on target",
	Long: `assetmanager invests part of each pool's cash into a managed balance and
rebalances it back to the configured target, paying callers a fee when a pool
drifts outside its critical band.

Configuration comes from the environment (or a .env file), see AM_ASSET,
AM_IDENTITY, LEDGER_MODE and POOLS_FILE.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
		}
		if err := config.LoadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if config.LogFile != "" {
			w, err := logger.FileWriter(config.LogFile)
			if err != nil {
				return err
			}
			logger.InitializeWithWriter(config.LogLevel, w)
		} else {
			logger.Initialize(config.LogLevel)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs, built from the loaded config.
type app struct {
	manager *assetmanager.AssetManager
	metrics *metrics.Registry
	dbCheck func() error
	close   func()
}

// swapPoolAdder covers both ledgers; the Postgres one needs a context.
type swapPoolAdder func(ctx context.Context, pool vault.SwapPool) error

func newApp(ctx context.Context) (*app, error) {
	var (
		vm      vault.VaultManager
		store   assetmanager.Store
		addSwap swapPoolAdder
		dbCheck func() error
		closeFn = func() {}
	)

	switch config.LedgerMode {
	case config.LedgerModePostgres:
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: int(config.DBPort),
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			return nil, err
		}
		closeFn = state.CloseDB
		if err := state.EnsureSchema(); err != nil {
			closeFn()
			return nil, err
		}

		pgStore, err := state.NewPostgresStore(state.DB)
		if err != nil {
			closeFn()
			return nil, err
		}
		pgVault, err := state.NewPostgresVault(state.DB)
		if err != nil {
			closeFn()
			return nil, err
		}
		vm, store, addSwap, dbCheck = pgVault, pgStore, pgVault.AddSwapPool, state.TestDBConnection
	default:
		log.Warn().Msg("Running with the in-memory ledger. State is lost on exit.")
		memVault := vault.NewMemoryVault()
		vm, store = memVault, assetmanager.NewMemoryStore()
		addSwap = func(_ context.Context, pool vault.SwapPool) error { return memVault.AddSwapPool(pool) }
	}

	registry := metrics.NewRegistry()
	manager, err := assetmanager.NewAssetManager(assetmanager.Config{
		Asset:        config.Asset,
		Identity:     config.Identity,
		VaultManager: vm,
		Store:        store,
		Cooldown:     config.RebalanceFeeCooldown,
		Metrics:      registry,
	})
	if err != nil {
		closeFn()
		return nil, err
	}

	if config.PoolsFile != "" {
		if err := seedPools(ctx, manager, addSwap, config.PoolsFile); err != nil {
			closeFn()
			return nil, err
		}
	}

	return &app{manager: manager, metrics: registry, dbCheck: dbCheck, close: closeFn}, nil
}

// seedPools registers pools from the seed file. Pools that already exist keep
// their stored config so restarts do not create new config versions.
func seedPools(ctx context.Context, manager *assetmanager.AssetManager, addSwap swapPoolAdder, path string) error {
	seeds, err := config.LoadPoolSeeds(path)
	if err != nil {
		return err
	}

	for _, sp := range seeds.SwapPools {
		if err := addSwap(ctx, sp); err != nil && !errors.Is(err, types.ErrPoolAlreadyRegistered) {
			return fmt.Errorf("failed to add swap pool %s: %w", sp.PoolID, err)
		}
	}

	for _, seed := range seeds.Pools {
		err := manager.RegisterPool(ctx, seed.PoolID, seed.Controller, seed.Initial)
		if err != nil && !errors.Is(err, types.ErrPoolAlreadyRegistered) {
			return fmt.Errorf("failed to register pool %s: %w", seed.PoolID, err)
		}

		if _, err := manager.GetPoolConfig(ctx, seed.PoolID); err == nil {
			continue
		} else if !errors.Is(err, types.ErrPoolNotConfigured) {
			return err
		}
		if err := manager.SetPoolConfig(ctx, seed.Controller, seed.PoolID, seed.Config); err != nil {
			return fmt.Errorf("failed to configure pool %s: %w", seed.PoolID, err)
		}
	}

	log.Info().Int("pools", len(seeds.Pools)).Int("swap_pools", len(seeds.SwapPools)).Str("file", path).Msg("Pool seeds applied")
	return nil
}
