package assetmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/calculator"
	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/metrics"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/vault"
)

// AssetManager manages one asset across every pool registered with it: it reports
// how far each pool is from its target, rebalances pools and pays the rebalance fee.
type AssetManager struct {
	logger   zerolog.Logger
	asset    string
	identity string
	vault    vault.VaultManager
	store    Store
	policy   calculator.FeePolicy
	clock    func() time.Time
	metrics  *metrics.Registry
	locks    *keyedLocks
}

// Config holds the configuration for creating a new AssetManager instance.
type Config struct {
	// Asset is the denom this manager invests on behalf of its pools.
	Asset string
	// Identity is the manager's own account; batch swaps paying a fee must be sent from it.
	Identity     string
	VaultManager vault.VaultManager
	Store        Store
	// Cooldown suppresses the rebalance fee after a successful rebalance. Zero disables it.
	Cooldown time.Duration
	// Clock defaults to time.Now.
	Clock   func() time.Time
	Metrics *metrics.Registry
}

// NewAssetManager creates a new AssetManager instance with dependency injection.
func NewAssetManager(cfg Config) (*AssetManager, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("asset manager configuration validation failed: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	am := &AssetManager{
		logger:   logger.GetForComponent("asset_manager"),
		asset:    cfg.Asset,
		identity: cfg.Identity,
		vault:    cfg.VaultManager,
		store:    cfg.Store,
		policy:   calculator.FeePolicy{Cooldown: cfg.Cooldown},
		clock:    clock,
		metrics:  cfg.Metrics,
		locks:    newKeyedLocks(),
	}

	am.logger.Info().
		Str("asset", am.asset).
		Str("identity", am.identity).
		Dur("feeCooldown", cfg.Cooldown).
		Msg("Asset manager created")

	return am, nil
}

func validateConfig(cfg Config) error {
	if err := sdk.ValidateDenom(cfg.Asset); err != nil {
		return fmt.Errorf("invalid asset %q: %w", cfg.Asset, err)
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if cfg.VaultManager == nil {
		return fmt.Errorf("vault manager cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if cfg.Cooldown < 0 {
		return fmt.Errorf("fee cooldown cannot be negative")
	}
	return nil
}

// Asset returns the denom managed by this instance.
func (am *AssetManager) Asset() string { return am.asset }

// Identity returns the manager's own account.
func (am *AssetManager) Identity() string { return am.identity }

func (am *AssetManager) key(poolID types.PoolID) types.PoolKey {
	return types.PoolKey{PoolID: poolID, Asset: am.asset}
}

// RegisterPool attaches a pool to this manager and makes controller its only configurer.
// The ledger entry is created with initial balances if it does not exist yet.
func (am *AssetManager) RegisterPool(ctx context.Context, poolID types.PoolID, controller string, initial types.PoolBalances) error {
	if err := poolID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(controller) == "" {
		return errorsmod.Wrap(types.ErrUnauthorized, "pool controller cannot be empty")
	}

	unlock := am.locks.lock(am.key(poolID))
	defer unlock()

	_, err := am.store.GetPool(ctx, poolID)
	if err == nil {
		return errorsmod.Wrapf(types.ErrPoolAlreadyRegistered, "pool %s", poolID)
	}
	if !errors.Is(err, types.ErrPoolNotFound) {
		return fmt.Errorf("failed to check registration of pool %s: %w", poolID, err)
	}
	if err := am.vault.RegisterPool(ctx, poolID, am.asset, initial); err != nil {
		return fmt.Errorf("failed to register pool %s in ledger: %w", poolID, err)
	}
	if err := am.store.SavePool(ctx, types.PoolInfo{PoolID: poolID, Asset: am.asset, Controller: controller}); err != nil {
		return err
	}

	am.logger.Info().Str("pool", poolID.String()).Str("controller", controller).Msg("Pool registered")
	return nil
}

// SetPoolConfig replaces the pool's config. Only the pool controller may call it.
func (am *AssetManager) SetPoolConfig(ctx context.Context, caller string, poolID types.PoolID, config types.PoolConfig) error {
	if err := poolID.Validate(); err != nil {
		return err
	}

	unlock := am.locks.lock(am.key(poolID))
	defer unlock()

	if _, err := am.authorize(ctx, caller, poolID); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if err := am.store.SavePoolConfig(ctx, poolID, config, caller); err != nil {
		return err
	}

	am.logger.Info().
		Str("pool", poolID.String()).
		Str("target", config.TargetPercentage.String()).
		Str("upperCritical", config.UpperCriticalPercentage.String()).
		Str("lowerCritical", config.LowerCriticalPercentage.String()).
		Str("fee", config.FeePercentage.String()).
		Msg("Pool config replaced")
	return nil
}

// authorize loads the pool and checks that caller is its controller.
func (am *AssetManager) authorize(ctx context.Context, caller string, poolID types.PoolID) (types.PoolInfo, error) {
	info, err := am.store.GetPool(ctx, poolID)
	if err != nil {
		return types.PoolInfo{}, err
	}
	if caller == "" || caller != info.Controller {
		return types.PoolInfo{}, errorsmod.Wrapf(types.ErrUnauthorized, "%q does not control pool %s", caller, poolID)
	}
	return info, nil
}

// GetPoolConfig returns the active config of a pool.
func (am *AssetManager) GetPoolConfig(ctx context.Context, poolID types.PoolID) (types.PoolConfig, error) {
	info, err := am.store.GetPool(ctx, poolID)
	if err != nil {
		return types.PoolConfig{}, err
	}
	if info.Config == nil {
		return types.PoolConfig{}, errorsmod.Wrapf(types.ErrPoolNotConfigured, "pool %s", poolID)
	}
	return *info.Config, nil
}

// GetPoolBalances reads the current split from the ledger.
func (am *AssetManager) GetPoolBalances(ctx context.Context, poolID types.PoolID) (types.PoolBalances, error) {
	if _, err := am.store.GetPool(ctx, poolID); err != nil {
		return types.PoolBalances{}, err
	}
	return am.vault.GetPoolBalances(ctx, poolID, am.asset)
}

// ListPools returns every registered pool.
func (am *AssetManager) ListPools(ctx context.Context) ([]types.PoolInfo, error) {
	return am.store.ListPools(ctx)
}

// PoolStatus is a read-only view of one pool's rebalance state.
type PoolStatus struct {
	Pool               types.PoolInfo     `json:"pool"`
	Balances           types.PoolBalances `json:"balances"`
	InvestedPercentage math.LegacyDec     `json:"invested_percentage"`
	Critical           bool               `json:"critical"`
	MaxInvestable      math.Int           `json:"max_investable"`
	RebalanceFee       math.Int           `json:"rebalance_fee"`
	LastRebalance      time.Time          `json:"last_rebalance,omitempty"`
}

// GetPoolStatus combines balances, config and fee state of a configured pool.
func (am *AssetManager) GetPoolStatus(ctx context.Context, poolID types.PoolID) (PoolStatus, error) {
	snap, err := am.snapshot(ctx, poolID)
	if err != nil {
		return PoolStatus{}, err
	}
	return PoolStatus{
		Pool:               snap.info,
		Balances:           snap.balances,
		InvestedPercentage: calculator.InvestedPercentage(snap.balances),
		Critical:           calculator.IsCritical(snap.balances, snap.config),
		MaxInvestable:      calculator.MaxInvestableBalance(snap.balances, snap.config),
		RebalanceFee:       snap.fee(am.policy),
		LastRebalance:      snap.lastRebalance,
	}, nil
}

// poolSnapshot is everything a rebalance decision reads, taken at one instant.
type poolSnapshot struct {
	info          types.PoolInfo
	config        types.PoolConfig
	balances      types.PoolBalances
	lastRebalance time.Time
	now           time.Time
}

func (s poolSnapshot) fee(policy calculator.FeePolicy) math.Int {
	return calculator.RebalanceFee(s.balances, s.config, policy, s.lastRebalance, s.now)
}

func (am *AssetManager) snapshot(ctx context.Context, poolID types.PoolID) (poolSnapshot, error) {
	if err := poolID.Validate(); err != nil {
		return poolSnapshot{}, err
	}
	info, err := am.store.GetPool(ctx, poolID)
	if err != nil {
		return poolSnapshot{}, err
	}
	if info.Config == nil {
		return poolSnapshot{}, errorsmod.Wrapf(types.ErrPoolNotConfigured, "pool %s", poolID)
	}
	balances, err := am.vault.GetPoolBalances(ctx, poolID, am.asset)
	if err != nil {
		return poolSnapshot{}, err
	}
	last, err := am.vault.GetLastRebalance(ctx, poolID, am.asset)
	if err != nil {
		return poolSnapshot{}, fmt.Errorf("failed to load last rebalance of %s: %w", poolID, err)
	}
	return poolSnapshot{
		info:          info,
		config:        *info.Config,
		balances:      balances,
		lastRebalance: last,
		now:           am.clock(),
	}, nil
}

// MaxInvestableBalance is the signed amount that would bring the pool to its target.
func (am *AssetManager) MaxInvestableBalance(ctx context.Context, poolID types.PoolID) (math.Int, error) {
	snap, err := am.snapshot(ctx, poolID)
	if err != nil {
		return math.Int{}, err
	}
	return calculator.MaxInvestableBalance(snap.balances, snap.config), nil
}

// GetRebalanceFee is the fee a rebalance of the pool would pay right now.
func (am *AssetManager) GetRebalanceFee(ctx context.Context, poolID types.PoolID) (math.Int, error) {
	snap, err := am.snapshot(ctx, poolID)
	if err != nil {
		return math.Int{}, err
	}
	return snap.fee(am.policy), nil
}

// RecentReceipts returns the latest rebalance receipts, newest first.
func (am *AssetManager) RecentReceipts(ctx context.Context, limit int) ([]types.RebalanceReceipt, error) {
	return am.store.GetRecentReceipts(ctx, limit)
}

// FeeSummary aggregates fees paid per pool.
func (am *AssetManager) FeeSummary(ctx context.Context) ([]types.PoolFeeSummary, error) {
	return am.store.GetFeeSummary(ctx)
}
