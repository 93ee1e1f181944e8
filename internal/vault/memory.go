package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/types"
)

// MemoryVault is a process-local ledger. Plans are applied to a copy of the state and
// committed only when every sub-action succeeded.
type MemoryVault struct {
	mu      sync.RWMutex
	state   *LedgerState
	events  []types.SwapEvent
	txCount uint64
	log     zerolog.Logger
}

var _ VaultManager = (*MemoryVault)(nil)

// NewMemoryVault returns an empty ledger.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		state: NewLedgerState(),
		log:   logger.GetForComponent("vault_ledger"),
	}
}

func (v *MemoryVault) GetPoolBalances(ctx context.Context, poolID types.PoolID, asset string) (types.PoolBalances, error) {
	if err := ctx.Err(); err != nil {
		return types.PoolBalances{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, balances, err := v.state.pool(poolID, asset)
	return balances, err
}

func (v *MemoryVault) GetLastRebalance(ctx context.Context, poolID types.PoolID, asset string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.LastRebalanceOf(types.PoolKey{PoolID: poolID, Asset: asset}), nil
}

func (v *MemoryVault) RegisterPool(ctx context.Context, poolID types.PoolID, asset string, initial types.PoolBalances) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := poolID.Validate(); err != nil {
		return err
	}
	if err := initial.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := types.PoolKey{PoolID: poolID, Asset: asset}
	if _, ok := v.state.Pools[key]; ok {
		return nil
	}
	v.state.Pools[key] = initial
	v.log.Info().Str("pool", key.String()).Str("cash", initial.Cash.String()).
		Str("managed", initial.Managed.String()).Msg("Pool registered in ledger")
	return nil
}

// SetAccountBalance overwrites an external account balance.
func (v *MemoryVault) SetAccountBalance(account, asset string, amount math.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Accounts[AccountKey{Account: account, Asset: asset}] = amount
}

// SetInternalBalance overwrites a balance held inside the vault on behalf of an account.
func (v *MemoryVault) SetInternalBalance(account, asset string, amount math.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Internal[AccountKey{Account: account, Asset: asset}] = amount
}

func (v *MemoryVault) AccountBalance(account, asset string) math.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.AccountBalance(account, asset)
}

func (v *MemoryVault) InternalBalance(account, asset string) math.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.InternalBalance(account, asset)
}

// AddSwapPool registers a constant-rate pool that batch swaps can route through.
func (v *MemoryVault) AddSwapPool(pool SwapPool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.state.SwapPools[pool.PoolID]; ok {
		return errorsmod.Wrapf(types.ErrPoolAlreadyRegistered, "swap pool %s", pool.PoolID)
	}
	v.state.SwapPools[pool.PoolID] = pool
	return nil
}

// SwapPool returns the current reserves of a swap pool.
func (v *MemoryVault) SwapPool(poolID types.PoolID) (SwapPool, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.state.SwapPools[poolID]
	return p, ok
}

// SwapEvents returns every swap step executed so far.
func (v *MemoryVault) SwapEvents() []types.SwapEvent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]types.SwapEvent, len(v.events))
	copy(out, v.events)
	return out
}

func (v *MemoryVault) ExecuteActionPlan(ctx context.Context, plan types.ActionPlan) (*types.TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.log.Debug().
		Int("actionCount", len(plan.SubActions)).
		Strs("actions", plan.Types()).
		Str("goal", plan.GoalDescription).
		Msg("ExecuteActionPlan: applying plan")

	next := v.state.Clone()
	result, err := next.Apply(plan)
	if err != nil {
		v.log.Warn().Err(err).Str("goal", plan.GoalDescription).Msg("ExecuteActionPlan: plan rejected, ledger unchanged")
		return nil, err
	}

	v.txCount++
	result.TxID = fmt.Sprintf("mem-%d", v.txCount)
	v.state = next
	v.events = append(v.events, result.SwapEvents...)

	v.log.Info().
		Str("txId", result.TxID).
		Int("swapEvents", len(result.SwapEvents)).
		Msg("ExecuteActionPlan: plan committed")
	return result, nil
}

func (v *MemoryVault) Close() error { return nil }
