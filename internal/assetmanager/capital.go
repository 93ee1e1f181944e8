package assetmanager

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/assetmanager/internal/types"
)

// CapitalIn moves amount of pool cash into the managed balance on the controller's behalf.
func (am *AssetManager) CapitalIn(ctx context.Context, caller string, poolID types.PoolID, amount math.Int) (types.PoolBalances, error) {
	return am.controllerAction(ctx, caller, poolID, types.SubActionInvest, amount, "capital in")
}

// CapitalOut returns amount of the managed balance to pool cash.
func (am *AssetManager) CapitalOut(ctx context.Context, caller string, poolID types.PoolID, amount math.Int) (types.PoolBalances, error) {
	return am.controllerAction(ctx, caller, poolID, types.SubActionDivest, amount, "capital out")
}

// UpdateBalanceOfPool records the value the managed balance is currently worth, so that
// gains and losses of the external investment show up in the pool's TVL.
func (am *AssetManager) UpdateBalanceOfPool(ctx context.Context, caller string, poolID types.PoolID, aum math.Int) (types.PoolBalances, error) {
	return am.controllerAction(ctx, caller, poolID, types.SubActionUpdateManaged, aum, "update managed balance")
}

func (am *AssetManager) controllerAction(ctx context.Context, caller string, poolID types.PoolID, kind types.SubActionType, amount math.Int, goal string) (types.PoolBalances, error) {
	if err := poolID.Validate(); err != nil {
		return types.PoolBalances{}, err
	}
	if amount.IsNil() || amount.IsNegative() {
		return types.PoolBalances{}, errorsmod.Wrapf(types.ErrInvalidAmount, "%s amount must be non-negative", goal)
	}
	if kind != types.SubActionUpdateManaged && amount.IsZero() {
		return types.PoolBalances{}, errorsmod.Wrapf(types.ErrInvalidAmount, "%s amount must be positive", goal)
	}

	unlock := am.locks.lock(am.key(poolID))
	defer unlock()

	if _, err := am.authorize(ctx, caller, poolID); err != nil {
		return types.PoolBalances{}, err
	}

	tx, err := am.vault.ExecuteActionPlan(ctx, types.ActionPlan{
		GoalDescription: goal + " " + am.key(poolID).String(),
		Now:             am.clock(),
		SubActions: []types.SubAction{{
			Type:   kind,
			PoolID: poolID,
			Coin:   sdk.Coin{Denom: am.asset, Amount: amount},
		}},
	})
	if err != nil {
		return types.PoolBalances{}, err
	}

	am.logger.Info().
		Str("pool", poolID.String()).
		Str("action", string(kind)).
		Str("amount", amount.String()).
		Str("cash", tx.Balances.Cash.String()).
		Str("managed", tx.Balances.Managed.String()).
		Msg("Controller action applied")
	am.metrics.ObservePool(poolID, tx.Balances)
	return tx.Balances, nil
}
