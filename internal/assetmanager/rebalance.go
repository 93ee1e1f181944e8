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
	"github.com/google/uuid"

	"github.com/elys-network/assetmanager/internal/calculator"
	"github.com/elys-network/assetmanager/internal/types"
)

// Rebalance moves the pool to its target and pays any fee to caller in the pool asset.
func (am *AssetManager) Rebalance(ctx context.Context, poolID types.PoolID, caller string) (*types.RebalanceResult, error) {
	return am.rebalance(ctx, poolID, caller, nil)
}

// RebalanceAndSwap rebalances the pool and routes the fee through the batch swap.
// The swap must be sent by the manager itself, must start from the managed asset and
// must not draw on internal balance. These checks only apply when a fee is payable;
// without a fee the swap is skipped.
func (am *AssetManager) RebalanceAndSwap(ctx context.Context, poolID types.PoolID, caller string, swap types.SwapSpec) (*types.RebalanceResult, error) {
	return am.rebalance(ctx, poolID, caller, &swap)
}

func (am *AssetManager) rebalance(ctx context.Context, poolID types.PoolID, caller string, swap *types.SwapSpec) (*types.RebalanceResult, error) {
	start := time.Now()
	rebalanceID := uuid.New().String()
	log := am.logger.With().
		Str("rebalance_id", rebalanceID).
		Str("pool", poolID.String()).
		Str("caller", caller).
		Logger()

	result, err := am.doRebalance(ctx, rebalanceID, poolID, caller, swap)
	if err != nil {
		log.Error().Err(err).Msg("Rebalance failed")
		am.metrics.ObserveRebalanceError(errorReason(err), time.Since(start))
		return nil, err
	}

	log.Info().
		Str("direction", string(result.Direction)).
		Str("amount", result.Amount.String()).
		Str("fee", result.Fee.String()).
		Bool("swapped", result.Swapped).
		Str("cash", result.After.Cash.String()).
		Str("managed", result.After.Managed.String()).
		Msg("Rebalance completed")
	am.metrics.ObserveRebalance(*result, time.Since(start))
	return result, nil
}

// maxStaleAttempts bounds how often a rebalance is recomputed after the ledger
// rejected its plan as stale.
const maxStaleAttempts = 3

func (am *AssetManager) doRebalance(ctx context.Context, rebalanceID string, poolID types.PoolID, caller string, swap *types.SwapSpec) (*types.RebalanceResult, error) {
	if strings.TrimSpace(caller) == "" {
		return nil, errorsmod.Wrap(types.ErrUnauthorized, "caller cannot be empty")
	}

	unlock := am.locks.lock(am.key(poolID))
	defer unlock()

	for attempt := 1; ; attempt++ {
		result, err := am.attemptRebalance(ctx, rebalanceID, poolID, caller, swap, attempt == maxStaleAttempts)
		if err == nil || !errors.Is(err, types.ErrStaleLedgerState) || attempt == maxStaleAttempts {
			return result, err
		}
		am.logger.Warn().Err(err).Str("rebalance_id", rebalanceID).Int("attempt", attempt).
			Msg("Pool changed under the rebalance, recomputing")
	}
}

// attemptRebalance decides and executes one rebalance from a fresh snapshot. The plan
// is pinned to that snapshot, so the ledger refuses it if another writer got there first.
func (am *AssetManager) attemptRebalance(ctx context.Context, rebalanceID string, poolID types.PoolID, caller string, swap *types.SwapSpec, final bool) (*types.RebalanceResult, error) {
	snap, err := am.snapshot(ctx, poolID)
	if err != nil {
		return nil, err
	}
	fee := snap.fee(am.policy)

	if swap != nil && fee.IsPositive() {
		if err := am.checkSwap(*swap); err != nil {
			return nil, err
		}
	}

	plan, err := calculator.PlanRebalance(snap.balances, snap.config, fee)
	if err != nil {
		return nil, err
	}

	actions := am.buildActionPlan(poolID, caller, plan, swap, snap)

	result := &types.RebalanceResult{
		RebalanceID: rebalanceID,
		PoolID:      poolID,
		Asset:       am.asset,
		Caller:      caller,
		Direction:   plan.Direction(),
		Amount:      plan.Amount,
		Invested:    plan.Invest,
		Divested:    plan.Divest,
		Fee:         fee,
		SwapOut:     math.ZeroInt(),
		Before:      snap.balances,
		After:       plan.After,
		Timestamp:   snap.now,
	}

	receipt := types.RebalanceReceipt{
		Result:     *result,
		Plan:       actions,
		Success:    true,
		RecordedAt: snap.now,
	}

	tx, err := am.vault.ExecuteActionPlan(ctx, actions)
	if err != nil {
		if final || !errors.Is(err, types.ErrStaleLedgerState) {
			am.recordFailure(ctx, receipt, err)
		}
		return nil, err
	}
	result.After = tx.Balances
	result.Swapped = len(tx.SwapEvents) > 0
	if result.Swapped {
		result.SwapOut = tx.SwapEvents[len(tx.SwapEvents)-1].AmountOut
	}
	receipt.SwapEvents = tx.SwapEvents
	receipt.Message = tx.TxID
	receipt.Result = *result

	if err := am.store.RecordRebalance(ctx, receipt); err != nil {
		// the ledger already committed the transfer, the fee and the cool-down, so the result stands
		am.logger.Error().Err(err).Str("rebalance_id", rebalanceID).Msg("Failed to record rebalance receipt")
	}
	return result, nil
}

// checkSwap enforces the fee swap preconditions in a fixed order so each violation
// is reported with its own error.
func (am *AssetManager) checkSwap(swap types.SwapSpec) error {
	if swap.Funds.Sender != am.identity {
		return errorsmod.Wrapf(types.ErrSenderNotAssetManager, "sender %q", swap.Funds.Sender)
	}
	if swap.Funds.FromInternalBalance {
		return types.ErrInternalBalanceUse
	}
	if swap.InputAsset() != am.asset {
		return errorsmod.Wrapf(types.ErrWrongSwapAsset, "swap starts from %q, manager holds %q", swap.InputAsset(), am.asset)
	}
	return swap.Validate()
}

// buildActionPlan turns a rebalance plan into ledger sub-actions: the transfer between
// cash and managed first, then the fee as a direct payment or a funded swap, and last
// the new rebalance time. The plan only applies to the snapshot it was computed from.
func (am *AssetManager) buildActionPlan(poolID types.PoolID, caller string, plan calculator.RebalancePlan, swap *types.SwapSpec, snap poolSnapshot) types.ActionPlan {
	actions := types.ActionPlan{
		GoalDescription: fmt.Sprintf("rebalance %s: %s %s, fee %s", am.key(poolID), plan.Direction(), plan.Amount.Abs(), plan.Fee),
		Now:             snap.now,
		Expected: &types.PlanExpectation{
			Pool:          am.key(poolID),
			Balances:      snap.balances,
			LastRebalance: snap.lastRebalance,
		},
	}

	switch plan.Direction() {
	case types.DirectionInvest:
		actions.SubActions = append(actions.SubActions, types.SubAction{
			Type:   types.SubActionInvest,
			PoolID: poolID,
			Coin:   sdk.Coin{Denom: am.asset, Amount: plan.Invest},
		})
	case types.DirectionDivest:
		actions.SubActions = append(actions.SubActions, types.SubAction{
			Type:   types.SubActionDivest,
			PoolID: poolID,
			Coin:   sdk.Coin{Denom: am.asset, Amount: plan.Divest},
		})
	}

	if plan.Fee.IsPositive() {
		feeCoin := sdk.Coin{Denom: am.asset, Amount: plan.Fee}
		if swap == nil {
			actions.SubActions = append(actions.SubActions, types.SubAction{
				Type:      types.SubActionPayFee,
				PoolID:    poolID,
				Coin:      feeCoin,
				Recipient: caller,
			})
		} else {
			spec := *swap
			if spec.Kind == types.SwapGivenIn {
				spec = spec.WithFirstAmount(plan.Fee)
			}
			actions.SubActions = append(actions.SubActions, types.SubAction{
				Type:   types.SubActionSwap,
				PoolID: poolID,
				Coin:   feeCoin,
				Swap:   &spec,
			})
		}
	}

	actions.SubActions = append(actions.SubActions, types.SubAction{
		Type:   types.SubActionMarkRebalanced,
		PoolID: poolID,
		Coin:   sdk.Coin{Denom: am.asset, Amount: math.ZeroInt()},
	})
	return actions
}

func (am *AssetManager) recordFailure(ctx context.Context, receipt types.RebalanceReceipt, cause error) {
	receipt.Success = false
	receipt.Message = cause.Error()
	if err := am.store.RecordRebalance(ctx, receipt); err != nil {
		am.logger.Error().Err(err).Str("rebalance_id", receipt.Result.RebalanceID).Msg("Failed to record failed rebalance")
	}
}

// errorReason maps an error onto a short, bounded metric label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, types.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, types.ErrSenderNotAssetManager),
		errors.Is(err, types.ErrWrongSwapAsset),
		errors.Is(err, types.ErrInternalBalanceUse):
		return "swap_precondition"
	case errors.Is(err, types.ErrSwapLimitExceeded), errors.Is(err, types.ErrSwapDeadline), errors.Is(err, types.ErrInvalidSwap):
		return "swap_failed"
	case errors.Is(err, types.ErrPoolNotFound), errors.Is(err, types.ErrPoolNotConfigured):
		return "pool_unavailable"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrStaleLedgerState):
		return "stale_state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
