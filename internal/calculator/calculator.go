/*
Package calculator holds the rebalance decision math of the asset manager: how far a pool's
managed balance is from its target, whether the pool is in a critical state, what fee a
rebalancer earns and how value moves between cash and managed when the pool is rebalanced.

Every function here is pure. Fixed point percentages use math.LegacyDec (18 decimals) and
all multiplications by a percentage round toward zero so a fee is never overcharged.
*/
package calculator

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"github.com/elys-network/assetmanager/internal/types"
)

// BalancedTolerance is the rounding residue below which a pool counts as on target.
var BalancedTolerance = math.OneInt()

// mulDown multiplies an integer amount by a fixed point fraction, truncating.
func mulDown(amount math.Int, pct math.LegacyDec) math.Int {
	return pct.MulInt(amount).TruncateInt()
}

// InvestedPercentage is managed / (cash + managed), or zero for an empty pool.
func InvestedPercentage(balances types.PoolBalances) math.LegacyDec {
	tvl := balances.TVL()
	if !tvl.IsPositive() {
		return math.LegacyZeroDec()
	}
	return math.LegacyNewDecFromInt(balances.Managed).QuoInt(tvl)
}

// IsCritical reports whether the invested percentage lies outside
// [LowerCriticalPercentage, UpperCriticalPercentage].
func IsCritical(balances types.PoolBalances, config types.PoolConfig) bool {
	invested := InvestedPercentage(balances)
	return invested.LT(config.LowerCriticalPercentage) || invested.GT(config.UpperCriticalPercentage)
}

// MaxInvestableBalance is the signed amount that, moved from cash into managed, brings the
// pool exactly to its target. Negative means the pool should divest.
func MaxInvestableBalance(balances types.PoolBalances, config types.PoolConfig) math.Int {
	targetManaged := mulDown(balances.TVL(), config.TargetPercentage)
	return targetManaged.Sub(balances.Managed)
}

// IsBalanced treats a residue of at most one unit as on target.
func IsBalanced(amount math.Int) bool {
	return amount.Abs().LTE(BalancedTolerance)
}

// FeePolicy carries the fee rules that are configured outside a pool's config.
type FeePolicy struct {
	// Cooldown suppresses fees for this long after a successful rebalance. Zero disables it.
	Cooldown time.Duration
}

// RecentlyRebalanced reports whether now is still inside the cool-down that follows last.
func (p FeePolicy) RecentlyRebalanced(last, now time.Time) bool {
	if p.Cooldown <= 0 || last.IsZero() {
		return false
	}
	return now.Before(last.Add(p.Cooldown))
}

// RebalanceFee is the amount paid to whoever rebalances a pool. Rules, in order:
// a non-critical pool pays nothing, a zero fee percentage pays nothing, a pool inside its
// cool-down pays nothing, otherwise the fee is |MaxInvestableBalance| * FeePercentage.
func RebalanceFee(balances types.PoolBalances, config types.PoolConfig, policy FeePolicy, lastRebalance, now time.Time) math.Int {
	if !IsCritical(balances, config) {
		return math.ZeroInt()
	}
	if config.FeePercentage.IsZero() {
		return math.ZeroInt()
	}
	if policy.RecentlyRebalanced(lastRebalance, now) {
		return math.ZeroInt()
	}
	return mulDown(MaxInvestableBalance(balances, config).Abs(), config.FeePercentage)
}

// RebalancePlan is the outcome of PlanRebalance, in pool asset units.
type RebalancePlan struct {
	// Amount is MaxInvestableBalance before any fee adjustment.
	Amount math.Int
	// Fee is paid out of pool cash to the rebalancer.
	Fee math.Int
	// Invest moves cash into managed. Only set when Amount > 0 and the pool is not balanced.
	Invest math.Int
	// Divest moves managed back into cash. Only set when Amount < 0 and the pool is not balanced.
	Divest math.Int
	// After is the projected pool state once the plan is applied.
	After types.PoolBalances
}

// Direction reports which way the plan moves value.
func (p RebalancePlan) Direction() types.RebalanceDirection {
	switch {
	case p.Invest.IsPositive():
		return types.DirectionInvest
	case p.Divest.IsPositive():
		return types.DirectionDivest
	default:
		return types.DirectionNone
	}
}

// PlanRebalance decides the transfers for one rebalance.
//
// The fee leaves the pool, so the target is recomputed on the post-fee TVL: an
// under-invested pool invests Amount - fee*target, an over-invested one divests
// |Amount| + fee*target. Either way the pool lands on target once the fee is paid.
func PlanRebalance(balances types.PoolBalances, config types.PoolConfig, fee math.Int) (RebalancePlan, error) {
	if err := balances.Validate(); err != nil {
		return RebalancePlan{}, err
	}
	if fee.IsNil() || fee.IsNegative() {
		return RebalancePlan{}, errorsmod.Wrap(types.ErrInvalidAmount, "fee must be non-negative")
	}

	amount := MaxInvestableBalance(balances, config)
	plan := RebalancePlan{
		Amount: amount,
		Fee:    fee,
		Invest: math.ZeroInt(),
		Divest: math.ZeroInt(),
	}
	feeAdjustment := mulDown(fee, config.TargetPercentage)

	switch {
	case IsBalanced(amount) && fee.IsZero():
		// within one unit of target and nothing to pay: no transfer
		plan.After = balances
	case amount.IsPositive():
		plan.Invest = amount.Sub(feeAdjustment)
		if plan.Invest.IsNegative() {
			plan.Invest = math.ZeroInt()
		}
		cashOut := plan.Invest.Add(fee)
		if cashOut.GT(balances.Cash) {
			return RebalancePlan{}, errorsmod.Wrapf(types.ErrInsufficientBalance,
				"invest %s plus fee %s exceeds cash %s", plan.Invest, fee, balances.Cash)
		}
		plan.After = types.PoolBalances{
			Cash:    balances.Cash.Sub(cashOut),
			Managed: balances.Managed.Add(plan.Invest),
		}
	case amount.IsNegative():
		plan.Divest = amount.Abs().Add(feeAdjustment)
		if plan.Divest.GT(balances.Managed) {
			return RebalancePlan{}, errorsmod.Wrapf(types.ErrInsufficientBalance,
				"divest %s exceeds managed %s", plan.Divest, balances.Managed)
		}
		cash := balances.Cash.Add(plan.Divest)
		if fee.GT(cash) {
			return RebalancePlan{}, errorsmod.Wrapf(types.ErrInsufficientBalance,
				"fee %s exceeds cash %s after divesting", fee, cash)
		}
		plan.After = types.PoolBalances{
			Cash:    cash.Sub(fee),
			Managed: balances.Managed.Sub(plan.Divest),
		}
	default:
		// RebalanceFee is zero whenever Amount is, so only a caller-supplied fee lands here.
		if fee.GT(balances.Cash) {
			return RebalancePlan{}, errorsmod.Wrapf(types.ErrInsufficientBalance,
				"fee %s exceeds cash %s", fee, balances.Cash)
		}
		plan.After = types.PoolBalances{
			Cash:    balances.Cash.Sub(fee),
			Managed: balances.Managed,
		}
	}
	return plan, nil
}
