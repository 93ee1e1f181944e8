package vault

import (
	"fmt"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/assetmanager/internal/types"
)

// AccountKey addresses one asset balance of one account.
type AccountKey struct {
	Account string
	Asset   string
}

// SwapPool is a constant-rate pool: one unit of TokenA trades for RateAB units of TokenB.
type SwapPool struct {
	PoolID   types.PoolID
	TokenA   string
	TokenB   string
	RateAB   math.LegacyDec
	ReserveA math.Int
	ReserveB math.Int
}

// Validate checks the static shape of the pool.
func (p SwapPool) Validate() error {
	if err := p.PoolID.Validate(); err != nil {
		return err
	}
	if p.TokenA == "" || p.TokenB == "" || p.TokenA == p.TokenB {
		return errorsmod.Wrapf(types.ErrInvalidSwap, "swap pool %s needs two distinct tokens", p.PoolID)
	}
	if p.RateAB.IsNil() || !p.RateAB.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidSwap, "swap pool %s rate must be positive", p.PoolID)
	}
	if p.ReserveA.IsNil() || p.ReserveB.IsNil() || p.ReserveA.IsNegative() || p.ReserveB.IsNegative() {
		return errorsmod.Wrapf(types.ErrInvalidAmount, "swap pool %s reserves must be non-negative", p.PoolID)
	}
	return nil
}

func (p SwapPool) reserve(token string) math.Int {
	if token == p.TokenA {
		return p.ReserveA
	}
	return p.ReserveB
}

func (p *SwapPool) settle(tokenIn string, amountIn, amountOut math.Int) {
	if tokenIn == p.TokenA {
		p.ReserveA = p.ReserveA.Add(amountIn)
		p.ReserveB = p.ReserveB.Sub(amountOut)
		return
	}
	p.ReserveB = p.ReserveB.Add(amountIn)
	p.ReserveA = p.ReserveA.Sub(amountOut)
}

// quote returns (amountIn, amountOut) for one step. GivenIn rounds the output down,
// GivenOut rounds the required input up.
func (p SwapPool) quote(kind types.SwapKind, tokenIn, tokenOut string, given math.Int) (math.Int, math.Int, error) {
	if !((tokenIn == p.TokenA && tokenOut == p.TokenB) || (tokenIn == p.TokenB && tokenOut == p.TokenA)) {
		return math.Int{}, math.Int{}, errorsmod.Wrapf(types.ErrUnknownAsset,
			"swap pool %s does not trade %s for %s", p.PoolID, tokenIn, tokenOut)
	}
	aToB := tokenIn == p.TokenA

	var amountIn, amountOut math.Int
	switch kind {
	case types.SwapGivenIn:
		amountIn = given
		if aToB {
			amountOut = p.RateAB.MulInt(given).TruncateInt()
		} else {
			amountOut = math.LegacyNewDecFromInt(given).Quo(p.RateAB).TruncateInt()
		}
	case types.SwapGivenOut:
		amountOut = given
		if aToB {
			amountIn = math.LegacyNewDecFromInt(given).Quo(p.RateAB).Ceil().TruncateInt()
		} else {
			amountIn = p.RateAB.MulInt(given).Ceil().TruncateInt()
		}
	default:
		return math.Int{}, math.Int{}, errorsmod.Wrapf(types.ErrInvalidSwap, "unknown swap kind %d", int(kind))
	}

	if amountOut.GT(p.reserve(tokenOut)) {
		return math.Int{}, math.Int{}, errorsmod.Wrapf(types.ErrInsufficientBalance,
			"swap pool %s holds %s %s, step needs %s", p.PoolID, p.reserve(tokenOut), tokenOut, amountOut)
	}
	return amountIn, amountOut, nil
}

// LedgerState is the slice of ledger state an action plan reads and writes.
// Apply mutates it in place; callers that need atomicity apply to a Clone.
type LedgerState struct {
	Pools     map[types.PoolKey]types.PoolBalances
	Accounts  map[AccountKey]math.Int
	Internal  map[AccountKey]math.Int
	SwapPools map[types.PoolID]SwapPool

	// LastRebalance is moved by MARK_REBALANCED, in the same plan that pays the fee.
	LastRebalance map[types.PoolKey]time.Time
}

// NewLedgerState returns an empty state.
func NewLedgerState() *LedgerState {
	return &LedgerState{
		Pools:         make(map[types.PoolKey]types.PoolBalances),
		Accounts:      make(map[AccountKey]math.Int),
		Internal:      make(map[AccountKey]math.Int),
		SwapPools:     make(map[types.PoolID]SwapPool),
		LastRebalance: make(map[types.PoolKey]time.Time),
	}
}

// Clone copies the maps. Amounts are immutable values so a shallow copy of each entry is enough.
func (s *LedgerState) Clone() *LedgerState {
	out := NewLedgerState()
	for k, v := range s.Pools {
		out.Pools[k] = v
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.Internal {
		out.Internal[k] = v
	}
	for k, v := range s.SwapPools {
		out.SwapPools[k] = v
	}
	for k, v := range s.LastRebalance {
		out.LastRebalance[k] = v
	}
	return out
}

// LastRebalanceOf returns the pool's last rebalance time, zero when it never rebalanced.
func (s *LedgerState) LastRebalanceOf(key types.PoolKey) time.Time {
	return s.LastRebalance[key]
}

// checkExpected fails with ErrStaleLedgerState when the pool no longer matches the plan's snapshot.
func (s *LedgerState) checkExpected(expected types.PlanExpectation) error {
	_, balances, err := s.pool(expected.Pool.PoolID, expected.Pool.Asset)
	if err != nil {
		return err
	}
	if !balances.Cash.Equal(expected.Balances.Cash) || !balances.Managed.Equal(expected.Balances.Managed) {
		return errorsmod.Wrapf(types.ErrStaleLedgerState, "%s holds cash %s managed %s, plan expected cash %s managed %s",
			expected.Pool, balances.Cash, balances.Managed, expected.Balances.Cash, expected.Balances.Managed)
	}
	if last := s.LastRebalanceOf(expected.Pool); !last.Equal(expected.LastRebalance) {
		return errorsmod.Wrapf(types.ErrStaleLedgerState, "%s last rebalanced at %s, plan expected %s",
			expected.Pool, last.UTC().Format(time.RFC3339Nano), expected.LastRebalance.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

func (s *LedgerState) balance(m map[AccountKey]math.Int, key AccountKey) math.Int {
	if v, ok := m[key]; ok && !v.IsNil() {
		return v
	}
	return math.ZeroInt()
}

// AccountBalance returns the external balance, zero when unknown.
func (s *LedgerState) AccountBalance(account, asset string) math.Int {
	return s.balance(s.Accounts, AccountKey{Account: account, Asset: asset})
}

// InternalBalance returns the balance held for the account inside the vault.
func (s *LedgerState) InternalBalance(account, asset string) math.Int {
	return s.balance(s.Internal, AccountKey{Account: account, Asset: asset})
}

func (s *LedgerState) credit(internal bool, account, asset string, amount math.Int) {
	key := AccountKey{Account: account, Asset: asset}
	if internal {
		s.Internal[key] = s.balance(s.Internal, key).Add(amount)
		return
	}
	s.Accounts[key] = s.balance(s.Accounts, key).Add(amount)
}

// debit draws from internal balance first when allowed, then from the external account.
func (s *LedgerState) debit(fromInternal bool, account, asset string, amount math.Int) error {
	key := AccountKey{Account: account, Asset: asset}
	remaining := amount
	if fromInternal {
		internal := s.balance(s.Internal, key)
		used := math.MinInt(internal, remaining)
		s.Internal[key] = internal.Sub(used)
		remaining = remaining.Sub(used)
	}
	if remaining.IsZero() {
		return nil
	}
	external := s.balance(s.Accounts, key)
	if external.LT(remaining) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance,
			"%s holds %s %s, needs %s", account, external, asset, remaining)
	}
	s.Accounts[key] = external.Sub(remaining)
	return nil
}

func (s *LedgerState) pool(poolID types.PoolID, asset string) (types.PoolKey, types.PoolBalances, error) {
	key := types.PoolKey{PoolID: poolID, Asset: asset}
	balances, ok := s.Pools[key]
	if !ok {
		return key, types.PoolBalances{}, errorsmod.Wrapf(types.ErrPoolNotFound, "%s", key)
	}
	return key, balances, nil
}

// Apply executes every sub-action of the plan in order against the state.
// On error the state may be partially modified.
func (s *LedgerState) Apply(plan types.ActionPlan) (*types.TransactionResult, error) {
	if len(plan.SubActions) == 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidAmount, "no sub-actions provided for execution")
	}

	if plan.Expected != nil {
		if err := s.checkExpected(*plan.Expected); err != nil {
			return nil, err
		}
	}

	result := &types.TransactionResult{}
	for i, action := range plan.SubActions {
		if err := validateSubAction(action); err != nil {
			return nil, errorsmod.Wrapf(err, "sub action %d", i)
		}
		if action.Type == types.SubActionNoOp {
			continue
		}

		key, balances, err := s.pool(action.PoolID, action.Coin.Denom)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "sub action %d", i)
		}
		amount := action.Coin.Amount

		switch action.Type {
		case types.SubActionInvest:
			if balances.Cash.LT(amount) {
				return nil, errorsmod.Wrapf(types.ErrInsufficientBalance,
					"sub action %d: invest %s exceeds cash %s", i, amount, balances.Cash)
			}
			balances.Cash = balances.Cash.Sub(amount)
			balances.Managed = balances.Managed.Add(amount)

		case types.SubActionDivest:
			if balances.Managed.LT(amount) {
				return nil, errorsmod.Wrapf(types.ErrInsufficientBalance,
					"sub action %d: divest %s exceeds managed %s", i, amount, balances.Managed)
			}
			balances.Managed = balances.Managed.Sub(amount)
			balances.Cash = balances.Cash.Add(amount)

		case types.SubActionPayFee:
			if balances.Cash.LT(amount) {
				return nil, errorsmod.Wrapf(types.ErrInsufficientBalance,
					"sub action %d: fee %s exceeds cash %s", i, amount, balances.Cash)
			}
			balances.Cash = balances.Cash.Sub(amount)
			s.credit(false, action.Recipient, action.Coin.Denom, amount)

		case types.SubActionSwap:
			if balances.Cash.LT(amount) {
				return nil, errorsmod.Wrapf(types.ErrInsufficientBalance,
					"sub action %d: swap funding %s exceeds cash %s", i, amount, balances.Cash)
			}
			balances.Cash = balances.Cash.Sub(amount)
			s.credit(false, action.Swap.Funds.Sender, action.Coin.Denom, amount)
			events, err := s.batchSwap(*action.Swap, action.Coin, plan)
			if err != nil {
				return nil, errorsmod.Wrapf(err, "sub action %d", i)
			}
			result.SwapEvents = append(result.SwapEvents, events...)

		case types.SubActionUpdateManaged:
			balances.Managed = amount

		case types.SubActionMarkRebalanced:
			if plan.Now.IsZero() {
				return nil, errorsmod.Wrapf(types.ErrInvalidAmount, "sub action %d: plan has no time to record", i)
			}
			s.LastRebalance[key] = plan.Now
		}

		s.Pools[key] = balances
		result.Balances = balances
	}

	result.Success = true
	return result, nil
}

func validateSubAction(action types.SubAction) error {
	switch action.Type {
	case types.SubActionNoOp:
		return nil
	case types.SubActionInvest, types.SubActionDivest, types.SubActionPayFee, types.SubActionSwap,
		types.SubActionUpdateManaged, types.SubActionMarkRebalanced:
	default:
		return errorsmod.Wrapf(types.ErrInvalidAmount, "unknown sub action type %q", action.Type)
	}
	if err := action.PoolID.Validate(); err != nil {
		return err
	}
	if err := action.Coin.Validate(); err != nil {
		return errorsmod.Wrap(types.ErrInvalidAmount, err.Error())
	}
	if action.Type != types.SubActionUpdateManaged && action.Type != types.SubActionMarkRebalanced && !action.Coin.Amount.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidAmount, "%s amount must be positive", action.Type)
	}
	switch action.Type {
	case types.SubActionPayFee:
		if action.Recipient == "" {
			return errorsmod.Wrap(types.ErrInvalidAmount, "fee recipient is empty")
		}
	case types.SubActionSwap:
		if action.Swap == nil {
			return errorsmod.Wrap(types.ErrInvalidSwap, "swap sub action carries no swap")
		}
		if err := action.Swap.Validate(); err != nil {
			return err
		}
		if action.Swap.InputAsset() != action.Coin.Denom {
			return errorsmod.Wrapf(types.ErrWrongSwapAsset, "swap input %s does not match funding %s",
				action.Swap.InputAsset(), action.Coin.Denom)
		}
	}
	return nil
}

// batchSwap runs the steps, checks limits and settles net deltas between the sender and
// the recipient. The sender was credited with funding beforehand; any part of it the
// swap does not consume is forwarded to the recipient.
func (s *LedgerState) batchSwap(spec types.SwapSpec, funding sdk.Coin, plan types.ActionPlan) ([]types.SwapEvent, error) {
	if !spec.Deadline.IsZero() && plan.Now.After(spec.Deadline) {
		return nil, errorsmod.Wrapf(types.ErrSwapDeadline, "deadline %s passed at %s",
			spec.Deadline.UTC().Format(time.RFC3339), plan.Now.UTC().Format(time.RFC3339))
	}
	if spec.Swaps[0].Amount.IsNil() || !spec.Swaps[0].Amount.IsPositive() {
		return nil, errorsmod.Wrap(types.ErrInvalidSwap, "first swap step has no amount")
	}

	deltas := make([]math.Int, len(spec.Assets))
	for i := range deltas {
		deltas[i] = math.ZeroInt()
	}
	events := make([]types.SwapEvent, 0, len(spec.Swaps))

	var previousAmount math.Int
	var previousToken string
	for i, step := range spec.Swaps {
		tokenIn := spec.Assets[step.AssetInIndex]
		tokenOut := spec.Assets[step.AssetOutIndex]

		given := step.Amount
		if given.IsNil() || given.IsZero() {
			// chained step: the previous step's result feeds this one
			chainedToken := tokenIn
			if spec.Kind == types.SwapGivenOut {
				chainedToken = tokenOut
			}
			if chainedToken != previousToken {
				return nil, errorsmod.Wrapf(types.ErrInvalidSwap, "step %d is a malformed multihop", i)
			}
			given = previousAmount
		}

		pool, ok := s.SwapPools[step.PoolID]
		if !ok {
			return nil, errorsmod.Wrapf(types.ErrPoolNotFound, "swap pool %s", step.PoolID)
		}
		amountIn, amountOut, err := pool.quote(spec.Kind, tokenIn, tokenOut, given)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "step %d", i)
		}
		pool.settle(tokenIn, amountIn, amountOut)
		s.SwapPools[step.PoolID] = pool

		deltas[step.AssetInIndex] = deltas[step.AssetInIndex].Add(amountIn)
		deltas[step.AssetOutIndex] = deltas[step.AssetOutIndex].Sub(amountOut)
		events = append(events, types.SwapEvent{
			PoolID:    step.PoolID,
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			AmountIn:  amountIn,
			AmountOut: amountOut,
		})

		if spec.Kind == types.SwapGivenIn {
			previousAmount, previousToken = amountOut, tokenOut
		} else {
			previousAmount, previousToken = amountIn, tokenIn
		}
	}

	for i, delta := range deltas {
		if delta.GT(spec.Limits[i]) {
			return nil, errorsmod.Wrapf(types.ErrSwapLimitExceeded,
				"%s: net %s exceeds limit %s", spec.Assets[i], delta, spec.Limits[i])
		}
	}

	inputIdx := spec.Swaps[0].AssetInIndex
	if deltas[inputIdx].GT(funding.Amount) {
		return nil, errorsmod.Wrapf(types.ErrSwapLimitExceeded,
			"swap needs %s %s, only %s was funded", deltas[inputIdx], funding.Denom, funding.Amount)
	}

	for i, delta := range deltas {
		switch delta.Sign() {
		case 1:
			if err := s.debit(spec.Funds.FromInternalBalance, spec.Funds.Sender, spec.Assets[i], delta); err != nil {
				return nil, err
			}
		case -1:
			s.credit(spec.Funds.ToInternalBalance, spec.Funds.Recipient, spec.Assets[i], delta.Neg())
		}
	}

	if unspent := funding.Amount.Sub(math.MaxInt(deltas[inputIdx], math.ZeroInt())); unspent.IsPositive() {
		if err := s.debit(false, spec.Funds.Sender, funding.Denom, unspent); err != nil {
			return nil, fmt.Errorf("refunding unspent swap input: %w", err)
		}
		s.credit(spec.Funds.ToInternalBalance, spec.Funds.Recipient, funding.Denom, unspent)
	}
	return events, nil
}

// Footprint lists every ledger entry a plan can touch, so a store can lock and load
// exactly those rows before applying it.
type Footprint struct {
	Pools     []types.PoolKey
	SwapPools []types.PoolID
	Accounts  []AccountKey

	// Rebalances are the pools whose last rebalance time the plan reads or moves.
	Rebalances []types.PoolKey
}

// PlanFootprint collects the footprint of a plan in a stable order.
func PlanFootprint(plan types.ActionPlan) Footprint {
	pools := make(map[types.PoolKey]struct{})
	swapPools := make(map[types.PoolID]struct{})
	accounts := make(map[AccountKey]struct{})
	rebalances := make(map[types.PoolKey]struct{})

	if plan.Expected != nil {
		pools[plan.Expected.Pool] = struct{}{}
		rebalances[plan.Expected.Pool] = struct{}{}
	}

	for _, action := range plan.SubActions {
		if action.Type == types.SubActionNoOp {
			continue
		}
		key := types.PoolKey{PoolID: action.PoolID, Asset: action.Coin.Denom}
		pools[key] = struct{}{}
		if action.Type == types.SubActionMarkRebalanced {
			rebalances[key] = struct{}{}
		}
		if action.Type == types.SubActionPayFee {
			accounts[AccountKey{Account: action.Recipient, Asset: action.Coin.Denom}] = struct{}{}
		}
		if action.Type == types.SubActionSwap && action.Swap != nil {
			for _, step := range action.Swap.Swaps {
				swapPools[step.PoolID] = struct{}{}
			}
			for _, asset := range action.Swap.Assets {
				accounts[AccountKey{Account: action.Swap.Funds.Sender, Asset: asset}] = struct{}{}
				accounts[AccountKey{Account: action.Swap.Funds.Recipient, Asset: asset}] = struct{}{}
			}
		}
	}

	fp := Footprint{}
	for k := range pools {
		fp.Pools = append(fp.Pools, k)
	}
	for k := range swapPools {
		fp.SwapPools = append(fp.SwapPools, k)
	}
	for k := range accounts {
		fp.Accounts = append(fp.Accounts, k)
	}
	for k := range rebalances {
		fp.Rebalances = append(fp.Rebalances, k)
	}
	sort.Slice(fp.Pools, func(i, j int) bool { return fp.Pools[i].String() < fp.Pools[j].String() })
	sort.Slice(fp.Rebalances, func(i, j int) bool { return fp.Rebalances[i].String() < fp.Rebalances[j].String() })
	sort.Slice(fp.SwapPools, func(i, j int) bool { return fp.SwapPools[i] < fp.SwapPools[j] })
	sort.Slice(fp.Accounts, func(i, j int) bool {
		if fp.Accounts[i].Account != fp.Accounts[j].Account {
			return fp.Accounts[i].Account < fp.Accounts[j].Account
		}
		return fp.Accounts[i].Asset < fp.Accounts[j].Asset
	})
	return fp
}
