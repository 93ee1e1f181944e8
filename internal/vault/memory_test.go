package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/assetmanager/internal/types"
)

const (
	testPool    = types.PoolID("0x01")
	testAsset   = "DAI"
	testManager = "asset-manager"
	testKeeper  = "keeper"
)

func coin(amount int64) sdk.Coin {
	return sdk.Coin{Denom: testAsset, Amount: math.NewInt(amount)}
}

func newTestVault(t *testing.T, cash, managed int64) *MemoryVault {
	t.Helper()
	v := NewMemoryVault()
	require.NoError(t, v.RegisterPool(context.Background(), testPool, testAsset, types.NewPoolBalances(cash, managed)))
	return v
}

func requireBalances(t *testing.T, v *MemoryVault, cash, managed int64) {
	t.Helper()
	b, err := v.GetPoolBalances(context.Background(), testPool, testAsset)
	require.NoError(t, err)
	assert.Equal(t, math.NewInt(cash).String(), b.Cash.String(), "cash")
	assert.Equal(t, math.NewInt(managed).String(), b.Managed.String(), "managed")
}

func addSwapPool(t *testing.T, v *MemoryVault, id types.PoolID, a, b, rate string, reserveA, reserveB int64) {
	t.Helper()
	require.NoError(t, v.AddSwapPool(SwapPool{
		PoolID:   id,
		TokenA:   a,
		TokenB:   b,
		RateAB:   math.LegacyMustNewDecFromStr(rate),
		ReserveA: math.NewInt(reserveA),
		ReserveB: math.NewInt(reserveB),
	}))
}

func limits(values ...int64) []math.Int {
	out := make([]math.Int, len(values))
	for i, v := range values {
		out[i] = math.NewInt(v)
	}
	return out
}

func TestMemoryVault_RegisterPool(t *testing.T) {
	v := newTestVault(t, 100, 50)
	requireBalances(t, v, 100, 50)

	// registering again keeps the existing balances
	require.NoError(t, v.RegisterPool(context.Background(), testPool, testAsset, types.NewPoolBalances(1, 1)))
	requireBalances(t, v, 100, 50)

	_, err := v.GetPoolBalances(context.Background(), testPool, "USDC")
	assert.True(t, errors.Is(err, types.ErrPoolNotFound))

	err = v.RegisterPool(context.Background(), "", testAsset, types.NewPoolBalances(0, 0))
	assert.True(t, errors.Is(err, types.ErrPoolNotFound))
}

func TestMemoryVault_InvestDivestPayFee(t *testing.T) {
	v := newTestVault(t, 1000, 0)

	result, err := v.ExecuteActionPlan(context.Background(), types.ActionPlan{
		GoalDescription: "invest",
		SubActions: []types.SubAction{
			{Type: types.SubActionInvest, PoolID: testPool, Coin: coin(475)},
			{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(50), Recipient: testKeeper},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "mem-1", result.TxID)
	assert.Equal(t, "475", result.Balances.Cash.String())
	requireBalances(t, v, 475, 475)
	assert.Equal(t, "50", v.AccountBalance(testKeeper, testAsset).String())

	_, err = v.ExecuteActionPlan(context.Background(), types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionDivest, PoolID: testPool, Coin: coin(75)},
		},
	})
	require.NoError(t, err)
	requireBalances(t, v, 550, 400)
}

func TestMemoryVault_PlanIsAllOrNothing(t *testing.T) {
	v := newTestVault(t, 100, 10)

	_, err := v.ExecuteActionPlan(context.Background(), types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(5), Recipient: testKeeper},
			{Type: types.SubActionInvest, PoolID: testPool, Coin: coin(50)},
			{Type: types.SubActionDivest, PoolID: testPool, Coin: coin(500)},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))

	requireBalances(t, v, 100, 10)
	assert.True(t, v.AccountBalance(testKeeper, testAsset).IsZero())
}

func TestMemoryVault_RejectsMalformedSubActions(t *testing.T) {
	v := newTestVault(t, 100, 0)

	tests := []struct {
		name   string
		action types.SubAction
		target error
	}{
		{"zero invest", types.SubAction{Type: types.SubActionInvest, PoolID: testPool, Coin: coin(0)}, types.ErrInvalidAmount},
		{"unknown type", types.SubAction{Type: "BURN", PoolID: testPool, Coin: coin(1)}, types.ErrInvalidAmount},
		{"fee without recipient", types.SubAction{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(1)}, types.ErrInvalidAmount},
		{"swap without spec", types.SubAction{Type: types.SubActionSwap, PoolID: testPool, Coin: coin(1)}, types.ErrInvalidSwap},
		{"unknown pool", types.SubAction{Type: types.SubActionInvest, PoolID: "0x02", Coin: coin(1)}, types.ErrPoolNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ExecuteActionPlan(context.Background(), types.ActionPlan{SubActions: []types.SubAction{tt.action}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())
		})
	}

	_, err := v.ExecuteActionPlan(context.Background(), types.ActionPlan{})
	assert.Error(t, err)
	requireBalances(t, v, 100, 0)
}

func TestMemoryVault_UpdateManaged(t *testing.T) {
	v := newTestVault(t, 100, 50)

	_, err := v.ExecuteActionPlan(context.Background(), types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionUpdateManaged, PoolID: testPool, Coin: coin(65)},
		},
	})
	require.NoError(t, err)
	requireBalances(t, v, 100, 65)

	_, err = v.ExecuteActionPlan(context.Background(), types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionUpdateManaged, PoolID: testPool, Coin: coin(0)},
		},
	})
	require.NoError(t, err)
	requireBalances(t, v, 100, 0)
}

func swapPlan(spec types.SwapSpec, funding int64, now time.Time) types.ActionPlan {
	return types.ActionPlan{
		GoalDescription: "swap fee",
		Now:             now,
		SubActions: []types.SubAction{
			{Type: types.SubActionSwap, PoolID: testPool, Coin: coin(funding), Swap: &spec},
		},
	}
}

func TestMemoryVault_SwapGivenIn(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	addSwapPool(t, v, "0xswap", "DAI", "USDC", "1", 1000, 1000)

	spec := types.SwapSpec{
		Kind:   types.SwapGivenIn,
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}},
		Assets: []string{"DAI", "USDC"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
		Limits: limits(10, 0),
	}

	result, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 10, time.Now()))
	require.NoError(t, err)
	require.Len(t, result.SwapEvents, 1)

	event := result.SwapEvents[0]
	assert.Equal(t, "DAI", event.TokenIn)
	assert.Equal(t, "USDC", event.TokenOut)
	assert.Equal(t, "10", event.AmountIn.String())
	assert.Equal(t, "10", event.AmountOut.String())

	requireBalances(t, v, 990, 0)
	assert.Equal(t, "10", v.AccountBalance(testKeeper, "USDC").String())
	assert.True(t, v.AccountBalance(testManager, "DAI").IsZero())

	pool, ok := v.SwapPool("0xswap")
	require.True(t, ok)
	assert.Equal(t, "1010", pool.ReserveA.String())
	assert.Equal(t, "990", pool.ReserveB.String())
	assert.Len(t, v.SwapEvents(), 1)
}

func TestMemoryVault_SwapGivenOutRefundsUnspentInput(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	addSwapPool(t, v, "0xswap", "DAI", "USDC", "2", 1000, 1000)

	spec := types.SwapSpec{
		Kind:   types.SwapGivenOut,
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}},
		Assets: []string{"DAI", "USDC"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
		Limits: limits(8, 0),
	}

	result, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 8, time.Now()))
	require.NoError(t, err)
	require.Len(t, result.SwapEvents, 1)
	assert.Equal(t, "5", result.SwapEvents[0].AmountIn.String())

	requireBalances(t, v, 992, 0)
	assert.Equal(t, "10", v.AccountBalance(testKeeper, "USDC").String())
	assert.Equal(t, "3", v.AccountBalance(testKeeper, "DAI").String())
	assert.True(t, v.AccountBalance(testManager, "DAI").IsZero())
}

func TestMemoryVault_ChainedMultihop(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	addSwapPool(t, v, "0xswap1", "DAI", "USDC", "1", 1000, 1000)
	addSwapPool(t, v, "0xswap2", "USDC", "WETH", "0.5", 1000, 1000)

	spec := types.SwapSpec{
		Kind: types.SwapGivenIn,
		Swaps: []types.BatchSwapStep{
			{PoolID: "0xswap1", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)},
			{PoolID: "0xswap2", AssetInIndex: 1, AssetOutIndex: 2, Amount: math.ZeroInt()},
		},
		Assets: []string{"DAI", "USDC", "WETH"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
		Limits: limits(10, 0, -5),
	}

	result, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 10, time.Now()))
	require.NoError(t, err)
	require.Len(t, result.SwapEvents, 2)
	assert.Equal(t, "10", result.SwapEvents[1].AmountIn.String())
	assert.Equal(t, "5", v.AccountBalance(testKeeper, "WETH").String())
	assert.True(t, v.AccountBalance(testKeeper, "USDC").IsZero())
}

func TestMemoryVault_SwapFailuresLeaveLedgerUntouched(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	base := types.SwapSpec{
		Kind:   types.SwapGivenIn,
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}},
		Assets: []string{"DAI", "USDC"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
		Limits: limits(10, 0),
	}

	tests := []struct {
		name   string
		mutate func(s *types.SwapSpec)
		target error
	}{
		{"limit on proceeds", func(s *types.SwapSpec) { s.Limits = limits(10, -11) }, types.ErrSwapLimitExceeded},
		{"limit on input", func(s *types.SwapSpec) { s.Limits = limits(9, 0) }, types.ErrSwapLimitExceeded},
		{"deadline passed", func(s *types.SwapSpec) { s.Deadline = now.Add(-time.Second) }, types.ErrSwapDeadline},
		{"unknown swap pool", func(s *types.SwapSpec) {
			s.Swaps = []types.BatchSwapStep{{PoolID: "0xnone", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}}
		}, types.ErrPoolNotFound},
		{"wrong input asset", func(s *types.SwapSpec) { s.Assets = []string{"USDC", "DAI"} }, types.ErrWrongSwapAsset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVault(t, 1000, 0)
			addSwapPool(t, v, "0xswap", "DAI", "USDC", "1", 1000, 1000)

			spec := base
			spec.Swaps = append([]types.BatchSwapStep(nil), base.Swaps...)
			tt.mutate(&spec)

			_, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 10, now))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())

			requireBalances(t, v, 1000, 0)
			assert.True(t, v.AccountBalance(testManager, "DAI").IsZero())
			assert.Empty(t, v.SwapEvents())
			pool, _ := v.SwapPool("0xswap")
			assert.Equal(t, "1000", pool.ReserveA.String())
		})
	}
}

func TestMemoryVault_SwapReserveExhausted(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	addSwapPool(t, v, "0xswap", "DAI", "USDC", "1", 1000, 5)

	spec := types.SwapSpec{
		Kind:   types.SwapGivenIn,
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}},
		Assets: []string{"DAI", "USDC"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
		Limits: limits(10, 0),
	}
	_, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 10, time.Now()))
	assert.True(t, errors.Is(err, types.ErrInsufficientBalance))
	requireBalances(t, v, 1000, 0)
}

func TestMemoryVault_FromInternalBalance(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	addSwapPool(t, v, "0xswap", "DAI", "USDC", "1", 1000, 1000)
	v.SetInternalBalance(testKeeper, "DAI", math.NewInt(4))

	spec := types.SwapSpec{
		Kind:   types.SwapGivenIn,
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap", AssetInIndex: 0, AssetOutIndex: 1, Amount: math.NewInt(10)}},
		Assets: []string{"DAI", "USDC"},
		Funds:  types.FundManagement{Sender: testKeeper, FromInternalBalance: true, Recipient: testKeeper, ToInternalBalance: true},
		Limits: limits(10, 0),
	}
	_, err := v.ExecuteActionPlan(context.Background(), swapPlan(spec, 10, time.Now()))
	require.NoError(t, err)

	assert.True(t, v.InternalBalance(testKeeper, "DAI").IsZero())
	assert.Equal(t, "10", v.InternalBalance(testKeeper, "USDC").String())
}

func TestMemoryVault_AddSwapPoolValidation(t *testing.T) {
	v := NewMemoryVault()
	err := v.AddSwapPool(SwapPool{PoolID: "0xswap", TokenA: "DAI", TokenB: "DAI", RateAB: math.LegacyOneDec(),
		ReserveA: math.ZeroInt(), ReserveB: math.ZeroInt()})
	assert.True(t, errors.Is(err, types.ErrInvalidSwap))

	addSwapPool(t, v, "0xswap", "DAI", "USDC", "1", 0, 0)
	err = v.AddSwapPool(SwapPool{PoolID: "0xswap", TokenA: "DAI", TokenB: "USDC", RateAB: math.LegacyOneDec(),
		ReserveA: math.ZeroInt(), ReserveB: math.ZeroInt()})
	assert.True(t, errors.Is(err, types.ErrPoolAlreadyRegistered))
}

func TestMemoryVault_CanceledContext(t *testing.T) {
	v := newTestVault(t, 100, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.ExecuteActionPlan(ctx, types.ActionPlan{
		SubActions: []types.SubAction{{Type: types.SubActionInvest, PoolID: testPool, Coin: coin(10)}},
	})
	assert.ErrorIs(t, err, context.Canceled)
	requireBalances(t, v, 100, 0)
}

func TestPlanFootprint(t *testing.T) {
	spec := types.SwapSpec{
		Swaps:  []types.BatchSwapStep{{PoolID: "0xswap"}},
		Assets: []string{"USDC", "DAI"},
		Funds:  types.FundManagement{Sender: testManager, Recipient: testKeeper},
	}
	fp := PlanFootprint(types.ActionPlan{SubActions: []types.SubAction{
		{Type: types.SubActionInvest, PoolID: testPool, Coin: coin(1)},
		{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(1), Recipient: testKeeper},
		{Type: types.SubActionSwap, PoolID: testPool, Coin: coin(1), Swap: &spec},
		{Type: types.SubActionNoOp},
	}})

	assert.Equal(t, []types.PoolKey{{PoolID: testPool, Asset: testAsset}}, fp.Pools)
	assert.Equal(t, []types.PoolID{"0xswap"}, fp.SwapPools)
	assert.Equal(t, []AccountKey{
		{Account: testManager, Asset: "DAI"},
		{Account: testManager, Asset: "USDC"},
		{Account: testKeeper, Asset: "DAI"},
		{Account: testKeeper, Asset: "USDC"},
	}, fp.Accounts)
}

func TestMemoryVault_MarkRebalanced(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	last, err := v.GetLastRebalance(ctx, testPool, testAsset)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	_, err = v.ExecuteActionPlan(ctx, types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(50), Recipient: testKeeper},
			{Type: types.SubActionMarkRebalanced, PoolID: testPool, Coin: coin(0)},
		},
		Now: now,
	})
	require.NoError(t, err)

	last, err = v.GetLastRebalance(ctx, testPool, testAsset)
	require.NoError(t, err)
	assert.True(t, now.Equal(last))

	// a plan without a time cannot move the mark
	_, err = v.ExecuteActionPlan(ctx, types.ActionPlan{
		SubActions: []types.SubAction{{Type: types.SubActionMarkRebalanced, PoolID: testPool, Coin: coin(0)}},
	})
	assert.True(t, errors.Is(err, types.ErrInvalidAmount))
}

func TestMemoryVault_RejectsStalePlan(t *testing.T) {
	v := newTestVault(t, 1000, 0)
	ctx := context.Background()
	key := types.PoolKey{PoolID: testPool, Asset: testAsset}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	feePlan := func() types.ActionPlan {
		return types.ActionPlan{
			SubActions: []types.SubAction{
				{Type: types.SubActionPayFee, PoolID: testPool, Coin: coin(50), Recipient: testKeeper},
				{Type: types.SubActionMarkRebalanced, PoolID: testPool, Coin: coin(0)},
			},
			Now:      now,
			Expected: &types.PlanExpectation{Pool: key, Balances: types.NewPoolBalances(1000, 0)},
		}
	}

	_, err := v.ExecuteActionPlan(ctx, feePlan())
	require.NoError(t, err)
	requireBalances(t, v, 950, 0)

	// the same plan computed from the old snapshot pays nothing the second time
	_, err = v.ExecuteActionPlan(ctx, feePlan())
	assert.True(t, errors.Is(err, types.ErrStaleLedgerState))
	requireBalances(t, v, 950, 0)
	assert.Equal(t, "50", v.AccountBalance(testKeeper, testAsset).String())

	// balances match but the pool rebalanced since
	stale := feePlan()
	stale.Expected.Balances = types.NewPoolBalances(950, 0)
	_, err = v.ExecuteActionPlan(ctx, stale)
	assert.True(t, errors.Is(err, types.ErrStaleLedgerState))

	fresh := feePlan()
	fresh.Expected.Balances = types.NewPoolBalances(950, 0)
	fresh.Expected.LastRebalance = now
	_, err = v.ExecuteActionPlan(ctx, fresh)
	require.NoError(t, err)
	requireBalances(t, v, 900, 0)
}

func TestPlanFootprint_Rebalances(t *testing.T) {
	other := types.PoolKey{PoolID: "0x02", Asset: testAsset}
	fp := PlanFootprint(types.ActionPlan{
		SubActions: []types.SubAction{
			{Type: types.SubActionMarkRebalanced, PoolID: testPool, Coin: coin(0)},
		},
		Expected: &types.PlanExpectation{Pool: other},
	})

	own := types.PoolKey{PoolID: testPool, Asset: testAsset}
	assert.Equal(t, []types.PoolKey{own, other}, fp.Pools)
	assert.Equal(t, []types.PoolKey{own, other}, fp.Rebalances)
	assert.Empty(t, fp.Accounts)
}
