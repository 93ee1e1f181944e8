/*

This file contains the batch swap types used to pay a rebalance fee in a different asset.

*/

package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
)

// SwapKind selects which side of every swap step is fixed.
type SwapKind int

const (
	// SwapGivenIn fixes the amount sent into each step.
	SwapGivenIn SwapKind = iota
	// SwapGivenOut fixes the amount received from each step.
	SwapGivenOut
)

func (k SwapKind) String() string {
	switch k {
	case SwapGivenIn:
		return "GIVEN_IN"
	case SwapGivenOut:
		return "GIVEN_OUT"
	default:
		return fmt.Sprintf("SwapKind(%d)", int(k))
	}
}

// ParseSwapKind accepts GIVEN_IN / GIVEN_OUT in any case.
func ParseSwapKind(s string) (SwapKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GIVEN_IN", "":
		return SwapGivenIn, nil
	case "GIVEN_OUT":
		return SwapGivenOut, nil
	default:
		return 0, errorsmod.Wrapf(ErrInvalidSwap, "unknown swap kind %q", s)
	}
}

func (k SwapKind) MarshalJSON() ([]byte, error) {
	switch k {
	case SwapGivenIn, SwapGivenOut:
		return json.Marshal(k.String())
	default:
		return nil, errorsmod.Wrapf(ErrInvalidSwap, "unknown swap kind %d", int(k))
	}
}

func (k *SwapKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSwapKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// BatchSwapStep is one hop of a batch swap. A zero Amount on any step after the
// first chains the previous step's computed amount.
type BatchSwapStep struct {
	PoolID        PoolID   `json:"pool_id"`
	AssetInIndex  int      `json:"asset_in_index"`
	AssetOutIndex int      `json:"asset_out_index"`
	Amount        math.Int `json:"amount"`
	UserData      []byte   `json:"user_data,omitempty"`
}

// FundManagement says whose balances a swap draws from and where proceeds go.
type FundManagement struct {
	Sender              string `json:"sender"`
	FromInternalBalance bool   `json:"from_internal_balance"`
	Recipient           string `json:"recipient"`
	ToInternalBalance   bool   `json:"to_internal_balance"`
}

// SwapSpec is a caller-supplied batch swap. Limits are signed per asset: the
// net amount flowing into the vault for Assets[i] must not exceed Limits[i].
type SwapSpec struct {
	Kind     SwapKind        `json:"kind"`
	Swaps    []BatchSwapStep `json:"swaps"`
	Assets   []string        `json:"assets"`
	Funds    FundManagement  `json:"funds"`
	Limits   []math.Int      `json:"limits"`
	Deadline time.Time       `json:"deadline,omitempty"`
}

// Validate checks the structure of the swap, not who is allowed to run it.
func (s SwapSpec) Validate() error {
	switch s.Kind {
	case SwapGivenIn, SwapGivenOut:
	default:
		return errorsmod.Wrapf(ErrInvalidSwap, "unknown swap kind %d", int(s.Kind))
	}
	if len(s.Swaps) == 0 {
		return errorsmod.Wrap(ErrInvalidSwap, "swap has no steps")
	}
	if len(s.Assets) < 2 {
		return errorsmod.Wrap(ErrInvalidSwap, "swap needs at least two assets")
	}
	if len(s.Limits) != len(s.Assets) {
		return errorsmod.Wrapf(ErrInvalidSwap, "got %d limits for %d assets", len(s.Limits), len(s.Assets))
	}
	for i, step := range s.Swaps {
		if step.AssetInIndex < 0 || step.AssetInIndex >= len(s.Assets) ||
			step.AssetOutIndex < 0 || step.AssetOutIndex >= len(s.Assets) {
			return errorsmod.Wrapf(ErrInvalidSwap, "step %d asset index out of range", i)
		}
		if step.AssetInIndex == step.AssetOutIndex {
			return errorsmod.Wrapf(ErrInvalidSwap, "step %d swaps an asset for itself", i)
		}
		if !step.Amount.IsNil() && step.Amount.IsNegative() {
			return errorsmod.Wrapf(ErrInvalidSwap, "step %d has a negative amount", i)
		}
	}
	for i, limit := range s.Limits {
		if limit.IsNil() {
			return errorsmod.Wrapf(ErrInvalidSwap, "limit %d is not set", i)
		}
	}
	if strings.TrimSpace(s.Funds.Recipient) == "" {
		return errorsmod.Wrap(ErrInvalidSwap, "swap recipient is empty")
	}
	return nil
}

// InputAsset is the asset sent into the first step.
func (s SwapSpec) InputAsset() string {
	if len(s.Swaps) == 0 {
		return ""
	}
	idx := s.Swaps[0].AssetInIndex
	if idx < 0 || idx >= len(s.Assets) {
		return ""
	}
	return s.Assets[idx]
}

// WithFirstAmount returns a copy of the swap whose first step amount is replaced.
func (s SwapSpec) WithFirstAmount(amount math.Int) SwapSpec {
	out := s
	out.Swaps = make([]BatchSwapStep, len(s.Swaps))
	copy(out.Swaps, s.Swaps)
	if len(out.Swaps) > 0 {
		out.Swaps[0].Amount = amount
	}
	return out
}

// SwapEvent is emitted by the ledger for every executed swap step.
type SwapEvent struct {
	PoolID    PoolID   `json:"pool_id"`
	TokenIn   string   `json:"token_in"`
	TokenOut  string   `json:"token_out"`
	AmountIn  math.Int `json:"amount_in"`
	AmountOut math.Int `json:"amount_out"`
}
