/*

This is a custom type for pools which contains all the state needed for rebalancing a pool's
managed balance against its configured target.

*/

package types

import (
	"strings"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
)

// PoolID identifies a pool registered with the vault, e.g. "0x5c6e...0001".
type PoolID string

func (id PoolID) String() string { return string(id) }

// Validate rejects empty or whitespace-only ids.
func (id PoolID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return errorsmod.Wrap(ErrPoolNotFound, "pool id cannot be empty")
	}
	return nil
}

// PoolKey is the unit of serialization for mutating operations.
type PoolKey struct {
	PoolID PoolID `json:"pool_id"`
	Asset  string `json:"asset"`
}

func (k PoolKey) String() string { return string(k.PoolID) + "/" + k.Asset }

// PoolConfig is set by a pool's controller and replaced wholesale on every update.
// All percentages are 18-decimal fixed point fractions on a 0..1 scale.
type PoolConfig struct {
	TargetPercentage        math.LegacyDec `json:"target_percentage"`
	UpperCriticalPercentage math.LegacyDec `json:"upper_critical_percentage"`
	LowerCriticalPercentage math.LegacyDec `json:"lower_critical_percentage"`
	FeePercentage           math.LegacyDec `json:"fee_percentage"`
}

// Validate checks ranges and threshold ordering. Values are never clamped.
func (c PoolConfig) Validate() error {
	fields := []struct {
		name  string
		value math.LegacyDec
	}{
		{"target_percentage", c.TargetPercentage},
		{"upper_critical_percentage", c.UpperCriticalPercentage},
		{"lower_critical_percentage", c.LowerCriticalPercentage},
		{"fee_percentage", c.FeePercentage},
	}
	for _, f := range fields {
		if f.value.IsNil() {
			return errorsmod.Wrapf(ErrInvalidPoolConfig, "%s is not set", f.name)
		}
		if f.value.IsNegative() || f.value.GT(math.LegacyOneDec()) {
			return errorsmod.Wrapf(ErrInvalidPoolConfig, "%s %s is outside [0, 1]", f.name, f.value)
		}
	}
	if c.LowerCriticalPercentage.GT(c.TargetPercentage) {
		return errorsmod.Wrapf(ErrInvalidPoolConfig, "lower critical %s is above target %s",
			c.LowerCriticalPercentage, c.TargetPercentage)
	}
	if c.TargetPercentage.GT(c.UpperCriticalPercentage) {
		return errorsmod.Wrapf(ErrInvalidPoolConfig, "target %s is above upper critical %s",
			c.TargetPercentage, c.UpperCriticalPercentage)
	}
	return nil
}

// PoolBalances is the cash/managed split of one asset in one pool, as observed on the ledger.
type PoolBalances struct {
	Cash    math.Int `json:"cash"`
	Managed math.Int `json:"managed"`
}

// NewPoolBalances builds balances from raw integer amounts.
func NewPoolBalances(cash, managed int64) PoolBalances {
	return PoolBalances{Cash: math.NewInt(cash), Managed: math.NewInt(managed)}
}

// TVL is the total value locked for the asset in the pool.
func (b PoolBalances) TVL() math.Int {
	return b.Cash.Add(b.Managed)
}

// Validate rejects nil or negative amounts.
func (b PoolBalances) Validate() error {
	if b.Cash.IsNil() || b.Managed.IsNil() {
		return errorsmod.Wrap(ErrInvalidAmount, "pool balances are not set")
	}
	if b.Cash.IsNegative() || b.Managed.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "negative pool balance cash=%s managed=%s", b.Cash, b.Managed)
	}
	return nil
}

// PoolInfo is the registration record of a pool with this asset manager.
type PoolInfo struct {
	PoolID     PoolID      `json:"pool_id"`
	Asset      string      `json:"asset"`
	Controller string      `json:"controller"`
	Config     *PoolConfig `json:"config,omitempty"`
}
