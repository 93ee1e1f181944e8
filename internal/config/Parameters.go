/*

This file contains the default parameters for the asset manager.

Pool seeds that leave a percentage blank fall back to DefaultPoolConfig.

*/

package config

import (
	"time"

	"cosmossdk.io/math"

	"github.com/elys-network/assetmanager/internal/types"
)

// DefaultRebalanceCooldown is how long the rebalance fee stays at zero after a successful rebalance.
const DefaultRebalanceCooldown = time.Hour

// DefaultKeeperSchedule runs the keeper every ten minutes.
const DefaultKeeperSchedule = "@every 10m"

// DefaultPoolConfig keeps half of the pool invested and pays callers 1% of the
// distance to target once the invested share leaves [10%, 90%].
var DefaultPoolConfig = types.PoolConfig{
	TargetPercentage:        math.LegacyNewDecWithPrec(50, 2),
	UpperCriticalPercentage: math.LegacyNewDecWithPrec(90, 2),
	LowerCriticalPercentage: math.LegacyNewDecWithPrec(10, 2),
	FeePercentage:           math.LegacyNewDecWithPrec(1, 2),
}
