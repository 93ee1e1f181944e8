package vault

import (
	"context"
	"time"

	"github.com/elys-network/assetmanager/internal/types"
)

// VaultManager defines the interface for interacting with the custodial ledger.
// This interface abstracts away where pool balances live, allowing for different
// implementations (in-memory, Postgres).
type VaultManager interface {
	// GetPoolBalances returns the current cash/managed split of one asset in one pool.
	GetPoolBalances(ctx context.Context, poolID types.PoolID, asset string) (types.PoolBalances, error)

	// GetLastRebalance returns when the pool last rebalanced, zero if it never did.
	GetLastRebalance(ctx context.Context, poolID types.PoolID, asset string) (time.Time, error)

	// RegisterPool creates the pool's ledger entry with the given balances if it does not exist yet.
	RegisterPool(ctx context.Context, poolID types.PoolID, asset string, initial types.PoolBalances) error

	// ExecuteActionPlan applies every sub-action of the plan or none of them.
	ExecuteActionPlan(ctx context.Context, plan types.ActionPlan) (*types.TransactionResult, error)

	// Close cleans up any resources used by the vault manager.
	Close() error
}
