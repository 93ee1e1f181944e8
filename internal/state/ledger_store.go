/*

This file contains the Postgres-backed ledger. Every action plan runs in one transaction:
the rows the plan can touch are locked with SELECT ... FOR UPDATE, loaded into a
vault.LedgerState, the plan is applied in memory and the changed rows are written back.
Only the application of plans serializes. A plan decided from an older read carries
that read in ActionPlan.Expected and is rejected once the locked rows differ from it.

*/

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
	"github.com/elys-network/assetmanager/internal/vault"
)

// PostgresVault implements vault.VaultManager on the ledger_* tables.
type PostgresVault struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ vault.VaultManager = (*PostgresVault)(nil)

// NewPostgresVault wraps an open connection pool, usually state.DB.
func NewPostgresVault(db *sql.DB) (*PostgresVault, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return &PostgresVault{db: db, log: logger.GetForComponent("vault_ledger")}, nil
}

func (v *PostgresVault) GetPoolBalances(ctx context.Context, poolID types.PoolID, asset string) (types.PoolBalances, error) {
	var cash, managed string
	err := v.db.QueryRowContext(ctx,
		`SELECT cash, managed FROM ledger_pool_balances WHERE pool_id = $1 AND asset = $2;`,
		poolID.String(), asset).Scan(&cash, &managed)
	if err == sql.ErrNoRows {
		return types.PoolBalances{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %s has no %s balance", poolID, asset)
	}
	if err != nil {
		return types.PoolBalances{}, fmt.Errorf("failed to load balances of %s: %w", poolID, err)
	}
	return parseBalances(poolID, cash, managed)
}

func (v *PostgresVault) GetLastRebalance(ctx context.Context, poolID types.PoolID, asset string) (time.Time, error) {
	var last time.Time
	err := v.db.QueryRowContext(ctx,
		`SELECT last_rebalance_at FROM pool_rebalances WHERE pool_id = $1 AND asset = $2;`,
		poolID.String(), asset).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last rebalance of %s: %w", poolID, err)
	}
	return last, nil
}

func (v *PostgresVault) RegisterPool(ctx context.Context, poolID types.PoolID, asset string, initial types.PoolBalances) error {
	if err := poolID.Validate(); err != nil {
		return err
	}
	if err := initial.Validate(); err != nil {
		return err
	}
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO ledger_pool_balances (pool_id, asset, cash, managed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, asset) DO NOTHING;`,
		poolID.String(), asset, initial.Cash.String(), initial.Managed.String())
	if err != nil {
		return fmt.Errorf("failed to register pool %s in ledger: %w", poolID, err)
	}
	return nil
}

// AddSwapPool creates or replaces a constant-rate swap pool.
func (v *PostgresVault) AddSwapPool(ctx context.Context, pool vault.SwapPool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO ledger_swap_pools (pool_id, token_a, token_b, rate_ab, reserve_a, reserve_b)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool_id) DO UPDATE SET
			token_a = EXCLUDED.token_a, token_b = EXCLUDED.token_b, rate_ab = EXCLUDED.rate_ab,
			reserve_a = EXCLUDED.reserve_a, reserve_b = EXCLUDED.reserve_b;`,
		pool.PoolID.String(), pool.TokenA, pool.TokenB, pool.RateAB.String(),
		pool.ReserveA.String(), pool.ReserveB.String())
	if err != nil {
		return fmt.Errorf("failed to save swap pool %s: %w", pool.PoolID, err)
	}
	return nil
}

// ExecuteActionPlan applies the plan inside one database transaction.
func (v *PostgresVault) ExecuteActionPlan(ctx context.Context, plan types.ActionPlan) (*types.TransactionResult, error) {
	v.log.Debug().
		Int("actionCount", len(plan.SubActions)).
		Strs("actions", plan.Types()).
		Str("goal", plan.GoalDescription).
		Msg("ExecuteActionPlan: applying plan")

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackUnlessCommitted(tx)

	footprint := vault.PlanFootprint(plan)
	before, err := lockFootprint(ctx, tx, footprint)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	result, err := after.Apply(plan)
	if err != nil {
		v.log.Warn().Err(err).Str("goal", plan.GoalDescription).Msg("ExecuteActionPlan: plan rejected, ledger unchanged")
		return nil, err
	}

	if err := writeBack(ctx, tx, footprint, before, after); err != nil {
		return nil, err
	}

	txNumber, err := nextTxNumber(ctx, tx)
	if err != nil {
		return nil, err
	}
	result.TxID = fmt.Sprintf("pg-%d", txNumber)

	for _, ev := range result.SwapEvents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_swap_events (tx_id, pool_id, token_in, token_out, amount_in, amount_out)
			VALUES ($1, $2, $3, $4, $5, $6);`,
			result.TxID, ev.PoolID.String(), ev.TokenIn, ev.TokenOut, ev.AmountIn.String(), ev.AmountOut.String()); err != nil {
			return nil, fmt.Errorf("failed to record swap event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit action plan: %w", err)
	}

	v.log.Info().
		Str("txId", result.TxID).
		Int("swapEvents", len(result.SwapEvents)).
		Msg("ExecuteActionPlan: plan committed")
	return result, nil
}

// Close leaves the shared pool open; CloseDB owns it.
func (v *PostgresVault) Close() error { return nil }

// lockFootprint loads every row the plan may touch, locking each one. Missing pool
// and swap pool rows are left out so Apply reports them; missing accounts and
// rebalance marks read as zero.
func lockFootprint(ctx context.Context, tx *sql.Tx, fp vault.Footprint) (*vault.LedgerState, error) {
	state := vault.NewLedgerState()

	for _, key := range fp.Pools {
		var cash, managed string
		err := tx.QueryRowContext(ctx, `
			SELECT cash, managed FROM ledger_pool_balances
			WHERE pool_id = $1 AND asset = $2
			FOR UPDATE;`, key.PoolID.String(), key.Asset).Scan(&cash, &managed)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock pool %s: %w", key, err)
		}
		balances, err := parseBalances(key.PoolID, cash, managed)
		if err != nil {
			return nil, err
		}
		state.Pools[key] = balances
	}

	for _, key := range fp.Rebalances {
		var last time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT last_rebalance_at FROM pool_rebalances
			WHERE pool_id = $1 AND asset = $2
			FOR UPDATE;`, key.PoolID.String(), key.Asset).Scan(&last)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock last rebalance of %s: %w", key, err)
		}
		state.LastRebalance[key] = last
	}

	for _, id := range fp.SwapPools {
		var tokenA, tokenB, rate, reserveA, reserveB string
		err := tx.QueryRowContext(ctx, `
			SELECT token_a, token_b, rate_ab, reserve_a, reserve_b FROM ledger_swap_pools
			WHERE pool_id = $1
			FOR UPDATE;`, id.String()).Scan(&tokenA, &tokenB, &rate, &reserveA, &reserveB)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock swap pool %s: %w", id, err)
		}
		pool := vault.SwapPool{PoolID: id, TokenA: tokenA, TokenB: tokenB}
		if pool.RateAB, err = utils.ParseDec(rate); err != nil {
			return nil, fmt.Errorf("swap pool %s rate: %w", id, err)
		}
		if pool.ReserveA, err = utils.ParseNonNegativeInt(reserveA); err != nil {
			return nil, fmt.Errorf("swap pool %s reserve: %w", id, err)
		}
		if pool.ReserveB, err = utils.ParseNonNegativeInt(reserveB); err != nil {
			return nil, fmt.Errorf("swap pool %s reserve: %w", id, err)
		}
		state.SwapPools[id] = pool
	}

	for _, key := range fp.Accounts {
		rows, err := tx.QueryContext(ctx, `
			SELECT internal, balance FROM ledger_accounts
			WHERE account = $1 AND asset = $2
			FOR UPDATE;`, key.Account, key.Asset)
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s/%s: %w", key.Account, key.Asset, err)
		}
		for rows.Next() {
			var internal bool
			var balance string
			if err := rows.Scan(&internal, &balance); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan account %s/%s: %w", key.Account, key.Asset, err)
			}
			amount, err := utils.ParseNonNegativeInt(balance)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("account %s/%s balance: %w", key.Account, key.Asset, err)
			}
			if internal {
				state.Internal[key] = amount
			} else {
				state.Accounts[key] = amount
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error during account iteration: %w", err)
		}
	}
	return state, nil
}

// writeBack persists every footprint row whose value changed, in footprint order.
func writeBack(ctx context.Context, tx *sql.Tx, fp vault.Footprint, before, after *vault.LedgerState) error {
	for _, key := range fp.Pools {
		old, had := before.Pools[key]
		cur, ok := after.Pools[key]
		if !ok || (had && old.Cash.Equal(cur.Cash) && old.Managed.Equal(cur.Managed)) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_pool_balances SET cash = $3, managed = $4, updated_at = CURRENT_TIMESTAMP
			WHERE pool_id = $1 AND asset = $2;`,
			key.PoolID.String(), key.Asset, cur.Cash.String(), cur.Managed.String()); err != nil {
			return fmt.Errorf("failed to update pool %s: %w", key, err)
		}
	}

	for _, key := range fp.Rebalances {
		cur := after.LastRebalanceOf(key)
		if cur.IsZero() || cur.Equal(before.LastRebalanceOf(key)) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pool_rebalances (pool_id, asset, last_rebalance_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (pool_id, asset) DO UPDATE SET last_rebalance_at = EXCLUDED.last_rebalance_at;`,
			key.PoolID.String(), key.Asset, cur); err != nil {
			return fmt.Errorf("failed to update last rebalance of %s: %w", key, err)
		}
	}

	for _, id := range fp.SwapPools {
		old, had := before.SwapPools[id]
		cur, ok := after.SwapPools[id]
		if !ok || (had && old.ReserveA.Equal(cur.ReserveA) && old.ReserveB.Equal(cur.ReserveB)) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_swap_pools SET reserve_a = $2, reserve_b = $3
			WHERE pool_id = $1;`,
			id.String(), cur.ReserveA.String(), cur.ReserveB.String()); err != nil {
			return fmt.Errorf("failed to update swap pool %s: %w", id, err)
		}
	}

	for _, key := range fp.Accounts {
		for _, internal := range []bool{false, true} {
			var old, cur math.Int
			if internal {
				old, cur = before.InternalBalance(key.Account, key.Asset), after.InternalBalance(key.Account, key.Asset)
			} else {
				old, cur = before.AccountBalance(key.Account, key.Asset), after.AccountBalance(key.Account, key.Asset)
			}
			if old.Equal(cur) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_accounts (account, asset, internal, balance)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (account, asset, internal) DO UPDATE
				SET balance = EXCLUDED.balance, updated_at = CURRENT_TIMESTAMP;`,
				key.Account, key.Asset, internal, cur.String()); err != nil {
				return fmt.Errorf("failed to update account %s/%s: %w", key.Account, key.Asset, err)
			}
		}
	}
	return nil
}

func parseBalances(poolID types.PoolID, cash, managed string) (types.PoolBalances, error) {
	c, err := utils.ParseNonNegativeInt(cash)
	if err != nil {
		return types.PoolBalances{}, fmt.Errorf("pool %s cash: %w", poolID, err)
	}
	m, err := utils.ParseNonNegativeInt(managed)
	if err != nil {
		return types.PoolBalances{}, fmt.Errorf("pool %s managed: %w", poolID, err)
	}
	return types.PoolBalances{Cash: c, Managed: m}, nil
}
