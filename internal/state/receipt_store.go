// ./internal/state/receipt_store.go
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support

	"github.com/elys-network/assetmanager/internal/types"
)

// RecordRebalance saves the receipt. The pool's last rebalance time is not touched here,
// the ledger moves it in the same transaction that pays the fee.
func (s *PostgresStore) RecordRebalance(ctx context.Context, receipt types.RebalanceReceipt) error {
	result := receipt.Result

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	planJSON, err := json.Marshal(receipt.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal action_plan: %w", err)
	}
	eventsJSON, err := json.Marshal(receipt.SwapEvents)
	if err != nil {
		return fmt.Errorf("failed to marshal swap_events: %w", err)
	}

	var receiptID int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rebalance_receipts (
			rebalance_id, pool_id, asset, caller, direction,
			fee, swapped, success, message,
			action_types, result, action_plan, swap_events, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING receipt_id;`,
		result.RebalanceID, result.PoolID.String(), result.Asset, result.Caller, string(result.Direction),
		amountString(result.Fee), result.Swapped, receipt.Success, receipt.Message,
		pq.Array(receipt.Plan.Types()), resultJSON, planJSON, eventsJSON, receipt.RecordedAt,
	).Scan(&receiptID)
	if err != nil {
		return fmt.Errorf("failed to save rebalance receipt: %w", err)
	}

	s.log.Info().
		Int64("receipt_id", receiptID).
		Str("rebalance_id", result.RebalanceID).
		Str("pool", result.PoolID.String()).
		Bool("success", receipt.Success).
		Msg("Rebalance receipt saved to database")
	return nil
}

func amountString(i math.Int) string {
	if i.IsNil() {
		return "0"
	}
	return i.String()
}
