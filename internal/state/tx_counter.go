/*

This file manages the persistent ledger transaction counter. Every committed action plan
takes the next number inside its own transaction, so ids survive restarts and never repeat.

*/

package state

import (
	"context"
	"database/sql"
	"fmt"
)

const nextTxQuery = `
	UPDATE ledger_tx_counter
	SET current_tx = current_tx + 1,
	    updated_at = CURRENT_TIMESTAMP
	WHERE id = 1
	RETURNING current_tx;`

// nextTxNumber increments the counter within tx and returns the new value.
func nextTxNumber(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	if err := tx.QueryRowContext(ctx, nextTxQuery).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to increment ledger tx counter: %w", err)
	}
	return next, nil
}

// GetLedgerTxCount returns how many action plans the Postgres ledger has committed.
func GetLedgerTxCount(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var current int64
	err := db.QueryRowContext(ctx, `SELECT current_tx FROM ledger_tx_counter WHERE id = 1;`).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get ledger tx count: %w", err)
	}
	return current, nil
}
