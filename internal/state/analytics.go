package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support

	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
)

const maxReceiptLimit = 1000

// GetRecentReceipts retrieves the latest receipts, newest first. A limit outside
// (0, 1000] is treated as 1000.
func (s *PostgresStore) GetRecentReceipts(ctx context.Context, limit int) ([]types.RebalanceReceipt, error) {
	if limit <= 0 || limit > maxReceiptLimit {
		limit = maxReceiptLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_id, success, message, action_types, result, action_plan, swap_events, recorded_at
		FROM rebalance_receipts
		ORDER BY receipt_id DESC
		LIMIT $1;`, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to query recent receipts")
		return nil, fmt.Errorf("failed to query recent receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceReceipt
	for rows.Next() {
		var (
			receipt                          types.RebalanceReceipt
			message                          sql.NullString
			actionTypes                      []string
			resultJSON, planJSON, eventsJSON []byte
		)
		if err := rows.Scan(
			&receipt.ReceiptID, &receipt.Success, &message, pq.Array(&actionTypes),
			&resultJSON, &planJSON, &eventsJSON, &receipt.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipt.Message = message.String

		if err := unmarshalReceiptFields(&receipt, resultJSON, planJSON, eventsJSON); err != nil {
			s.log.Error().Err(err).Int64("receipt_id", receipt.ReceiptID).Msg("Failed to unmarshal JSON fields for receipt")
			continue // Skip this row and continue with others
		}
		if len(receipt.Plan.SubActions) != len(actionTypes) {
			s.log.Warn().Int64("receipt_id", receipt.ReceiptID).Strs("action_types", actionTypes).Msg("Receipt plan does not match its action types")
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	s.log.Debug().Int("count", len(receipts)).Int("limit", limit).Msg("Retrieved recent receipts")
	return receipts, nil
}

func unmarshalReceiptFields(receipt *types.RebalanceReceipt, resultJSON, planJSON, eventsJSON []byte) error {
	if err := json.Unmarshal(resultJSON, &receipt.Result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &receipt.Plan); err != nil {
			return fmt.Errorf("failed to unmarshal action plan: %w", err)
		}
	}
	if len(eventsJSON) > 0 && string(eventsJSON) != "null" {
		if err := json.Unmarshal(eventsJSON, &receipt.SwapEvents); err != nil {
			return fmt.Errorf("failed to unmarshal swap events: %w", err)
		}
	}
	return nil
}

// GetFeeSummary aggregates the receipt history per pool.
func (s *PostgresStore) GetFeeSummary(ctx context.Context) ([]types.PoolFeeSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			pool_id,
			asset,
			COUNT(*) AS rebalances,
			COUNT(*) FILTER (WHERE success) AS successful,
			COUNT(*) FILTER (WHERE success AND swapped) AS swapped,
			COALESCE(SUM(fee) FILTER (WHERE success), 0)::TEXT AS total_fees,
			MAX(recorded_at) AS last_recorded
		FROM rebalance_receipts
		GROUP BY pool_id, asset
		ORDER BY pool_id, asset;`)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee summary: %w", err)
	}
	defer rows.Close()

	var out []types.PoolFeeSummary
	for rows.Next() {
		var (
			sum       types.PoolFeeSummary
			poolID    string
			totalFees string
			last      time.Time
		)
		if err := rows.Scan(&poolID, &sum.Asset, &sum.Rebalances, &sum.Successful, &sum.Swapped, &totalFees, &last); err != nil {
			return nil, fmt.Errorf("failed to scan fee summary row: %w", err)
		}
		sum.PoolID = types.PoolID(poolID)
		sum.LastRecorded = last
		if sum.TotalFees, err = utils.ParseNonNegativeInt(totalFees); err != nil {
			return nil, fmt.Errorf("pool %s total fees: %w", poolID, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	s.log.Debug().Int("pools", len(out)).Msg("Retrieved fee summary")
	return out, nil
}
