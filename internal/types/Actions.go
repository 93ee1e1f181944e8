/*

This file contains the types for ledger actions: the executable steps of a rebalance, and the
results and receipts produced once they are applied.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

// SubActionType defines the specific low-level ledger operations.
type SubActionType string

const (
	SubActionInvest         SubActionType = "INVEST"          // Move pool cash into the managed balance
	SubActionDivest         SubActionType = "DIVEST"          // Move managed balance back into pool cash
	SubActionPayFee         SubActionType = "PAY_FEE"         // Pay pool cash out to an external account
	SubActionSwap           SubActionType = "SWAP"            // Take pool cash and route it through a batch swap
	SubActionUpdateManaged  SubActionType = "UPDATE_MANAGED"  // Overwrite the managed balance with a reported value
	SubActionMarkRebalanced SubActionType = "MARK_REBALANCED" // Record the plan time as the pool's last rebalance
	SubActionNoOp           SubActionType = "NO_OP"           // Placeholder if no action needed for a step
)

// SubAction represents a single, executable step of an action plan.
type SubAction struct {
	Type   SubActionType `json:"type"`
	PoolID PoolID        `json:"pool_id"`

	// Amount for INVEST / DIVEST / PAY_FEE / SWAP (pool cash spent), new managed value for UPDATE_MANAGED
	Coin sdktypes.Coin `json:"coin"`

	// Fields for PAY_FEE
	Recipient string `json:"recipient,omitempty"`

	// Fields for SWAP
	Swap *SwapSpec `json:"swap,omitempty"`
}

// ActionPlan holds a sequence of SubActions that the ledger applies all-or-nothing.
type ActionPlan struct {
	GoalDescription string      `json:"goal_description"`
	SubActions      []SubAction `json:"sub_actions"`

	// Now is the reference time for swap deadlines and MARK_REBALANCED.
	Now time.Time `json:"now"`

	// Expected, when set, is the pool state the plan was computed from. The ledger
	// rejects the plan with ErrStaleLedgerState if the pool moved in the meantime.
	Expected *PlanExpectation `json:"expected,omitempty"`
}

// PlanExpectation pins the balances and last rebalance time of one pool.
type PlanExpectation struct {
	Pool          PoolKey      `json:"pool"`
	Balances      PoolBalances `json:"balances"`
	LastRebalance time.Time    `json:"last_rebalance"`
}

// Types lists the sub-action types of the plan in order.
func (p ActionPlan) Types() []string {
	out := make([]string, 0, len(p.SubActions))
	for _, sa := range p.SubActions {
		out = append(out, string(sa.Type))
	}
	return out
}

// TransactionResult contains the outcome of an executed action plan.
type TransactionResult struct {
	TxID       string       `json:"tx_id"`
	Success    bool         `json:"success"`
	SwapEvents []SwapEvent  `json:"swap_events,omitempty"`
	Balances   PoolBalances `json:"balances"` // balances of the last pool touched, after execution
}

// RebalanceDirection describes which way value moved.
type RebalanceDirection string

const (
	DirectionInvest RebalanceDirection = "invest"
	DirectionDivest RebalanceDirection = "divest"
	DirectionNone   RebalanceDirection = "none"
)

// RebalanceResult is returned to whoever triggered a rebalance.
type RebalanceResult struct {
	RebalanceID string             `json:"rebalance_id"`
	PoolID      PoolID             `json:"pool_id"`
	Asset       string             `json:"asset"`
	Caller      string             `json:"caller"`
	Direction   RebalanceDirection `json:"direction"`
	// Amount is the signed out-of-target amount before fees; positive means invest.
	Amount    sdkmath.Int  `json:"amount"`
	Invested  sdkmath.Int  `json:"invested"`
	Divested  sdkmath.Int  `json:"divested"`
	Fee       sdkmath.Int  `json:"fee"`
	Swapped   bool         `json:"swapped"`
	SwapOut   sdkmath.Int  `json:"swap_out"`
	Before    PoolBalances `json:"before"`
	After     PoolBalances `json:"after"`
	Timestamp time.Time    `json:"timestamp"`
}

// RebalanceReceipt is the persisted record of a rebalance.
type RebalanceReceipt struct {
	ReceiptID  int64           `json:"receipt_id,omitempty"` // Auto-incremented by DB
	Result     RebalanceResult `json:"result"`
	Plan       ActionPlan      `json:"plan"`
	SwapEvents []SwapEvent     `json:"swap_events,omitempty"`
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PoolFeeSummary aggregates the rebalance history of one pool.
type PoolFeeSummary struct {
	PoolID       PoolID      `json:"pool_id"`
	Asset        string      `json:"asset"`
	Rebalances   int64       `json:"rebalances"`
	Successful   int64       `json:"successful"`
	Swapped      int64       `json:"swapped"`
	TotalFees    sdkmath.Int `json:"total_fees"`
	LastRecorded time.Time   `json:"last_recorded"`
}
