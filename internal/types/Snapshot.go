/*

This file contains the result and snapshot types produced by ledger operations and keeper cycles.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultSummary is a read-only view of the ledger at a point in time.
type VaultSummary struct {
	Timestamp               time.Time        `json:"timestamp"`
	TotalAssets             sdkmath.Int      `json:"total_assets"`              // Tracked value + total debt
	TotalDebt               sdkmath.Int      `json:"total_debt"`                // Sum of strategy debt
	TotalValueInStrategies  sdkmath.Int      `json:"total_value_in_strategies"` // Sum of strategies' own estimates
	ValueOfTrackedTokens    sdkmath.Int      `json:"value_of_tracked_tokens"`
	BufferValue             sdkmath.Int      `json:"buffer_value"` // Value waiting in the deposit buffer
	TotalSupply             sdkmath.Int      `json:"total_supply"`
	RebasingCreditsPerToken sdkmath.Int      `json:"rebasing_credits_per_token"`
	NonRebasingSupply       sdkmath.Int      `json:"non_rebasing_supply"`
	BufferTickets           sdkmath.Int      `json:"buffer_tickets"`
	Adjusting               bool             `json:"adjusting"`
	Distributing            bool             `json:"distributing"`
	Assets                  []AssetBalance   `json:"assets"`
	Strategies              []StrategyParams `json:"strategies"`
}

// LendAction is a single lend executed during an adjust cycle.
type LendAction struct {
	Strategy string        `json:"strategy"`
	Assets   []AssetAmount `json:"assets"`
	Value    sdkmath.Int   `json:"value"` // Canonical value received by the strategy
}

// RedeemResult describes a single redeem.
type RedeemResult struct {
	Strategy string        `json:"strategy"`
	Amount   sdkmath.Int   `json:"amount"`
	Received []AssetAmount `json:"received"`
	Value    sdkmath.Int   `json:"value"`
	Loss     sdkmath.Int   `json:"loss"`
}

// AdjustResult is produced by endAdjustPosition.
type AdjustResult struct {
	StartTotalValue sdkmath.Int  `json:"start_total_value"`
	EndTotalValue   sdkmath.Int  `json:"end_total_value"`
	TransferValue   sdkmath.Int  `json:"transfer_value"` // Buffer value admitted, after sharing adjustment losses
	SharesMinted    sdkmath.Int  `json:"shares_minted"`  // Shares minted to the buffer for distribution
	Rebase          RebaseResult `json:"rebase"`
}

// RebaseResult describes one rebase evaluation.
type RebaseResult struct {
	Applied                 bool        `json:"applied"`
	TotalValue              sdkmath.Int `json:"total_value"`
	OldSupply               sdkmath.Int `json:"old_supply"`
	NewSupply               sdkmath.Int `json:"new_supply"`
	TrusteeFee              sdkmath.Int `json:"trustee_fee"`
	RebasingCreditsPerToken sdkmath.Int `json:"rebasing_credits_per_token"`
	Timestamp               time.Time   `json:"timestamp"`
}

// BurnResult describes a redemption of shares.
type BurnResult struct {
	Shares   sdkmath.Int    `json:"shares"`
	Value    sdkmath.Int    `json:"value"`    // Canonical value sent to the holder
	Fee      sdkmath.Int    `json:"fee"`      // Redeem fee kept by the vault
	Assets   []AssetAmount  `json:"assets"`   // Basket sent to the holder
	Redeemed []RedeemResult `json:"redeemed"` // Strategy withdrawals needed to satisfy the burn
}

// DistributeResult describes one distribute call of the deposit buffer.
type DistributeResult struct {
	Holders int         `json:"holders"`
	Shares  sdkmath.Int `json:"shares"`
	Tickets sdkmath.Int `json:"tickets"`
	Done    bool        `json:"done"`
}

// CycleSnapshot is the persisted record of one keeper cycle.
type CycleSnapshot struct {
	CycleNumber uint64         `json:"cycle_number"`
	CycleID     string         `json:"cycle_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    time.Duration  `json:"duration"`
	Before      VaultSummary   `json:"before"`
	After       VaultSummary   `json:"after"`
	Dripped     sdkmath.Int    `json:"dripped"` // rewards released by the dripper before harvesting
	Reports     []ReportResult `json:"reports"`
	Lends       []LendAction   `json:"lends"`
	Adjust      *AdjustResult  `json:"adjust,omitempty"`
	Rebase      *RebaseResult  `json:"rebase,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}
