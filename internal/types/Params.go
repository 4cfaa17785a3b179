/*

This file contains the configurable parameters of the vault ledger.

*/

package types

import (
	"fmt"
	"time"
)

// ProfitLimitPolicy decides what a report does with profit above the strategy's profitLimitRatio.
type ProfitLimitPolicy string

const (
	// ProfitLimitCarry recognizes profit up to the limit and leaves the rest for the next report.
	ProfitLimitCarry ProfitLimitPolicy = "carry"
	// ProfitLimitRevert fails the report instead.
	ProfitLimitRevert ProfitLimitPolicy = "revert"
)

// VaultParameters holds all tunable scalars of the vault ledger.
type VaultParameters struct {
	RebaseThreshold                uint64            `json:"rebase_threshold" yaml:"rebase_threshold"`                                     // Parts per ten million of supply before a rebase applies.
	TrusteeFeeBps                  uint64            `json:"trustee_fee_bps" yaml:"trustee_fee_bps"`                                       // Share of each positive rebase minted to the treasury.
	RedeemFeeBps                   uint64            `json:"redeem_fee_bps" yaml:"redeem_fee_bps"`                                         // Deducted from every burn and left in the vault.
	MaxTimestampBetweenTwoReported time.Duration     `json:"max_timestamp_between_two_reported" yaml:"max_timestamp_between_two_reported"` // Oldest acceptable strategy report when rebasing (0 disables).
	MaxPriceAge                    time.Duration     `json:"max_price_age" yaml:"max_price_age"`                                           // Oldest acceptable oracle price (0 disables).
	ProfitLimitPolicy              ProfitLimitPolicy `json:"profit_limit_policy" yaml:"profit_limit_policy"`
	DistributeBatchSize            int               `json:"distribute_batch_size" yaml:"distribute_batch_size"` // Ticket holders paid per distribute call (0 = all).
}

// Validate checks the parameters are internally consistent.
func (p VaultParameters) Validate() error {
	if p.TrusteeFeeBps > 10_000 {
		return fmt.Errorf("trustee fee %d bps exceeds 10000", p.TrusteeFeeBps)
	}
	if p.RedeemFeeBps > 10_000 {
		return fmt.Errorf("redeem fee %d bps exceeds 10000", p.RedeemFeeBps)
	}
	if p.MaxTimestampBetweenTwoReported < 0 || p.MaxPriceAge < 0 {
		return fmt.Errorf("staleness bounds must not be negative")
	}
	switch p.ProfitLimitPolicy {
	case ProfitLimitCarry, ProfitLimitRevert:
	default:
		return fmt.Errorf("unknown profit limit policy %q", p.ProfitLimitPolicy)
	}
	if p.DistributeBatchSize < 0 {
		return fmt.Errorf("distribute batch size must not be negative")
	}
	return nil
}

// PlannerParameters tunes how the keeper moves capital between strategies each cycle.
type PlannerParameters struct {
	RebalanceThresholdBps   uint64            `json:"rebalance_threshold_bps" yaml:"rebalance_threshold_bps"`         // Deviation from target, in bps of the target, before a strategy is touched.
	MaxRebalanceBpsPerCycle uint64            `json:"max_rebalance_bps_per_cycle" yaml:"max_rebalance_bps_per_cycle"` // Cap on redeemed value per cycle, in bps of total value (0 = no redeems).
	MinActionValue          string            `json:"min_action_value" yaml:"min_action_value"`                       // Canonical value below which actions are dropped, in whole USD.
	TargetWeights           map[string]uint64 `json:"target_weights" yaml:"target_weights"`                           // Strategy address -> bps of total value; the rest stays liquid.
}

// Validate checks the parameters are internally consistent.
func (p PlannerParameters) Validate() error {
	if p.RebalanceThresholdBps > 10_000 || p.MaxRebalanceBpsPerCycle > 10_000 {
		return fmt.Errorf("planner bps values must not exceed 10000")
	}
	var total uint64
	for strategy, w := range p.TargetWeights {
		if strategy == "" {
			return fmt.Errorf("target weight for an empty strategy address")
		}
		total += w
	}
	if total > 10_000 {
		return fmt.Errorf("target weights sum to %d bps, more than 10000", total)
	}
	return nil
}
