/*

This file contains the default parameters of the vault ledger and of the keeper's lend planner.

They are the baseline every deployment starts from; the vault file only lists the values it overrides.
Each value is chosen for a vault holding stablecoins worth a few million dollars.

*/

package config

import (
	"time"

	"github.com/elys-network/pegvault/internal/types"
)

// DefaultVaultParameters provides the baseline configuration scalars of the vault ledger.
var DefaultVaultParameters = types.VaultParameters{
	RebaseThreshold: 10, // Rebase once value and supply differ by more than 0.0001%.
	// Rationale: Small enough that holders see yield every cycle, large enough that
	// rounding noise of a few wei never triggers a supply change.

	TrusteeFeeBps: 1000, // 10% of every positive rebase goes to the treasury.
	// Rationale: Pays for keeper operations. Negative rebases carry no fee.

	RedeemFeeBps: 0, // No exit fee by default.
	// Rationale: Stablecoin strategies exit cheaply. Deployments with illiquid strategies
	// should raise it so leavers pay for the slippage they cause.

	MaxTimestampBetweenTwoReported: 24 * time.Hour, // A strategy with debt must report at least daily.
	// Rationale: The keeper reports every cycle. A day without a report means the keeper
	// or the strategy is broken and the total value can no longer be trusted.

	MaxPriceAge: time.Hour, // Refuse to value assets with an oracle price older than an hour.
	// Rationale: Stablecoin prices move little, but a frozen feed during a depeg is exactly
	// the moment valuation must stop.

	ProfitLimitPolicy: types.ProfitLimitCarry, // Recognize capped profit now and the rest on later reports.
	// Rationale: Reverting a report blocks the keeper cycle. Carrying smooths an outsized
	// harvest over several rebases instead.

	DistributeBatchSize: 100, // Pay out 100 buffer ticket holders per distribute call.
	// Rationale: Bounds the time the ledger lock is held when many depositors wait.
}

// DefaultPlannerParameters provides the baseline parameters of the keeper's lend planner.
// Target weights are deployment specific and always come from the vault file.
var DefaultPlannerParameters = types.PlannerParameters{
	RebalanceThresholdBps: 500, // Touch a strategy only when it deviates 5% from its target.
	// Rationale: Each lend or redeem costs slippage. Small deviations are cheaper to carry.

	MaxRebalanceBpsPerCycle: 1000, // Redeem at most 10% of the vault per cycle.
	// Rationale: Large exits move pool prices. Spreading them over cycles limits the impact.

	MinActionValue: "10", // Drop lends and redeems worth less than $10.
	// Rationale: Below this the swap and accounting costs exceed any allocation benefit.
}
