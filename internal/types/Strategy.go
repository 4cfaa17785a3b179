/*

This file contains the types the vault keeps for every registered strategy.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// StrategyParams is the ledger's own record of a strategy. TotalDebt is changed only by lend, redeem and report.
type StrategyParams struct {
	Address          string      `json:"address"`
	Name             string      `json:"name"`
	TotalDebt        sdkmath.Int `json:"total_debt"`         // Canonical value lent to the strategy
	ProfitLimitRatio uint64      `json:"profit_limit_ratio"` // Max recognized profit per report, in bps of debt (0 = unbounded)
	LossLimitRatio   uint64      `json:"loss_limit_ratio"`   // Max tolerated loss per redeem/report, in bps (0 = unbounded)
	LastReport       time.Time   `json:"last_report"`
	Enabled          bool        `json:"enabled"`
}

// ReportResult describes what a single report recognized.
type ReportResult struct {
	Strategy       string      `json:"strategy"`
	PreviousDebt   sdkmath.Int `json:"previous_debt"`
	EstimatedValue sdkmath.Int `json:"estimated_value"`
	Gain           sdkmath.Int `json:"gain"`            // Recognized gain
	Loss           sdkmath.Int `json:"loss"`            // Recognized loss
	CarriedForward sdkmath.Int `json:"carried_forward"` // Gain left unrecognized by the profit limit
	NewDebt        sdkmath.Int `json:"new_debt"`
}

// WantsInfo is what a strategy asks to be funded with, and in which proportions.
type WantsInfo struct {
	Assets []string `json:"assets"`
	Ratios []uint64 `json:"ratios"`
}

// Contains reports whether asset is one of the wanted assets.
func (w WantsInfo) Contains(asset string) bool {
	for _, a := range w.Assets {
		if a == asset {
			return true
		}
	}
	return false
}
