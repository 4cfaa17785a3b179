/*

This file contains the asset type which holds all the state the vault needs to value a deposit.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// CanonicalDecimals is the precision of the canonical (USD) unit of account and of the share token.
const CanonicalDecimals = 18

type Asset struct {
	Address   string `json:"address" yaml:"address"`     // e.g., "0xdAC17F958D2ee523a2206206994597C13D831ec7" or "usdt"
	Symbol    string `json:"symbol" yaml:"symbol"`       // e.g., "USDT"
	Decimals  int    `json:"decimals" yaml:"decimals"`   // e.g., 6 means 1000000 = 1 token
	Supported bool   `json:"supported" yaml:"supported"` // Only supported assets may be deposited or lent
}

// AssetAmount pairs an asset identifier with a raw amount in the asset's own decimals.
type AssetAmount struct {
	Asset  string      `json:"asset"`
	Amount sdkmath.Int `json:"amount"`
}

// AssetBalance is a tracked balance together with its canonical value at the time it was read.
type AssetBalance struct {
	Asset          string      `json:"asset"`
	Symbol         string      `json:"symbol"`
	Decimals       int         `json:"decimals"`
	Amount         sdkmath.Int `json:"amount"`
	CanonicalValue sdkmath.Int `json:"canonical_value"`
}
