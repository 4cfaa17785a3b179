/*

This file contains the strategy protocol consumed by the vault ledger. Every strategy variant is an
interchangeable implementation of Strategy; the vault treats each call as one opaque operation that either
fully succeeds or fully fails.

*/

package strategy

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

//go:generate mockgen -source=strategy.go -destination=mocks/mock_strategy.go -package=mocks

// Strategy holds vault funds in a yield-bearing position.
type Strategy interface {
	// Address is the custody account of the strategy's funds.
	Address() string

	// Name is a human-readable label.
	Name() string

	// EstimatedTotalAssets returns the canonical value of everything the strategy holds.
	EstimatedTotalAssets(ctx context.Context) (sdkmath.Int, error)

	// WantsInfo returns the assets the strategy accepts and the proportions it wants them in.
	WantsInfo(ctx context.Context) (types.WantsInfo, error)

	// Deposit invests assets the vault has already transferred to Address().
	Deposit(ctx context.Context, assets []types.AssetAmount) error

	// Withdraw sends amount of canonical value back to the vault and returns what was sent.
	Withdraw(ctx context.Context, amount sdkmath.Int) ([]types.AssetAmount, error)

	// Harvest claims rewards into the position and reports to the vault.
	Harvest(ctx context.Context) error
}

// Reporter is the vault entry point a strategy calls after harvesting.
type Reporter interface {
	Report(ctx context.Context, strategy string) (types.ReportResult, error)
}

// Valuer prices asset amounts in canonical units.
type Valuer interface {
	CanonicalValue(ctx context.Context, asset string, amount sdkmath.Int) (sdkmath.Int, error)
}
