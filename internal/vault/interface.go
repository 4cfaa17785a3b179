package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
)

// VaultManager defines the interface for driving the vault ledger from outside the package.
// The keeper runs adjust cycles through it and the web server serves queries and depositor operations.
type VaultManager interface {
	// Summary returns the headline numbers of the ledger in one consistent read.
	Summary(ctx context.Context) (types.VaultSummary, error)

	// GetSupportAssets returns all registered assets.
	GetSupportAssets(ctx context.Context) ([]types.Asset, error)

	// GetStrategies returns the ledger's record of every registered strategy.
	GetStrategies(ctx context.Context) ([]types.StrategyParams, error)

	// Strategy resolves a registered strategy address to its implementation.
	Strategy(ctx context.Context, addr string) (strategy.Strategy, error)

	// TrackedBalances returns the vault's own holdings.
	TrackedBalances(ctx context.Context) ([]types.AssetBalance, error)

	// Params returns the current configuration scalars.
	Params(ctx context.Context) (types.VaultParameters, error)

	// BalanceOf and BufferBalanceOf return an account's shares and pending buffer tickets.
	BalanceOf(ctx context.Context, account string) (sdkmath.Int, error)
	BufferBalanceOf(ctx context.Context, account string) (sdkmath.Int, error)

	// Mint and Burn are the depositor-facing operations.
	Mint(ctx context.Context, sender string, deposits []types.AssetAmount, minSharesOut sdkmath.Int) (sdkmath.Int, error)
	Burn(ctx context.Context, sender string, shares, minOut sdkmath.Int, redeemFeeBps, trusteeFeeBps uint64) (types.BurnResult, error)

	// ReportByKeeper, StartAdjustPosition, Lend, Redeem, EndAdjustPosition, DistributeWhenDistributing and
	// Rebase make up the keeper cycle.
	ReportByKeeper(ctx context.Context, sender string, strategies []string) ([]types.ReportResult, error)
	StartAdjustPosition(ctx context.Context, sender string) (types.AdjustResult, error)
	Lend(ctx context.Context, sender string, strategyAddr string, amounts []types.AssetAmount) (types.LendAction, error)
	Redeem(ctx context.Context, sender string, strategyAddr string, amount, minOut sdkmath.Int) (types.RedeemResult, error)
	EndAdjustPosition(ctx context.Context, sender string) (types.AdjustResult, error)
	DistributeWhenDistributing(ctx context.Context, sender string) (types.DistributeResult, error)
	Rebase(ctx context.Context, sender string, trusteeFeeBps uint64) (types.RebaseResult, error)

	// TotalAssets and ValueOfTrackedTokens are the inputs of a lend plan.
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
	ValueOfTrackedTokens(ctx context.Context) (sdkmath.Int, error)

	// IsDistributing reports whether buffer tickets are still waiting to become shares.
	IsDistributing(ctx context.Context) (bool, error)

	// Export captures the ledger for persistence.
	Export(ctx context.Context) (Genesis, error)
}

var _ VaultManager = (*Vault)(nil)
