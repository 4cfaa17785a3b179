/*

This file contains the read-only views of the ledger. All of them take the read lock and are rejected when
called back from inside a running operation.

*/

package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
)

// TotalAssets is the vault's total value: tracked assets plus strategy debt, excluding the buffer.
func (v *Vault) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	var total sdkmath.Int
	err := v.query(ctx, "total_assets", func(ctx context.Context) (err error) {
		total, err = v.totalValue(ctx)
		return err
	})
	return total, err
}

// TotalDebt is the sum of all strategy debt.
func (v *Vault) TotalDebt(ctx context.Context) (sdkmath.Int, error) {
	var total sdkmath.Int
	err := v.query(ctx, "total_debt", func(ctx context.Context) error {
		total = v.totalDebt
		return nil
	})
	return total, err
}

// TotalValueInStrategies sums the strategies' own estimates, which may differ from their recorded debt until
// the next report.
func (v *Vault) TotalValueInStrategies(ctx context.Context) (sdkmath.Int, error) {
	var total sdkmath.Int
	err := v.query(ctx, "total_value_in_strategies", func(ctx context.Context) (err error) {
		total, err = v.valueInStrategies(ctx)
		return err
	})
	return total, err
}

func (v *Vault) valueInStrategies(ctx context.Context) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, addr := range v.sortedStrategies() {
		estimated, err := v.ext(v.strategies[addr]).EstimatedTotalAssets(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(estimated)
	}
	return total, nil
}

// ValueOfTrackedTokens is the canonical value of the vault's own holdings.
func (v *Vault) ValueOfTrackedTokens(ctx context.Context) (sdkmath.Int, error) {
	var total sdkmath.Int
	err := v.query(ctx, "value_of_tracked_tokens", func(ctx context.Context) (err error) {
		total, err = v.trackedValue(ctx)
		return err
	})
	return total, err
}

// TrackedBalances lists the vault's holding of every registered asset.
func (v *Vault) TrackedBalances(ctx context.Context) ([]types.AssetBalance, error) {
	var balances []types.AssetBalance
	err := v.query(ctx, "tracked_balances", func(ctx context.Context) (err error) {
		balances, _, err = v.trackedBalances(ctx, v.address)
		return err
	})
	return balances, err
}

// GetSupportAssets lists the registered assets ordered by address.
func (v *Vault) GetSupportAssets(ctx context.Context) ([]types.Asset, error) {
	var assets []types.Asset
	err := v.query(ctx, "get_support_assets", func(ctx context.Context) error {
		assets = v.supportAssets()
		return nil
	})
	return assets, err
}

func (v *Vault) supportAssets() []types.Asset {
	assets := make([]types.Asset, 0, len(v.assets))
	for _, addr := range v.sortedAssets() {
		assets = append(assets, v.assets[addr])
	}
	return assets
}

// GetStrategies lists the registered strategies ordered by address.
func (v *Vault) GetStrategies(ctx context.Context) ([]types.StrategyParams, error) {
	var strategies []types.StrategyParams
	err := v.query(ctx, "get_strategies", func(ctx context.Context) error {
		strategies = v.strategyParams()
		return nil
	})
	return strategies, err
}

func (v *Vault) strategyParams() []types.StrategyParams {
	out := make([]types.StrategyParams, 0, len(v.strategies))
	for _, addr := range v.sortedStrategies() {
		out = append(out, v.strategies[addr].params)
	}
	return out
}

// Strategy returns the implementation registered at addr.
func (v *Vault) Strategy(ctx context.Context, addr string) (strategy.Strategy, error) {
	var impl strategy.Strategy
	err := v.query(ctx, "strategy", func(ctx context.Context) error {
		e, ok := v.strategies[addr]
		if !ok {
			return errorsmod.Wrapf(types.ErrStrategyNotFound, "%s", addr)
		}
		impl = e.impl
		return nil
	})
	return impl, err
}

// WithdrawalQueue returns the order in which burns draw on strategies.
func (v *Vault) WithdrawalQueue(ctx context.Context) ([]string, error) {
	var queue []string
	err := v.query(ctx, "withdrawal_queue", func(ctx context.Context) error {
		queue = append([]string(nil), v.withdrawalQueue...)
		return nil
	})
	return queue, err
}

func (v *Vault) Params(ctx context.Context) (types.VaultParameters, error) {
	var params types.VaultParameters
	err := v.query(ctx, "params", func(ctx context.Context) error {
		params = v.params
		return nil
	})
	return params, err
}

// IsAdjusting reports whether a position adjustment window is open.
func (v *Vault) IsAdjusting(ctx context.Context) (bool, error) {
	var adjusting bool
	err := v.query(ctx, "is_adjusting", func(ctx context.Context) error {
		adjusting = v.cycle != nil
		return nil
	})
	return adjusting, err
}

// IsDistributing reports whether buffer tickets are waiting to be paid out.
func (v *Vault) IsDistributing(ctx context.Context) (bool, error) {
	var distributing bool
	err := v.query(ctx, "is_distributing", func(ctx context.Context) error {
		distributing = v.buffer.IsDistributing()
		return nil
	})
	return distributing, err
}

// TotalSupply is the share token's total supply.
func (v *Vault) TotalSupply(ctx context.Context) (sdkmath.Int, error) {
	var supply sdkmath.Int
	err := v.query(ctx, "total_supply", func(ctx context.Context) error {
		supply = v.token.TotalSupply()
		return nil
	})
	return supply, err
}

// BalanceOf is the share balance of account.
func (v *Vault) BalanceOf(ctx context.Context, account string) (sdkmath.Int, error) {
	var bal sdkmath.Int
	err := v.query(ctx, "balance_of", func(ctx context.Context) error {
		bal = v.token.BalanceOf(account)
		return nil
	})
	return bal, err
}

// CreditsBalanceOf returns the credits of account and the credits per token they are converted with.
func (v *Vault) CreditsBalanceOf(ctx context.Context, account string) (credits, creditsPerToken sdkmath.Int, err error) {
	err = v.query(ctx, "credits_balance_of", func(ctx context.Context) error {
		credits, creditsPerToken = v.token.CreditsBalanceOf(account)
		return nil
	})
	return credits, creditsPerToken, err
}

func (v *Vault) Allowance(ctx context.Context, owner, spender string) (sdkmath.Int, error) {
	var allowance sdkmath.Int
	err := v.query(ctx, "allowance", func(ctx context.Context) error {
		allowance = v.token.Allowance(owner, spender)
		return nil
	})
	return allowance, err
}

// BufferBalanceOf is the buffer ticket balance of account.
func (v *Vault) BufferBalanceOf(ctx context.Context, account string) (sdkmath.Int, error) {
	var bal sdkmath.Int
	err := v.query(ctx, "buffer_balance_of", func(ctx context.Context) error {
		bal = v.buffer.BalanceOf(account)
		return nil
	})
	return bal, err
}

// ShareHolders lists every account with a nonzero share balance.
func (v *Vault) ShareHolders(ctx context.Context) ([]string, error) {
	var holders []string
	err := v.query(ctx, "share_holders", func(ctx context.Context) error {
		holders = v.token.Holders()
		return nil
	})
	return holders, err
}

// Summary collects the ledger's headline numbers in one consistent read.
func (v *Vault) Summary(ctx context.Context) (types.VaultSummary, error) {
	var summary types.VaultSummary
	err := v.query(ctx, "summary", func(ctx context.Context) error {
		balances, tracked, err := v.trackedBalances(ctx, v.address)
		if err != nil {
			return err
		}
		_, bufferValue, err := v.trackedBalances(ctx, v.buffer.Address())
		if err != nil {
			return err
		}
		inStrategies, err := v.valueInStrategies(ctx)
		if err != nil {
			return err
		}
		summary = types.VaultSummary{
			Timestamp:               v.now(),
			TotalAssets:             tracked.Add(v.totalDebt),
			TotalDebt:               v.totalDebt,
			TotalValueInStrategies:  inStrategies,
			ValueOfTrackedTokens:    tracked,
			BufferValue:             bufferValue,
			TotalSupply:             v.token.TotalSupply(),
			RebasingCreditsPerToken: v.token.RebasingCreditsPerToken(),
			NonRebasingSupply:       v.token.NonRebasingSupply(),
			BufferTickets:           v.buffer.TotalSupply(),
			Adjusting:               v.cycle != nil,
			Distributing:            v.buffer.IsDistributing(),
			Assets:                  balances,
			Strategies:              v.strategyParams(),
		}
		return nil
	})
	return summary, err
}
