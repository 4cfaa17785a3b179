/*

This file contains the governance operations: asset and strategy registries, the withdrawal queue and the
configuration scalars.

*/

package vault

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// StrategyAdd is one entry of AddStrategies.
type StrategyAdd struct {
	Strategy         strategy.Strategy
	ProfitLimitRatio uint64
	LossLimitRatio   uint64
}

// AddAsset registers asset as depositable and lendable.
func (v *Vault) AddAsset(ctx context.Context, sender string, asset types.Asset) error {
	return v.execute(ctx, "add_asset", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		if asset.Address == "" {
			return errorsmod.Wrap(types.ErrInvalidRequest, "asset address cannot be empty")
		}
		if asset.Decimals < 0 || asset.Decimals > utils.MaxDecimals {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "asset %s has invalid decimals %d", asset.Address, asset.Decimals)
		}
		if _, ok := v.assets[asset.Address]; ok {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "asset %s already supported", asset.Address)
		}
		if asset.Symbol == "" {
			asset.Symbol = asset.Address
		}
		asset.Supported = true
		v.assets[asset.Address] = asset

		vaultLogger.Info().Str("asset", asset.Address).Str("symbol", asset.Symbol).Int("decimals", asset.Decimals).Msg("Asset added")
		return nil
	})
}

// RemoveAsset unregisters asset. The vault and buffer must hold none of it and no strategy may want it, except a
// disabled strategy that no longer holds debt.
func (v *Vault) RemoveAsset(ctx context.Context, sender string, asset string) error {
	return v.execute(ctx, "remove_asset", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		if _, ok := v.assets[asset]; !ok {
			return errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", asset)
		}
		if bal := v.bank.BalanceOf(v.address, asset); !bal.IsZero() {
			return errorsmod.Wrapf(types.ErrAssetNotEmpty, "vault holds %s %s", bal, asset)
		}
		if bal := v.bank.BalanceOf(v.buffer.Address(), asset); !bal.IsZero() {
			return errorsmod.Wrapf(types.ErrAssetNotEmpty, "buffer holds %s %s", bal, asset)
		}
		for _, addr := range v.sortedStrategies() {
			e := v.strategies[addr]
			if !e.params.Enabled && e.params.TotalDebt.IsZero() {
				continue
			}
			wants, err := v.ext(e).WantsInfo(ctx)
			if err != nil {
				return err
			}
			if wants.Contains(asset) {
				return errorsmod.Wrapf(types.ErrAssetInUse, "strategy %s wants %s", e.params.Name, asset)
			}
		}
		delete(v.assets, asset)

		vaultLogger.Info().Str("asset", asset).Msg("Asset removed")
		return nil
	})
}

// AddStrategies registers strategies and appends them to the withdrawal queue.
func (v *Vault) AddStrategies(ctx context.Context, sender string, adds []StrategyAdd) error {
	return v.execute(ctx, "add_strategies", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		for _, add := range adds {
			if add.Strategy == nil {
				return errorsmod.Wrap(types.ErrInvalidRequest, "strategy cannot be nil")
			}
			addr := add.Strategy.Address()
			if addr == "" || addr == v.address || addr == v.buffer.Address() {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "invalid strategy address %q", addr)
			}
			if _, ok := v.strategies[addr]; ok {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s already added", addr)
			}
			if add.ProfitLimitRatio > utils.MaxBps || add.LossLimitRatio > utils.MaxBps {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s limits exceed 10000 bps", addr)
			}
			wants, err := add.Strategy.WantsInfo(ctx)
			if err != nil {
				return err
			}
			if len(wants.Assets) == 0 || len(wants.Assets) != len(wants.Ratios) {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s has malformed wants", addr)
			}
			for _, want := range wants.Assets {
				if _, ok := v.assets[want]; !ok {
					return errorsmod.Wrapf(types.ErrUnsupportedAsset, "strategy %s wants unregistered %s", addr, want)
				}
			}

			v.strategies[addr] = &strategyEntry{
				impl: add.Strategy,
				params: types.StrategyParams{
					Address:          addr,
					Name:             add.Strategy.Name(),
					TotalDebt:        sdkmath.ZeroInt(),
					ProfitLimitRatio: add.ProfitLimitRatio,
					LossLimitRatio:   add.LossLimitRatio,
					LastReport:       v.now(),
					Enabled:          true,
				},
			}
			v.withdrawalQueue = append(v.withdrawalQueue, addr)

			vaultLogger.Info().
				Str("strategy", addr).
				Str("name", add.Strategy.Name()).
				Uint64("profit_limit_ratio", add.ProfitLimitRatio).
				Uint64("loss_limit_ratio", add.LossLimitRatio).
				Msg("Strategy added")
		}
		return nil
	})
}

// RemoveStrategies unregisters strategies that no longer hold any debt.
func (v *Vault) RemoveStrategies(ctx context.Context, sender string, addrs []string) error {
	return v.execute(ctx, "remove_strategies", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		for _, addr := range addrs {
			e, err := v.strategyEntry(addr)
			if err != nil {
				return err
			}
			if !e.params.TotalDebt.IsZero() {
				return errorsmod.Wrapf(types.ErrStrategyHasDebt, "strategy %s owes %s", addr, e.params.TotalDebt)
			}
			v.dropStrategy(addr)
			vaultLogger.Info().Str("strategy", addr).Msg("Strategy removed")
		}
		return nil
	})
}

// ForceRemoveStrategy unregisters a strategy and writes its remaining debt off as a loss.
func (v *Vault) ForceRemoveStrategy(ctx context.Context, sender string, addr string) (sdkmath.Int, error) {
	writtenOff := sdkmath.ZeroInt()
	err := v.execute(ctx, "force_remove_strategy", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		e, err := v.strategyEntry(addr)
		if err != nil {
			return err
		}
		writtenOff = e.params.TotalDebt
		if err := v.subDebt(e, writtenOff); err != nil {
			return err
		}
		v.dropStrategy(addr)

		vaultLogger.Warn().Str("strategy", addr).Str("written_off", writtenOff.String()).Msg("Strategy force removed")
		return nil
	})
	return writtenOff, err
}

func (v *Vault) dropStrategy(addr string) {
	delete(v.strategies, addr)
	queue := v.withdrawalQueue[:0:0]
	for _, q := range v.withdrawalQueue {
		if q != addr {
			queue = append(queue, q)
		}
	}
	v.withdrawalQueue = queue
}

func (v *Vault) strategyEntry(addr string) (*strategyEntry, error) {
	e, ok := v.strategies[addr]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrStrategyNotFound, "%s", addr)
	}
	return e, nil
}

// SetStrategyEnabled enables or disables lending to a strategy. Disabled strategies can still be redeemed.
func (v *Vault) SetStrategyEnabled(ctx context.Context, sender string, addr string, enabled bool) error {
	return v.execute(ctx, "set_strategy_enabled", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		e, err := v.strategyEntry(addr)
		if err != nil {
			return err
		}
		e.params.Enabled = enabled
		return nil
	})
}

// UpdateStrategyLimits changes the profit and loss bounds of a strategy.
func (v *Vault) UpdateStrategyLimits(ctx context.Context, sender string, addr string, profitLimitRatio, lossLimitRatio uint64) error {
	return v.execute(ctx, "update_strategy_limits", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		if profitLimitRatio > utils.MaxBps || lossLimitRatio > utils.MaxBps {
			return errorsmod.Wrap(types.ErrInvalidRequest, "limits exceed 10000 bps")
		}
		e, err := v.strategyEntry(addr)
		if err != nil {
			return err
		}
		e.params.ProfitLimitRatio = profitLimitRatio
		e.params.LossLimitRatio = lossLimitRatio
		return nil
	})
}

// SetWithdrawalQueue replaces the order in which burns pull funds from strategies.
func (v *Vault) SetWithdrawalQueue(ctx context.Context, sender string, queue []string) error {
	return v.execute(ctx, "set_withdrawal_queue", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		seen := make(map[string]bool, len(queue))
		for _, addr := range queue {
			if _, err := v.strategyEntry(addr); err != nil {
				return err
			}
			if seen[addr] {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s listed twice", addr)
			}
			seen[addr] = true
		}
		v.withdrawalQueue = append([]string(nil), queue...)
		return nil
	})
}

// setParams applies a governance change to the parameters and validates the result.
func (v *Vault) setParams(ctx context.Context, op, sender string, apply func(p *types.VaultParameters)) error {
	return v.execute(ctx, op, func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		p := v.params
		apply(&p)
		if err := p.Validate(); err != nil {
			return errorsmod.Wrap(types.ErrInvalidRequest, err.Error())
		}
		v.params = p
		vaultLogger.Info().Str("op", op).Interface("params", p).Msg("Parameters updated")
		return nil
	})
}

// SetRebaseThreshold sets the supply deviation, in parts per ten million, below which rebases are skipped.
func (v *Vault) SetRebaseThreshold(ctx context.Context, sender string, threshold uint64) error {
	return v.setParams(ctx, "set_rebase_threshold", sender, func(p *types.VaultParameters) { p.RebaseThreshold = threshold })
}

// SetTrusteeFeeBps sets the share of positive rebases minted to the treasury.
func (v *Vault) SetTrusteeFeeBps(ctx context.Context, sender string, bps uint64) error {
	return v.setParams(ctx, "set_trustee_fee_bps", sender, func(p *types.VaultParameters) { p.TrusteeFeeBps = bps })
}

// SetRedeemFeeBps sets the fee deducted from burns.
func (v *Vault) SetRedeemFeeBps(ctx context.Context, sender string, bps uint64) error {
	return v.setParams(ctx, "set_redeem_fee_bps", sender, func(p *types.VaultParameters) { p.RedeemFeeBps = bps })
}

// SetMaxTimestampBetweenTwoReported bounds the age of strategy reports a rebase may rely on.
func (v *Vault) SetMaxTimestampBetweenTwoReported(ctx context.Context, sender string, d time.Duration) error {
	return v.setParams(ctx, "set_max_timestamp_between_two_reported", sender, func(p *types.VaultParameters) {
		p.MaxTimestampBetweenTwoReported = d
	})
}

// SetMaxPriceAge bounds the age of oracle prices.
func (v *Vault) SetMaxPriceAge(ctx context.Context, sender string, d time.Duration) error {
	return v.setParams(ctx, "set_max_price_age", sender, func(p *types.VaultParameters) { p.MaxPriceAge = d })
}

// SetProfitLimitPolicy decides whether excess report profit is carried forward or rejected.
func (v *Vault) SetProfitLimitPolicy(ctx context.Context, sender string, policy types.ProfitLimitPolicy) error {
	return v.setParams(ctx, "set_profit_limit_policy", sender, func(p *types.VaultParameters) { p.ProfitLimitPolicy = policy })
}

// SetPegTokenPaused pauses or resumes the share token.
func (v *Vault) SetPegTokenPaused(ctx context.Context, sender string, paused bool) error {
	return v.execute(ctx, "change_pause_state", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleGovernance); err != nil {
			return err
		}
		v.token.ChangePauseState(paused)
		vaultLogger.Warn().Bool("paused", paused).Msg("Share token pause state changed")
		return nil
	})
}
