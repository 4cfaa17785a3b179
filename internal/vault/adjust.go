/*

This file contains the position adjustment window: opening it, lending to and redeeming from strategies while
prices are frozen, closing it, and paying out the deposit buffer afterwards.

*/

package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// StartAdjustPosition moves the vault from Idle to Adjusting. It freezes every asset price for the window and
// absorbs the cash waiting in the deposit buffer.
func (v *Vault) StartAdjustPosition(ctx context.Context, sender string) (types.AdjustResult, error) {
	var result types.AdjustResult
	err := v.execute(ctx, "start_adjust_position", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if v.cycle != nil {
			return errorsmod.Wrap(types.ErrState, "already adjusting positions")
		}
		if v.buffer.IsDistributing() {
			return errorsmod.Wrap(types.ErrState, "buffer distribution of the previous cycle is pending")
		}

		prices := make(map[string]sdkmath.LegacyDec, len(v.assets))
		for _, asset := range v.sortedAssets() {
			price, err := v.freshPrice(ctx, asset)
			if err != nil {
				return err
			}
			prices[asset] = price
		}
		v.cycle = &adjustCycle{prices: prices, transferValue: sdkmath.ZeroInt()}

		moved, err := v.buffer.TransferCashToVault(v.address, v.sortedAssets())
		if err != nil {
			return err
		}
		transferValue, err := v.valueOfAmounts(ctx, moved)
		if err != nil {
			return err
		}
		startTotalValue, err := v.totalValue(ctx)
		if err != nil {
			return err
		}
		v.cycle.transferValue = transferValue
		v.cycle.startTotalValue = startTotalValue

		result = types.AdjustResult{
			StartTotalValue: startTotalValue,
			EndTotalValue:   sdkmath.ZeroInt(),
			TransferValue:   transferValue,
			SharesMinted:    sdkmath.ZeroInt(),
		}
		vaultLogger.Info().
			Str("start_total_value", startTotalValue.String()).
			Str("transfer_value", transferValue.String()).
			Int("buffered_assets", len(moved)).
			Msg("Adjust position started")
		return nil
	})
	return result, err
}

// Lend sends tracked assets to a strategy and increases its debt by the value it received. Assets the strategy
// does not want are swapped into its first wanted asset through the router.
func (v *Vault) Lend(ctx context.Context, sender string, strategyAddr string, amounts []types.AssetAmount) (types.LendAction, error) {
	var action types.LendAction
	err := v.execute(ctx, "lend", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if err := v.requireAdjusting("lend"); err != nil {
			return err
		}
		e, err := v.strategyEntry(strategyAddr)
		if err != nil {
			return err
		}
		if !e.params.Enabled {
			return errorsmod.Wrapf(types.ErrStrategyDisabled, "%s", e.params.Name)
		}
		if len(amounts) == 0 {
			return errorsmod.Wrap(types.ErrInvalidRequest, "nothing to lend")
		}
		wants, err := v.ext(e).WantsInfo(ctx)
		if err != nil {
			return err
		}
		if len(wants.Assets) == 0 {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s wants nothing", e.params.Name)
		}

		amounts = mergeAmounts(amounts)
		var deliveries []types.AssetAmount
		for _, a := range amounts {
			if _, ok := v.assets[a.Asset]; !ok {
				return errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", a.Asset)
			}
			if !a.Amount.IsPositive() {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "amount of %s must be positive", a.Asset)
			}
			if bal := v.bank.BalanceOf(v.address, a.Asset); bal.LT(a.Amount) {
				return errorsmod.Wrapf(types.ErrInsufficientBalance, "vault holds %s %s, lending %s", bal, a.Asset, a.Amount)
			}
			if wants.Contains(a.Asset) {
				deliveries = append(deliveries, a)
				continue
			}

			out, err := v.swap(ctx, a, wants.Assets[0])
			if err != nil {
				return err
			}
			deliveries = append(deliveries, types.AssetAmount{Asset: wants.Assets[0], Amount: out})
		}
		deliveries = mergeAmounts(deliveries)

		for _, d := range deliveries {
			if err := v.bank.Transfer(v.address, e.params.Address, d.Asset, d.Amount); err != nil {
				return err
			}
		}
		value, err := v.valueOfAmounts(ctx, deliveries)
		if err != nil {
			return err
		}
		if err := v.ext(e).Deposit(ctx, deliveries); err != nil {
			return err
		}
		if err := v.addDebt(e, value); err != nil {
			return err
		}

		action = types.LendAction{Strategy: e.params.Address, Assets: deliveries, Value: value}
		v.cycle.lends = append(v.cycle.lends, action)

		vaultLogger.Info().
			Str("strategy", e.params.Name).
			Str("value", value.String()).
			Str("debt", e.params.TotalDebt.String()).
			Msg("Lent to strategy")
		return nil
	})
	return action, err
}

// swap converts a vault holding through the router, keeping the output in the vault. The output is measured from
// the vault's balance rather than taken from the router's answer.
func (v *Vault) swap(ctx context.Context, in types.AssetAmount, to string) (sdkmath.Int, error) {
	if v.router == nil {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidRequest, "no swap router to convert %s into %s", in.Asset, to)
	}
	if _, ok := v.assets[to]; !ok {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", to)
	}
	before := v.bank.BalanceOf(v.address, to)
	err := func() error {
		defer v.enterCallOut("the swap router")()
		_, err := v.router.Swap(ctx, exchange.SwapRequest{
			From:      in.Asset,
			To:        to,
			AmountIn:  in.Amount,
			MinOut:    sdkmath.ZeroInt(),
			Sender:    v.address,
			Recipient: v.address,
		})
		return err
	}()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	out := v.bank.BalanceOf(v.address, to).Sub(before)
	if !out.IsPositive() {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrSlippageExceeded, "swap of %s %s returned nothing", in.Amount, in.Asset)
	}
	vaultLogger.Debug().Str("from", in.Asset).Str("to", to).Str("in", in.Amount.String()).Str("out", out.String()).Msg("Swapped for lend")
	return out, nil
}

// Redeem withdraws amount of canonical value from a strategy and reduces its debt by the same amount. The
// shortfall between amount and what actually arrived is a realized loss bounded by the strategy's loss limit.
func (v *Vault) Redeem(ctx context.Context, sender string, strategyAddr string, amount, minOut sdkmath.Int) (types.RedeemResult, error) {
	var result types.RedeemResult
	err := v.execute(ctx, "redeem", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if err := v.requireAdjusting("redeem"); err != nil {
			return err
		}
		e, err := v.strategyEntry(strategyAddr)
		if err != nil {
			return err
		}
		if amount.IsNil() || !amount.IsPositive() {
			return errorsmod.Wrap(types.ErrInvalidRequest, "redeem amount must be positive")
		}
		if amount.GT(e.params.TotalDebt) {
			return errorsmod.Wrapf(types.ErrInsufficientBalance, "strategy %s owes %s, redeeming %s", e.params.Name, e.params.TotalDebt, amount)
		}

		res, err := v.withdrawFromStrategy(ctx, e, amount, amount)
		if err != nil {
			return err
		}
		if !minOut.IsNil() && res.Value.LT(minOut) {
			return errorsmod.Wrapf(types.ErrSlippageExceeded, "received %s below minimum %s", res.Value, minOut)
		}
		result = res
		v.cycle.redeems = append(v.cycle.redeems, res)
		return nil
	})
	return result, err
}

// withdrawFromStrategy asks a strategy for amount and reduces its debt by debtReduction. What the vault actually
// received is measured from its own balances.
func (v *Vault) withdrawFromStrategy(ctx context.Context, e *strategyEntry, amount, debtReduction sdkmath.Int) (types.RedeemResult, error) {
	before := make(map[string]sdkmath.Int, len(v.assets))
	for _, asset := range v.sortedAssets() {
		before[asset] = v.bank.BalanceOf(v.address, asset)
	}

	if _, err := v.ext(e).Withdraw(ctx, amount); err != nil {
		return types.RedeemResult{}, err
	}

	var received []types.AssetAmount
	for _, asset := range v.sortedAssets() {
		delta := v.bank.BalanceOf(v.address, asset).Sub(before[asset])
		if delta.IsPositive() {
			received = append(received, types.AssetAmount{Asset: asset, Amount: delta})
		}
	}
	value, err := v.valueOfAmounts(ctx, received)
	if err != nil {
		return types.RedeemResult{}, err
	}

	loss := sdkmath.ZeroInt()
	if value.LT(amount) {
		loss = amount.Sub(value)
	}
	if ratio := e.params.LossLimitRatio; ratio > 0 && loss.IsPositive() {
		limit, err := utils.BpsOf(amount, ratio)
		if err != nil {
			return types.RedeemResult{}, err
		}
		if loss.GT(limit) {
			return types.RedeemResult{}, errorsmod.Wrapf(types.ErrLossLimitExceeded,
				"strategy %s lost %s on %s, limit %s", e.params.Name, loss, amount, limit)
		}
	}
	if err := v.subDebt(e, debtReduction); err != nil {
		return types.RedeemResult{}, err
	}

	vaultLogger.Info().
		Str("strategy", e.params.Name).
		Str("amount", amount.String()).
		Str("received", value.String()).
		Str("loss", loss.String()).
		Str("debt", e.params.TotalDebt.String()).
		Msg("Redeemed from strategy")
	return types.RedeemResult{
		Strategy: e.params.Address,
		Amount:   amount,
		Received: received,
		Value:    value,
		Loss:     loss,
	}, nil
}

// EndAdjustPosition closes the window. Existing holders are rebased to the value they own, the buffered
// deposits are admitted as new shares at that price, and the buffer opens its distribution.
func (v *Vault) EndAdjustPosition(ctx context.Context, sender string) (types.AdjustResult, error) {
	var result types.AdjustResult
	err := v.execute(ctx, "end_adjust_position", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if err := v.requireAdjusting("end_adjust_position"); err != nil {
			return err
		}
		cycle := v.cycle

		endTotalValue, err := v.totalValue(ctx)
		if err != nil {
			return err
		}
		transferValue := cycle.transferValue
		if v.buffer.TotalSupply().IsZero() {
			transferValue = sdkmath.ZeroInt()
		}
		if endTotalValue.LT(cycle.startTotalValue) && transferValue.IsPositive() {
			if transferValue, err = utils.MulDiv(transferValue, endTotalValue, cycle.startTotalValue); err != nil {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "scale transfer value: %s", err)
			}
		}
		existingValue := endTotalValue.Sub(transferValue)

		rebase, err := v.rebaseQuietly(existingValue)
		if err != nil {
			return err
		}

		shares := transferValue
		supply := v.token.TotalSupply()
		if supply.IsPositive() && transferValue.IsPositive() {
			if existingValue.IsPositive() {
				if shares, err = utils.MulDiv(transferValue, supply, existingValue); err != nil {
					return errorsmod.Wrapf(types.ErrInvalidRequest, "buffer shares: %s", err)
				}
			} else {
				vaultLogger.Warn().Str("supply", supply.String()).Msg("Existing shares are worthless, admitting deposits one to one")
			}
		}
		if shares.IsPositive() {
			if err := v.token.MintShares(v.address, v.buffer.Address(), shares); err != nil {
				return err
			}
		}
		if err := v.buffer.OpenDistribute(v.address, shares); err != nil {
			return err
		}

		v.cycle = nil
		if err := v.checkDebtConservation(); err != nil {
			return err
		}

		result = types.AdjustResult{
			StartTotalValue: cycle.startTotalValue,
			EndTotalValue:   endTotalValue,
			TransferValue:   transferValue,
			SharesMinted:    shares,
			Rebase:          rebase,
		}
		vaultLogger.Info().
			Str("start_total_value", cycle.startTotalValue.String()).
			Str("end_total_value", endTotalValue.String()).
			Str("transfer_value", transferValue.String()).
			Str("shares_minted", shares.String()).
			Int("lends", len(cycle.lends)).
			Int("redeems", len(cycle.redeems)).
			Msg("Adjust position ended")
		return nil
	})
	return result, err
}

// DistributeWhenDistributing pays buffer ticket holders their shares, in batches of DistributeBatchSize.
func (v *Vault) DistributeWhenDistributing(ctx context.Context, sender string) (types.DistributeResult, error) {
	var result types.DistributeResult
	err := v.execute(ctx, "distribute_when_distributing", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if err := v.requireIdle("distribute_when_distributing"); err != nil {
			return err
		}
		res, err := v.buffer.DistributeWhenDistributing(v.params.DistributeBatchSize)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
