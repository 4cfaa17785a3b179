package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Burn redeems shares for a pro-rata basket of the vault's tracked assets. The redeem fee stays in the vault.
// When the vault alone cannot cover the payout, strategies are drawn down in withdrawal queue order.
func (v *Vault) Burn(ctx context.Context, sender string, shares, minOut sdkmath.Int, redeemFeeBps, trusteeFeeBps uint64) (types.BurnResult, error) {
	var result types.BurnResult
	err := v.execute(ctx, "burn", func(ctx context.Context) error {
		if err := v.requireIdle("burn"); err != nil {
			return err
		}
		if err := v.checkFee("redeem", redeemFeeBps, v.params.RedeemFeeBps); err != nil {
			return err
		}
		if err := v.checkFee("trustee", trusteeFeeBps, v.params.TrusteeFeeBps); err != nil {
			return err
		}
		if shares.IsNil() || !shares.IsPositive() {
			return errorsmod.Wrap(types.ErrInvalidRequest, "shares must be positive")
		}
		if bal := v.token.BalanceOf(sender); bal.LT(shares) {
			return errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s shares, burning %s", sender, bal, shares)
		}

		totalValue, err := v.totalValue(ctx)
		if err != nil {
			return err
		}
		value, err := utils.MulDiv(shares, totalValue, v.token.TotalSupply())
		if err != nil {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "share value: %s", err)
		}
		fee, err := utils.BpsOf(value, redeemFeeBps)
		if err != nil {
			return err
		}
		payout := value.Sub(fee)

		if err := v.token.BurnShares(v.address, sender, shares); err != nil {
			return err
		}

		redeemed, err := v.coverShortfall(ctx, payout)
		if err != nil {
			return err
		}
		sent, sentValue, err := v.sendBasket(ctx, sender, payout)
		if err != nil {
			return err
		}
		if !minOut.IsNil() && sentValue.LT(minOut) {
			return errorsmod.Wrapf(types.ErrSlippageExceeded, "sent %s below minimum %s", sentValue, minOut)
		}

		totalValue, err = v.totalValue(ctx)
		if err != nil {
			return err
		}
		if _, err := v.rebaseQuietly(totalValue); err != nil {
			return err
		}

		result = types.BurnResult{Shares: shares, Value: sentValue, Fee: fee, Assets: sent, Redeemed: redeemed}
		vaultLogger.Info().
			Str("sender", sender).
			Str("shares", shares.String()).
			Str("value", sentValue.String()).
			Str("fee", fee.String()).
			Int("strategies_redeemed", len(redeemed)).
			Msg("Shares burned")
		return nil
	})
	return result, err
}

// coverShortfall withdraws from strategies in queue order until the vault's tracked value reaches payout.
func (v *Vault) coverShortfall(ctx context.Context, payout sdkmath.Int) ([]types.RedeemResult, error) {
	tracked, err := v.trackedValue(ctx)
	if err != nil {
		return nil, err
	}
	var redeemed []types.RedeemResult
	for _, addr := range v.withdrawalQueue {
		if tracked.GTE(payout) {
			break
		}
		e, ok := v.strategies[addr]
		if !ok || e.params.TotalDebt.IsZero() {
			continue
		}
		estimated, err := v.ext(e).EstimatedTotalAssets(ctx)
		if err != nil {
			return nil, err
		}
		if !estimated.IsPositive() {
			continue
		}

		take := utils.MinInt(payout.Sub(tracked), estimated)
		debtReduction := e.params.TotalDebt
		if take.LT(estimated) {
			if debtReduction, err = utils.MulDiv(e.params.TotalDebt, take, estimated); err != nil {
				return nil, errorsmod.Wrapf(types.ErrInvalidRequest, "debt reduction: %s", err)
			}
		}
		res, err := v.withdrawFromStrategy(ctx, e, take, debtReduction)
		if err != nil {
			return nil, err
		}
		redeemed = append(redeemed, res)

		if tracked, err = v.trackedValue(ctx); err != nil {
			return nil, err
		}
	}
	if tracked.LT(payout) {
		return nil, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "vault can pay %s of %s", tracked, payout)
	}
	return redeemed, nil
}

// sendBasket transfers payout worth of every tracked asset, in proportion to the vault's holdings.
func (v *Vault) sendBasket(ctx context.Context, recipient string, payout sdkmath.Int) ([]types.AssetAmount, sdkmath.Int, error) {
	balances, tracked, err := v.trackedBalances(ctx, v.address)
	if err != nil {
		return nil, sdkmath.ZeroInt(), err
	}
	sentValue := sdkmath.ZeroInt()
	if !payout.IsPositive() || tracked.IsZero() {
		return nil, sentValue, nil
	}

	var sent []types.AssetAmount
	for _, b := range balances {
		if b.Amount.IsZero() {
			continue
		}
		amount, err := utils.MulDiv(b.Amount, payout, tracked)
		if err != nil {
			return nil, sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidRequest, "basket share: %s", err)
		}
		if amount.IsZero() {
			continue
		}
		if err := v.bank.Transfer(v.address, recipient, b.Asset, amount); err != nil {
			return nil, sdkmath.ZeroInt(), err
		}
		value, err := v.valueOf(ctx, b.Asset, amount)
		if err != nil {
			return nil, sdkmath.ZeroInt(), err
		}
		sent = append(sent, types.AssetAmount{Asset: b.Asset, Amount: amount})
		sentValue = sentValue.Add(value)
	}
	return sent, sentValue, nil
}
