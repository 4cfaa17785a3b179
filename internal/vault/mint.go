package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

// Mint pulls the deposited assets from sender into the deposit buffer and issues buffer tickets worth their
// canonical value. Tickets become shares at the price of the next adjust cycle.
func (v *Vault) Mint(ctx context.Context, sender string, deposits []types.AssetAmount, minSharesOut sdkmath.Int) (sdkmath.Int, error) {
	tickets := sdkmath.ZeroInt()
	err := v.execute(ctx, "mint", func(ctx context.Context) error {
		if err := v.requireIdle("mint"); err != nil {
			return err
		}
		if v.buffer.IsDistributing() {
			return errorsmod.Wrap(types.ErrState, "mint is not allowed while the buffer is distributing")
		}
		if v.token.Paused() {
			return types.ErrPaused
		}
		if len(deposits) == 0 {
			return errorsmod.Wrap(types.ErrInvalidRequest, "no assets deposited")
		}

		deposits = mergeAmounts(deposits)
		for _, d := range deposits {
			if _, ok := v.assets[d.Asset]; !ok {
				return errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", d.Asset)
			}
			if !d.Amount.IsPositive() {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "amount of %s must be positive", d.Asset)
			}
		}

		value, err := v.valueOfAmounts(ctx, deposits)
		if err != nil {
			return err
		}
		if !value.IsPositive() {
			return errorsmod.Wrap(types.ErrInvalidRequest, "deposit has no value")
		}
		if !minSharesOut.IsNil() && value.LT(minSharesOut) {
			return errorsmod.Wrapf(types.ErrSlippageExceeded, "tickets %s below minimum %s", value, minSharesOut)
		}

		for _, d := range deposits {
			if err := v.bank.Transfer(sender, v.buffer.Address(), d.Asset, d.Amount); err != nil {
				return err
			}
		}
		if err := v.buffer.Mint(v.address, sender, value); err != nil {
			return err
		}
		tickets = value

		vaultLogger.Info().
			Str("sender", sender).
			Int("assets", len(deposits)).
			Str("tickets", value.String()).
			Msg("Deposit buffered")
		return nil
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return tickets, nil
}
