package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

// Donate moves amount of a registered asset from an external account into the vault pool without issuing
// shares. The value reaches holders through the next rebase.
func (v *Vault) Donate(ctx context.Context, from, asset string, amount sdkmath.Int) error {
	return v.execute(ctx, "donate", func(ctx context.Context) error {
		if _, ok := v.assets[asset]; !ok {
			return errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", asset)
		}
		if amount.IsNil() || amount.IsNegative() {
			return errorsmod.Wrap(types.ErrInvalidRequest, "donation must not be negative")
		}
		if amount.IsZero() {
			return nil
		}
		if err := v.bank.Transfer(from, v.address, asset, amount); err != nil {
			return err
		}
		vaultLogger.Debug().Str("from", from).Str("asset", asset).Str("amount", amount.String()).Msg("Donation received")
		return nil
	})
}
