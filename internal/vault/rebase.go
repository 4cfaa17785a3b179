package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Rebase aligns the share supply with the vault's total value. trusteeFeeBps must match the configured fee.
func (v *Vault) Rebase(ctx context.Context, sender string, trusteeFeeBps uint64) (types.RebaseResult, error) {
	var result types.RebaseResult
	err := v.execute(ctx, "rebase", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		if err := v.requireIdle("rebase"); err != nil {
			return err
		}
		if err := v.checkFee("trustee", trusteeFeeBps, v.params.TrusteeFeeBps); err != nil {
			return err
		}
		if err := v.checkReportsFresh(); err != nil {
			return err
		}
		totalValue, err := v.totalValue(ctx)
		if err != nil {
			return err
		}
		result, err = v.rebaseTo(totalValue)
		return err
	})
	return result, err
}

func (v *Vault) checkFee(name string, given, configured uint64) error {
	if given != configured {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "%s fee %d bps does not match configured %d bps", name, given, configured)
	}
	return nil
}

// checkReportsFresh fails when a strategy holding debt has not reported within MaxTimestampBetweenTwoReported.
func (v *Vault) checkReportsFresh() error {
	maxAge := v.params.MaxTimestampBetweenTwoReported
	if maxAge <= 0 {
		return nil
	}
	now := v.now()
	for _, addr := range v.sortedStrategies() {
		e := v.strategies[addr]
		if e.params.TotalDebt.IsZero() {
			continue
		}
		if age := now.Sub(e.params.LastReport); age > maxAge {
			return errorsmod.Wrapf(types.ErrStaleReport, "strategy %s last reported %s ago", e.params.Name, age)
		}
	}
	return nil
}

// rebaseTo changes the share supply to totalValue when the deviation exceeds the threshold. On a gain the
// trustee fee is minted to the treasury out of the increase.
func (v *Vault) rebaseTo(totalValue sdkmath.Int) (types.RebaseResult, error) {
	supply := v.token.TotalSupply()
	result := types.RebaseResult{
		TotalValue:              totalValue,
		OldSupply:               supply,
		NewSupply:               supply,
		TrusteeFee:              sdkmath.ZeroInt(),
		RebasingCreditsPerToken: v.token.RebasingCreditsPerToken(),
		Timestamp:               v.now(),
	}
	if supply.IsZero() || totalValue.Equal(supply) {
		return result, nil
	}

	diff := totalValue.Sub(supply).Abs()
	deviation, err := utils.MulDiv(diff, sdkmath.NewInt(utils.TenMillion), supply)
	if err != nil {
		return result, errorsmod.Wrapf(types.ErrInvalidRequest, "rebase deviation: %s", err)
	}
	if deviation.LTE(sdkmath.NewIntFromUint64(v.params.RebaseThreshold)) {
		vaultLogger.Debug().Str("deviation", deviation.String()).Uint64("threshold", v.params.RebaseThreshold).Msg("Rebase below threshold")
		return result, nil
	}

	newSupply := totalValue
	fee := sdkmath.ZeroInt()
	if totalValue.GT(supply) {
		if fee, err = utils.BpsOf(diff, v.params.TrusteeFeeBps); err != nil {
			return result, errorsmod.Wrapf(types.ErrInvalidRequest, "trustee fee: %s", err)
		}
		newSupply = totalValue.Sub(fee)
	}
	if err := v.token.ChangeSupply(v.address, newSupply); err != nil {
		return result, err
	}
	if fee.IsPositive() {
		if err := v.token.MintShares(v.address, v.treasury, fee); err != nil {
			return result, err
		}
	}

	result.Applied = true
	result.TrusteeFee = fee
	result.NewSupply = v.token.TotalSupply()
	result.RebasingCreditsPerToken = v.token.RebasingCreditsPerToken()

	vaultLogger.Info().
		Str("total_value", totalValue.String()).
		Str("old_supply", supply.String()).
		Str("new_supply", result.NewSupply.String()).
		Str("trustee_fee", fee.String()).
		Msg("Rebased")
	return result, nil
}

// rebaseQuietly is the rebase that follows a burn or an adjust cycle. A supply that cannot change is logged
// and left alone.
func (v *Vault) rebaseQuietly(totalValue sdkmath.Int) (types.RebaseResult, error) {
	result, err := v.rebaseTo(totalValue)
	if errorsmod.IsOf(err, types.ErrInvalidSupplyChange) {
		vaultLogger.Warn().Err(err).Str("total_value", totalValue.String()).Msg("Skipped rebase")
		return result, nil
	}
	return result, err
}
