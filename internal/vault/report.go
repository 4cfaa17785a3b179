package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Report is called by a strategy about itself, usually at the end of its harvest.
func (v *Vault) Report(ctx context.Context, strategyAddr string) (types.ReportResult, error) {
	var result types.ReportResult
	err := v.execute(ctx, "report", func(ctx context.Context) error {
		e, err := v.strategyEntry(strategyAddr)
		if err != nil {
			return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not a registered strategy", strategyAddr)
		}
		result, err = v.report(ctx, e)
		return err
	})
	return result, err
}

// ReportByKeeper reports every listed strategy in one operation. Any failure fails them all.
func (v *Vault) ReportByKeeper(ctx context.Context, sender string, strategies []string) ([]types.ReportResult, error) {
	var results []types.ReportResult
	err := v.execute(ctx, "report_by_keeper", func(ctx context.Context) error {
		if err := v.access.Check(sender, access.RoleKeeper); err != nil {
			return err
		}
		results = make([]types.ReportResult, 0, len(strategies))
		for _, addr := range strategies {
			e, err := v.strategyEntry(addr)
			if err != nil {
				return err
			}
			res, err := v.report(ctx, e)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// report moves a strategy's debt toward its own estimate. Profit above the profit limit is carried forward or
// rejected according to ProfitLimitPolicy; loss above the loss limit is always rejected.
func (v *Vault) report(ctx context.Context, e *strategyEntry) (types.ReportResult, error) {
	if err := v.requireIdle("report"); err != nil {
		return types.ReportResult{}, err
	}
	estimated, err := v.ext(e).EstimatedTotalAssets(ctx)
	if err != nil {
		return types.ReportResult{}, err
	}
	if estimated.IsNil() || estimated.IsNegative() {
		return types.ReportResult{}, errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s estimated %s", e.params.Name, estimated)
	}

	debt := e.params.TotalDebt
	result := types.ReportResult{
		Strategy:       e.params.Address,
		PreviousDebt:   debt,
		EstimatedValue: estimated,
		Gain:           sdkmath.ZeroInt(),
		Loss:           sdkmath.ZeroInt(),
		CarriedForward: sdkmath.ZeroInt(),
	}

	switch {
	case estimated.GT(debt):
		gain := estimated.Sub(debt)
		if ratio := e.params.ProfitLimitRatio; ratio > 0 {
			limit, err := utils.BpsOf(debt, ratio)
			if err != nil {
				return result, err
			}
			if gain.GT(limit) {
				if v.params.ProfitLimitPolicy == types.ProfitLimitRevert {
					return result, errorsmod.Wrapf(types.ErrProfitLimitExceeded,
						"strategy %s gained %s on %s, limit %s", e.params.Name, gain, debt, limit)
				}
				result.CarriedForward = gain.Sub(limit)
				gain = limit
			}
		}
		if err := v.addDebt(e, gain); err != nil {
			return result, err
		}
		result.Gain = gain

	case estimated.LT(debt):
		loss := debt.Sub(estimated)
		if ratio := e.params.LossLimitRatio; ratio > 0 {
			limit, err := utils.BpsOf(debt, ratio)
			if err != nil {
				return result, err
			}
			if loss.GT(limit) {
				return result, errorsmod.Wrapf(types.ErrLossLimitExceeded,
					"strategy %s lost %s on %s, limit %s", e.params.Name, loss, debt, limit)
			}
		}
		if err := v.subDebt(e, loss); err != nil {
			return result, err
		}
		result.Loss = loss
	}

	e.params.LastReport = v.now()
	result.NewDebt = e.params.TotalDebt

	vaultLogger.Info().
		Str("strategy", e.params.Name).
		Str("estimated", estimated.String()).
		Str("gain", result.Gain.String()).
		Str("loss", result.Loss.String()).
		Str("carried_forward", result.CarriedForward.String()).
		Str("debt", result.NewDebt.String()).
		Msg("Strategy reported")
	return result, nil
}
