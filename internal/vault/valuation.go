package vault

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/oracle"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// priceOf returns the price of asset, frozen for the cycle while Adjusting, otherwise fresh from the oracle.
func (v *Vault) priceOf(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	if v.cycle != nil {
		if price, ok := v.cycle.prices[asset]; ok {
			return price, nil
		}
	}
	return v.freshPrice(ctx, asset)
}

func (v *Vault) freshPrice(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	price, updatedAt, err := v.oracle.Price(ctx, asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.LegacyZeroDec(), errorsmod.Wrapf(types.ErrStalePrice, "non-positive price for %s", asset)
	}
	if maxAge := v.params.MaxPriceAge; maxAge > 0 && v.now().Sub(updatedAt) > maxAge {
		return sdkmath.LegacyZeroDec(), errorsmod.Wrapf(types.ErrStalePrice, "%s price from %s", asset, updatedAt.Format(time.RFC3339))
	}
	return price, nil
}

// valueOf converts amount of a registered asset into canonical units, truncating.
func (v *Vault) valueOf(ctx context.Context, asset string, amount sdkmath.Int) (sdkmath.Int, error) {
	a, ok := v.assets[asset]
	if !ok {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s is not registered", asset)
	}
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	price, err := v.priceOf(ctx, asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	value, err := oracle.ValueOf(amount, a.Decimals, price)
	if err != nil {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidRequest, "value of %s %s: %s", amount, asset, err)
	}
	return value, nil
}

// valueOfAmounts sums the canonical value of a basket.
func (v *Vault) valueOfAmounts(ctx context.Context, amounts []types.AssetAmount) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, a := range amounts {
		value, err := v.valueOf(ctx, a.Asset, a.Amount)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(value)
	}
	return total, nil
}

// trackedBalances returns the vault pool's balance of every registered asset with its value.
func (v *Vault) trackedBalances(ctx context.Context, account string) ([]types.AssetBalance, sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	balances := make([]types.AssetBalance, 0, len(v.assets))
	for _, asset := range v.sortedAssets() {
		a := v.assets[asset]
		amount := v.bank.BalanceOf(account, asset)
		value, err := v.valueOf(ctx, asset, amount)
		if err != nil {
			return nil, sdkmath.ZeroInt(), err
		}
		balances = append(balances, types.AssetBalance{
			Asset:          asset,
			Symbol:         a.Symbol,
			Decimals:       a.Decimals,
			Amount:         amount,
			CanonicalValue: value,
		})
		total = total.Add(value)
	}
	return balances, total, nil
}

// trackedValue is the canonical value of the vault pool.
func (v *Vault) trackedValue(ctx context.Context) (sdkmath.Int, error) {
	_, total, err := v.trackedBalances(ctx, v.address)
	return total, err
}

// totalValue is the tracked value plus all strategy debt. Buffered deposits are excluded.
func (v *Vault) totalValue(ctx context.Context) (sdkmath.Int, error) {
	tracked, err := v.trackedValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return tracked.Add(v.totalDebt), nil
}

// sumDebt recomputes the aggregate debt from the registry.
func (v *Vault) sumDebt() sdkmath.Int {
	sum := sdkmath.ZeroInt()
	for _, e := range v.strategies {
		sum = sum.Add(e.params.TotalDebt)
	}
	return sum
}

// checkDebtConservation fails when the aggregate drifted from the per-strategy records.
func (v *Vault) checkDebtConservation() error {
	if sum := v.sumDebt(); !sum.Equal(v.totalDebt) {
		return errorsmod.Wrapf(types.ErrState, "total debt %s does not match strategy debts %s", v.totalDebt, sum)
	}
	return nil
}

func (v *Vault) addDebt(e *strategyEntry, amount sdkmath.Int) error {
	debt, err := e.params.TotalDebt.SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "debt overflow: %s", err)
	}
	total, err := v.totalDebt.SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "debt overflow: %s", err)
	}
	e.params.TotalDebt, v.totalDebt = debt, total
	return nil
}

func (v *Vault) subDebt(e *strategyEntry, amount sdkmath.Int) error {
	if amount.GT(e.params.TotalDebt) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "strategy %s owes %s, reducing by %s", e.params.Name, e.params.TotalDebt, amount)
	}
	e.params.TotalDebt = e.params.TotalDebt.Sub(amount)
	v.totalDebt = v.totalDebt.Sub(amount)
	return nil
}

// mergeAmounts sums duplicate assets, keeping first-seen order.
func mergeAmounts(amounts []types.AssetAmount) []types.AssetAmount {
	idx := make(map[string]int, len(amounts))
	var out []types.AssetAmount
	for _, a := range amounts {
		if i, ok := idx[a.Asset]; ok {
			out[i].Amount = out[i].Amount.Add(a.Amount)
			continue
		}
		idx[a.Asset] = len(out)
		out = append(out, types.AssetAmount{Asset: a.Asset, Amount: utils.OrZero(a.Amount)})
	}
	return out
}
