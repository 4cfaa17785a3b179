package oracle

import (
	"context"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

// ValueInterpreter values asset amounts in canonical units using an oracle and a decimals registry,
// rejecting prices older than maxAge.
type ValueInterpreter struct {
	oracle PriceOracle
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	decimals map[string]int
}

// NewValueInterpreter creates an interpreter. maxAge 0 accepts any price age.
func NewValueInterpreter(o PriceOracle, maxAge time.Duration, now func() time.Time) *ValueInterpreter {
	if now == nil {
		now = time.Now
	}
	return &ValueInterpreter{oracle: o, maxAge: maxAge, now: now, decimals: make(map[string]int)}
}

// RegisterAsset records the decimals of asset.
func (v *ValueInterpreter) RegisterAsset(asset string, decimals int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decimals[asset] = decimals
}

// Decimals returns the registered decimals of asset.
func (v *ValueInterpreter) Decimals(asset string) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.decimals[asset]
	if !ok {
		return 0, errorsmod.Wrapf(types.ErrUnsupportedAsset, "unknown decimals for %s", asset)
	}
	return d, nil
}

// FreshPrice returns the oracle price of asset, failing when it is older than the configured bound.
func (v *ValueInterpreter) FreshPrice(ctx context.Context, asset string) (sdkmath.LegacyDec, error) {
	price, updatedAt, err := v.oracle.Price(ctx, asset)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if v.maxAge > 0 && v.now().Sub(updatedAt) > v.maxAge {
		return sdkmath.LegacyZeroDec(), errorsmod.Wrapf(types.ErrStalePrice, "%s price from %s", asset, updatedAt.Format(time.RFC3339))
	}
	return price, nil
}

// CanonicalValue implements strategy.Valuer.
func (v *ValueInterpreter) CanonicalValue(ctx context.Context, asset string, amount sdkmath.Int) (sdkmath.Int, error) {
	decimals, err := v.Decimals(asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	price, err := v.FreshPrice(ctx, asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return ValueOf(amount, decimals, price)
}

// AmountForValue returns how much of asset is worth value.
func (v *ValueInterpreter) AmountForValue(ctx context.Context, asset string, value sdkmath.Int) (sdkmath.Int, error) {
	decimals, err := v.Decimals(asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	price, err := v.FreshPrice(ctx, asset)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return AmountFor(value, decimals, price)
}
