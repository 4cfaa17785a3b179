/*

This file contains the price oracle consumed by the vault and a settable in-memory implementation.
Prices are USD per whole token.

*/

package oracle

import (
	"context"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// PriceOracle returns the latest price of an asset and when it was observed.
type PriceOracle interface {
	Price(ctx context.Context, asset string) (sdkmath.LegacyDec, time.Time, error)
}

type quote struct {
	price     sdkmath.LegacyDec
	updatedAt time.Time
}

// StaticOracle serves prices pushed by an operator or loaded from configuration.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]quote
	now    func() time.Time
}

// NewStaticOracle creates an oracle with no prices. now may be nil to use the wall clock.
func NewStaticOracle(now func() time.Time) *StaticOracle {
	if now == nil {
		now = time.Now
	}
	return &StaticOracle{quotes: make(map[string]quote), now: now}
}

// SetPrice records price for asset at the current time.
func (o *StaticOracle) SetPrice(asset string, price sdkmath.LegacyDec) error {
	return o.SetPriceAt(asset, price, o.now())
}

// SetPriceAt records price for asset observed at updatedAt.
func (o *StaticOracle) SetPriceAt(asset string, price sdkmath.LegacyDec, updatedAt time.Time) error {
	if price.IsNil() || !price.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "price of %s must be positive", asset)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[asset] = quote{price: price, updatedAt: updatedAt}
	return nil
}

// Price implements PriceOracle.
func (o *StaticOracle) Price(ctx context.Context, asset string) (sdkmath.LegacyDec, time.Time, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.quotes[asset]
	if !ok {
		return sdkmath.LegacyZeroDec(), time.Time{}, errorsmod.Wrapf(types.ErrUnsupportedAsset, "no price for %s", asset)
	}
	return q.price, q.updatedAt, nil
}

// ValueOf converts a raw amount with the given decimals into canonical units, truncating.
func ValueOf(amount sdkmath.Int, decimals int, price sdkmath.LegacyDec) (sdkmath.Int, error) {
	return utils.MulDiv(amount, sdkmath.NewIntFromBigInt(price.BigInt()), utils.Pow10(decimals))
}

// AmountFor converts a canonical value into a raw amount of an asset, truncating.
func AmountFor(value sdkmath.Int, decimals int, price sdkmath.LegacyDec) (sdkmath.Int, error) {
	return utils.MulDiv(value, utils.Pow10(decimals), sdkmath.NewIntFromBigInt(price.BigInt()))
}
