/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// MaxDecimals bounds asset precision; canonical value itself uses 18.
const MaxDecimals = 36

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling.
// Only used for metrics and analytics, never for accounting.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := decimal.NewFromBigInt(amount.BigInt(), int32(-precision))
	resultFloat, _ := result.Float64()

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// FormatUnits renders a raw integer amount as a human decimal string, e.g. 1500000 with 6 decimals is "1.5".
func FormatUnits(amount sdkmath.Int, precision int) string {
	if amount.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(amount.BigInt(), int32(-precision)).String()
}

// ParseUnits converts a human decimal string into a raw integer amount with the given precision.
// Digits beyond the precision are truncated.
func ParseUnits(value string, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > MaxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if d.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	raw := d.Shift(int32(precision)).Truncate(0)
	return sdkmath.NewIntFromBigInt(raw.BigInt()), nil
}

// ParsePrice converts a decimal price string (USD per whole token) into a LegacyDec.
// Precision beyond 18 decimals is truncated.
func ParsePrice(value string) (sdkmath.LegacyDec, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if !d.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: price must be positive, got %s", ErrConversionFailed, value)
	}
	raw := d.Shift(sdkmath.LegacyPrecision).Truncate(0)
	return sdkmath.LegacyNewDecFromBigIntWithPrec(raw.BigInt(), sdkmath.LegacyPrecision), nil
}
