package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

const (
	// MaxBps is 100% expressed in basis points.
	MaxBps = 10_000
	// TenMillion is the denominator of the rebase threshold (parts per ten million).
	TenMillion = 10_000_000
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("arithmetic overflow")
)

// Pow10 returns 10^n as an Int.
func Pow10(n int) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, n)
}

// MulDiv returns floor(a*b/c) with explicit overflow and zero-divisor errors.
func MulDiv(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	prod, err := a.SafeMul(b)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrOverflow, err)
	}
	return prod.Quo(c), nil
}

// MulDivUp returns ceil(a*b/c) for non-negative operands.
func MulDivUp(a, b, c sdkmath.Int) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	prod, err := a.SafeMul(b)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrOverflow, err)
	}
	q := prod.Quo(c)
	if !prod.Mod(c).IsZero() {
		q = q.AddRaw(1)
	}
	return q, nil
}

// BpsOf returns floor(amount*bps/10000).
func BpsOf(amount sdkmath.Int, bps uint64) (sdkmath.Int, error) {
	return MulDiv(amount, sdkmath.NewIntFromUint64(bps), sdkmath.NewInt(MaxBps))
}

// MinInt returns the smaller of a and b.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

// OrZero substitutes zero for an uninitialized Int, as returned by a map miss.
func OrZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}
