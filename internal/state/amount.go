package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// amountString renders an amount for a NUMERIC or TEXT column.
func amountString(i sdkmath.Int) string {
	if i.IsNil() {
		return "0"
	}
	return i.String()
}

// amountParser parses a row's amounts and keeps the first error.
type amountParser struct{ err error }

func (p *amountParser) parse(raw string) sdkmath.Int {
	if p.err != nil {
		return sdkmath.ZeroInt()
	}
	v, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		p.err = fmt.Errorf("invalid stored amount %q", raw)
		return sdkmath.ZeroInt()
	}
	return v
}
