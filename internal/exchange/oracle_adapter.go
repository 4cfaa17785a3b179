package exchange

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Pricer is the subset of the value interpreter an OracleAdapter needs.
type Pricer interface {
	CanonicalValue(ctx context.Context, asset string, amount sdkmath.Int) (sdkmath.Int, error)
	AmountForValue(ctx context.Context, asset string, value sdkmath.Int) (sdkmath.Int, error)
}

// OracleAdapter swaps at oracle prices minus a fixed slippage, settling against a liquidity account.
type OracleAdapter struct {
	id          string
	bank        *bank.Bank
	pricer      Pricer
	liquidity   string
	slippageBps uint64
}

// NewOracleAdapter creates an adapter settling against the liquidity account.
func NewOracleAdapter(id string, b *bank.Bank, pricer Pricer, liquidity string, slippageBps uint64) *OracleAdapter {
	return &OracleAdapter{id: id, bank: b, pricer: pricer, liquidity: liquidity, slippageBps: slippageBps}
}

func (o *OracleAdapter) Identifier() string { return o.id }

// Quote returns the output of swapping amountIn, including slippage.
func (o *OracleAdapter) Quote(ctx context.Context, from, to string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	value, err := o.pricer.CanonicalValue(ctx, from, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	out, err := o.pricer.AmountForValue(ctx, to, value)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	cut, err := utils.BpsOf(out, o.slippageBps)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return out.Sub(cut), nil
}

// Swap moves amountIn from sender to the liquidity account and the quoted output to recipient.
func (o *OracleAdapter) Swap(ctx context.Context, from, to string, amountIn sdkmath.Int, sender, recipient string) (sdkmath.Int, error) {
	out, err := o.Quote(ctx, from, to, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if available := o.bank.BalanceOf(o.liquidity, to); available.LT(out) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInsufficientLiquidity, "%s holds %s %s, swap needs %s", o.id, available, to, out)
	}
	if err := o.bank.Transfer(sender, o.liquidity, from, amountIn); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := o.bank.Transfer(o.liquidity, recipient, to, out); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return out, nil
}
