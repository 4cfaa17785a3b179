/*

This file contains the exchange aggregator the vault swaps through. It routes each swap to the registered
adapter quoting the best output.

*/

package exchange

import (
	"context"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/types"
)

var exchangeLogger = logger.GetForComponent("exchange")

// SwapRouter executes token exchanges for the vault.
type SwapRouter interface {
	// Swap exchanges amountIn of from held by sender for at least minOut of to delivered to recipient.
	Swap(ctx context.Context, req SwapRequest) (sdkmath.Int, error)
}

// Adapter executes swaps on a single venue.
type Adapter interface {
	Identifier() string
	Quote(ctx context.Context, from, to string, amountIn sdkmath.Int) (sdkmath.Int, error)
	Swap(ctx context.Context, from, to string, amountIn sdkmath.Int, sender, recipient string) (sdkmath.Int, error)
}

// SwapRequest describes one exchange.
type SwapRequest struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	AmountIn  sdkmath.Int `json:"amount_in"`
	MinOut    sdkmath.Int `json:"min_out"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Adapter   string      `json:"adapter,omitempty"` // optional, forces a venue
}

// Aggregator is a SwapRouter over a set of adapters.
type Aggregator struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewAggregator creates an aggregator with the given adapters.
func NewAggregator(adapters ...Adapter) *Aggregator {
	a := &Aggregator{adapters: make(map[string]Adapter)}
	a.AddAdapters(adapters...)
	return a
}

// AddAdapters registers adapters, replacing any with the same identifier.
func (a *Aggregator) AddAdapters(adapters ...Adapter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, adapter := range adapters {
		a.adapters[adapter.Identifier()] = adapter
	}
}

// RemoveAdapters unregisters adapters by identifier.
func (a *Aggregator) RemoveAdapters(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.adapters, id)
	}
}

// Adapters returns the registered adapter identifiers, sorted.
func (a *Aggregator) Adapters() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.adapters))
	for id := range a.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// bestAdapter returns the adapter quoting the highest output for the request.
func (a *Aggregator) bestAdapter(ctx context.Context, req SwapRequest) (Adapter, sdkmath.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if req.Adapter != "" {
		adapter, ok := a.adapters[req.Adapter]
		if !ok {
			return nil, sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidRequest, "unknown adapter %s", req.Adapter)
		}
		out, err := adapter.Quote(ctx, req.From, req.To, req.AmountIn)
		return adapter, out, err
	}

	var (
		best    Adapter
		bestOut = sdkmath.ZeroInt()
	)
	ids := make([]string, 0, len(a.adapters))
	for id := range a.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out, err := a.adapters[id].Quote(ctx, req.From, req.To, req.AmountIn)
		if err != nil {
			exchangeLogger.Debug().Err(err).Str("adapter", id).Msg("Adapter cannot quote")
			continue
		}
		if best == nil || out.GT(bestOut) {
			best, bestOut = a.adapters[id], out
		}
	}
	if best == nil {
		return nil, sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInsufficientLiquidity, "no route from %s to %s", req.From, req.To)
	}
	return best, bestOut, nil
}

// Swap implements SwapRouter.
func (a *Aggregator) Swap(ctx context.Context, req SwapRequest) (sdkmath.Int, error) {
	if req.AmountIn.IsNil() || !req.AmountIn.IsPositive() {
		return sdkmath.ZeroInt(), errorsmod.Wrap(types.ErrInvalidRequest, "swap amount must be positive")
	}
	if req.From == req.To {
		return sdkmath.ZeroInt(), errorsmod.Wrap(types.ErrInvalidRequest, "swap to the same asset")
	}
	minOut := req.MinOut
	if minOut.IsNil() {
		minOut = sdkmath.ZeroInt()
	}

	adapter, quoted, err := a.bestAdapter(ctx, req)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if quoted.LT(minOut) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrSlippageExceeded, "best quote %s below minimum %s", quoted, minOut)
	}
	out, err := adapter.Swap(ctx, req.From, req.To, req.AmountIn, req.Sender, req.Recipient)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if out.LT(minOut) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrSlippageExceeded, "received %s below minimum %s", out, minOut)
	}
	exchangeLogger.Debug().
		Str("adapter", adapter.Identifier()).
		Str("from", req.From).
		Str("to", req.To).
		Str("amount_in", req.AmountIn.String()).
		Str("amount_out", out.String()).
		Msg("Swapped")
	return out, nil
}

// BatchSwap executes each request in order and stops at the first failure.
func (a *Aggregator) BatchSwap(ctx context.Context, reqs []SwapRequest) ([]sdkmath.Int, error) {
	outs := make([]sdkmath.Int, 0, len(reqs))
	for i, req := range reqs {
		out, err := a.Swap(ctx, req)
		if err != nil {
			return outs, errorsmod.Wrapf(err, "swap %d", i)
		}
		outs = append(outs, out)
	}
	return outs, nil
}
