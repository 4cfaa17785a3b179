package vault

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
)

// enterCallOut registers a call into a strategy or the swap router made while the vault lock is held. Until the
// returned function runs, calls into the vault that do not carry the running operation's context are rejected
// instead of waiting on that lock.
func (v *Vault) enterCallOut(target string) (leave func()) {
	v.callOuts.Add(1)
	v.callOutTarget.Store(&target)
	return func() { v.callOuts.Add(-1) }
}

// checkReentry rejects a call made from inside a running operation: either with the operation's marked context,
// or with any other context while the operation waits on an external call.
func (v *Vault) checkReentry(ctx context.Context, name string) error {
	if running, ok := v.inOperation(ctx); ok {
		vaultLogger.Warn().Str("op", name).Str("during", running.name).Str("op_id", running.id).Msg("Rejected reentrant call")
		return errorsmod.Wrapf(types.ErrReentrantCall, "%s called during %s", name, running.name)
	}
	if v.callOuts.Load() > 0 {
		target := "an external call"
		if t := v.callOutTarget.Load(); t != nil {
			target = *t
		}
		vaultLogger.Warn().Str("op", name).Str("waiting_on", target).Msg("Rejected call during external call")
		return errorsmod.Wrapf(types.ErrReentrantCall, "%s called while the vault waits on %s", name, target)
	}
	return nil
}

// guardedStrategy registers every call into the wrapped strategy as a call out of the vault.
type guardedStrategy struct {
	strategy.Strategy
	v *Vault
}

// ext returns the strategy of e for calls made while the vault lock is held.
func (v *Vault) ext(e *strategyEntry) strategy.Strategy {
	return guardedStrategy{Strategy: e.impl, v: v}
}

func (g guardedStrategy) EstimatedTotalAssets(ctx context.Context) (sdkmath.Int, error) {
	defer g.v.enterCallOut(g.Name())()
	return g.Strategy.EstimatedTotalAssets(ctx)
}

func (g guardedStrategy) WantsInfo(ctx context.Context) (types.WantsInfo, error) {
	defer g.v.enterCallOut(g.Name())()
	return g.Strategy.WantsInfo(ctx)
}

func (g guardedStrategy) Deposit(ctx context.Context, assets []types.AssetAmount) error {
	defer g.v.enterCallOut(g.Name())()
	return g.Strategy.Deposit(ctx, assets)
}

func (g guardedStrategy) Withdraw(ctx context.Context, amount sdkmath.Int) ([]types.AssetAmount, error) {
	defer g.v.enterCallOut(g.Name())()
	return g.Strategy.Withdraw(ctx, amount)
}

func (g guardedStrategy) Harvest(ctx context.Context) error {
	defer g.v.enterCallOut(g.Name())()
	return g.Strategy.Harvest(ctx)
}
