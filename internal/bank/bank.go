/*

This file contains the in-memory custody ledger. Every place funds can sit (depositor wallets, the deposit
buffer, the vault pool, strategies, the treasury, swap liquidity) is an account holding per-asset balances.

*/

package bank

import (
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Bank holds per-account, per-asset balances.
type Bank struct {
	mu       sync.RWMutex
	balances map[string]map[string]sdkmath.Int // account -> asset -> amount
	supply   map[string]sdkmath.Int            // asset -> total minted
}

// New creates an empty bank.
func New() *Bank {
	return &Bank{
		balances: make(map[string]map[string]sdkmath.Int),
		supply:   make(map[string]sdkmath.Int),
	}
}

// BalanceOf returns the balance of asset held by account.
func (b *Bank) BalanceOf(account, asset string) sdkmath.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceOf(account, asset)
}

func (b *Bank) balanceOf(account, asset string) sdkmath.Int {
	return utils.OrZero(b.balances[account][asset])
}

// Balances returns every nonzero balance of account.
func (b *Bank) Balances(account string) []types.AssetAmount {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.AssetAmount, 0, len(b.balances[account]))
	for asset, amount := range b.balances[account] {
		if amount.IsPositive() {
			out = append(out, types.AssetAmount{Asset: asset, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Supply returns the total amount of asset in existence.
func (b *Bank) Supply(asset string) sdkmath.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return utils.OrZero(b.supply[asset])
}

// Transfer moves amount of asset from one account to another.
func (b *Bank) Transfer(from, to, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "transfer amount must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := b.balanceOf(from, asset).SafeSub(amount)
	if err != nil || fromBal.IsNegative() {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s %s, needs %s",
			from, b.balanceOf(from, asset), asset, amount)
	}
	toBal, err := b.balanceOf(to, asset).SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "balance overflow: %s", err)
	}
	b.set(from, asset, fromBal)
	b.set(to, asset, toBal)
	return nil
}

// Mint creates amount of asset in account. Used for faucets and simulated yield.
func (b *Bank) Mint(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "mint amount must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal, err := b.balanceOf(account, asset).SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "balance overflow: %s", err)
	}
	supply, err := utils.OrZero(b.supply[asset]).SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "supply overflow: %s", err)
	}
	b.set(account, asset, bal)
	b.supply[asset] = supply
	return nil
}

// Burn destroys amount of asset held by account. Used to simulate strategy losses.
func (b *Bank) Burn(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "burn amount must not be negative")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balanceOf(account, asset)
	if bal.LT(amount) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s %s, burning %s", account, bal, asset, amount)
	}
	b.set(account, asset, bal.Sub(amount))
	b.supply[asset] = utils.OrZero(b.supply[asset]).Sub(amount)
	return nil
}

func (b *Bank) set(account, asset string, amount sdkmath.Int) {
	acc, ok := b.balances[account]
	if !ok {
		acc = make(map[string]sdkmath.Int)
		b.balances[account] = acc
	}
	if amount.IsZero() {
		delete(acc, asset)
		return
	}
	acc[asset] = amount
}

// Checkpoint captures all balances; the returned function restores them.
func (b *Bank) Checkpoint() func() {
	b.mu.RLock()
	balances := make(map[string]map[string]sdkmath.Int, len(b.balances))
	for account, assets := range b.balances {
		cp := make(map[string]sdkmath.Int, len(assets))
		for asset, amount := range assets {
			cp[asset] = amount
		}
		balances[account] = cp
	}
	supply := make(map[string]sdkmath.Int, len(b.supply))
	for asset, amount := range b.supply {
		supply[asset] = amount
	}
	b.mu.RUnlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.balances = balances
		b.supply = supply
	}
}

// Genesis is the exported form of the bank.
type Genesis struct {
	Balances map[string][]types.AssetAmount `json:"balances"`
}

// Export returns every nonzero balance.
func (b *Bank) Export() Genesis {
	b.mu.RLock()
	accounts := make([]string, 0, len(b.balances))
	for account := range b.balances {
		accounts = append(accounts, account)
	}
	b.mu.RUnlock()

	g := Genesis{Balances: make(map[string][]types.AssetAmount, len(accounts))}
	for _, account := range accounts {
		if bals := b.Balances(account); len(bals) > 0 {
			g.Balances[account] = bals
		}
	}
	return g
}

// Import replaces the bank contents with g. Supplies are recomputed from balances.
func (b *Bank) Import(g Genesis) error {
	balances := make(map[string]map[string]sdkmath.Int, len(g.Balances))
	supply := make(map[string]sdkmath.Int)
	for account, bals := range g.Balances {
		acc := make(map[string]sdkmath.Int, len(bals))
		for _, bal := range bals {
			if bal.Amount.IsNil() || bal.Amount.IsNegative() {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "negative balance for %s/%s", account, bal.Asset)
			}
			acc[bal.Asset] = bal.Amount
			supply[bal.Asset] = utils.OrZero(supply[bal.Asset]).Add(bal.Amount)
		}
		balances[account] = acc
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = balances
	b.supply = supply
	return nil
}
