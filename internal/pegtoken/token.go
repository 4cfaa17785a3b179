/*

This file contains the rebasing share token. Holders own credits; a single rebasingCreditsPerToken rate
converts credits into visible balances, so a rebase rescales every rebasing holder at once without touching
individual accounts. Holders who opt out keep a fixed balance stored 1:1 as credits.

Rounding is always in the protocol's favor:
  - mint converts shares to credits rounding down
  - burn and transfer-out convert shares to credits rounding up
  - changeSupply rounds rebasingCreditsPerToken up, so the recomputed supply never exceeds the target
  - opt-in rounds credits up so the holder keeps the balance they had

The token is owned by the vault ledger and is not safe for concurrent use on its own.

*/

package pegtoken

import (
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

var (
	// creditsPrecision scales rebasingCreditsPerToken.
	creditsPrecision = utils.Pow10(18)
	// InitialCreditsPerToken gives every share unit 1e9 credits.
	InitialCreditsPerToken = utils.Pow10(27)
)

// Token is the rebasing share token.
type Token struct {
	name     string
	symbol   string
	decimals int
	minter   string // the only caller allowed to mint, burn and change supply

	totalSupply             sdkmath.Int
	rebasingCredits         sdkmath.Int
	rebasingCreditsPerToken sdkmath.Int
	nonRebasingSupply       sdkmath.Int

	creditBalances map[string]sdkmath.Int
	optedOut       map[string]bool
	allowances     map[string]map[string]sdkmath.Int // owner -> spender -> amount
	paused         bool
}

// New creates an empty token whose supply can only be changed by minter.
func New(name, symbol string, minter string) *Token {
	return &Token{
		name:                    name,
		symbol:                  symbol,
		decimals:                types.CanonicalDecimals,
		minter:                  minter,
		totalSupply:             sdkmath.ZeroInt(),
		rebasingCredits:         sdkmath.ZeroInt(),
		rebasingCreditsPerToken: InitialCreditsPerToken,
		nonRebasingSupply:       sdkmath.ZeroInt(),
		creditBalances:          make(map[string]sdkmath.Int),
		optedOut:                make(map[string]bool),
		allowances:              make(map[string]map[string]sdkmath.Int),
	}
}

func (t *Token) Name() string             { return t.name }
func (t *Token) Symbol() string           { return t.symbol }
func (t *Token) Decimals() int            { return t.decimals }
func (t *Token) Minter() string           { return t.minter }
func (t *Token) Paused() bool             { return t.paused }
func (t *Token) TotalSupply() sdkmath.Int { return t.totalSupply }

// RebasingCredits is the sum of credits of all rebasing holders.
func (t *Token) RebasingCredits() sdkmath.Int { return t.rebasingCredits }

// RebasingCreditsPerToken is the credits-per-share rate scaled by 1e18.
func (t *Token) RebasingCreditsPerToken() sdkmath.Int { return t.rebasingCreditsPerToken }

// NonRebasingSupply is the sum of the balances of opted-out holders.
func (t *Token) NonRebasingSupply() sdkmath.Int { return t.nonRebasingSupply }

// IsOptedOut reports whether account is excluded from rebases.
func (t *Token) IsOptedOut(account string) bool { return t.optedOut[account] }

// creditsPerToken returns the rate applying to account.
func (t *Token) creditsPerToken(account string) sdkmath.Int {
	if t.optedOut[account] {
		return creditsPrecision
	}
	return t.rebasingCreditsPerToken
}

// CreditsBalanceOf returns the raw credits of account and the rate that converts them.
func (t *Token) CreditsBalanceOf(account string) (sdkmath.Int, sdkmath.Int) {
	return utils.OrZero(t.creditBalances[account]), t.creditsPerToken(account)
}

// BalanceOf returns the visible share balance of account.
func (t *Token) BalanceOf(account string) sdkmath.Int {
	credits := utils.OrZero(t.creditBalances[account])
	if credits.IsZero() {
		return sdkmath.ZeroInt()
	}
	if t.optedOut[account] {
		return credits
	}
	return credits.Mul(creditsPrecision).Quo(t.rebasingCreditsPerToken)
}

// Holders returns every account with nonzero credits, sorted.
func (t *Token) Holders() []string {
	out := make([]string, 0, len(t.creditBalances))
	for account, credits := range t.creditBalances {
		if credits.IsPositive() {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Token) setCredits(account string, credits sdkmath.Int) {
	if credits.IsZero() {
		delete(t.creditBalances, account)
		return
	}
	t.creditBalances[account] = credits
}

func (t *Token) onlyMinter(caller string) error {
	if caller != t.minter {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the vault", caller)
	}
	return nil
}

func (t *Token) whenNotPaused() error {
	if t.paused {
		return types.ErrPaused
	}
	return nil
}

func checkAmount(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrap(types.ErrInvalidRequest, "amount must not be negative")
	}
	return nil
}

// ChangePauseState pauses or resumes mint, burn and transfers. Authorization is the vault's concern.
func (t *Token) ChangePauseState(paused bool) {
	t.paused = paused
}

// MintShares creates amount shares for account.
func (t *Token) MintShares(caller, account string, amount sdkmath.Int) error {
	if err := t.onlyMinter(caller); err != nil {
		return err
	}
	if err := t.whenNotPaused(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if account == "" {
		return errorsmod.Wrap(types.ErrInvalidRequest, "mint to the empty account")
	}

	credits, err := utils.MulDiv(amount, t.creditsPerToken(account), creditsPrecision)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "mint credits: %s", err)
	}
	newSupply, err := t.totalSupply.SafeAdd(amount)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "supply overflow: %s", err)
	}

	t.setCredits(account, utils.OrZero(t.creditBalances[account]).Add(credits))
	if t.optedOut[account] {
		t.nonRebasingSupply = t.nonRebasingSupply.Add(amount)
	} else {
		t.rebasingCredits = t.rebasingCredits.Add(credits)
	}
	t.totalSupply = newSupply
	return nil
}

// BurnShares destroys amount shares of account.
func (t *Token) BurnShares(caller, account string, amount sdkmath.Int) error {
	if err := t.onlyMinter(caller); err != nil {
		return err
	}
	if err := t.whenNotPaused(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	credits, err := t.debitCredits(account, amount)
	if err != nil {
		return err
	}
	if t.optedOut[account] {
		t.nonRebasingSupply = t.nonRebasingSupply.Sub(amount)
	} else {
		t.rebasingCredits = t.rebasingCredits.Sub(credits)
	}
	t.totalSupply = t.totalSupply.Sub(amount)
	return nil
}

// debitCredits removes the credits backing amount from account and returns how many were removed.
func (t *Token) debitCredits(account string, amount sdkmath.Int) (sdkmath.Int, error) {
	balance := t.BalanceOf(account)
	if balance.LT(amount) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s shares, needs %s", account, balance, amount)
	}
	current := utils.OrZero(t.creditBalances[account])
	if amount.Equal(balance) {
		t.setCredits(account, sdkmath.ZeroInt())
		return current, nil
	}
	credits, err := utils.MulDivUp(amount, t.creditsPerToken(account), creditsPrecision)
	if err != nil {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidRequest, "burn credits: %s", err)
	}
	if credits.GT(current) {
		credits = current
	}
	t.setCredits(account, current.Sub(credits))
	return credits, nil
}

// Transfer moves amount shares from one holder to another.
func (t *Token) Transfer(from, to string, amount sdkmath.Int) error {
	if err := t.whenNotPaused(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == "" {
		return errorsmod.Wrap(types.ErrInvalidRequest, "transfer to the empty account")
	}
	if amount.IsZero() || from == to {
		if t.BalanceOf(from).LT(amount) {
			return errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s shares", from, t.BalanceOf(from))
		}
		return nil
	}

	debited, err := t.debitCredits(from, amount)
	if err != nil {
		return err
	}
	credited, err := utils.MulDiv(amount, t.creditsPerToken(to), creditsPrecision)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "transfer credits: %s", err)
	}
	t.setCredits(to, utils.OrZero(t.creditBalances[to]).Add(credited))

	fromOut, toOut := t.optedOut[from], t.optedOut[to]
	switch {
	case !fromOut && !toOut:
		t.rebasingCredits = t.rebasingCredits.Sub(debited).Add(credited)
	case !fromOut && toOut:
		t.rebasingCredits = t.rebasingCredits.Sub(debited)
		t.nonRebasingSupply = t.nonRebasingSupply.Add(amount)
	case fromOut && !toOut:
		t.nonRebasingSupply = t.nonRebasingSupply.Sub(amount)
		t.rebasingCredits = t.rebasingCredits.Add(credited)
	}
	return nil
}

// Approve sets the allowance of spender over owner's shares.
func (t *Token) Approve(owner, spender string, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == "" {
		return errorsmod.Wrap(types.ErrInvalidRequest, "approve to the empty account")
	}
	t.setAllowance(owner, spender, amount)
	return nil
}

// Allowance returns how many shares spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender string) sdkmath.Int {
	return utils.OrZero(t.allowances[owner][spender])
}

// IncreaseAllowance adds to the allowance of spender.
func (t *Token) IncreaseAllowance(owner, spender string, added sdkmath.Int) error {
	if err := checkAmount(added); err != nil {
		return err
	}
	return t.Approve(owner, spender, t.Allowance(owner, spender).Add(added))
}

// DecreaseAllowance subtracts from the allowance of spender.
func (t *Token) DecreaseAllowance(owner, spender string, subtracted sdkmath.Int) error {
	if err := checkAmount(subtracted); err != nil {
		return err
	}
	current := t.Allowance(owner, spender)
	if current.LT(subtracted) {
		return errorsmod.Wrapf(types.ErrInsufficientAllowance, "decreased allowance below zero")
	}
	return t.Approve(owner, spender, current.Sub(subtracted))
}

// TransferFrom moves shares on behalf of from, consuming spender's allowance.
func (t *Token) TransferFrom(spender, from, to string, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowance := t.Allowance(from, spender)
	if allowance.LT(amount) {
		return errorsmod.Wrapf(types.ErrInsufficientAllowance, "%s may move %s of %s, needs %s", spender, allowance, from, amount)
	}
	if err := t.Transfer(from, to, amount); err != nil {
		return err
	}
	t.setAllowance(from, spender, allowance.Sub(amount))
	return nil
}

func (t *Token) setAllowance(owner, spender string, amount sdkmath.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[string]sdkmath.Int)
		t.allowances[owner] = m
	}
	if amount.IsZero() {
		delete(m, spender)
		return
	}
	m[spender] = amount
}

// RebaseOptOut freezes account's balance so rebases no longer change it.
func (t *Token) RebaseOptOut(account string) error {
	if t.optedOut[account] {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "%s already opted out", account)
	}
	balance := t.BalanceOf(account)
	credits := utils.OrZero(t.creditBalances[account])

	t.rebasingCredits = t.rebasingCredits.Sub(credits)
	t.nonRebasingSupply = t.nonRebasingSupply.Add(balance)
	t.optedOut[account] = true
	t.setCredits(account, balance)
	return nil
}

// RebaseOptIn converts account's fixed balance back to credits at the current rate.
func (t *Token) RebaseOptIn(account string) error {
	if !t.optedOut[account] {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "%s has not opted out", account)
	}
	balance := utils.OrZero(t.creditBalances[account])
	credits, err := utils.MulDivUp(balance, t.rebasingCreditsPerToken, creditsPrecision)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "opt-in credits: %s", err)
	}

	t.nonRebasingSupply = t.nonRebasingSupply.Sub(balance)
	t.rebasingCredits = t.rebasingCredits.Add(credits)
	delete(t.optedOut, account)
	t.setCredits(account, credits)
	return nil
}

// ChangeSupply rescales every rebasing balance so the total supply becomes newTotalSupply,
// up to rounding in the protocol's favor. Opted-out balances are unchanged.
func (t *Token) ChangeSupply(caller string, newTotalSupply sdkmath.Int) error {
	if err := t.onlyMinter(caller); err != nil {
		return err
	}
	if err := checkAmount(newTotalSupply); err != nil {
		return err
	}
	if t.totalSupply.IsZero() {
		return errorsmod.Wrap(types.ErrInvalidSupplyChange, "cannot change supply of zero")
	}
	if newTotalSupply.Equal(t.totalSupply) {
		return nil
	}
	if t.rebasingCredits.IsZero() {
		return errorsmod.Wrap(types.ErrInvalidSupplyChange, "all holders opted out")
	}
	rebasingSupply := newTotalSupply.Sub(t.nonRebasingSupply)
	if !rebasingSupply.IsPositive() {
		return errorsmod.Wrapf(types.ErrInvalidSupplyChange, "new supply %s does not exceed non-rebasing supply %s",
			newTotalSupply, t.nonRebasingSupply)
	}

	cpt, err := utils.MulDivUp(t.rebasingCredits, creditsPrecision, rebasingSupply)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidSupplyChange, "credits per token: %s", err)
	}
	if cpt.IsZero() {
		return errorsmod.Wrap(types.ErrInvalidSupplyChange, "credits per token would be zero")
	}

	t.rebasingCreditsPerToken = cpt
	t.totalSupply = t.rebasingCredits.Mul(creditsPrecision).Quo(cpt).Add(t.nonRebasingSupply)
	return nil
}

// Checkpoint captures the token state; the returned function restores it.
func (t *Token) Checkpoint() func() {
	saved := *t
	saved.creditBalances = copyInts(t.creditBalances)
	saved.optedOut = make(map[string]bool, len(t.optedOut))
	for k, v := range t.optedOut {
		saved.optedOut[k] = v
	}
	saved.allowances = make(map[string]map[string]sdkmath.Int, len(t.allowances))
	for owner, m := range t.allowances {
		saved.allowances[owner] = copyInts(m)
	}
	return func() { *t = saved }
}

func copyInts(m map[string]sdkmath.Int) map[string]sdkmath.Int {
	out := make(map[string]sdkmath.Int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
