package pegtoken

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

// Account is the exported form of one holder.
type Account struct {
	Address  string      `json:"address"`
	Credits  sdkmath.Int `json:"credits"`
	OptedOut bool        `json:"opted_out,omitempty"`
}

// Allowance is the exported form of one approval.
type Allowance struct {
	Owner   string      `json:"owner"`
	Spender string      `json:"spender"`
	Amount  sdkmath.Int `json:"amount"`
}

// Genesis is the exported form of the token.
type Genesis struct {
	TotalSupply             sdkmath.Int `json:"total_supply"`
	RebasingCredits         sdkmath.Int `json:"rebasing_credits"`
	RebasingCreditsPerToken sdkmath.Int `json:"rebasing_credits_per_token"`
	NonRebasingSupply       sdkmath.Int `json:"non_rebasing_supply"`
	Accounts                []Account   `json:"accounts"`
	Allowances              []Allowance `json:"allowances,omitempty"`
	Paused                  bool        `json:"paused,omitempty"`
}

// Export returns the full token state.
func (t *Token) Export() Genesis {
	g := Genesis{
		TotalSupply:             t.totalSupply,
		RebasingCredits:         t.rebasingCredits,
		RebasingCreditsPerToken: t.rebasingCreditsPerToken,
		NonRebasingSupply:       t.nonRebasingSupply,
		Paused:                  t.paused,
	}
	for _, holder := range t.Holders() {
		g.Accounts = append(g.Accounts, Account{Address: holder, Credits: t.creditBalances[holder], OptedOut: t.optedOut[holder]})
	}
	// opted-out accounts with no balance still carry their flag
	for account := range t.optedOut {
		if _, ok := t.creditBalances[account]; !ok {
			g.Accounts = append(g.Accounts, Account{Address: account, Credits: sdkmath.ZeroInt(), OptedOut: true})
		}
	}
	for owner, m := range t.allowances {
		for spender, amount := range m {
			g.Allowances = append(g.Allowances, Allowance{Owner: owner, Spender: spender, Amount: amount})
		}
	}
	return g
}

// Import replaces the token state with g after checking its aggregates are consistent.
func (t *Token) Import(g Genesis) error {
	if g.RebasingCreditsPerToken.IsNil() || !g.RebasingCreditsPerToken.IsPositive() {
		return errorsmod.Wrap(types.ErrInvalidRequest, "credits per token must be positive")
	}
	rebasing, nonRebasing := sdkmath.ZeroInt(), sdkmath.ZeroInt()
	credits := make(map[string]sdkmath.Int, len(g.Accounts))
	optedOut := make(map[string]bool)
	for _, acc := range g.Accounts {
		if acc.Credits.IsNil() || acc.Credits.IsNegative() {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "negative credits for %s", acc.Address)
		}
		if acc.OptedOut {
			optedOut[acc.Address] = true
			nonRebasing = nonRebasing.Add(acc.Credits)
		} else {
			rebasing = rebasing.Add(acc.Credits)
		}
		if acc.Credits.IsPositive() {
			credits[acc.Address] = acc.Credits
		}
	}
	if !rebasing.Equal(g.RebasingCredits) || !nonRebasing.Equal(g.NonRebasingSupply) {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "account credits (%s, %s) do not match aggregates (%s, %s)",
			rebasing, nonRebasing, g.RebasingCredits, g.NonRebasingSupply)
	}
	allowances := make(map[string]map[string]sdkmath.Int)
	for _, a := range g.Allowances {
		if allowances[a.Owner] == nil {
			allowances[a.Owner] = make(map[string]sdkmath.Int)
		}
		allowances[a.Owner][a.Spender] = a.Amount
	}

	t.totalSupply = g.TotalSupply
	t.rebasingCredits = g.RebasingCredits
	t.rebasingCreditsPerToken = g.RebasingCreditsPerToken
	t.nonRebasingSupply = g.NonRebasingSupply
	t.creditBalances = credits
	t.optedOut = optedOut
	t.allowances = allowances
	t.paused = g.Paused
	return nil
}
