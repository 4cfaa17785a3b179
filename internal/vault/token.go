package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// Transfer moves shares between holders. Transfers never change the credits per token.
func (v *Vault) Transfer(ctx context.Context, from, to string, amount sdkmath.Int) error {
	return v.execute(ctx, "transfer", func(ctx context.Context) error {
		return v.token.Transfer(from, to, amount)
	})
}

func (v *Vault) Approve(ctx context.Context, owner, spender string, amount sdkmath.Int) error {
	return v.execute(ctx, "approve", func(ctx context.Context) error {
		return v.token.Approve(owner, spender, amount)
	})
}

func (v *Vault) IncreaseAllowance(ctx context.Context, owner, spender string, added sdkmath.Int) error {
	return v.execute(ctx, "increase_allowance", func(ctx context.Context) error {
		return v.token.IncreaseAllowance(owner, spender, added)
	})
}

func (v *Vault) DecreaseAllowance(ctx context.Context, owner, spender string, subtracted sdkmath.Int) error {
	return v.execute(ctx, "decrease_allowance", func(ctx context.Context) error {
		return v.token.DecreaseAllowance(owner, spender, subtracted)
	})
}

// TransferFrom moves shares on behalf of from, spending the spender's allowance.
func (v *Vault) TransferFrom(ctx context.Context, spender, from, to string, amount sdkmath.Int) error {
	return v.execute(ctx, "transfer_from", func(ctx context.Context) error {
		return v.token.TransferFrom(spender, from, to, amount)
	})
}

// RebaseOptOut freezes the absolute share balance of account.
func (v *Vault) RebaseOptOut(ctx context.Context, account string) error {
	return v.execute(ctx, "rebase_opt_out", func(ctx context.Context) error {
		return v.token.RebaseOptOut(account)
	})
}

// RebaseOptIn returns account to credits-based accounting.
func (v *Vault) RebaseOptIn(ctx context.Context, account string) error {
	return v.execute(ctx, "rebase_opt_in", func(ctx context.Context) error {
		return v.token.RebaseOptIn(account)
	})
}
