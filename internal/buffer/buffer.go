/*

This file contains the deposit buffer. Deposits wait here as non-rebasing tickets valued 1:1 in canonical
units until the next position adjustment prices them, after which the vault mints shares to the buffer and
the buffer hands them out pro rata to ticket holders.

*/

package buffer

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/pegtoken"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

var bufferLogger = logger.GetForComponent("buffer")

// Buffer is owned by the vault ledger and is not safe for concurrent use on its own.
type Buffer struct {
	address string
	vault   string
	bank    *bank.Bank
	token   *pegtoken.Token

	tickets      map[string]sdkmath.Int
	queue        []string // ticket holders in first-deposit order
	totalTickets sdkmath.Int

	distributing     bool
	ticketsRemaining sdkmath.Int // tickets of this round not yet burned
}

// New creates an empty buffer holding custody at address. Only vault may mint tickets or move cash.
func New(address, vault string, b *bank.Bank, token *pegtoken.Token) *Buffer {
	return &Buffer{
		address:          address,
		vault:            vault,
		bank:             b,
		token:            token,
		tickets:          make(map[string]sdkmath.Int),
		totalTickets:     sdkmath.ZeroInt(),
		ticketsRemaining: sdkmath.ZeroInt(),
	}
}

// Address is the custody account of buffered assets and undistributed shares.
func (b *Buffer) Address() string { return b.address }

// IsDistributing reports whether shares are waiting to be handed out.
func (b *Buffer) IsDistributing() bool { return b.distributing }

// TotalSupply is the sum of outstanding tickets.
func (b *Buffer) TotalSupply() sdkmath.Int { return b.totalTickets }

// BalanceOf returns the tickets held by account.
func (b *Buffer) BalanceOf(account string) sdkmath.Int {
	return utils.OrZero(b.tickets[account])
}

// Holders returns ticket holders in the order they will be paid.
func (b *Buffer) Holders() []string {
	out := make([]string, len(b.queue))
	copy(out, b.queue)
	return out
}

func (b *Buffer) onlyVault(caller string) error {
	if caller != b.vault {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the vault", caller)
	}
	return nil
}

// Mint issues value tickets to account. Deposits are refused while a distribution is pending.
func (b *Buffer) Mint(caller, account string, value sdkmath.Int) error {
	if err := b.onlyVault(caller); err != nil {
		return err
	}
	if b.distributing {
		return errorsmod.Wrap(types.ErrState, "buffer is distributing")
	}
	if value.IsNil() || !value.IsPositive() {
		return errorsmod.Wrap(types.ErrInvalidRequest, "ticket amount must be positive")
	}

	current := b.BalanceOf(account)
	if current.IsZero() {
		b.queue = append(b.queue, account)
	}
	b.tickets[account] = current.Add(value)
	b.totalTickets = b.totalTickets.Add(value)
	return nil
}

// TransferCashToVault moves every buffered unit of assets into the vault and returns what moved.
func (b *Buffer) TransferCashToVault(caller string, assets []string) ([]types.AssetAmount, error) {
	if err := b.onlyVault(caller); err != nil {
		return nil, err
	}
	var moved []types.AssetAmount
	for _, asset := range assets {
		amount := b.bank.BalanceOf(b.address, asset)
		if amount.IsZero() {
			continue
		}
		if err := b.bank.Transfer(b.address, b.vault, asset, amount); err != nil {
			return nil, err
		}
		moved = append(moved, types.AssetAmount{Asset: asset, Amount: amount})
	}
	return moved, nil
}

// OpenDistribute starts a distribution round of the shares the vault just minted to the buffer. The round pays
// out whatever share balance the buffer holds when each holder is paid, so a rebase before the round ends moves
// every remaining payout with the share price.
func (b *Buffer) OpenDistribute(caller string, shares sdkmath.Int) error {
	if err := b.onlyVault(caller); err != nil {
		return err
	}
	if b.distributing {
		return errorsmod.Wrap(types.ErrState, "buffer is already distributing")
	}
	if b.totalTickets.IsZero() {
		return nil
	}
	b.distributing = true
	b.ticketsRemaining = b.totalTickets
	bufferLogger.Info().
		Str("shares", shares.String()).
		Str("tickets", b.totalTickets.String()).
		Int("holders", len(b.queue)).
		Msg("Buffer distribution opened")
	return nil
}

// DistributeWhenDistributing burns the tickets of up to limit holders (0 means all) and pays each its pro-rata
// part of the buffer's current share balance. The last holder receives whatever remains so no shares stay behind.
func (b *Buffer) DistributeWhenDistributing(limit int) (types.DistributeResult, error) {
	result := types.DistributeResult{Shares: sdkmath.ZeroInt(), Tickets: sdkmath.ZeroInt()}
	if !b.distributing {
		return result, errorsmod.Wrap(types.ErrState, "buffer is not distributing")
	}

	for len(b.queue) > 0 && (limit <= 0 || result.Holders < limit) {
		holder := b.queue[0]
		ticket := b.BalanceOf(holder)
		shares := b.token.BalanceOf(b.address)

		amount := shares
		if !ticket.Equal(b.ticketsRemaining) {
			var err error
			amount, err = utils.MulDiv(ticket, shares, b.ticketsRemaining)
			if err != nil {
				return result, errorsmod.Wrapf(types.ErrInvalidRequest, "distribution share: %s", err)
			}
		}
		if amount.IsPositive() {
			if err := b.token.Transfer(b.address, holder, amount); err != nil {
				return result, err
			}
		}

		delete(b.tickets, holder)
		b.queue = b.queue[1:]
		b.totalTickets = b.totalTickets.Sub(ticket)
		b.ticketsRemaining = b.ticketsRemaining.Sub(ticket)

		result.Holders++
		result.Shares = result.Shares.Add(amount)
		result.Tickets = result.Tickets.Add(ticket)
		bufferLogger.Debug().Str("holder", holder).Str("tickets", ticket.String()).Str("shares", amount.String()).Msg("Distributed")
	}

	if len(b.queue) == 0 {
		b.distributing = false
		b.ticketsRemaining = sdkmath.ZeroInt()
		result.Done = true
	}
	return result, nil
}

// Checkpoint captures the ticket ledger; the returned function restores it.
func (b *Buffer) Checkpoint() func() {
	saved := *b
	saved.tickets = make(map[string]sdkmath.Int, len(b.tickets))
	for k, v := range b.tickets {
		saved.tickets[k] = v
	}
	saved.queue = b.Holders()
	return func() { *b = saved }
}
