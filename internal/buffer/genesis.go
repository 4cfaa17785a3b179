package buffer

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/types"
)

// Ticket is the exported form of one ticket holder.
type Ticket struct {
	Holder string      `json:"holder"`
	Amount sdkmath.Int `json:"amount"`
}

// Genesis is the exported form of the buffer.
type Genesis struct {
	Tickets          []Ticket    `json:"tickets"`
	Distributing     bool        `json:"distributing"`
	TicketsRemaining sdkmath.Int `json:"tickets_remaining"`
}

// Export returns the buffer state, tickets in payment order.
func (b *Buffer) Export() Genesis {
	g := Genesis{
		Distributing:     b.distributing,
		TicketsRemaining: b.ticketsRemaining,
	}
	for _, holder := range b.queue {
		g.Tickets = append(g.Tickets, Ticket{Holder: holder, Amount: b.tickets[holder]})
	}
	return g
}

// Import replaces the buffer state with g.
func (b *Buffer) Import(g Genesis) error {
	tickets := make(map[string]sdkmath.Int, len(g.Tickets))
	queue := make([]string, 0, len(g.Tickets))
	total := sdkmath.ZeroInt()
	for _, t := range g.Tickets {
		if t.Amount.IsNil() || !t.Amount.IsPositive() {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "ticket of %s must be positive", t.Holder)
		}
		if _, dup := tickets[t.Holder]; dup {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "duplicate ticket holder %s", t.Holder)
		}
		tickets[t.Holder] = t.Amount
		queue = append(queue, t.Holder)
		total = total.Add(t.Amount)
	}

	b.tickets = tickets
	b.queue = queue
	b.totalTickets = total
	b.distributing = g.Distributing
	b.ticketsRemaining = sdkmath.ZeroInt()
	if g.Distributing {
		if g.TicketsRemaining.IsNil() || !g.TicketsRemaining.Equal(total) {
			return errorsmod.Wrap(types.ErrInvalidRequest, "distribution round does not match outstanding tickets")
		}
		b.ticketsRemaining = g.TicketsRemaining
	}
	return nil
}
