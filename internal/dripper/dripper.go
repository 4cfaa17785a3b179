/*

This file contains the dripper, which releases a reward asset into the vault at a linear rate.

The rate is fixed at every collect: whatever remains after the collect is spread over the next drip duration.
Funds added between two collects therefore do not speed up the current drip. The per-second rate rounds down,
so dust balances may never drip.

*/

package dripper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/types"
)

var dripperLogger = logger.GetForComponent("dripper")

var (
	ErrZeroDuration = errors.New("duration must be non-zero")
)

// Sink is the vault side of the dripper.
type Sink interface {
	Donate(ctx context.Context, from, asset string, amount sdkmath.Int) error
	Params(ctx context.Context) (types.VaultParameters, error)
	Rebase(ctx context.Context, sender string, trusteeFeeBps uint64) (types.RebaseResult, error)
}

// Config holds everything needed to create a dripper.
type Config struct {
	Address string // custody account of the undripped funds
	Asset   string
	Bank    *bank.Bank
	Vault   Sink
	Access  *access.Control
	Now     func() time.Time // optional
}

// Dripper releases Asset held at Address into the vault.
type Dripper struct {
	mu sync.Mutex

	address string
	asset   string
	bank    *bank.Bank
	vault   Sink
	access  *access.Control
	now     func() time.Time

	duration    time.Duration
	lastCollect time.Time
	perSecond   sdkmath.Int
}

// New creates a dripper with no drip duration. Nothing is available until SetDripDuration is called.
func New(cfg Config) (*Dripper, error) {
	if cfg.Address == "" || cfg.Asset == "" {
		return nil, fmt.Errorf("dripper address and asset are required")
	}
	if cfg.Bank == nil || cfg.Vault == nil || cfg.Access == nil {
		return nil, fmt.Errorf("dripper bank, vault and access control are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dripper{
		address:     cfg.Address,
		asset:       cfg.Asset,
		bank:        cfg.Bank,
		vault:       cfg.Vault,
		access:      cfg.Access,
		now:         now,
		lastCollect: now(),
		perSecond:   sdkmath.ZeroInt(),
	}, nil
}

// Address is the dripper's custody account.
func (d *Dripper) Address() string { return d.address }

// DripDuration is the period the remaining balance is spread over.
func (d *Dripper) DripDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

// AvailableFunds is what a collect would send to the vault now.
func (d *Dripper) AvailableFunds() sdkmath.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available()
}

func (d *Dripper) available() sdkmath.Int {
	balance := d.bank.BalanceOf(d.address, d.asset)
	elapsed := int64(d.now().Sub(d.lastCollect) / time.Second)
	if elapsed <= 0 {
		return sdkmath.ZeroInt()
	}
	allowed := d.perSecond.MulRaw(elapsed)
	if allowed.GT(balance) {
		return balance
	}
	return allowed
}

// Collect sends the available funds to the vault and resets the drip rate.
func (d *Dripper) Collect(ctx context.Context) (sdkmath.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.collect(ctx)
}

func (d *Dripper) collect(ctx context.Context) (sdkmath.Int, error) {
	amount := d.available()
	if amount.IsPositive() {
		if err := d.vault.Donate(ctx, d.address, d.asset, amount); err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("failed to send dripped funds to the vault: %w", err)
		}
	}

	remaining := d.bank.BalanceOf(d.address, d.asset)
	d.perSecond = sdkmath.ZeroInt()
	if seconds := int64(d.duration / time.Second); seconds > 0 {
		d.perSecond = remaining.QuoRaw(seconds)
	}
	d.lastCollect = d.now()

	dripperLogger.Debug().
		Str("collected", amount.String()).
		Str("remaining", remaining.String()).
		Str("per_second", d.perSecond.String()).
		Msg("Drip collected")
	return amount, nil
}

// CollectAndRebase collects and then rebases the vault with its configured trustee fee, so holders see the
// dripped funds at once. sender must be allowed to rebase.
func (d *Dripper) CollectAndRebase(ctx context.Context, sender string) (types.RebaseResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.collect(ctx); err != nil {
		return types.RebaseResult{}, err
	}
	params, err := d.vault.Params(ctx)
	if err != nil {
		return types.RebaseResult{}, err
	}
	return d.vault.Rebase(ctx, sender, params.TrusteeFeeBps)
}

// SetDripDuration collects and starts dripping the remainder over duration. Governance only.
func (d *Dripper) SetDripDuration(ctx context.Context, sender string, duration time.Duration) error {
	if err := d.access.Check(sender, access.RoleGovernance); err != nil {
		return err
	}
	if duration < time.Second {
		return ErrZeroDuration
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	previous := d.duration
	d.duration = duration
	if _, err := d.collect(ctx); err != nil {
		d.duration = previous
		return err
	}

	dripperLogger.Info().Dur("duration", duration).Str("per_second", d.perSecond.String()).Msg("Drip duration set")
	return nil
}

// TransferToken rescues any asset held by the dripper to the calling governance account.
func (d *Dripper) TransferToken(ctx context.Context, sender, asset string, amount sdkmath.Int) error {
	if err := d.access.Check(sender, access.RoleGovernance); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bank.Transfer(d.address, sender, asset, amount); err != nil {
		return err
	}
	dripperLogger.Info().Str("asset", asset).Str("amount", amount.String()).Str("to", sender).Msg("Tokens rescued")
	return nil
}
