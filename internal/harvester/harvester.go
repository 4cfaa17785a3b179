/*

This file contains the harvester. It asks strategies to harvest, which makes each of them report its result to
the vault, and sells any reward tokens it receives into a single asset for the profit receiver.

*/

package harvester

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/strategy"
)

var harvesterLogger = logger.GetForComponent("harvester")

// Registry resolves a strategy address to its implementation.
type Registry interface {
	Strategy(ctx context.Context, addr string) (strategy.Strategy, error)
}

// Config holds everything needed to create a harvester.
type Config struct {
	Address        string // receives reward tokens from strategies
	Registry       Registry
	Router         exchange.SwapRouter
	Bank           *bank.Bank
	Access         *access.Control
	SellTo         string
	ProfitReceiver string
}

// Result is the outcome of harvesting one strategy.
type Result struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error,omitempty"`
}

// Harvester drives strategy harvests.
type Harvester struct {
	mu sync.Mutex

	address  string
	registry Registry
	router   exchange.SwapRouter
	bank     *bank.Bank
	access   *access.Control

	sellTo         string
	profitReceiver string
}

// New creates a harvester.
func New(cfg Config) (*Harvester, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("harvester address is required")
	}
	if cfg.Registry == nil || cfg.Bank == nil || cfg.Access == nil {
		return nil, fmt.Errorf("harvester registry, bank and access control are required")
	}
	if cfg.SellTo == "" || cfg.ProfitReceiver == "" {
		return nil, fmt.Errorf("harvester sell-to asset and profit receiver are required")
	}
	return &Harvester{
		address:        cfg.Address,
		registry:       cfg.Registry,
		router:         cfg.Router,
		bank:           cfg.Bank,
		access:         cfg.Access,
		sellTo:         cfg.SellTo,
		profitReceiver: cfg.ProfitReceiver,
	}, nil
}

func (h *Harvester) Address() string { return h.address }

func (h *Harvester) SellTo() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sellTo
}

func (h *Harvester) ProfitReceiver() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.profitReceiver
}

// SetProfitReceiver changes where sold rewards go. Governance only.
func (h *Harvester) SetProfitReceiver(sender, receiver string) error {
	if err := h.access.Check(sender, access.RoleGovernance); err != nil {
		return err
	}
	if receiver == "" {
		return fmt.Errorf("profit receiver cannot be empty")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.profitReceiver = receiver
	return nil
}

// SetSellTo changes the asset rewards are sold into. Governance only.
func (h *Harvester) SetSellTo(sender, asset string) error {
	if err := h.access.Check(sender, access.RoleGovernance); err != nil {
		return err
	}
	if asset == "" {
		return fmt.Errorf("sell-to asset cannot be empty")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sellTo = asset
	return nil
}

// Collect harvests every listed strategy. A failing strategy does not stop the others; all failures are
// returned joined.
func (h *Harvester) Collect(ctx context.Context, sender string, strategies []string) ([]Result, error) {
	if err := h.access.Check(sender, access.RoleKeeper); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(strategies))
	var errs []error
	for _, addr := range strategies {
		res := Result{Strategy: addr}
		if err := h.harvest(ctx, addr); err != nil {
			harvesterLogger.Warn().Err(err).Str("strategy", addr).Msg("Harvest failed")
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("harvest %s: %w", addr, err))
		}
		results = append(results, res)
	}
	harvesterLogger.Info().Int("strategies", len(strategies)).Int("failed", len(errs)).Msg("Harvest round finished")
	return results, errors.Join(errs...)
}

func (h *Harvester) harvest(ctx context.Context, addr string) error {
	impl, err := h.registry.Strategy(ctx, addr)
	if err != nil {
		return err
	}
	return impl.Harvest(ctx)
}

// SellRewards swaps every reward token held by the harvester into the sell-to asset and sends the proceeds to
// the profit receiver. It returns the amount of the sell-to asset delivered.
func (h *Harvester) SellRewards(ctx context.Context, sender string) (sdkmath.Int, error) {
	if err := h.access.Check(sender, access.RoleKeeper); err != nil {
		return sdkmath.ZeroInt(), err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, holding := range h.bank.Balances(h.address) {
		if holding.Asset == h.sellTo {
			continue
		}
		if h.router == nil {
			return sdkmath.ZeroInt(), fmt.Errorf("no swap router to sell %s", holding.Asset)
		}
		out, err := h.router.Swap(ctx, exchange.SwapRequest{
			From:      holding.Asset,
			To:        h.sellTo,
			AmountIn:  holding.Amount,
			MinOut:    sdkmath.ZeroInt(),
			Sender:    h.address,
			Recipient: h.address,
		})
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("failed to sell %s: %w", holding.Asset, err)
		}
		harvesterLogger.Debug().Str("asset", holding.Asset).Str("in", holding.Amount.String()).Str("out", out.String()).Msg("Reward sold")
	}

	proceeds := h.bank.BalanceOf(h.address, h.sellTo)
	if err := h.bank.Transfer(h.address, h.profitReceiver, h.sellTo, proceeds); err != nil {
		return sdkmath.ZeroInt(), err
	}
	harvesterLogger.Info().Str("asset", h.sellTo).Str("amount", proceeds.String()).Str("to", h.profitReceiver).Msg("Rewards delivered")
	return proceeds, nil
}
