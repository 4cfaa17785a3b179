/*

This file contains simulated strategies backed by the in-memory bank. They hold whatever the vault lends
them, value it with the oracle, and can be told to earn yield or lose funds, which makes them suitable for
local runs and for exercising the vault's report, redeem and loss handling.

*/

package strategy

import (
	"context"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

var strategyLogger = logger.GetForComponent("strategy")

const (
	// MockVersion is reported by every simulated strategy.
	MockVersion = "0.0.1"
	// MockProtocolID identifies the simulated protocol.
	MockProtocolID = 23
)

// MockStrategy is a bank-backed strategy with controllable yield.
type MockStrategy struct {
	mu sync.Mutex

	address  string
	name     string
	vault    string
	wants    types.WantsInfo
	bank     *bank.Bank
	valuer   Valuer
	reporter Reporter

	pendingYield map[string]sdkmath.Int // minted into the position on the next harvest
	exitLossBps  uint64                 // burned from every withdrawal
}

// NewMockStrategy creates a strategy holding custody at address and returning funds to vault.
func NewMockStrategy(address, name, vault string, wants types.WantsInfo, b *bank.Bank, valuer Valuer) (*MockStrategy, error) {
	if len(wants.Assets) == 0 || len(wants.Assets) != len(wants.Ratios) {
		return nil, errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s: wants and ratios must be non-empty and of equal length", name)
	}
	return &MockStrategy{
		address:      address,
		name:         name,
		vault:        vault,
		wants:        wants,
		bank:         b,
		valuer:       valuer,
		pendingYield: make(map[string]sdkmath.Int),
	}, nil
}

// NewMock3CoinStrategy wants usdt, usdc and dai in a 1:2:4 ratio.
func NewMock3CoinStrategy(address, vault string, usdt, usdc, dai string, b *bank.Bank, valuer Valuer) (*MockStrategy, error) {
	return NewMockStrategy(address, "Mock3CoinStrategy", vault, types.WantsInfo{
		Assets: []string{usdt, usdc, dai},
		Ratios: []uint64{1, 2, 4},
	}, b, valuer)
}

func (s *MockStrategy) Address() string { return s.address }
func (s *MockStrategy) Name() string    { return s.name }
func (s *MockStrategy) Version() string { return MockVersion }
func (s *MockStrategy) ProtocolID() int { return MockProtocolID }

// SetReporter wires the vault the strategy reports to after harvesting.
func (s *MockStrategy) SetReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// AddYield schedules amount of asset to be earned on the next harvest.
func (s *MockStrategy) AddYield(asset string, amount sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingYield[asset] = utils.OrZero(s.pendingYield[asset]).Add(amount)
}

// SetExitLossBps makes every withdrawal lose bps of what it would otherwise return.
func (s *MockStrategy) SetExitLossBps(bps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLossBps = bps
}

// Lose destroys amount of asset held by the strategy.
func (s *MockStrategy) Lose(asset string, amount sdkmath.Int) error {
	return s.bank.Burn(s.address, asset, amount)
}

// EstimatedTotalAssets values every asset the strategy holds.
func (s *MockStrategy) EstimatedTotalAssets(ctx context.Context) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, holding := range s.bank.Balances(s.address) {
		value, err := s.valuer.CanonicalValue(ctx, holding.Asset, holding.Amount)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		total = total.Add(value)
	}
	return total, nil
}

// WantsInfo returns a copy of the configured wants.
func (s *MockStrategy) WantsInfo(ctx context.Context) (types.WantsInfo, error) {
	return types.WantsInfo{
		Assets: append([]string(nil), s.wants.Assets...),
		Ratios: append([]uint64(nil), s.wants.Ratios...),
	}, nil
}

// Deposit checks the transferred assets are wanted; the funds are already in custody.
func (s *MockStrategy) Deposit(ctx context.Context, assets []types.AssetAmount) error {
	for _, a := range assets {
		if !s.wants.Contains(a.Asset) {
			return errorsmod.Wrapf(types.ErrUnsupportedAsset, "%s does not want %s", s.name, a.Asset)
		}
	}
	strategyLogger.Debug().Str("strategy", s.name).Int("assets", len(assets)).Msg("Deposit")
	return nil
}

// Withdraw sends a pro-rata slice of every holding worth amount back to the vault.
func (s *MockStrategy) Withdraw(ctx context.Context, amount sdkmath.Int) ([]types.AssetAmount, error) {
	s.mu.Lock()
	lossBps := s.exitLossBps
	s.mu.Unlock()

	total, err := s.EstimatedTotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	if amount.GT(total) {
		return nil, errorsmod.Wrapf(types.ErrInsufficientBalance, "%s holds %s, asked for %s", s.name, total, amount)
	}
	if amount.IsZero() {
		return nil, nil
	}

	var sent []types.AssetAmount
	for _, holding := range s.bank.Balances(s.address) {
		part := holding.Amount
		if !amount.Equal(total) {
			if part, err = utils.MulDiv(holding.Amount, amount, total); err != nil {
				return nil, err
			}
		}
		loss, err := utils.BpsOf(part, lossBps)
		if err != nil {
			return nil, err
		}
		if loss.IsPositive() {
			if err := s.bank.Burn(s.address, holding.Asset, loss); err != nil {
				return nil, err
			}
			part = part.Sub(loss)
		}
		if part.IsZero() {
			continue
		}
		if err := s.bank.Transfer(s.address, s.vault, holding.Asset, part); err != nil {
			return nil, err
		}
		sent = append(sent, types.AssetAmount{Asset: holding.Asset, Amount: part})
	}
	return sent, nil
}

// Harvest mints the pending yield into the position and reports to the vault.
func (s *MockStrategy) Harvest(ctx context.Context) error {
	s.mu.Lock()
	yield := s.pendingYield
	s.pendingYield = make(map[string]sdkmath.Int)
	reporter := s.reporter
	s.mu.Unlock()

	assets := make([]string, 0, len(yield))
	for asset := range yield {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		if err := s.bank.Mint(s.address, asset, yield[asset]); err != nil {
			return err
		}
	}

	if reporter == nil {
		return nil
	}
	res, err := reporter.Report(ctx, s.address)
	if err != nil {
		return err
	}
	strategyLogger.Info().Str("strategy", s.name).Str("gain", res.Gain.String()).Str("loss", res.Loss.String()).Msg("Harvested")
	return nil
}

// Checkpoint captures the pending yield; custody is rolled back by the bank.
func (s *MockStrategy) Checkpoint() func() {
	s.mu.Lock()
	saved := make(map[string]sdkmath.Int, len(s.pendingYield))
	for k, v := range s.pendingYield {
		saved[k] = v
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pendingYield = saved
	}
}
