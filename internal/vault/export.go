/*

This file contains the export and import of the full ledger, and the migration of older exports.

An export is versioned by GenesisVersion. Version 1 exports predate the profit limit policy and the distribute
batch size; they are upgraded with the defaults those fields had when they were introduced.

*/

package vault

import (
	"context"
	"encoding/json"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/buffer"
	"github.com/elys-network/pegvault/internal/pegtoken"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
)

// GenesisVersion is the schema version written by Export.
const GenesisVersion = 2

// Genesis is the exported ledger.
type Genesis struct {
	Version         int                    `json:"version"`
	Params          types.VaultParameters  `json:"params"`
	Assets          []types.Asset          `json:"assets"`
	Strategies      []types.StrategyParams `json:"strategies"`
	WithdrawalQueue []string               `json:"withdrawal_queue"`
	TotalDebt       sdkmath.Int            `json:"total_debt"`
	Token           pegtoken.Genesis       `json:"token"`
	Buffer          buffer.Genesis         `json:"buffer"`
	Bank            bank.Genesis           `json:"bank"`
}

// Export captures the whole ledger. It is refused while adjusting since frozen prices are not exported.
func (v *Vault) Export(ctx context.Context) (Genesis, error) {
	var g Genesis
	err := v.query(ctx, "export", func(ctx context.Context) error {
		if err := v.requireIdle("export"); err != nil {
			return err
		}
		g = Genesis{
			Version:         GenesisVersion,
			Params:          v.params,
			Assets:          v.supportAssets(),
			Strategies:      v.strategyParams(),
			WithdrawalQueue: append([]string(nil), v.withdrawalQueue...),
			TotalDebt:       v.totalDebt,
			Token:           v.token.Export(),
			Buffer:          v.buffer.Export(),
			Bank:            v.bank.Export(),
		}
		return nil
	})
	return g, err
}

// Import replaces the ledger with g. Every exported strategy must be matched by an implementation in impls,
// keyed by address.
func (v *Vault) Import(ctx context.Context, g Genesis, impls map[string]strategy.Strategy) error {
	return v.execute(ctx, "import", func(ctx context.Context) error {
		if g.Version != GenesisVersion {
			return errorsmod.Wrapf(types.ErrInvalidRequest, "genesis version %d, expected %d", g.Version, GenesisVersion)
		}
		if err := g.Params.Validate(); err != nil {
			return errorsmod.Wrap(types.ErrInvalidRequest, err.Error())
		}

		assets := make(map[string]types.Asset, len(g.Assets))
		for _, a := range g.Assets {
			assets[a.Address] = a
		}
		strategies := make(map[string]*strategyEntry, len(g.Strategies))
		totalDebt := sdkmath.ZeroInt()
		for _, p := range g.Strategies {
			impl, ok := impls[p.Address]
			if !ok {
				return errorsmod.Wrapf(types.ErrStrategyNotFound, "no implementation for %s", p.Address)
			}
			if p.TotalDebt.IsNil() || p.TotalDebt.IsNegative() {
				return errorsmod.Wrapf(types.ErrInvalidRequest, "strategy %s has invalid debt", p.Address)
			}
			strategies[p.Address] = &strategyEntry{params: p, impl: impl}
			totalDebt = totalDebt.Add(p.TotalDebt)
		}
		if g.TotalDebt.IsNil() || !g.TotalDebt.Equal(totalDebt) {
			return errorsmod.Wrapf(types.ErrState, "total debt %s does not match strategy debts %s", g.TotalDebt, totalDebt)
		}
		for _, addr := range g.WithdrawalQueue {
			if _, ok := strategies[addr]; !ok {
				return errorsmod.Wrapf(types.ErrStrategyNotFound, "withdrawal queue entry %s", addr)
			}
		}

		if err := v.bank.Import(g.Bank); err != nil {
			return err
		}
		if err := v.token.Import(g.Token); err != nil {
			return err
		}
		if err := v.buffer.Import(g.Buffer); err != nil {
			return err
		}
		v.params = g.Params
		v.assets = assets
		v.strategies = strategies
		v.withdrawalQueue = append([]string(nil), g.WithdrawalQueue...)
		v.totalDebt = totalDebt
		v.cycle = nil

		vaultLogger.Info().
			Int("assets", len(assets)).
			Int("strategies", len(strategies)).
			Str("total_supply", v.token.TotalSupply().String()).
			Msg("Ledger imported")
		return nil
	})
}

// DecodeGenesis parses an export of any known version and upgrades it to GenesisVersion.
func DecodeGenesis(data []byte) (Genesis, error) {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Genesis{}, fmt.Errorf("failed to read genesis version: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("failed to decode genesis: %w", err)
	}
	switch header.Version {
	case GenesisVersion:
	case 1:
		if g.Params.ProfitLimitPolicy == "" {
			g.Params.ProfitLimitPolicy = types.ProfitLimitCarry
		}
		g.Version = GenesisVersion
		vaultLogger.Info().Int("from", 1).Int("to", GenesisVersion).Msg("Migrated genesis")
	default:
		return Genesis{}, fmt.Errorf("unsupported genesis version %d", header.Version)
	}
	return g, nil
}
