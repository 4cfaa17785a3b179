/*

This file contains the assembly of a vault deployment from its vault file.

App owns every in-process component: the bank, the price oracle, the swap venue, the vault ledger, the simulated
strategies, the harvester and the dripper. Open either restores a persisted ledger or seeds a fresh one, then
registers whatever the vault file declares that the ledger does not know yet.

*/

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/config"
	"github.com/elys-network/pegvault/internal/dripper"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/harvester"
	"github.com/elys-network/pegvault/internal/keeper"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/oracle"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/vault"
)

var appLogger = logger.GetForComponent("app")

// OracleAdapterID names the oracle-priced swap venue.
const OracleAdapterID = "oracle"

// App is one assembled vault deployment.
type App struct {
	File      *config.VaultFile
	Bank      *bank.Bank
	Oracle    *oracle.StaticOracle
	Valuer    *oracle.ValueInterpreter
	Access    *access.Control
	Auth      *access.Authenticator // nil when the vault file lists no API accounts
	Router    *exchange.Aggregator
	Vault     *vault.Vault
	Harvester *harvester.Harvester
	Dripper   *dripper.Dripper

	strategies map[string]*strategy.MockStrategy
	now        func() time.Time
}

// Options tune the assembly. The zero value is valid.
type Options struct {
	Observer vault.OperationObserver
	Now      func() time.Time
}

// New builds every component described by vf. The ledger starts empty until Open is called.
func New(vf *config.VaultFile, opts Options) (*App, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &App{
		File:       vf,
		Bank:       bank.New(),
		Oracle:     oracle.NewStaticOracle(now),
		Access:     access.NewControl(vf.Roles.Governance, vf.Roles.Keepers),
		strategies: make(map[string]*strategy.MockStrategy, len(vf.Strategies)),
		now:        now,
	}

	// --- 1. Prices & Swap Venue ---
	if err := a.PublishPrices(); err != nil {
		return nil, err
	}
	a.Valuer = oracle.NewValueInterpreter(a.Oracle, vf.Params.MaxPriceAge, now)
	for _, asset := range vf.Assets {
		a.Valuer.RegisterAsset(asset.Address, asset.Decimals)
	}
	a.Router = exchange.NewAggregator(
		exchange.NewOracleAdapter(OracleAdapterID, a.Bank, a.Valuer, vf.Exchange.Liquidity, vf.Exchange.SlippageBps),
	)

	// --- 2. Vault Ledger ---
	v, err := vault.New(vault.Config{
		Address:         vf.Vault.Address,
		BufferAddress:   vf.Vault.Buffer,
		TreasuryAddress: vf.Vault.Treasury,
		TokenName:       vf.Vault.TokenName,
		TokenSymbol:     vf.Vault.TokenSymbol,
		Bank:            a.Bank,
		Oracle:          a.Oracle,
		Router:          a.Router,
		Access:          a.Access,
		Params:          vf.Params,
		Observer:        opts.Observer,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	a.Vault = v

	// --- 3. Strategies ---
	for _, entry := range vf.Strategies {
		s, err := a.newStrategy(entry)
		if err != nil {
			return nil, err
		}
		s.SetReporter(v)
		a.strategies[entry.Address] = s
	}

	// --- 4. API Credentials ---
	if len(vf.API.Accounts) > 0 {
		if a.Auth, err = access.NewAuthenticator(vf.API.Accounts); err != nil {
			return nil, err
		}
	}

	// --- 5. Harvester & Dripper ---
	a.Harvester, err = harvester.New(harvester.Config{
		Address:        vf.Harvester.Address,
		Registry:       v,
		Router:         a.Router,
		Bank:           a.Bank,
		Access:         a.Access,
		SellTo:         vf.Harvester.SellTo,
		ProfitReceiver: vf.Harvester.ProfitReceiver,
	})
	if err != nil {
		return nil, err
	}
	a.Dripper, err = dripper.New(dripper.Config{
		Address: vf.Dripper.Address,
		Asset:   vf.Dripper.Asset,
		Bank:    a.Bank,
		Vault:   v,
		Access:  a.Access,
		Now:     now,
	})
	if err != nil {
		return nil, err
	}

	appLogger.Info().
		Str("vault", vf.Vault.Address).
		Int("assets", len(vf.Assets)).
		Int("strategies", len(a.strategies)).
		Int("api_accounts", len(vf.API.Accounts)).
		Msg("Vault deployment assembled")
	return a, nil
}

func (a *App) newStrategy(entry config.StrategyEntry) (*strategy.MockStrategy, error) {
	vaultAddr := a.File.Vault.Address
	switch entry.Kind {
	case config.StrategyKindMock3Coin:
		return strategy.NewMock3CoinStrategy(entry.Address, vaultAddr,
			entry.Wants[0], entry.Wants[1], entry.Wants[2], a.Bank, a.Valuer)
	case config.StrategyKindMock:
		name := entry.Name
		if name == "" {
			name = entry.Address
		}
		return strategy.NewMockStrategy(entry.Address, name, vaultAddr,
			types.WantsInfo{Assets: entry.Wants, Ratios: entry.Ratios}, a.Bank, a.Valuer)
	default:
		return nil, fmt.Errorf("strategy %s: unknown kind %q", entry.Address, entry.Kind)
	}
}

// PublishPrices stamps the configured price of every asset with the current time.
func (a *App) PublishPrices() error {
	for _, asset := range a.File.Assets {
		if err := a.Oracle.SetPrice(asset.Address, asset.ParsedPrice); err != nil {
			return fmt.Errorf("failed to publish price of %s: %w", asset.Address, err)
		}
	}
	return nil
}

// Strategy returns the in-process strategy at addr.
func (a *App) Strategy(addr string) (*strategy.MockStrategy, bool) {
	s, ok := a.strategies[addr]
	return s, ok
}

// Open brings the ledger up. A nil genesis starts a fresh ledger and credits the starting balances; otherwise
// the genesis is imported. In both cases assets and strategies declared in the vault file but missing from the
// ledger are registered, and the dripper starts releasing its balance.
func (a *App) Open(ctx context.Context, g *vault.Genesis) error {
	gov := a.File.Roles.Governance[0]

	// --- Step 1: Restore or seed ---
	if g != nil {
		impls := make(map[string]strategy.Strategy, len(a.strategies))
		for addr, s := range a.strategies {
			impls[addr] = s
		}
		if err := a.Vault.Import(ctx, *g, impls); err != nil {
			return fmt.Errorf("failed to import ledger: %w", err)
		}
	} else {
		for _, b := range a.File.Balances {
			if err := a.Bank.Mint(b.Account, b.Asset, b.Raw); err != nil {
				return fmt.Errorf("failed to credit %s: %w", b.Account, err)
			}
		}
	}

	// --- Step 2: Register what the ledger does not know yet ---
	known, err := a.Vault.GetSupportAssets(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]bool, len(known))
	for _, asset := range known {
		registered[asset.Address] = true
	}
	for _, asset := range a.File.Assets {
		if registered[asset.Address] {
			continue
		}
		if err := a.Vault.AddAsset(ctx, gov, asset.Asset); err != nil {
			return fmt.Errorf("failed to add asset %s: %w", asset.Address, err)
		}
	}

	current, err := a.Vault.GetStrategies(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(current))
	for _, s := range current {
		present[s.Address] = true
	}
	var adds []vault.StrategyAdd
	for _, entry := range a.File.Strategies {
		if present[entry.Address] {
			continue
		}
		adds = append(adds, vault.StrategyAdd{
			Strategy:         a.strategies[entry.Address],
			ProfitLimitRatio: entry.ProfitLimitRatio,
			LossLimitRatio:   entry.LossLimitRatio,
		})
	}
	if len(adds) > 0 {
		if err := a.Vault.AddStrategies(ctx, gov, adds); err != nil {
			return fmt.Errorf("failed to add strategies: %w", err)
		}
	}

	// --- Step 3: Dripper ---
	if a.File.Dripper.Duration > 0 {
		if err := a.Dripper.SetDripDuration(ctx, gov, a.File.Dripper.Duration); err != nil {
			return fmt.Errorf("failed to start dripper: %w", err)
		}
	}

	appLogger.Info().
		Bool("restored", g != nil).
		Int("new_strategies", len(adds)).
		Msg("Ledger opened")
	return nil
}

// NewKeeper creates the keeper that runs this deployment's adjust cycles.
func (a *App) NewKeeper(store keeper.Store, observer keeper.CycleObserver) (*keeper.Keeper, error) {
	return keeper.NewKeeper(keeper.Config{
		VaultManager: a.Vault,
		Harvester:    a.Harvester,
		Dripper:      a.Dripper,
		Store:        store,
		Observer:     observer,
		Address:      a.File.Vault.Keeper,
		Planner:      a.File.Planner,
	})
}
