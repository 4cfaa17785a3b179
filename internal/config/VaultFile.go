/*

This file contains the vault file: the YAML document declaring what a deployment runs.

It names the accounts of the vault, the roles, the supported assets with their oracle prices, the strategies with
their target weights, and overrides of DefaultVaultParameters and DefaultPlannerParameters. Starting balances
seed the in-memory bank when no ledger snapshot exists yet. API credentials bind bearer tokens, stored as SHA-256
hashes, to the depositor accounts the HTTP API may act for.

*/

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

var ErrInvalidVaultFile = errors.New("invalid vault file")

// Strategy kinds a vault file may declare.
const (
	StrategyKindMock      = "mock"
	StrategyKindMock3Coin = "mock3coin"
)

// VaultFile is the decoded vault file.
type VaultFile struct {
	Vault      VaultSection            `yaml:"vault"`
	Roles      RolesSection            `yaml:"roles"`
	Assets     []AssetEntry            `yaml:"assets"`
	Strategies []StrategyEntry         `yaml:"strategies"`
	Exchange   ExchangeSection         `yaml:"exchange"`
	Harvester  HarvesterSection        `yaml:"harvester"`
	Dripper    DripperSection          `yaml:"dripper"`
	Balances   []BalanceEntry          `yaml:"balances"`
	API        APISection              `yaml:"api"`
	Params     types.VaultParameters   `yaml:"params"`
	Planner    types.PlannerParameters `yaml:"planner"`
}

type VaultSection struct {
	Address     string `yaml:"address"`
	Buffer      string `yaml:"buffer"`
	Treasury    string `yaml:"treasury"`
	Keeper      string `yaml:"keeper"` // account the keeper signs its cycle with
	TokenName   string `yaml:"token_name"`
	TokenSymbol string `yaml:"token_symbol"`
}

type RolesSection struct {
	Governance []string `yaml:"governance"`
	Keepers    []string `yaml:"keepers"`
}

// AssetEntry is a supported asset and its initial oracle price in USD per whole token.
type AssetEntry struct {
	types.Asset `yaml:",inline"`
	Price       string `yaml:"price"`

	ParsedPrice sdkmath.LegacyDec `yaml:"-"`
}

// StrategyEntry declares a strategy, its risk limits and its share of the vault.
type StrategyEntry struct {
	Address          string   `yaml:"address"`
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Wants            []string `yaml:"wants"`
	Ratios           []uint64 `yaml:"ratios"`
	TargetWeightBps  uint64   `yaml:"target_weight_bps"`
	ProfitLimitRatio uint64   `yaml:"profit_limit_ratio"`
	LossLimitRatio   uint64   `yaml:"loss_limit_ratio"`
}

// ExchangeSection configures the oracle-priced swap venue.
type ExchangeSection struct {
	Liquidity   string `yaml:"liquidity"`
	SlippageBps uint64 `yaml:"slippage_bps"`
}

type HarvesterSection struct {
	Address        string `yaml:"address"`
	SellTo         string `yaml:"sell_to"`
	ProfitReceiver string `yaml:"profit_receiver"`
}

type DripperSection struct {
	Address  string        `yaml:"address"`
	Asset    string        `yaml:"asset"`
	Duration time.Duration `yaml:"duration"`
}

// APISection lists the accounts the HTTP API accepts depositor operations for. Without any, the depositor
// endpoints are not served.
type APISection struct {
	Accounts []access.Credential `yaml:"accounts"`
}

// BalanceEntry credits an account with a human-readable amount of an asset.
type BalanceEntry struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`

	Raw sdkmath.Int `yaml:"-"`
}

// LoadVaultFile reads and validates the vault file at path.
func LoadVaultFile(path string) (*VaultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault file: %w", err)
	}
	vf, err := ParseVaultFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().
		Str("path", path).
		Int("assets", len(vf.Assets)).
		Int("strategies", len(vf.Strategies)).
		Msg("Vault file loaded")
	return vf, nil
}

// ParseVaultFile decodes a vault file on top of the default parameters and validates it.
func ParseVaultFile(data []byte) (*VaultFile, error) {
	vf := &VaultFile{
		Params:  DefaultVaultParameters,
		Planner: DefaultPlannerParameters,
	}
	if err := yaml.Unmarshal(data, vf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVaultFile, err)
	}
	if err := vf.Validate(); err != nil {
		return nil, err
	}
	return vf, nil
}

// Validate checks the file is complete and consistent, and fills the parsed prices, amounts and target weights.
func (vf *VaultFile) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidVaultFile, fmt.Sprintf(format, args...))
	}

	// --- Step 1: Accounts and roles ---
	v := vf.Vault
	if v.Address == "" || v.Buffer == "" || v.Treasury == "" || v.Keeper == "" {
		return invalid("vault address, buffer, treasury and keeper are required")
	}
	if v.TokenSymbol == "" {
		return invalid("vault token_symbol is required")
	}
	if len(vf.Roles.Governance) == 0 {
		return invalid("at least one governance account is required")
	}
	if !contains(vf.Roles.Keepers, v.Keeper) {
		return invalid("vault keeper %s is not listed under roles.keepers", v.Keeper)
	}

	// --- Step 2: Assets ---
	decimals := make(map[string]int, len(vf.Assets))
	for i := range vf.Assets {
		a := &vf.Assets[i]
		if a.Address == "" || a.Symbol == "" {
			return invalid("asset %d: address and symbol are required", i)
		}
		if _, dup := decimals[a.Address]; dup {
			return invalid("asset %s declared twice", a.Address)
		}
		if a.Decimals < 0 || a.Decimals > utils.MaxDecimals {
			return invalid("asset %s: decimals %d out of range", a.Address, a.Decimals)
		}
		price, err := utils.ParsePrice(a.Price)
		if err != nil {
			return invalid("asset %s: %v", a.Address, err)
		}
		a.ParsedPrice = price
		a.Supported = true
		decimals[a.Address] = a.Decimals
	}

	// --- Step 3: Strategies and target weights ---
	seen := make(map[string]bool, len(vf.Strategies))
	weights := make(map[string]uint64)
	for _, s := range vf.Strategies {
		if s.Address == "" {
			return invalid("strategy without address")
		}
		if seen[s.Address] {
			return invalid("strategy %s declared twice", s.Address)
		}
		seen[s.Address] = true
		switch s.Kind {
		case StrategyKindMock:
			if len(s.Wants) == 0 || len(s.Wants) != len(s.Ratios) {
				return invalid("strategy %s: wants and ratios must be non-empty and of equal length", s.Address)
			}
		case StrategyKindMock3Coin:
			if len(s.Wants) != 3 || len(s.Ratios) != 0 {
				return invalid("strategy %s: mock3coin wants exactly usdt, usdc and dai and takes no ratios", s.Address)
			}
		default:
			return invalid("strategy %s: unknown kind %q", s.Address, s.Kind)
		}
		for _, w := range s.Wants {
			if _, ok := decimals[w]; !ok {
				return invalid("strategy %s wants undeclared asset %s", s.Address, w)
			}
		}
		if s.TargetWeightBps > 0 {
			weights[s.Address] = s.TargetWeightBps
		}
	}
	vf.Planner.TargetWeights = weights

	if err := vf.Params.Validate(); err != nil {
		return invalid("params: %v", err)
	}
	if err := vf.Planner.Validate(); err != nil {
		return invalid("planner: %v", err)
	}

	// --- Step 4: Periphery ---
	if vf.Exchange.Liquidity == "" {
		return invalid("exchange liquidity account is required")
	}
	if vf.Exchange.SlippageBps > 10_000 {
		return invalid("exchange slippage %d bps exceeds 10000", vf.Exchange.SlippageBps)
	}
	h := vf.Harvester
	if h.Address == "" || h.ProfitReceiver == "" {
		return invalid("harvester address and profit_receiver are required")
	}
	if _, ok := decimals[h.SellTo]; !ok {
		return invalid("harvester sells to undeclared asset %q", h.SellTo)
	}
	if vf.Dripper.Address == "" {
		return invalid("dripper address is required")
	}
	if _, ok := decimals[vf.Dripper.Asset]; !ok {
		return invalid("dripper drips undeclared asset %q", vf.Dripper.Asset)
	}
	if vf.Dripper.Duration < 0 {
		return invalid("dripper duration must not be negative")
	}

	// --- Step 5: Starting balances ---
	for i := range vf.Balances {
		b := &vf.Balances[i]
		d, ok := decimals[b.Asset]
		if !ok || b.Account == "" {
			return invalid("balance %d: account and a declared asset are required", i)
		}
		raw, err := utils.ParseUnits(b.Amount, d)
		if err != nil {
			return invalid("balance %d: %v", i, err)
		}
		b.Raw = raw
	}

	// --- Step 6: API credentials ---
	if _, err := access.NewAuthenticator(vf.API.Accounts); err != nil {
		return invalid("api: %v", err)
	}
	return nil
}

// Asset returns the declared asset with the given address.
func (vf *VaultFile) Asset(address string) (AssetEntry, bool) {
	for _, a := range vf.Assets {
		if a.Address == address {
			return a, true
		}
	}
	return AssetEntry{}, false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
