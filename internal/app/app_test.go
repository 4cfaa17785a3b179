package app

import (
	"context"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/pegvault/internal/config"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

const vaultFile = `
vault: {address: vault, buffer: vault_buffer, treasury: treasury, keeper: keeper, token_name: Pegged USD, token_symbol: USDi}
roles: {governance: [gov], keepers: [keeper]}
assets:
  - {address: usdt, symbol: USDT, decimals: 6, price: "1"}
  - {address: usdc, symbol: USDC, decimals: 6, price: "1"}
  - {address: dai, symbol: DAI, decimals: 18, price: "1"}
strategies:
  - {address: strategy_usdt, name: mock-usdt, kind: mock, wants: [usdt], ratios: [1], target_weight_bps: 5000, loss_limit_ratio: 50}
  - {address: strategy_3coin, kind: mock3coin, wants: [usdt, usdc, dai], target_weight_bps: 3000}
exchange: {liquidity: lp, slippage_bps: 0}
harvester: {address: harvester, sell_to: usdt, profit_receiver: dripper}
dripper: {address: dripper, asset: usdt, duration: 1h}
balances:
  - {account: lp, asset: usdt, amount: "100000"}
  - {account: lp, asset: usdc, amount: "100000"}
  - {account: lp, asset: dai, amount: "100000"}
  - {account: alice, asset: usdt, amount: "1000"}
  - {account: dripper, asset: usdt, amount: "36"}
params: {max_price_age: 10m, trustee_fee_bps: 0}
`

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestApp(t *testing.T, doc string, c *clock) *App {
	t.Helper()
	vf, err := config.ParseVaultFile([]byte(doc))
	require.NoError(t, err)
	a, err := New(vf, Options{Now: c.now})
	require.NoError(t, err)
	return a
}

func usdt(n int64) sdkmath.Int { return sdkmath.NewInt(n).Mul(utils.Pow10(6)) }

func usd(n int64) sdkmath.Int { return sdkmath.NewIntWithDecimal(n, types.CanonicalDecimals) }

func TestOpenFreshLedger(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestApp(t, vaultFile, c)
	require.NoError(t, a.Open(ctx, nil))

	assets, err := a.Vault.GetSupportAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 3)

	strategies, err := a.Vault.GetStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	byAddr := map[string]types.StrategyParams{}
	for _, s := range strategies {
		byAddr[s.Address] = s
	}
	assert.Equal(t, "Mock3CoinStrategy", byAddr["strategy_3coin"].Name)
	assert.Equal(t, uint64(50), byAddr["strategy_usdt"].LossLimitRatio)

	assert.True(t, a.Bank.BalanceOf("alice", "usdt").Equal(usdt(1000)))
	assert.Equal(t, time.Hour, a.Dripper.DripDuration())

	three, ok := a.Strategy("strategy_3coin")
	require.True(t, ok)
	wants, err := three.WantsInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 4}, wants.Ratios)
}

func TestRunKeeperCycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestApp(t, vaultFile, c)
	require.NoError(t, a.Open(ctx, nil))

	_, err := a.Vault.Mint(ctx, "alice", []types.AssetAmount{{Asset: "usdt", Amount: usdt(1000)}}, sdkmath.ZeroInt())
	require.NoError(t, err)

	k, err := a.NewKeeper(nil, nil)
	require.NoError(t, err)
	snap, err := k.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Success)
	assert.True(t, snap.After.TotalDebt.Sub(usd(800)).Abs().LTE(sdkmath.NewInt(1_000_000_000_000)), "debt %s", snap.After.TotalDebt)

	// the dripper releases 1 usdt per 100 seconds
	c.t = c.t.Add(10 * time.Minute)
	require.NoError(t, a.PublishPrices())
	snap, err = k.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Dripped.Equal(usdt(6)), "dripped %s", snap.Dripped)

	bal, err := a.Vault.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Sub(usd(1006)).Abs().LTE(sdkmath.NewInt(1_000_000)), "alice %s", bal)
}

func TestStalePricesNeedPublishing(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestApp(t, vaultFile, c)
	require.NoError(t, a.Open(ctx, nil))

	c.t = c.t.Add(time.Hour)
	_, err := a.Vault.Mint(ctx, "alice", []types.AssetAmount{{Asset: "usdt", Amount: usdt(1)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrStalePrice)

	require.NoError(t, a.PublishPrices())
	_, err = a.Vault.Mint(ctx, "alice", []types.AssetAmount{{Asset: "usdt", Amount: usdt(1)}}, sdkmath.ZeroInt())
	require.NoError(t, err)
}

func TestOpenRestoresExportedLedger(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestApp(t, vaultFile, c)
	require.NoError(t, a.Open(ctx, nil))
	_, err := a.Vault.Mint(ctx, "alice", []types.AssetAmount{{Asset: "usdt", Amount: usdt(250)}}, sdkmath.ZeroInt())
	require.NoError(t, err)
	g, err := a.Vault.Export(ctx)
	require.NoError(t, err)

	// a vault file may add strategies after the ledger was exported
	extended := strings.Replace(vaultFile, "strategies:\n",
		"strategies:\n  - {address: strategy_extra, kind: mock, wants: [usdc], ratios: [1]}\n", 1)
	b := newTestApp(t, extended, c)
	require.NoError(t, b.Open(ctx, &g))

	tickets, err := b.Vault.BufferBalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, tickets.Equal(usd(250)))
	assert.True(t, b.Bank.BalanceOf("alice", "usdt").Equal(usdt(750)), "balances come from the export")

	strategies, err := b.Vault.GetStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, strategies, 3)
}

func TestOpenRejectsUnknownExportedStrategy(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestApp(t, vaultFile, c)
	require.NoError(t, a.Open(ctx, nil))
	g, err := a.Vault.Export(ctx)
	require.NoError(t, err)
	g.Strategies[0].Address = "strategy_gone"
	g.WithdrawalQueue = nil

	b := newTestApp(t, vaultFile, c)
	require.ErrorIs(t, b.Open(ctx, &g), types.ErrStrategyNotFound)
}

func TestAPIAccountsBuildAuthenticator(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Nil(t, newTestApp(t, vaultFile, c).Auth)

	doc := vaultFile + "api: {accounts: [{account: alice, token_sha256: 9c220f200955d76c0a38d308225e0ef10c5f971acaf2f8d1d8f732affa5bd1dc}]}\n"
	a := newTestApp(t, doc, c)
	require.NotNil(t, a.Auth)
	who, err := a.Auth.Authenticate("alice-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", who)
}
