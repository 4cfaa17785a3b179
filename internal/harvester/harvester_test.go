package harvester

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/oracle"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/strategy/mocks"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
	"github.com/elys-network/pegvault/internal/vault"
)

const (
	gov           = "gov"
	keeper        = "keeper"
	vaultAddr     = "vault"
	harvesterAddr = "harvester"
	receiverAddr  = "dripper"
	poolAddr      = "swap_pool"
	stratAddr     = "strategy_usdt"
	usdt          = "usdt"
	elys          = "elys"
)

type fixture struct {
	h     *Harvester
	v     *vault.Vault
	bank  *bank.Bank
	strat *strategy.MockStrategy
}

func usdtUnits(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(utils.Pow10(6))
}

func setupHarvesterTest(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{bank: bank.New()}

	prices := oracle.NewStaticOracle(clock)
	require.NoError(t, prices.SetPrice(usdt, sdkmath.LegacyOneDec()))
	require.NoError(t, prices.SetPrice(elys, sdkmath.LegacyNewDec(2)))
	valuer := oracle.NewValueInterpreter(prices, 0, clock)
	valuer.RegisterAsset(usdt, 6)
	valuer.RegisterAsset(elys, 6)
	require.NoError(t, f.bank.Mint(poolAddr, usdt, usdtUnits(1_000_000)))
	control := access.NewControl([]string{gov}, []string{keeper})
	router := exchange.NewAggregator(exchange.NewOracleAdapter("oracle", f.bank, valuer, poolAddr, 0))

	v, err := vault.New(vault.Config{
		Address:         vaultAddr,
		BufferAddress:   "vault_buffer",
		TreasuryAddress: "treasury",
		TokenSymbol:     "USDi",
		Bank:            f.bank,
		Oracle:          prices,
		Router:          router,
		Access:          control,
		Params:          types.VaultParameters{ProfitLimitPolicy: types.ProfitLimitCarry},
		Now:             clock,
	})
	require.NoError(t, err)
	require.NoError(t, v.AddAsset(ctx, gov, types.Asset{Address: usdt, Symbol: "USDT", Decimals: 6}))
	f.strat, err = strategy.NewMockStrategy(stratAddr, "mock-usdt", vaultAddr,
		types.WantsInfo{Assets: []string{usdt}, Ratios: []uint64{1}}, f.bank, valuer)
	require.NoError(t, err)
	f.strat.SetReporter(v)
	require.NoError(t, v.AddStrategies(ctx, gov, []vault.StrategyAdd{{Strategy: f.strat}}))
	f.v = v

	f.h, err = New(Config{
		Address:        harvesterAddr,
		Registry:       v,
		Router:         router,
		Bank:           f.bank,
		Access:         control,
		SellTo:         usdt,
		ProfitReceiver: receiverAddr,
	})
	require.NoError(t, err)
	return f
}

// invest deposits amount for alice and lends all of it to the usdt strategy.
func (f *fixture) invest(t *testing.T, amount sdkmath.Int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.bank.Mint("alice", usdt, amount))
	_, err := f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: usdt, Amount: amount}}, sdkmath.ZeroInt())
	require.NoError(t, err)
	_, err = f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: amount}})
	require.NoError(t, err)
	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.DistributeWhenDistributing(ctx, keeper)
	require.NoError(t, err)
}

func (f *fixture) debt(t *testing.T) sdkmath.Int {
	t.Helper()
	debt, err := f.v.TotalDebt(context.Background())
	require.NoError(t, err)
	return debt
}

func TestCollectReportsEveryStrategy(t *testing.T) {
	f := setupHarvesterTest(t)
	f.invest(t, usdtUnits(800))
	f.strat.AddYield(usdt, usdtUnits(40))

	results, err := f.h.Collect(context.Background(), keeper, []string{stratAddr})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.True(t, f.debt(t).Equal(sdkmath.NewIntWithDecimal(840, 18)), "debt %s", f.debt(t))
}

func TestCollectContinuesPastFailures(t *testing.T) {
	f := setupHarvesterTest(t)
	ctx := context.Background()
	f.invest(t, usdtUnits(800))
	f.strat.AddYield(usdt, usdtUnits(40))

	ctrl := gomock.NewController(t)
	broken := mocks.NewMockStrategy(ctrl)
	broken.EXPECT().Address().Return("strategy_broken").AnyTimes()
	broken.EXPECT().Name().Return("broken").AnyTimes()
	broken.EXPECT().WantsInfo(gomock.Any()).Return(types.WantsInfo{Assets: []string{usdt}, Ratios: []uint64{1}}, nil).AnyTimes()
	broken.EXPECT().Harvest(gomock.Any()).Return(errors.New("reward pool drained"))
	require.NoError(t, f.v.AddStrategies(ctx, gov, []vault.StrategyAdd{{Strategy: broken}}))

	results, err := f.h.Collect(ctx, keeper, []string{"strategy_broken", "strategy_unknown", stratAddr})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrStrategyNotFound)
	assert.Contains(t, err.Error(), "reward pool drained")
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Empty(t, results[2].Error)
	assert.True(t, f.debt(t).Equal(sdkmath.NewIntWithDecimal(840, 18)))
}

func TestSellRewards(t *testing.T) {
	f := setupHarvesterTest(t)
	ctx := context.Background()
	require.NoError(t, f.bank.Mint(harvesterAddr, elys, usdtUnits(10)))
	require.NoError(t, f.bank.Mint(harvesterAddr, usdt, usdtUnits(5)))

	proceeds, err := f.h.SellRewards(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, usdtUnits(25), proceeds)
	assert.Equal(t, usdtUnits(25), f.bank.BalanceOf(receiverAddr, usdt))
	assert.Empty(t, f.bank.Balances(harvesterAddr))
}

func TestSellRewardsWithoutRoute(t *testing.T) {
	f := setupHarvesterTest(t)
	require.NoError(t, f.bank.Mint(harvesterAddr, "atom", usdtUnits(1)))

	_, err := f.h.SellRewards(context.Background(), keeper)
	require.Error(t, err)
	assert.True(t, f.bank.BalanceOf(receiverAddr, usdt).IsZero())
}

func TestHarvesterRoles(t *testing.T) {
	f := setupHarvesterTest(t)
	ctx := context.Background()

	_, err := f.h.Collect(ctx, "alice", []string{stratAddr})
	require.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = f.h.SellRewards(ctx, "alice")
	require.ErrorIs(t, err, types.ErrUnauthorized)

	require.ErrorIs(t, f.h.SetProfitReceiver(keeper, "alice"), types.ErrUnauthorized)
	require.NoError(t, f.h.SetProfitReceiver(gov, "alice"))
	assert.Equal(t, "alice", f.h.ProfitReceiver())

	require.ErrorIs(t, f.h.SetSellTo(keeper, elys), types.ErrUnauthorized)
	require.NoError(t, f.h.SetSellTo(gov, elys))
	assert.Equal(t, elys, f.h.SellTo())
}
