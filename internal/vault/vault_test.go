package vault

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/bank"
	"github.com/elys-network/pegvault/internal/exchange"
	"github.com/elys-network/pegvault/internal/oracle"
	"github.com/elys-network/pegvault/internal/strategy"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

const (
	vaultAddr    = "vault"
	bufferAddr   = "vault_buffer"
	treasuryAddr = "treasury"
	poolAddr     = "swap_pool"
	stratAddr    = "strategy_usdt"
	gov          = "gov"
	keeper       = "keeper"

	usdt = "usdt"
	usdc = "usdc"
	dai  = "dai"
)

type fixture struct {
	v      *Vault
	bank   *bank.Bank
	oracle *oracle.StaticOracle
	valuer *oracle.ValueInterpreter
	strat  *strategy.MockStrategy
	now    time.Time
}

func units(n int64, decimals int) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(utils.Pow10(decimals))
}

func assertNear(t *testing.T, expected, actual sdkmath.Int, tolerance int64) {
	t.Helper()
	diff := expected.Sub(actual).Abs()
	assert.True(t, diff.LTE(sdkmath.NewInt(tolerance)), "expected %s, got %s", expected, actual)
}

func setupVaultTest(t *testing.T, mutate ...func(p *types.VaultParameters)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.bank = bank.New()
	f.oracle = oracle.NewStaticOracle(clock)
	f.valuer = oracle.NewValueInterpreter(f.oracle, 0, clock)
	assets := []types.Asset{
		{Address: usdt, Symbol: "USDT", Decimals: 6},
		{Address: usdc, Symbol: "USDC", Decimals: 6},
		{Address: dai, Symbol: "DAI", Decimals: 18},
	}
	for _, a := range assets {
		require.NoError(t, f.oracle.SetPrice(a.Address, sdkmath.LegacyOneDec()))
		f.valuer.RegisterAsset(a.Address, a.Decimals)
	}
	require.NoError(t, f.bank.Mint(poolAddr, usdt, units(1_000_000, 6)))

	params := types.VaultParameters{ProfitLimitPolicy: types.ProfitLimitCarry}
	for _, m := range mutate {
		m(&params)
	}
	v, err := New(Config{
		Address:         vaultAddr,
		BufferAddress:   bufferAddr,
		TreasuryAddress: treasuryAddr,
		TokenName:       "USD Peg",
		TokenSymbol:     "USDi",
		Bank:            f.bank,
		Oracle:          f.oracle,
		Router:          exchange.NewAggregator(exchange.NewOracleAdapter("oracle", f.bank, f.valuer, poolAddr, 0)),
		Access:          access.NewControl([]string{gov}, []string{keeper}),
		Params:          params,
		Now:             clock,
	})
	require.NoError(t, err)
	f.v = v

	for _, a := range assets {
		require.NoError(t, v.AddAsset(ctx, gov, a))
	}
	f.strat, err = strategy.NewMockStrategy(stratAddr, "mock-usdt", vaultAddr,
		types.WantsInfo{Assets: []string{usdt}, Ratios: []uint64{1}}, f.bank, f.valuer)
	require.NoError(t, err)
	f.strat.SetReporter(v)
	require.NoError(t, v.AddStrategies(ctx, gov, []StrategyAdd{{Strategy: f.strat}}))
	return f
}

// deposit funds who's wallet and mints buffer tickets with it.
func (f *fixture) deposit(t *testing.T, who, asset string, amount sdkmath.Int) sdkmath.Int {
	t.Helper()
	require.NoError(t, f.bank.Mint(who, asset, amount))
	tickets, err := f.v.Mint(context.Background(), who, []types.AssetAmount{{Asset: asset, Amount: amount}}, sdkmath.ZeroInt())
	require.NoError(t, err)
	return tickets
}

// cycle runs one adjust window with the given lends to the usdt strategy and distributes the buffer.
func (f *fixture) cycle(t *testing.T, lends ...sdkmath.Int) types.AdjustResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	for _, amount := range lends {
		_, err := f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: amount}})
		require.NoError(t, err)
	}
	res, err := f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	if distributing, _ := f.v.IsDistributing(ctx); distributing {
		dist, err := f.v.DistributeWhenDistributing(ctx, keeper)
		require.NoError(t, err)
		require.True(t, dist.Done)
	}
	return res
}

func (f *fixture) shares(t *testing.T, who string) sdkmath.Int {
	t.Helper()
	bal, err := f.v.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return bal
}

func (f *fixture) debtOf(t *testing.T, addr string) sdkmath.Int {
	t.Helper()
	strategies, err := f.v.GetStrategies(context.Background())
	require.NoError(t, err)
	for _, s := range strategies {
		if s.Address == addr {
			return s.TotalDebt
		}
	}
	t.Fatalf("strategy %s not registered", addr)
	return sdkmath.ZeroInt()
}

// checkInvariants asserts balance conservation and debt conservation.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	holders, err := f.v.ShareHolders(ctx)
	require.NoError(t, err)
	sum := sdkmath.ZeroInt()
	for _, h := range holders {
		sum = sum.Add(f.shares(t, h))
	}
	supply, err := f.v.TotalSupply(ctx)
	require.NoError(t, err)
	assert.True(t, sum.LTE(supply), "holders own %s of supply %s", sum, supply)
	assert.True(t, supply.Sub(sum).LTE(sdkmath.NewInt(int64(len(holders)))), "holders own %s of supply %s", sum, supply)

	strategies, err := f.v.GetStrategies(ctx)
	require.NoError(t, err)
	debts := sdkmath.ZeroInt()
	for _, s := range strategies {
		debts = debts.Add(s.TotalDebt)
	}
	total, err := f.v.TotalDebt(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(debts), "total debt %s, strategy debts %s", total, debts)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Address: vaultAddr, BufferAddress: vaultAddr, TreasuryAddress: treasuryAddr})
	require.Error(t, err)

	_, err = New(Config{
		Address: vaultAddr, BufferAddress: bufferAddr, TreasuryAddress: treasuryAddr, TokenSymbol: "USDi",
		Bank: bank.New(), Oracle: oracle.NewStaticOracle(nil), Access: access.NewControl(nil, nil),
		Params: types.VaultParameters{ProfitLimitPolicy: "maybe"},
	})
	require.Error(t, err)
}

func TestDepositAdjustDistribute(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()

	tickets := f.deposit(t, "alice", usdt, units(1000, 6))
	assert.Equal(t, units(1000, 18), tickets)
	pending, err := f.v.BufferBalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, tickets, pending)
	assert.Equal(t, units(1000, 6), f.bank.BalanceOf(bufferAddr, usdt))
	assert.True(t, f.shares(t, "alice").IsZero())

	start, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, units(1000, 18), start.TransferValue)
	assert.True(t, f.bank.BalanceOf(bufferAddr, usdt).IsZero())

	lend, err := f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: units(1000, 6)}})
	require.NoError(t, err)
	assert.Equal(t, units(1000, 18), lend.Value)

	end, err := f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, units(1000, 18), end.SharesMinted)
	assert.Equal(t, units(1000, 18), end.EndTotalValue)

	dist, err := f.v.DistributeWhenDistributing(ctx, keeper)
	require.NoError(t, err)
	assert.True(t, dist.Done)
	assert.Equal(t, units(1000, 18), f.shares(t, "alice"))
	pending, err = f.v.BufferBalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	total, err := f.v.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(1000, 18), total)
	f.checkInvariants(t)
}

func TestLateDepositorDoesNotCaptureEarlierYield(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	f.strat.AddYield(usdt, units(100, 6))
	require.NoError(t, f.strat.Harvest(ctx))
	assert.Equal(t, units(1100, 18), f.debtOf(t, stratAddr))

	f.deposit(t, "bob", usdt, units(1100, 6))
	res := f.cycle(t)
	assert.True(t, res.Rebase.Applied)
	assert.Equal(t, units(1100, 18), res.TransferValue)

	assertNear(t, units(1100, 18), f.shares(t, "alice"), 1_000_000)
	assertNear(t, units(1100, 18), f.shares(t, "bob"), 1_000_000)
	f.checkInvariants(t)
}

func TestAdjustLossIsSharedWithBufferedDeposits(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	f.deposit(t, "bob", usdt, units(1000, 6))
	f.strat.SetExitLossBps(1000)
	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	// withdrawing 200 costs 20 to the exit loss
	_, err = f.v.Redeem(ctx, keeper, stratAddr, units(200, 18), sdkmath.ZeroInt())
	require.NoError(t, err)
	res, err := f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)

	assert.Equal(t, units(1980, 18), res.EndTotalValue)
	assert.Equal(t, units(990, 18), res.TransferValue)
	_, err = f.v.DistributeWhenDistributing(ctx, keeper)
	require.NoError(t, err)
	assertNear(t, units(990, 18), f.shares(t, "alice"), 1_000_000)
	assertNear(t, units(990, 18), f.shares(t, "bob"), 1_000_000)
	f.checkInvariants(t)
}

func TestProfitLimitCarriesExcessForward(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.v.UpdateStrategyLimits(ctx, gov, stratAddr, 100, 0))
	f.deposit(t, "alice", usdt, units(10_000, 6))
	f.cycle(t, units(10_000, 6))

	// 2% gain on 10,000 of debt
	require.NoError(t, f.bank.Mint(stratAddr, usdt, units(200, 6)))
	results, err := f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, units(100, 18), results[0].Gain)
	assert.Equal(t, units(100, 18), results[0].CarriedForward)
	assert.Equal(t, units(10_100, 18), results[0].NewDebt)

	results, err = f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.NoError(t, err)
	assert.Equal(t, units(100, 18), results[0].Gain)
	assert.True(t, results[0].CarriedForward.IsZero())
	assert.Equal(t, units(10_200, 18), f.debtOf(t, stratAddr))
	f.checkInvariants(t)
}

func TestProfitLimitRevertPolicy(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.v.UpdateStrategyLimits(ctx, gov, stratAddr, 100, 0))
	require.NoError(t, f.v.SetProfitLimitPolicy(ctx, gov, types.ProfitLimitRevert))
	f.deposit(t, "alice", usdt, units(10_000, 6))
	f.cycle(t, units(10_000, 6))

	f.strat.AddYield(usdt, units(200, 6))
	require.ErrorIs(t, f.strat.Harvest(ctx), types.ErrProfitLimitExceeded)
	assert.Equal(t, units(10_000, 18), f.debtOf(t, stratAddr))

	require.ErrorIs(t, f.v.SetProfitLimitPolicy(ctx, gov, "sometimes"), types.ErrInvalidRequest)
}

func TestReportLossLimit(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.v.UpdateStrategyLimits(ctx, gov, stratAddr, 0, 100))
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	require.NoError(t, f.strat.Lose(usdt, units(100, 6)))
	_, err := f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.ErrorIs(t, err, types.ErrLossLimitExceeded)
	assert.Equal(t, units(1000, 18), f.debtOf(t, stratAddr))

	require.NoError(t, f.v.UpdateStrategyLimits(ctx, gov, stratAddr, 0, 0))
	results, err := f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.NoError(t, err)
	assert.Equal(t, units(100, 18), results[0].Loss)
	assert.Equal(t, units(900, 18), f.debtOf(t, stratAddr))
}

func TestRemoveAssetRequiresEmptyBalance(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", dai, units(500, 18))
	f.cycle(t)

	require.ErrorIs(t, f.v.RemoveAsset(ctx, gov, "wbtc"), types.ErrUnsupportedAsset)
	require.ErrorIs(t, f.v.RemoveAsset(ctx, gov, dai), types.ErrAssetNotEmpty)
	require.ErrorIs(t, f.v.RemoveAsset(ctx, gov, usdt), types.ErrAssetInUse)
	require.ErrorIs(t, f.v.RemoveAsset(ctx, "alice", usdc), types.ErrUnauthorized)

	_, err := f.v.Burn(ctx, "alice", f.shares(t, "alice"), sdkmath.ZeroInt(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, units(500, 18), f.bank.BalanceOf("alice", dai))

	require.NoError(t, f.v.RemoveAsset(ctx, gov, dai))
	assets, err := f.v.GetSupportAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestSecondLendBeyondBalanceFails(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)

	_, err = f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: units(600, 6)}})
	require.NoError(t, err)
	_, err = f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: units(600, 6)}})
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	total, err := f.v.TotalDebt(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(600, 18), total)
	assert.Equal(t, units(400, 6), f.bank.BalanceOf(vaultAddr, usdt))

	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	f.checkInvariants(t)
}

func TestOptedOutHolderKeepsBalanceAcrossRebase(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.deposit(t, "bob", usdt, units(1000, 6))
	f.cycle(t, units(2000, 6))

	require.NoError(t, f.v.RebaseOptOut(ctx, "bob"))
	bobBefore := f.shares(t, "bob")
	_, cptBefore, err := f.v.CreditsBalanceOf(ctx, "alice")
	require.NoError(t, err)

	f.strat.AddYield(usdt, units(200, 6))
	require.NoError(t, f.strat.Harvest(ctx))
	res, err := f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	require.True(t, res.Applied)

	assert.Equal(t, bobBefore, f.shares(t, "bob"))
	assert.NotEqual(t, cptBefore, res.RebasingCreditsPerToken)
	assertNear(t, units(1200, 18), f.shares(t, "alice"), 1_000_000)
	f.checkInvariants(t)
}

func TestRebaseIsIdempotent(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))
	f.strat.AddYield(usdt, units(10, 6))
	require.NoError(t, f.strat.Harvest(ctx))

	first, err := f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	require.True(t, first.Applied)
	assert.True(t, first.NewSupply.LTE(first.TotalValue))

	second, err := f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.NewSupply, second.NewSupply)
}

func TestRebaseThresholdSkipsDust(t *testing.T) {
	// 100 parts per ten million is 0.001%
	f := setupVaultTest(t, func(p *types.VaultParameters) { p.RebaseThreshold = 100 })
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	f.strat.AddYield(usdt, sdkmath.NewInt(5_000)) // 0.005 on 1000
	require.NoError(t, f.strat.Harvest(ctx))
	res, err := f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	f.strat.AddYield(usdt, units(1, 6))
	require.NoError(t, f.strat.Harvest(ctx))
	res, err = f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestTrusteeFeeOnGain(t *testing.T) {
	f := setupVaultTest(t, func(p *types.VaultParameters) { p.TrusteeFeeBps = 1000 })
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	f.strat.AddYield(usdt, units(100, 6))
	require.NoError(t, f.strat.Harvest(ctx))

	_, err := f.v.Rebase(ctx, keeper, 0)
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	res, err := f.v.Rebase(ctx, keeper, 1000)
	require.NoError(t, err)
	assert.Equal(t, units(10, 18), res.TrusteeFee)
	assertNear(t, units(10, 18), f.shares(t, treasuryAddr), 1_000_000)
	assertNear(t, units(1090, 18), f.shares(t, "alice"), 1_000_000)
	assertNear(t, units(1100, 18), res.NewSupply, 1_000_000)
	f.checkInvariants(t)
}

func TestMintBurnRoundTrip(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.v.SetRedeemFeeBps(ctx, gov, 50))
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t)

	_, err := f.v.Burn(ctx, "alice", f.shares(t, "alice"), sdkmath.ZeroInt(), 0, 0)
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	res, err := f.v.Burn(ctx, "alice", f.shares(t, "alice"), units(995, 18), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, units(5, 18), res.Fee)
	assert.Equal(t, units(995, 18), res.Value)
	assert.Equal(t, units(995, 6), f.bank.BalanceOf("alice", usdt))
	assert.Equal(t, units(5, 6), f.bank.BalanceOf(vaultAddr, usdt))
	assert.True(t, f.shares(t, "alice").IsZero())
}

func TestBurnSlippage(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t)

	_, err := f.v.Burn(ctx, "alice", units(100, 18), units(101, 18), 0, 0)
	require.ErrorIs(t, err, types.ErrSlippageExceeded)
	assert.Equal(t, units(1000, 18), f.shares(t, "alice"))
	assert.Equal(t, units(1000, 6), f.bank.BalanceOf(vaultAddr, usdt))
}

func TestBurnWalksWithdrawalQueue(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	res, err := f.v.Burn(ctx, "alice", units(400, 18), sdkmath.ZeroInt(), 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Redeemed, 1)
	assert.Equal(t, units(400, 6), f.bank.BalanceOf("alice", usdt))
	assert.Equal(t, units(600, 18), f.debtOf(t, stratAddr))

	require.NoError(t, f.v.SetWithdrawalQueue(ctx, gov, nil))
	_, err = f.v.Burn(ctx, "alice", units(100, 18), sdkmath.ZeroInt(), 0, 0)
	require.ErrorIs(t, err, types.ErrInsufficientLiquidity)
	assert.Equal(t, units(600, 18), f.shares(t, "alice"))
	assert.Equal(t, units(600, 18), f.debtOf(t, stratAddr))
	f.checkInvariants(t)
}

func TestRedeemLossLimit(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.v.UpdateStrategyLimits(ctx, gov, stratAddr, 0, 100))
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	f.strat.SetExitLossBps(200)
	_, err = f.v.Redeem(ctx, keeper, stratAddr, units(500, 18), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrLossLimitExceeded)
	assert.Equal(t, units(1000, 18), f.debtOf(t, stratAddr))
	assert.True(t, f.bank.BalanceOf(vaultAddr, usdt).IsZero())

	f.strat.SetExitLossBps(50)
	_, err = f.v.Redeem(ctx, keeper, stratAddr, units(500, 18), units(498, 18))
	require.ErrorIs(t, err, types.ErrSlippageExceeded)

	res, err := f.v.Redeem(ctx, keeper, stratAddr, units(500, 18), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(25).Mul(utils.Pow10(17)), res.Loss)
	assert.Equal(t, units(500, 18), f.debtOf(t, stratAddr))

	_, err = f.v.Redeem(ctx, keeper, stratAddr, units(600, 18), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	f.checkInvariants(t)
}

func TestLendSwapsUnwantedAssets(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", dai, units(100, 18))
	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)

	action, err := f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: dai, Amount: units(100, 18)}})
	require.NoError(t, err)
	assert.Equal(t, []types.AssetAmount{{Asset: usdt, Amount: units(100, 6)}}, action.Assets)
	assert.Equal(t, units(100, 6), f.bank.BalanceOf(stratAddr, usdt))
	assert.True(t, f.bank.BalanceOf(vaultAddr, dai).IsZero())
	assert.Equal(t, units(100, 18), f.debtOf(t, stratAddr))

	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
}

func TestLifecycleOrdering(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))

	_, err := f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: units(1, 6)}})
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.Redeem(ctx, keeper, stratAddr, units(1, 18), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.DistributeWhenDistributing(ctx, keeper)
	require.ErrorIs(t, err, types.ErrState)

	_, err = f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.StartAdjustPosition(ctx, keeper)
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: usdt, Amount: units(1, 6)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.Rebase(ctx, keeper, 0)
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.Export(ctx)
	require.ErrorIs(t, err, types.ErrState)

	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	// distribution pending
	require.NoError(t, f.bank.Mint("bob", usdt, units(1, 6)))
	_, err = f.v.Mint(ctx, "bob", []types.AssetAmount{{Asset: usdt, Amount: units(1, 6)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrState)
	_, err = f.v.StartAdjustPosition(ctx, keeper)
	require.ErrorIs(t, err, types.ErrState)

	_, err = f.v.DistributeWhenDistributing(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.Burn(ctx, "alice", units(1, 18), sdkmath.ZeroInt(), 0, 0)
	require.NoError(t, err)
}

func TestMintValidation(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.NoError(t, f.bank.Mint("alice", usdt, units(10, 6)))
	require.NoError(t, f.bank.Mint("alice", "wbtc", units(10, 8)))

	_, err := f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: "wbtc", Amount: units(1, 8)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrUnsupportedAsset)
	_, err = f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: usdt, Amount: units(10, 6)}}, units(11, 18))
	require.ErrorIs(t, err, types.ErrSlippageExceeded)
	_, err = f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: usdt, Amount: units(20, 6)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Equal(t, units(10, 6), f.bank.BalanceOf("alice", usdt))

	require.NoError(t, f.v.SetPegTokenPaused(ctx, gov, true))
	_, err = f.v.Mint(ctx, "alice", []types.AssetAmount{{Asset: usdt, Amount: units(10, 6)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrPaused)
}

func TestStalePriceRejected(t *testing.T) {
	f := setupVaultTest(t, func(p *types.VaultParameters) { p.MaxPriceAge = time.Hour })
	require.NoError(t, f.oracle.SetPriceAt(usdt, sdkmath.LegacyOneDec(), f.now.Add(-2*time.Hour)))
	require.NoError(t, f.bank.Mint("alice", usdt, units(10, 6)))

	_, err := f.v.Mint(context.Background(), "alice", []types.AssetAmount{{Asset: usdt, Amount: units(10, 6)}}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrStalePrice)
	assert.Equal(t, units(10, 6), f.bank.BalanceOf("alice", usdt))
}

func TestStaleReportBlocksRebase(t *testing.T) {
	f := setupVaultTest(t, func(p *types.VaultParameters) { p.MaxTimestampBetweenTwoReported = time.Hour })
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(1000, 6))

	f.now = f.now.Add(2 * time.Hour)
	_, err := f.v.Rebase(ctx, keeper, 0)
	require.ErrorIs(t, err, types.ErrStaleReport)

	_, err = f.v.ReportByKeeper(ctx, keeper, []string{stratAddr})
	require.NoError(t, err)
	_, err = f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
}

func TestRoleChecks(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	_, err := f.v.StartAdjustPosition(ctx, "alice")
	require.ErrorIs(t, err, types.ErrUnauthorized)
	_, err = f.v.Rebase(ctx, "alice", 0)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.ErrorIs(t, f.v.SetRebaseThreshold(ctx, keeper, 1), types.ErrUnauthorized)
	require.ErrorIs(t, f.v.AddAsset(ctx, "alice", types.Asset{Address: "wbtc", Decimals: 8}), types.ErrUnauthorized)
	_, err = f.v.Report(ctx, "not_a_strategy")
	require.ErrorIs(t, err, types.ErrUnauthorized)

	// governance holds the keeper role
	_, err = f.v.StartAdjustPosition(ctx, gov)
	require.NoError(t, err)
}

func TestStrategyRegistry(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()

	require.ErrorIs(t, f.v.AddStrategies(ctx, gov, []StrategyAdd{{Strategy: f.strat}}), types.ErrInvalidRequest)
	other, err := strategy.NewMockStrategy("strategy_wbtc", "mock-wbtc", vaultAddr,
		types.WantsInfo{Assets: []string{"wbtc"}, Ratios: []uint64{1}}, f.bank, f.valuer)
	require.NoError(t, err)
	require.ErrorIs(t, f.v.AddStrategies(ctx, gov, []StrategyAdd{{Strategy: other}}), types.ErrUnsupportedAsset)

	three, err := strategy.NewMock3CoinStrategy("strategy_3pool", vaultAddr, usdt, usdc, dai, f.bank, f.valuer)
	require.NoError(t, err)
	require.NoError(t, f.v.AddStrategies(ctx, gov, []StrategyAdd{{Strategy: three, ProfitLimitRatio: 100, LossLimitRatio: 100}}))
	queue, err := f.v.WithdrawalQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stratAddr, "strategy_3pool"}, queue)

	require.ErrorIs(t, f.v.SetWithdrawalQueue(ctx, gov, []string{"nope"}), types.ErrStrategyNotFound)
	require.ErrorIs(t, f.v.SetWithdrawalQueue(ctx, gov, []string{stratAddr, stratAddr}), types.ErrInvalidRequest)
	require.NoError(t, f.v.SetWithdrawalQueue(ctx, gov, []string{"strategy_3pool", stratAddr}))

	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(600, 6))
	require.ErrorIs(t, f.v.RemoveStrategies(ctx, gov, []string{stratAddr}), types.ErrStrategyHasDebt)
	require.NoError(t, f.v.RemoveStrategies(ctx, gov, []string{"strategy_3pool"}))

	writtenOff, err := f.v.ForceRemoveStrategy(ctx, gov, stratAddr)
	require.NoError(t, err)
	assert.Equal(t, units(600, 18), writtenOff)
	total, err := f.v.TotalDebt(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	res, err := f.v.Rebase(ctx, keeper, 0)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assertNear(t, units(400, 18), f.shares(t, "alice"), 1_000_000)
}

func TestDisabledStrategyCannotBorrow(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(100, 6))
	require.NoError(t, f.v.SetStrategyEnabled(ctx, gov, stratAddr, false))
	_, err := f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.Lend(ctx, keeper, stratAddr, []types.AssetAmount{{Asset: usdt, Amount: units(100, 6)}})
	require.ErrorIs(t, err, types.ErrStrategyDisabled)
	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
}

func TestDisabledStrategyDoesNotPinAssets(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	require.ErrorIs(t, f.v.RemoveAsset(ctx, gov, usdt), types.ErrAssetInUse)
	require.NoError(t, f.v.SetStrategyEnabled(ctx, gov, stratAddr, false))
	require.NoError(t, f.v.RemoveAsset(ctx, gov, usdt))
}

func TestDisabledStrategyWithDebtPinsAssets(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	daiStrat, err := strategy.NewMockStrategy("strategy_dai", "mock-dai", vaultAddr,
		types.WantsInfo{Assets: []string{dai}, Ratios: []uint64{1}}, f.bank, f.valuer)
	require.NoError(t, err)
	require.NoError(t, f.v.AddStrategies(ctx, gov, []StrategyAdd{{Strategy: daiStrat}}))

	f.deposit(t, "alice", dai, units(1000, 18))
	_, err = f.v.StartAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.Lend(ctx, keeper, "strategy_dai", []types.AssetAmount{{Asset: dai, Amount: units(1000, 18)}})
	require.NoError(t, err)
	_, err = f.v.EndAdjustPosition(ctx, keeper)
	require.NoError(t, err)
	_, err = f.v.DistributeWhenDistributing(ctx, keeper)
	require.NoError(t, err)

	require.NoError(t, f.v.SetStrategyEnabled(ctx, gov, "strategy_dai", false))
	require.ErrorIs(t, f.v.RemoveAsset(ctx, gov, dai), types.ErrAssetInUse)

	// the holder can still redeem through the disabled strategy
	res, err := f.v.Burn(ctx, "alice", f.shares(t, "alice"), sdkmath.ZeroInt(), 0, 0)
	require.NoError(t, err)
	assertNear(t, units(1000, 18), res.Value, 1_000_000)
	assert.True(t, f.debtOf(t, "strategy_dai").IsZero())

	require.NoError(t, f.v.RemoveAsset(ctx, gov, dai))
}

func TestShareTransfersThroughVault(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(100, 6))
	f.cycle(t)

	require.NoError(t, f.v.Transfer(ctx, "alice", "bob", units(10, 18)))
	require.NoError(t, f.v.Approve(ctx, "alice", "carol", units(5, 18)))
	require.ErrorIs(t, f.v.TransferFrom(ctx, "carol", "alice", "carol", units(6, 18)), types.ErrInsufficientAllowance)
	require.NoError(t, f.v.TransferFrom(ctx, "carol", "alice", "carol", units(5, 18)))
	allowance, err := f.v.Allowance(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.True(t, allowance.IsZero())

	assert.Equal(t, units(85, 18), f.shares(t, "alice"))
	assert.Equal(t, units(10, 18), f.shares(t, "bob"))
	assert.Equal(t, units(5, 18), f.shares(t, "carol"))
	f.checkInvariants(t)
}

func TestSummary(t *testing.T) {
	f := setupVaultTest(t)
	ctx := context.Background()
	f.deposit(t, "alice", usdt, units(1000, 6))
	f.cycle(t, units(700, 6))
	f.deposit(t, "bob", usdc, units(50, 6))

	s, err := f.v.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(1000, 18), s.TotalAssets)
	assert.Equal(t, units(700, 18), s.TotalDebt)
	assert.Equal(t, units(700, 18), s.TotalValueInStrategies)
	assert.Equal(t, units(300, 18), s.ValueOfTrackedTokens)
	assert.Equal(t, units(50, 18), s.BufferValue)
	assert.Equal(t, units(50, 18), s.BufferTickets)
	assert.Equal(t, units(1000, 18), s.TotalSupply)
	assert.False(t, s.Adjusting)
	assert.Len(t, s.Assets, 3)
	assert.Len(t, s.Strategies, 1)
}

func TestRebaseDuringDistributionMovesPendingShares(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, f *fixture)
		want   int64
	}{
		{"loss", func(t *testing.T, f *fixture) {
			require.NoError(t, f.strat.Lose(usdt, units(100, 6)))
			_, err := f.v.ReportByKeeper(context.Background(), keeper, []string{stratAddr})
			require.NoError(t, err)
		}, 950},
		{"gain", func(t *testing.T, f *fixture) {
			f.strat.AddYield(usdt, units(100, 6))
			require.NoError(t, f.strat.Harvest(context.Background()))
		}, 1050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupVaultTest(t)
			ctx := context.Background()
			f.deposit(t, "alice", usdt, units(1000, 6))
			f.cycle(t, units(1000, 6))

			f.deposit(t, "bob", usdt, units(1000, 6))
			_, err := f.v.StartAdjustPosition(ctx, keeper)
			require.NoError(t, err)
			_, err = f.v.EndAdjustPosition(ctx, keeper)
			require.NoError(t, err)

			tt.change(t, f)
			res, err := f.v.Rebase(ctx, keeper, 0)
			require.NoError(t, err)
			require.True(t, res.Applied)

			dist, err := f.v.DistributeWhenDistributing(ctx, keeper)
			require.NoError(t, err)
			assert.True(t, dist.Done)
			assert.True(t, f.shares(t, bufferAddr).IsZero(), "buffer keeps %s", f.shares(t, bufferAddr))
			assertNear(t, units(tt.want, 18), f.shares(t, "alice"), 1_000_000)
			assertNear(t, units(tt.want, 18), f.shares(t, "bob"), 1_000_000)
			f.checkInvariants(t)

			// the vault is not stuck behind the round
			f.deposit(t, "carol", usdt, units(10, 6))
			f.cycle(t)
		})
	}
}
