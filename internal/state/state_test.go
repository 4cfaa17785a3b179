package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/vault"
)

func setupStoreTest(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DBConfig{Driver: DialectSQLite, Path: filepath.Join(t.TempDir(), "pegvault.db")})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func usd(n int64) sdkmath.Int { return sdkmath.NewIntWithDecimal(n, types.CanonicalDecimals) }

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{Driver: "mysql"})
	require.Error(t, err)
	_, err = Open(context.Background(), DBConfig{Driver: DialectSQLite})
	require.Error(t, err)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))

	version, err := s.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestEnsureSchemaRefusesNewerDatabase(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	_, err := s.exec(ctx, `UPDATE schema_info SET version = $1 WHERE id = 1`, SchemaVersion+1)
	require.NoError(t, err)
	require.Error(t, s.EnsureSchema(ctx))
}

func TestResetDropsEverything(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	_, err := s.IncrementCycleNumber(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	n, err := s.GetCurrentCycleNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCycleCounter(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()

	n, err := s.GetCurrentCycleNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := uint64(1); want <= 3; want++ {
		got, err := s.IncrementCycleNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, s.ResetCycleNumber(ctx, 41))
	got, err := s.IncrementCycleNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)
}

func cycleSnapshot(n uint64, at time.Time, success bool) types.CycleSnapshot {
	snap := types.CycleSnapshot{
		CycleNumber: n,
		CycleID:     fmt.Sprintf("cycle-%d", n),
		Timestamp:   at,
		Duration:    time.Duration(n) * time.Second,
		Before:      types.VaultSummary{TotalAssets: usd(100), TotalSupply: usd(100)},
		After:       types.VaultSummary{TotalAssets: usd(110), TotalSupply: usd(110)},
		Lends:       []types.LendAction{{Strategy: "strategy_usdt", Value: usd(80)}},
		Success:     success,
	}
	if !success {
		snap.Error = "lend to strategy_usdt: pool paused"
	}
	return snap
}

func TestCycleSnapshots(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []int64
	for i := uint64(1); i <= 3; i++ {
		id, err := s.SaveCycleSnapshot(ctx, cycleSnapshot(i, start.Add(time.Duration(i)*time.Hour), i != 2))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	recent, err := s.GetRecentCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].CycleNumber)
	assert.Equal(t, uint64(2), recent[1].CycleNumber)
	assert.False(t, recent[1].Success)
	assert.Equal(t, "lend to strategy_usdt: pool paused", recent[1].Error)
	assert.True(t, recent[0].After.TotalAssets.Equal(usd(110)))
	require.Len(t, recent[0].Lends, 1)
	assert.True(t, recent[0].Lends[0].Value.Equal(usd(80)))

	one, err := s.GetCycleByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), one.CycleNumber)
	assert.Equal(t, time.Second, one.Duration)

	_, err = s.GetCycleByID(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)

	// out of range limits fall back to the default
	all, err := s.GetRecentCycles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func rebase(at time.Time, oldSupply, newSupply, fee int64) types.RebaseResult {
	return types.RebaseResult{
		Applied:                 true,
		TotalValue:              usd(newSupply),
		OldSupply:               usd(oldSupply),
		NewSupply:               usd(newSupply),
		TrusteeFee:              usd(fee),
		RebasingCreditsPerToken: sdkmath.NewInt(1_000_000_000),
		Timestamp:               at,
	}
}

func TestRebaseHistory(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRebase(ctx, "cycle-a", rebase(start, 1000, 1010, 1)))
	require.NoError(t, s.SaveRebase(ctx, "", rebase(start.Add(time.Hour), 1010, 1000, 0)))

	recent, err := s.GetRecentRebases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Empty(t, recent[0].CycleID)
	assert.True(t, recent[0].NewSupply.Equal(usd(1000)))
	assert.Equal(t, "cycle-a", recent[1].CycleID)
	assert.True(t, recent[1].TrusteeFee.Equal(usd(1)))
	assert.True(t, recent[1].Timestamp.Equal(start))
	assert.True(t, recent[1].Applied)
}

func TestPerformanceMetrics(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()

	perf, err := s.GetPerformanceMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, perf.TotalCycles)
	assert.Zero(t, perf.Rebases)
	assert.Nil(t, perf.Since)
	assert.True(t, perf.TotalTrusteeFees.IsZero())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 4; i++ {
		_, err := s.SaveCycleSnapshot(ctx, cycleSnapshot(i, start.Add(time.Duration(i)*time.Hour), i != 4))
		require.NoError(t, err)
	}
	// +1%, +1%, -1% over half a year
	half := year / 2
	require.NoError(t, s.SaveRebase(ctx, "a", rebase(start, 1000, 1010, 2)))
	require.NoError(t, s.SaveRebase(ctx, "b", rebase(start.Add(half/2), 1000, 1010, 3)))
	require.NoError(t, s.SaveRebase(ctx, "c", rebase(start.Add(half), 1000, 990, 0)))

	perf, err = s.GetPerformanceMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, perf.TotalCycles)
	assert.Equal(t, 3, perf.SuccessfulCycles)
	assert.Equal(t, 2500*time.Millisecond, perf.MeanCycleDuration)
	assert.Equal(t, 3, perf.Rebases)
	assert.Equal(t, 2, perf.PositiveRebases)
	assert.Equal(t, 1, perf.NegativeRebases)
	assert.InDelta(t, 0.01/3, perf.MeanRebaseYield, 1e-9)
	assert.InDelta(t, 0.011547, perf.RebaseYieldStdDev, 1e-5)
	// growth 1.01 * 0.99 over half a year, compounded twice
	assert.InDelta(t, 1.01*0.99*1.01*0.99-1, perf.APY, 1e-9)
	assert.True(t, perf.TotalTrusteeFees.Equal(usd(5)))
	require.NotNil(t, perf.Since)
	assert.True(t, perf.Since.Equal(start))
}

func TestLedgerSnapshots(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()

	_, err := s.LoadLatestLedger(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	// an export written before the profit limit policy existed
	old := vault.Genesis{Version: 1, Params: types.VaultParameters{RebaseThreshold: 7}, TotalDebt: usd(3)}
	_, err = s.SaveLedgerSnapshot(ctx, old)
	require.NoError(t, err)

	loaded, err := s.LoadLatestLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, vault.GenesisVersion, loaded.Genesis.Version)
	assert.Equal(t, types.ProfitLimitCarry, loaded.Genesis.Params.ProfitLimitPolicy)
	assert.Equal(t, uint64(7), loaded.Genesis.Params.RebaseThreshold)
	assert.True(t, loaded.Genesis.TotalDebt.Equal(usd(3)))

	current := vault.Genesis{Version: vault.GenesisVersion, Params: types.VaultParameters{ProfitLimitPolicy: types.ProfitLimitRevert}}
	id, err := s.SaveLedgerSnapshot(ctx, current)
	require.NoError(t, err)
	loaded, err = s.LoadLatestLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, types.ProfitLimitRevert, loaded.Genesis.Params.ProfitLimitPolicy)

	deleted, err := s.PruneLedgerSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, err = s.PruneLedgerSnapshots(ctx, 0)
	require.Error(t, err)
}

func TestUnknownGenesisVersionIsRejected(t *testing.T) {
	s := setupStoreTest(t)
	ctx := context.Background()
	data, err := json.Marshal(map[string]any{"version": 99})
	require.NoError(t, err)
	_, err = s.exec(ctx, `INSERT INTO ledger_snapshots (created_at, genesis_version, genesis) VALUES ($1, $2, $3)`,
		time.Now().UnixMilli(), 99, string(data))
	require.NoError(t, err)

	_, err = s.LoadLatestLedger(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
