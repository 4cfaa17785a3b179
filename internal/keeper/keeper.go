/*

This file contains the keeper, which drives the vault through its adjust-position cycle.

A cycle has seven steps: harvest and report, start adjusting, plan, execute redeems and lends, end adjusting,
distribute the buffer and rebase. Each cycle has a UUID for tracing and a persistent number, and is saved
with the vault summary before and after it.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/pegvault/internal/harvester"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/planner"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/vault"
)

var ErrCycleRunning = errors.New("a keeper cycle is already running")

// Harvester asks strategies to harvest and report.
type Harvester interface {
	Collect(ctx context.Context, sender string, strategies []string) ([]harvester.Result, error)
}

// Dripper releases accrued rewards into the vault ahead of the cycle's rebase.
type Dripper interface {
	Collect(ctx context.Context) (sdkmath.Int, error)
}

// Store persists cycle history.
type Store interface {
	IncrementCycleNumber(ctx context.Context) (uint64, error)
	SaveCycleSnapshot(ctx context.Context, snapshot types.CycleSnapshot) (int64, error)
	SaveRebase(ctx context.Context, cycleID string, rebase types.RebaseResult) error
}

// CycleObserver is told about every finished cycle and every rebase applied during one.
type CycleObserver interface {
	ObserveCycle(duration time.Duration, success bool)
	ObserveRebase(rebase types.RebaseResult)
}

// Keeper runs the adjust-position cycle of a vault.
type Keeper struct {
	logger    zerolog.Logger
	vault     vault.VaultManager
	harvester Harvester
	dripper   Dripper
	store     Store
	observer  CycleObserver
	address   string
	params    types.PlannerParameters

	running    sync.Mutex
	cycleCount uint64 // used when no store is configured
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	VaultManager vault.VaultManager
	Harvester    Harvester     // optional; strategies are reported by the keeper when nil
	Dripper      Dripper       // optional
	Store        Store         // optional
	Observer     CycleObserver // optional
	Address      string        // keeper account used for privileged vault calls
	Planner      types.PlannerParameters
}

// NewKeeper creates a new Keeper instance with dependency injection
func NewKeeper(cfg Config) (*Keeper, error) {
	if err := validateKeeperConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}
	k := &Keeper{
		logger:    logger.GetForComponent("keeper"),
		vault:     cfg.VaultManager,
		harvester: cfg.Harvester,
		dripper:   cfg.Dripper,
		store:     cfg.Store,
		observer:  cfg.Observer,
		address:   cfg.Address,
		params:    cfg.Planner,
	}
	k.logger.Info().
		Str("address", k.address).
		Int("targets", len(k.params.TargetWeights)).
		Msg("Keeper instance created successfully with dependency injection")
	return k, nil
}

// validateKeeperConfig validates the keeper configuration
func validateKeeperConfig(cfg Config) error {
	if cfg.VaultManager == nil {
		return fmt.Errorf("vault manager cannot be nil")
	}
	if cfg.Address == "" {
		return fmt.Errorf("keeper address cannot be empty")
	}
	return cfg.Planner.Validate()
}

// RunCycle executes one complete cycle: harvest, start adjusting, redeem and lend toward target weights, end
// adjusting, distribute the buffer and rebase. The returned snapshot is persisted when a store is configured.
func (k *Keeper) RunCycle(ctx context.Context) (types.CycleSnapshot, error) {
	if !k.running.TryLock() {
		return types.CycleSnapshot{}, ErrCycleRunning
	}
	defer k.running.Unlock()

	cycleStartTime := time.Now()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Logger()
	cycleLogger.Info().Msg("--- Starting Keeper Cycle ---")

	snapshot := types.CycleSnapshot{
		CycleNumber: k.nextCycleNumber(ctx),
		CycleID:     cycleID,
		Timestamp:   cycleStartTime,
	}
	var err error
	snapshot.Before, err = k.vault.Summary(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: Failed to read vault state.")
		snapshot.After = snapshot.Before
		return k.finish(ctx, snapshot, cycleStartTime, cycleLogger, err)
	}

	err = k.runSteps(ctx, &snapshot, cycleLogger)

	var sumErr error
	snapshot.After, sumErr = k.vault.Summary(ctx)
	if sumErr != nil {
		cycleLogger.Error().Err(sumErr).Msg("Failed to read final vault state.")
		snapshot.After = snapshot.Before
	}
	return k.finish(ctx, snapshot, cycleStartTime, cycleLogger, err)
}

func (k *Keeper) runSteps(ctx context.Context, snapshot *types.CycleSnapshot, cycleLogger zerolog.Logger) error {
	// --- Step 1: Drip, Harvest & Report ---
	if k.dripper != nil {
		// undripped funds stay with the dripper and are picked up next cycle
		if amount, err := k.dripper.Collect(ctx); err != nil {
			cycleLogger.Warn().Err(err).Msg("Failed to collect dripped rewards")
		} else {
			snapshot.Dripped = amount
			cycleLogger.Info().Str("amount", amount.String()).Msg("Collected dripped rewards")
		}
	}
	cycleLogger.Info().Msg("Step 1: Harvesting strategies...")
	reports, err := k.harvestAndReport(ctx, snapshot.Before.Strategies, cycleLogger)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: Failed to report strategies.")
		return err
	}
	snapshot.Reports = reports

	// --- Step 2: Start Adjusting ---
	if distributing, err := k.vault.IsDistributing(ctx); err != nil {
		return err
	} else if distributing {
		cycleLogger.Warn().Msg("Buffer still distributing from a previous cycle, finishing it first")
		if err := k.distribute(ctx, cycleLogger); err != nil {
			return err
		}
	}
	cycleLogger.Info().Msg("Step 2: Starting position adjustment...")
	if _, err := k.vault.StartAdjustPosition(ctx, k.address); err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: Failed to start position adjustment.")
		return err
	}

	// --- Step 3 & 4: Plan and Execute ---
	// A failed plan or action must not leave the vault adjusting, so the window is always closed.
	execErr := k.planAndExecute(ctx, snapshot, cycleLogger)
	if execErr != nil {
		cycleLogger.Error().Err(execErr).Msg("Action execution failed, closing the adjustment window")
	}

	// --- Step 5: End Adjusting ---
	cycleLogger.Info().Msg("Step 5: Ending position adjustment...")
	adjust, err := k.vault.EndAdjustPosition(ctx, k.address)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to end position adjustment.")
		return errors.Join(execErr, err)
	}
	snapshot.Adjust = &adjust
	if adjust.Rebase.Applied {
		k.recordRebase(ctx, snapshot.CycleID, adjust.Rebase, cycleLogger)
	}

	// --- Step 6: Distribute ---
	cycleLogger.Info().Msg("Step 6: Distributing buffered deposits...")
	if err := k.distribute(ctx, cycleLogger); err != nil {
		return errors.Join(execErr, err)
	}

	// --- Step 7: Rebase ---
	cycleLogger.Info().Msg("Step 7: Rebasing...")
	params, err := k.vault.Params(ctx)
	if err != nil {
		return errors.Join(execErr, err)
	}
	rebase, err := k.vault.Rebase(ctx, k.address, params.TrusteeFeeBps)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Rebase failed.")
		return errors.Join(execErr, err)
	}
	snapshot.Rebase = &rebase
	if rebase.Applied {
		k.recordRebase(ctx, snapshot.CycleID, rebase, cycleLogger)
	}
	return execErr
}

func (k *Keeper) harvestAndReport(ctx context.Context, strategies []types.StrategyParams, cycleLogger zerolog.Logger) ([]types.ReportResult, error) {
	var all, withDebt []string
	for _, s := range strategies {
		if !s.Enabled && s.TotalDebt.IsZero() {
			continue
		}
		all = append(all, s.Address)
		if s.TotalDebt.IsPositive() {
			withDebt = append(withDebt, s.Address)
		}
	}

	if k.harvester != nil && len(all) > 0 {
		// a failed harvest leaves that strategy to the keeper report below
		if _, err := k.harvester.Collect(ctx, k.address, all); err != nil {
			cycleLogger.Warn().Err(err).Msg("Some strategies failed to harvest")
		}
	}
	if len(withDebt) == 0 {
		return nil, nil
	}
	reports, err := k.vault.ReportByKeeper(ctx, k.address, withDebt)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		cycleLogger.Info().
			Str("strategy", r.Strategy).
			Str("gain", r.Gain.String()).
			Str("loss", r.Loss.String()).
			Str("carried_forward", r.CarriedForward.String()).
			Msg("Strategy reported")
	}
	return reports, nil
}

func (k *Keeper) planAndExecute(ctx context.Context, snapshot *types.CycleSnapshot, cycleLogger zerolog.Logger) error {
	cycleLogger.Info().Msg("Step 3: Planning lends...")
	strategies, err := k.vault.GetStrategies(ctx)
	if err != nil {
		return err
	}
	totalValue, err := k.vault.TotalAssets(ctx)
	if err != nil {
		return err
	}
	liquid, err := k.vault.ValueOfTrackedTokens(ctx)
	if err != nil {
		return err
	}

	in := planner.Input{TotalValue: totalValue, Liquid: liquid}
	for _, s := range strategies {
		in.Positions = append(in.Positions, planner.Position{Strategy: s.Address, Debt: s.TotalDebt, Enabled: s.Enabled})
	}
	plan, err := planner.GenerateActionPlan(in, k.params)
	if err != nil {
		return fmt.Errorf("failed to generate action plan: %w", err)
	}
	if len(plan.Redeems) == 0 && len(plan.Deposits) == 0 {
		cycleLogger.Info().Msg("No rebalancing needed.")
		return nil
	}

	cycleLogger.Info().Msg("Step 4: Executing action plan...")
	for _, r := range plan.Redeems {
		res, err := k.vault.Redeem(ctx, k.address, r.Strategy, r.Amount, sdkmath.ZeroInt())
		if err != nil {
			return fmt.Errorf("redeem from %s: %w", r.Strategy, err)
		}
		cycleLogger.Info().Str("strategy", r.Strategy).Str("value", res.Value.String()).Str("loss", res.Loss.String()).Msg("Redeemed")
	}

	if len(plan.Deposits) == 0 {
		return nil
	}
	holdings, err := k.vault.TrackedBalances(ctx)
	if err != nil {
		return err
	}
	wants := make(map[string]types.WantsInfo, len(plan.Deposits))
	for _, d := range plan.Deposits {
		impl, err := k.vault.Strategy(ctx, d.Strategy)
		if err != nil {
			return err
		}
		if wants[d.Strategy], err = impl.WantsInfo(ctx); err != nil {
			return fmt.Errorf("wants of %s: %w", d.Strategy, err)
		}
	}
	lends, err := planner.AllocateLends(plan.Deposits, holdings, wants)
	if err != nil {
		return fmt.Errorf("failed to allocate lends: %w", err)
	}
	for _, l := range lends {
		action, err := k.vault.Lend(ctx, k.address, l.Strategy, l.Assets)
		if err != nil {
			return fmt.Errorf("lend to %s: %w", l.Strategy, err)
		}
		snapshot.Lends = append(snapshot.Lends, action)
		cycleLogger.Info().Str("strategy", l.Strategy).Str("value", action.Value.String()).Msg("Lent")
	}
	return nil
}

func (k *Keeper) distribute(ctx context.Context, cycleLogger zerolog.Logger) error {
	for {
		distributing, err := k.vault.IsDistributing(ctx)
		if err != nil || !distributing {
			return err
		}
		res, err := k.vault.DistributeWhenDistributing(ctx, k.address)
		if err != nil {
			return err
		}
		cycleLogger.Info().Int("holders", res.Holders).Str("shares", res.Shares.String()).Bool("done", res.Done).Msg("Distributed")
		if res.Done {
			return nil
		}
	}
}

// nextCycleNumber increments the persistent cycle counter, falling back to an in-memory one
func (k *Keeper) nextCycleNumber(ctx context.Context) uint64 {
	if k.store != nil {
		n, err := k.store.IncrementCycleNumber(ctx)
		if err == nil {
			k.cycleCount = n
			return n
		}
		k.logger.Error().Err(err).Msg("Failed to increment cycle number, using in-memory counter")
	}
	k.cycleCount++
	return k.cycleCount
}

func (k *Keeper) recordRebase(ctx context.Context, cycleID string, rebase types.RebaseResult, cycleLogger zerolog.Logger) {
	if k.observer != nil {
		k.observer.ObserveRebase(rebase)
	}
	if k.store == nil {
		return
	}
	if err := k.store.SaveRebase(ctx, cycleID, rebase); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to save rebase")
	}
}

func (k *Keeper) finish(ctx context.Context, snapshot types.CycleSnapshot, start time.Time, cycleLogger zerolog.Logger, err error) (types.CycleSnapshot, error) {
	snapshot.Duration = time.Since(start)
	snapshot.Success = err == nil
	if err != nil {
		snapshot.Error = err.Error()
	}

	if k.store != nil {
		if id, saveErr := k.store.SaveCycleSnapshot(ctx, snapshot); saveErr != nil {
			cycleLogger.Error().Err(saveErr).Msg("Failed to save cycle snapshot to database")
		} else {
			cycleLogger.Info().Int64("snapshot_id", id).Msg("Cycle snapshot saved successfully")
		}
	}
	if k.observer != nil {
		k.observer.ObserveCycle(snapshot.Duration, snapshot.Success)
	}

	cycleLogger.Info().
		Uint64("cycle", snapshot.CycleNumber).
		Str("total_assets", snapshot.After.TotalAssets.String()).
		Str("total_supply", snapshot.After.TotalSupply.String()).
		Int("lends", len(snapshot.Lends)).
		Bool("success", snapshot.Success).
		Str("cycleDuration", snapshot.Duration.String()).
		Msg("--- Keeper Cycle Completed ---")
	return snapshot, err
}
