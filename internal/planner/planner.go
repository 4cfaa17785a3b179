/*

This file contains the action planner of the keeper cycle.

A plan is built in two passes. GenerateActionPlan compares each strategy's debt with its target weight of the
vault's total value and decides which strategies give capital back and which receive more. Redeems are capped
per cycle; deposits are not, but they can never exceed the liquid value available. AllocateLends then turns
the deposit values into asset amounts using the vault's current holdings and each strategy's want ratios.

All amounts are integers in canonical units and round down.

*/

package planner

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidVaultValue        = errors.New("vault value must not be negative")
	ErrInvalidTargetAllocations = errors.New("target allocations contain invalid values")
	ErrInvalidPosition          = errors.New("position is invalid")
	ErrMissingWants             = errors.New("strategy wants are missing")
	ErrInvalidHolding           = errors.New("holding is invalid")
)

var plannerLogger = logger.GetForComponent("action_planner")

// Position is a strategy as the planner sees it.
type Position struct {
	Strategy string
	Debt     sdkmath.Int
	Enabled  bool
}

// Input is the ledger state a plan is computed from.
type Input struct {
	TotalValue sdkmath.Int // tracked value plus total debt
	Liquid     sdkmath.Int // tracked value available to lend
	Positions  []Position
}

// Redeem asks a strategy to return Amount of canonical value.
type Redeem struct {
	Strategy string      `json:"strategy"`
	Amount   sdkmath.Int `json:"amount"`
}

// Deposit asks for Value of canonical value to be lent to a strategy.
type Deposit struct {
	Strategy string      `json:"strategy"`
	Value    sdkmath.Int `json:"value"`
}

// Plan is the outcome of GenerateActionPlan.
type Plan struct {
	Redeems  []Redeem  `json:"redeems"`
	Deposits []Deposit `json:"deposits"`
}

// Lend is a deposit resolved into asset amounts.
type Lend struct {
	Strategy string              `json:"strategy"`
	Assets   []types.AssetAmount `json:"assets"`
	Value    sdkmath.Int         `json:"value"`
}

// GenerateActionPlan decides the redeems and deposits that move strategies toward their target weights.
func GenerateActionPlan(in Input, params types.PlannerParameters) (Plan, error) {
	if err := validateInputs(in, params); err != nil {
		plannerLogger.Error().Err(err).Msg("Input validation failed")
		return Plan{}, err
	}
	minValue, err := minActionValue(params)
	if err != nil {
		return Plan{}, err
	}
	if !in.TotalValue.IsPositive() {
		plannerLogger.Info().Msg("Total vault value is zero, no actions to plan")
		return Plan{}, nil
	}

	redeems, deposits, err := analyzeRequiredChanges(in, params, minValue)
	if err != nil {
		return Plan{}, err
	}
	redeems, err = applyRebalancingLimits(redeems, in.TotalValue, params.MaxRebalanceBpsPerCycle, minValue)
	if err != nil {
		return Plan{}, err
	}

	// redeemed value becomes liquid before lends run
	liquid := in.Liquid
	for _, r := range redeems {
		liquid = liquid.Add(r.Amount)
	}
	deposits = fitDeposits(deposits, liquid, minValue)

	plannerLogger.Info().
		Int("redeems", len(redeems)).
		Int("deposits", len(deposits)).
		Str("liquid", liquid.String()).
		Msg("Action plan generation completed successfully")
	return Plan{Redeems: redeems, Deposits: deposits}, nil
}

func validateInputs(in Input, params types.PlannerParameters) error {
	if in.TotalValue.IsNil() || in.TotalValue.IsNegative() {
		return ErrInvalidVaultValue
	}
	if in.Liquid.IsNil() || in.Liquid.IsNegative() || in.Liquid.GT(in.TotalValue) {
		return errors.Join(ErrInvalidVaultValue, fmt.Errorf("liquid value %s outside [0, %s]", in.Liquid, in.TotalValue))
	}
	if err := params.Validate(); err != nil {
		return errors.Join(ErrInvalidTargetAllocations, err)
	}
	seen := make(map[string]bool, len(in.Positions))
	for i, p := range in.Positions {
		if p.Strategy == "" {
			return fmt.Errorf("%w: position %d has no strategy", ErrInvalidPosition, i)
		}
		if seen[p.Strategy] {
			return fmt.Errorf("%w: strategy %s listed twice", ErrInvalidPosition, p.Strategy)
		}
		seen[p.Strategy] = true
		if p.Debt.IsNil() || p.Debt.IsNegative() {
			return fmt.Errorf("%w: strategy %s has invalid debt", ErrInvalidPosition, p.Strategy)
		}
	}
	for strategy, w := range params.TargetWeights {
		if w > 0 && !seen[strategy] {
			return fmt.Errorf("%w: target weight for unknown strategy %s", ErrInvalidTargetAllocations, strategy)
		}
	}
	return nil
}

func minActionValue(params types.PlannerParameters) (sdkmath.Int, error) {
	if params.MinActionValue == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, err := utils.ParseUnits(params.MinActionValue, types.CanonicalDecimals)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid minimum action value: %w", err)
	}
	return v, nil
}

// analyzeRequiredChanges determines which strategies need redeems vs deposits
func analyzeRequiredChanges(in Input, params types.PlannerParameters, minValue sdkmath.Int) ([]Redeem, []Deposit, error) {
	var redeems []Redeem
	var deposits []Deposit

	positions := append([]Position(nil), in.Positions...)
	sort.Slice(positions, func(i, j int) bool { return positions[i].Strategy < positions[j].Strategy })

	for _, p := range positions {
		weight := params.TargetWeights[p.Strategy]
		if !p.Enabled {
			weight = 0
		}
		target, err := utils.BpsOf(in.TotalValue, weight)
		if err != nil {
			return nil, nil, fmt.Errorf("target of %s: %w", p.Strategy, err)
		}
		delta := target.Sub(p.Debt)

		// deviation in bps of the target; a strategy with no target is a complete exit
		var deviation sdkmath.Int
		switch {
		case target.IsPositive():
			deviation, err = utils.MulDiv(delta.Abs(), sdkmath.NewInt(utils.MaxBps), target)
			if err != nil {
				return nil, nil, err
			}
		case p.Debt.IsPositive():
			deviation = sdkmath.NewInt(utils.MaxBps)
		default:
			deviation = sdkmath.ZeroInt()
		}

		plannerLogger.Debug().
			Str("strategy", p.Strategy).
			Str("debt", p.Debt.String()).
			Str("target", target.String()).
			Str("delta", delta.String()).
			Str("deviation_bps", deviation.String()).
			Msg("Strategy rebalancing analysis")

		if deviation.LTE(sdkmath.NewIntFromUint64(params.RebalanceThresholdBps)) || delta.Abs().LT(minValue) {
			continue
		}
		if delta.IsNegative() {
			redeems = append(redeems, Redeem{Strategy: p.Strategy, Amount: delta.Neg()})
		} else if p.Enabled {
			deposits = append(deposits, Deposit{Strategy: p.Strategy, Value: delta})
		}
	}
	return redeems, deposits, nil
}

// applyRebalancingLimits scales redeems down so that at most maxBps of the total value leaves strategies in one
// cycle. Deposits are not limited here.
func applyRebalancingLimits(redeems []Redeem, totalValue sdkmath.Int, maxBps uint64, minValue sdkmath.Int) ([]Redeem, error) {
	maxRedeem, err := utils.BpsOf(totalValue, maxBps)
	if err != nil {
		return nil, err
	}
	total := sdkmath.ZeroInt()
	for _, r := range redeems {
		total = total.Add(r.Amount)
	}
	if total.LTE(maxRedeem) {
		return redeems, nil
	}

	plannerLogger.Warn().
		Str("total_redeem", total.String()).
		Str("max_redeem", maxRedeem.String()).
		Msg("Redeem amount exceeds limit, scaling down redeems")

	capped := make([]Redeem, 0, len(redeems))
	for _, r := range redeems {
		scaled, err := utils.MulDiv(r.Amount, maxRedeem, total)
		if err != nil {
			return nil, err
		}
		if scaled.IsZero() || scaled.LT(minValue) {
			continue
		}
		capped = append(capped, Redeem{Strategy: r.Strategy, Amount: scaled})
	}
	return capped, nil
}

// fitDeposits serves the largest deficits first until liquid value runs out.
func fitDeposits(deposits []Deposit, liquid, minValue sdkmath.Int) []Deposit {
	sort.SliceStable(deposits, func(i, j int) bool { return deposits[i].Value.GT(deposits[j].Value) })

	out := make([]Deposit, 0, len(deposits))
	for _, d := range deposits {
		value := utils.MinInt(d.Value, liquid)
		if !value.IsPositive() || value.LT(minValue) {
			continue
		}
		out = append(out, Deposit{Strategy: d.Strategy, Value: value})
		liquid = liquid.Sub(value)
	}
	return out
}

// AllocateLends resolves deposits into asset amounts drawn from holdings. Each strategy first receives the
// assets it wants, split by its want ratios; whatever those cannot cover is filled from the largest remaining
// holdings, which the vault swaps into the strategy's first wanted asset when lending.
func AllocateLends(deposits []Deposit, holdings []types.AssetBalance, wants map[string]types.WantsInfo) ([]Lend, error) {
	remaining := make(map[string]types.AssetBalance, len(holdings))
	for _, h := range holdings {
		if h.Amount.IsNil() || h.CanonicalValue.IsNil() || h.Amount.IsNegative() || h.CanonicalValue.IsNegative() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidHolding, h.Asset)
		}
		if h.Amount.IsPositive() && h.CanonicalValue.IsPositive() {
			remaining[h.Asset] = h
		}
	}

	lends := make([]Lend, 0, len(deposits))
	for _, d := range deposits {
		w, ok := wants[d.Strategy]
		if !ok || len(w.Assets) == 0 || len(w.Assets) != len(w.Ratios) {
			return nil, fmt.Errorf("%w: %s", ErrMissingWants, d.Strategy)
		}

		taken := make(map[string]sdkmath.Int)
		need := d.Value

		var ratioSum uint64
		for _, r := range w.Ratios {
			ratioSum += r
		}
		if ratioSum > 0 {
			for i, asset := range w.Assets {
				share, err := utils.MulDiv(d.Value, sdkmath.NewIntFromUint64(w.Ratios[i]), sdkmath.NewIntFromUint64(ratioSum))
				if err != nil {
					return nil, err
				}
				got, err := take(remaining, asset, share, taken)
				if err != nil {
					return nil, err
				}
				need = need.Sub(got)
			}
		}

		for _, asset := range largestFirst(remaining) {
			if !need.IsPositive() {
				break
			}
			got, err := take(remaining, asset, need, taken)
			if err != nil {
				return nil, err
			}
			need = need.Sub(got)
		}

		lend := Lend{Strategy: d.Strategy, Value: d.Value.Sub(need)}
		for _, asset := range sortedKeys(taken) {
			lend.Assets = append(lend.Assets, types.AssetAmount{Asset: asset, Amount: taken[asset]})
		}
		if len(lend.Assets) == 0 {
			plannerLogger.Warn().Str("strategy", d.Strategy).Msg("No holdings left to fund deposit")
			continue
		}
		lends = append(lends, lend)
	}
	return lends, nil
}

// take removes up to value of asset from remaining and records the amount in taken. It returns the value taken.
func take(remaining map[string]types.AssetBalance, asset string, value sdkmath.Int, taken map[string]sdkmath.Int) (sdkmath.Int, error) {
	h, ok := remaining[asset]
	if !ok || !value.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}

	amount, gotValue := h.Amount, h.CanonicalValue
	if value.LT(h.CanonicalValue) {
		var err error
		amount, err = utils.MulDiv(value, h.Amount, h.CanonicalValue)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		gotValue, err = utils.MulDiv(amount, h.CanonicalValue, h.Amount)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	h.Amount = h.Amount.Sub(amount)
	h.CanonicalValue = h.CanonicalValue.Sub(gotValue)
	if h.Amount.IsZero() || h.CanonicalValue.IsZero() {
		delete(remaining, asset)
	} else {
		remaining[asset] = h
	}
	taken[asset] = utils.OrZero(taken[asset]).Add(amount)
	return gotValue, nil
}

func largestFirst(remaining map[string]types.AssetBalance) []string {
	out := make([]string, 0, len(remaining))
	for a := range remaining {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := remaining[out[i]].CanonicalValue, remaining[out[j]].CanonicalValue
		if !vi.Equal(vj) {
			return vi.GT(vj)
		}
		return out[i] < out[j]
	})
	return out
}

func sortedKeys(m map[string]sdkmath.Int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
