package state

import (
	"context"
	"fmt"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/montanaflynn/stats"
)

const year = 365 * 24 * time.Hour

// Performance aggregates the stored cycle and rebase history.
type Performance struct {
	TotalCycles       int           `json:"total_cycles"`
	SuccessfulCycles  int           `json:"successful_cycles"`
	MeanCycleDuration time.Duration `json:"mean_cycle_duration"`
	P95CycleDuration  time.Duration `json:"p95_cycle_duration"`

	Rebases           int         `json:"rebases"`
	PositiveRebases   int         `json:"positive_rebases"`
	NegativeRebases   int         `json:"negative_rebases"`
	MeanRebaseYield   float64     `json:"mean_rebase_yield"` // Supply change per rebase, as a fraction of the old supply
	RebaseYieldStdDev float64     `json:"rebase_yield_stddev"`
	APY               float64     `json:"apy"` // Compounded supply growth between the first and last rebase, annualized
	TotalTrusteeFees  sdkmath.Int `json:"total_trustee_fees"`
	Since             *time.Time  `json:"since,omitempty"`
	Until             *time.Time  `json:"until,omitempty"`
}

// GetPerformanceMetrics retrieves aggregated performance metrics
func (s *Store) GetPerformanceMetrics(ctx context.Context) (Performance, error) {
	perf := Performance{TotalTrusteeFees: sdkmath.ZeroInt()}

	err := s.queryRow(ctx, `
		SELECT
			COUNT(*) AS total_cycles,
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful_cycles
		FROM cycle_snapshots`).Scan(&perf.TotalCycles, &perf.SuccessfulCycles)
	if err != nil {
		return perf, fmt.Errorf("failed to get cycle counts: %w", err)
	}

	if err := s.cycleDurations(ctx, &perf); err != nil {
		return perf, err
	}

	history, err := s.rebases(ctx, `
		SELECT rebase_id, cycle_id, rebase_timestamp, total_value, old_supply, new_supply, trustee_fee, credits_per_token
		FROM rebases
		ORDER BY rebase_timestamp ASC, rebase_id ASC`)
	if err != nil {
		return perf, err
	}
	if err := rebaseYields(history, &perf); err != nil {
		return perf, err
	}

	stateLogger.Debug().
		Int("totalCycles", perf.TotalCycles).
		Int("rebases", perf.Rebases).
		Float64("apy", perf.APY).
		Msg("Retrieved performance metrics")
	return perf, nil
}

func (s *Store) cycleDurations(ctx context.Context, perf *Performance) error {
	rows, err := s.query(ctx, `SELECT duration_ms FROM cycle_snapshots`)
	if err != nil {
		return fmt.Errorf("failed to query cycle durations: %w", err)
	}
	defer rows.Close()

	var durations stats.Float64Data
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return fmt.Errorf("failed to scan cycle duration: %w", err)
		}
		durations = append(durations, float64(ms))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during row iteration: %w", err)
	}
	if len(durations) == 0 {
		return nil
	}

	mean, err := stats.Mean(durations)
	if err != nil {
		return fmt.Errorf("mean cycle duration: %w", err)
	}
	p95, err := stats.Percentile(durations, 95)
	if err != nil {
		return fmt.Errorf("p95 cycle duration: %w", err)
	}
	perf.MeanCycleDuration = time.Duration(mean * float64(time.Millisecond))
	perf.P95CycleDuration = time.Duration(p95 * float64(time.Millisecond))
	return nil
}

// rebaseYields fills the rebase statistics from a history sorted oldest first.
func rebaseYields(history []RebaseRecord, perf *Performance) error {
	var yields stats.Float64Data
	growth := 1.0
	for i, r := range history {
		perf.TotalTrusteeFees = perf.TotalTrusteeFees.Add(r.TrusteeFee)
		if !r.OldSupply.IsPositive() {
			continue
		}
		ratio, err := sdkmath.LegacyNewDecFromInt(r.NewSupply).QuoInt(r.OldSupply).Float64()
		if err != nil {
			return fmt.Errorf("rebase %d yield: %w", r.ID, err)
		}
		y := ratio - 1
		yields = append(yields, y)
		switch {
		case y > 0:
			perf.PositiveRebases++
		case y < 0:
			perf.NegativeRebases++
		}
		// the first rebase opens the measured period
		if i > 0 {
			growth *= ratio
		}
	}
	perf.Rebases = len(history)
	if len(history) == 0 {
		return nil
	}

	since, until := history[0].Timestamp, history[len(history)-1].Timestamp
	perf.Since, perf.Until = &since, &until

	if len(yields) > 0 {
		mean, err := stats.Mean(yields)
		if err != nil {
			return fmt.Errorf("mean rebase yield: %w", err)
		}
		perf.MeanRebaseYield = mean
	}
	if len(yields) > 1 {
		sd, err := stats.StandardDeviationSample(yields)
		if err != nil {
			return fmt.Errorf("rebase yield stddev: %w", err)
		}
		perf.RebaseYieldStdDev = sd
	}
	if period := until.Sub(since); period > 0 {
		perf.APY = math.Pow(growth, float64(year)/float64(period)) - 1
	}
	return nil
}
