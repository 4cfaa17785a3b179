/*

This file manages the persistent global cycle counter of the keeper.
The cycle counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCurrentCycleNumber retrieves the current cycle number from the database
func (s *Store) GetCurrentCycleNumber(ctx context.Context) (uint64, error) {
	var currentCycle uint64
	err := s.queryRow(ctx, `SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&currentCycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// This should not happen due to the INSERT in the first migration
			stateLogger.Warn().Msg("No cycle counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}

	stateLogger.Debug().Uint64("currentCycle", currentCycle).Msg("Retrieved current cycle number")
	return currentCycle, nil
}

// IncrementCycleNumber increments the cycle counter and returns the new value
func (s *Store) IncrementCycleNumber(ctx context.Context) (uint64, error) {
	updateQuery := `
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = $1
		WHERE id = 1
		RETURNING current_cycle`

	var newCycle uint64
	if err := s.queryRow(ctx, updateQuery, time.Now().UnixMilli()).Scan(&newCycle); err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	stateLogger.Info().Uint64("newCycle", newCycle).Msg("Incremented cycle counter")
	return newCycle, nil
}

// ResetCycleNumber resets the cycle counter to a specific value (for testing/maintenance)
func (s *Store) ResetCycleNumber(ctx context.Context, cycleNumber uint64) error {
	result, err := s.exec(ctx, `UPDATE cycle_counter SET current_cycle = $1, updated_at = $2 WHERE id = 1`,
		cycleNumber, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}

	stateLogger.Warn().Uint64("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}
